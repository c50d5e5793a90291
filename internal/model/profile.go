package model

import "time"

// Profile はユーザーの基本プロフィールを表す。
// IDはユーザーIDと同一で、ユーザーごとに1件だけ作成される。
type Profile struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	ProfilePhotoURL string    `json:"profile_photo_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Complete はプロフィールが保護領域へのアクセス条件を満たすかどうかを返す。
func (p *Profile) Complete() bool {
	return p != nil && p.Username != ""
}

// CreatorProfile はクリエイターの掲載情報を表す。
type CreatorProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	InstagramURL string    `json:"instagram_url"`
	TikTokURL    string    `json:"tiktok_url"`
	YouTubeURL   string    `json:"youtube_url,omitempty"`
	Location     string    `json:"location"`
	Languages    []string  `json:"languages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BusinessProfile はビジネスの掲載情報を表す。
type BusinessProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Description  string    `json:"description"`
	Email        string    `json:"email"`
	Location     string    `json:"location"`
	InstagramURL string    `json:"instagram_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
