// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証基盤側のユーザーを表す。
// パスワードでサインアップしたユーザーのみPasswordHashを持つ。
type User struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EmailConfirmed はメールアドレス確認済みかどうかを返す。
func (u *User) EmailConfirmed() bool {
	return u.EmailConfirmedAt != nil
}

// MetadataString はユーザーメタデータの文字列値を返す。存在しない場合は空文字。
func (u *User) MetadataString(key string) string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// Userは認証サービスが参照時に付与するスナップショットで、永続化はしない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time

	User *User
}

// Expired はセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ユーザーメタデータのキー
const (
	MetaUsername         = "username"
	MetaProfileCompleted = "profile_completed"
	MetaFullName         = "full_name"
	MetaAvatarURL        = "avatar_url"
)
