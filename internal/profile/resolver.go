// Package profile はプロフィールの解決・登録とダッシュボード情報の取得を提供する。
package profile

import (
	"context"
	"fmt"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/repository"
)

// Resolution はプロフィール解決の結果。
// 行が存在しない場合はComplete=false, Profile=nilで、エラーではない。
type Resolution struct {
	Complete bool
	Profile  *model.Profile
}

// Resolver は「このユーザーのプロフィールは登録済みか」に答える。
type Resolver struct {
	profiles repository.ProfileRepository
}

// NewResolver はResolverを生成する。
func NewResolver(profiles repository.ProfileRepository) *Resolver {
	return &Resolver{profiles: profiles}
}

// ResolveProfile はユーザーのプロフィール状態を返す。
// 未作成以外の失敗は*model.ResolverErrorとして返す。
func (r *Resolver) ResolveProfile(ctx context.Context, userID string) (Resolution, error) {
	p, err := r.profiles.FindByID(ctx, userID)
	if err != nil {
		return Resolution{}, &model.ResolverError{UserID: userID, Err: err}
	}
	if p == nil {
		return Resolution{}, nil
	}
	return Resolution{Complete: p.Complete(), Profile: p}, nil
}

// IsUsernameAvailable は完全一致するユーザー名のプロフィールが存在しない場合にtrueを返す。
func (r *Resolver) IsUsernameAvailable(ctx context.Context, candidate string) (bool, error) {
	p, err := r.profiles.FindByUsername(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("failed to check username availability: %w", err)
	}
	return p == nil, nil
}
