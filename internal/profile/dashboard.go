package profile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/repository"
)

// Dashboard はダッシュボードに表示するユーザーのスナップショット。
type Dashboard struct {
	Profile            *model.Profile         `json:"profile"`
	Creator            *model.CreatorProfile  `json:"creator"`
	Business           *model.BusinessProfile `json:"business"`
	HasCreatorProfile  bool                   `json:"has_creator_profile"`
	HasBusinessProfile bool                   `json:"has_business_profile"`
}

// DashboardLoader はプロフィールと掲載情報を並行して取得する。
type DashboardLoader struct {
	profiles   repository.ProfileRepository
	creators   repository.CreatorRepository
	businesses repository.BusinessRepository
}

// NewDashboardLoader はDashboardLoaderを生成する。
func NewDashboardLoader(profiles repository.ProfileRepository, creators repository.CreatorRepository, businesses repository.BusinessRepository) *DashboardLoader {
	return &DashboardLoader{profiles: profiles, creators: creators, businesses: businesses}
}

// Load はユーザーのダッシュボード情報を取得する。いずれかの取得に失敗した場合はエラー。
func (l *DashboardLoader) Load(ctx context.Context, userID string) (*Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := l.profiles.FindByID(gctx, userID)
		if err != nil {
			return &model.ResolverError{UserID: userID, Err: err}
		}
		d.Profile = p
		return nil
	})
	g.Go(func() error {
		c, err := l.creators.FindByID(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load creator profile: %w", err)
		}
		d.Creator = c
		return nil
	})
	g.Go(func() error {
		b, err := l.businesses.FindByID(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load business profile: %w", err)
		}
		d.Business = b
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.HasCreatorProfile = d.Creator != nil
	d.HasBusinessProfile = d.Business != nil
	return &d, nil
}
