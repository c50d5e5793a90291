// Package directory はクリエイター・ビジネス掲載情報の管理と公開一覧を提供する。
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/repository"
	"github.com/hitoshi/creatorlink/internal/security"
	"github.com/hitoshi/creatorlink/internal/validation"
)

// 掲載情報の種別名（エラーメッセージ用）
const (
	kindCreator  = "クリエイター"
	kindBusiness = "ビジネス"
)

// 一覧取得の件数
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page は一覧取得の範囲。
type Page struct {
	Limit  int
	Offset int
}

// normalize は範囲外の値を既定値に丸める。
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Service は掲載情報のサービス層。
// 入力はサニタイズしてから検証し、1ユーザーにつき種別ごとに1件だけ登録できる。
// マークアップだけの入力は空として必須チェックで弾かれる。
type Service struct {
	creators   repository.CreatorRepository
	businesses repository.BusinessRepository
	validator  *validation.Validator
	sanitizer  *security.TextSanitizer
	nowFn      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	creators repository.CreatorRepository,
	businesses repository.BusinessRepository,
	validator *validation.Validator,
	sanitizer *security.TextSanitizer,
) *Service {
	return &Service{
		creators:   creators,
		businesses: businesses,
		validator:  validator,
		sanitizer:  sanitizer,
		nowFn:      time.Now,
	}
}

// --- クリエイター ---

// GetCreator はユーザーのクリエイター掲載情報を返す。
func (s *Service) GetCreator(ctx context.Context, userID string) (*model.CreatorProfile, error) {
	c, err := s.creators.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find creator listing: %w", err)
	}
	if c == nil {
		return nil, model.NewListingNotFoundError(kindCreator)
	}
	return c, nil
}

// ListCreators は公開一覧を新しい順に返す。
func (s *Service) ListCreators(ctx context.Context, page Page) ([]*model.CreatorProfile, error) {
	page = page.normalize()
	list, err := s.creators.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	return list, nil
}

// CreateCreator はクリエイター掲載情報を登録する。
func (s *Service) CreateCreator(ctx context.Context, userID string, in validation.CreatorInput) (*model.CreatorProfile, error) {
	in = s.sanitizeCreator(in)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	now := s.nowFn()
	c := creatorFromInput(userID, in)
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.creators.Create(ctx, c); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil, model.NewListingExistsError(kindCreator)
		}
		return nil, fmt.Errorf("failed to create creator listing: %w", err)
	}
	return c, nil
}

// UpdateCreator はクリエイター掲載情報を更新する。
func (s *Service) UpdateCreator(ctx context.Context, userID string, in validation.CreatorInput) (*model.CreatorProfile, error) {
	in = s.sanitizeCreator(in)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.GetCreator(ctx, userID)
	if err != nil {
		return nil, err
	}

	c := creatorFromInput(userID, in)
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.nowFn()

	if err := s.creators.Update(ctx, c); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewListingNotFoundError(kindCreator)
		}
		return nil, fmt.Errorf("failed to update creator listing: %w", err)
	}
	return c, nil
}

// DeleteCreator はクリエイター掲載情報を削除する。
func (s *Service) DeleteCreator(ctx context.Context, userID string) error {
	if err := s.creators.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewListingNotFoundError(kindCreator)
		}
		return fmt.Errorf("failed to delete creator listing: %w", err)
	}
	return nil
}

// sanitizeCreator はテキスト項目を無害化し、空になった言語を除く。
func (s *Service) sanitizeCreator(in validation.CreatorInput) validation.CreatorInput {
	langs := make([]string, 0, len(in.Languages))
	for _, l := range in.Languages {
		if l = s.sanitizer.Plain(l); l != "" {
			langs = append(langs, l)
		}
	}
	in.Name = s.sanitizer.Plain(in.Name)
	in.Description = s.sanitizer.Description(in.Description)
	in.InstagramURL = strings.TrimSpace(in.InstagramURL)
	in.TikTokURL = strings.TrimSpace(in.TikTokURL)
	in.YouTubeURL = strings.TrimSpace(in.YouTubeURL)
	in.Location = s.sanitizer.Plain(in.Location)
	in.Languages = langs
	return in
}

func creatorFromInput(userID string, in validation.CreatorInput) *model.CreatorProfile {
	return &model.CreatorProfile{
		ID:           userID,
		Name:         in.Name,
		Description:  in.Description,
		InstagramURL: in.InstagramURL,
		TikTokURL:    in.TikTokURL,
		YouTubeURL:   in.YouTubeURL,
		Location:     in.Location,
		Languages:    in.Languages,
	}
}

// --- ビジネス ---

// GetBusiness はユーザーのビジネス掲載情報を返す。
func (s *Service) GetBusiness(ctx context.Context, userID string) (*model.BusinessProfile, error) {
	b, err := s.businesses.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find business listing: %w", err)
	}
	if b == nil {
		return nil, model.NewListingNotFoundError(kindBusiness)
	}
	return b, nil
}

// ListBusinesses は公開一覧を新しい順に返す。
func (s *Service) ListBusinesses(ctx context.Context, page Page) ([]*model.BusinessProfile, error) {
	page = page.normalize()
	list, err := s.businesses.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	return list, nil
}

// CreateBusiness はビジネス掲載情報を登録する。
func (s *Service) CreateBusiness(ctx context.Context, userID string, in validation.BusinessInput) (*model.BusinessProfile, error) {
	in = s.sanitizeBusiness(in)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	now := s.nowFn()
	b := businessFromInput(userID, in)
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.businesses.Create(ctx, b); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil, model.NewListingExistsError(kindBusiness)
		}
		return nil, fmt.Errorf("failed to create business listing: %w", err)
	}
	return b, nil
}

// UpdateBusiness はビジネス掲載情報を更新する。
func (s *Service) UpdateBusiness(ctx context.Context, userID string, in validation.BusinessInput) (*model.BusinessProfile, error) {
	in = s.sanitizeBusiness(in)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}

	b := businessFromInput(userID, in)
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = s.nowFn()

	if err := s.businesses.Update(ctx, b); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewListingNotFoundError(kindBusiness)
		}
		return nil, fmt.Errorf("failed to update business listing: %w", err)
	}
	return b, nil
}

// DeleteBusiness はビジネス掲載情報を削除する。
func (s *Service) DeleteBusiness(ctx context.Context, userID string) error {
	if err := s.businesses.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewListingNotFoundError(kindBusiness)
		}
		return fmt.Errorf("failed to delete business listing: %w", err)
	}
	return nil
}

func (s *Service) sanitizeBusiness(in validation.BusinessInput) validation.BusinessInput {
	in.Name = s.sanitizer.Plain(in.Name)
	in.Address = s.sanitizer.Plain(in.Address)
	in.Description = s.sanitizer.Description(in.Description)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Location = s.sanitizer.Plain(in.Location)
	in.InstagramURL = strings.TrimSpace(in.InstagramURL)
	return in
}

func businessFromInput(userID string, in validation.BusinessInput) *model.BusinessProfile {
	return &model.BusinessProfile{
		ID:           userID,
		Name:         in.Name,
		Address:      in.Address,
		Description:  in.Description,
		Email:        in.Email,
		Location:     in.Location,
		InstagramURL: in.InstagramURL,
	}
}
