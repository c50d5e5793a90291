package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/repository"
	"github.com/hitoshi/creatorlink/internal/storage"
	"github.com/hitoshi/creatorlink/internal/validation"
)

// MetadataUpdater はユーザーメタデータを更新する認証基盤の操作。
// auth.Serviceがこれを満たす。
type MetadataUpdater interface {
	UpdateUserMetadata(ctx context.Context, token string, patch map[string]any) (*model.User, error)
}

// AvatarImporter はプロバイダーのアバター画像を自前のストレージへ複製する。
type AvatarImporter interface {
	Import(ctx context.Context, userID, avatarURL string) (string, error)
}

// Config はプロフィール登録の設定。
type Config struct {
	PhotoBucket  string
	PhotoMaxSize int64
}

// CreateRequest はプロフィール作成の入力。
type CreateRequest struct {
	UserID   string
	Username string
	Photo    io.Reader // アップロード画像。nilなら未指定
	PhotoURL string    // 画像未指定時に使う既存のURL（プロバイダーのアバター等）
}

// Service はプロフィール登録を行う。
type Service struct {
	resolver  *Resolver
	profiles  repository.ProfileRepository
	identity  MetadataUpdater
	uploader  storage.Uploader
	avatars   AvatarImporter // nilなら複製せずプロバイダーのURLをそのまま使う
	validator *validation.Validator
	config    Config
	nowFn     func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	resolver *Resolver,
	profiles repository.ProfileRepository,
	identity MetadataUpdater,
	uploader storage.Uploader,
	avatars AvatarImporter,
	validator *validation.Validator,
	config Config,
) *Service {
	if uploader == nil {
		uploader = storage.DisabledUploader{}
	}
	return &Service{
		resolver:  resolver,
		profiles:  profiles,
		identity:  identity,
		uploader:  uploader,
		avatars:   avatars,
		validator: validator,
		config:    config,
		nowFn:     time.Now,
	}
}

// CheckUsername はユーザー名の形式と空き状況を検証する。
// 使用済みの場合は*model.ValidationErrorを返す。書き込みは行わない。
func (s *Service) CheckUsername(ctx context.Context, username string) error {
	if err := s.validator.Struct(validation.CompleteProfileInput{Username: username}); err != nil {
		return err
	}

	available, err := s.resolver.IsUsernameAvailable(ctx, username)
	if err != nil {
		return err
	}
	if !available {
		return model.NewValidationError("username", "Username is already taken")
	}
	return nil
}

// CompleteProfile はサインイン済みユーザーのプロフィールを登録する。
// メタデータに{username, profile_completed: true}を記録してからprofiles行を作成する。
func (s *Service) CompleteProfile(ctx context.Context, token string, req CreateRequest) (*model.Profile, error) {
	res, err := s.resolver.ResolveProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if res.Profile != nil {
		return nil, model.NewProfileExistsError()
	}

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.identity.UpdateUserMetadata(ctx, token, map[string]any{
		model.MetaUsername:         p.Username,
		model.MetaProfileCompleted: true,
	}); err != nil {
		return nil, err
	}

	if err := s.insert(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("profile completed", slog.String("user_id", p.ID))
	return p, nil
}

// Create はセッションを持たないユーザー（メール確認待ち）のプロフィールを作成する。
// サインアップ時にユーザー名が指定された場合に使う。
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Profile, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("profile created at sign up", slog.String("user_id", p.ID))
	return p, nil
}

// prepare は入力検証・空き確認・画像アップロードを行い、保存するプロフィールを組み立てる。
func (s *Service) prepare(ctx context.Context, req CreateRequest) (*model.Profile, error) {
	username := strings.TrimSpace(req.Username)
	if err := s.CheckUsername(ctx, username); err != nil {
		return nil, err
	}

	photoURL, err := s.photoURL(ctx, req)
	if err != nil {
		return nil, err
	}

	return &model.Profile{
		ID:              req.UserID,
		Username:        username,
		ProfilePhotoURL: photoURL,
		CreatedAt:       s.nowFn(),
	}, nil
}

func (s *Service) photoURL(ctx context.Context, req CreateRequest) (string, error) {
	if req.Photo == nil {
		if req.PhotoURL != "" && s.avatars != nil {
			imported, err := s.avatars.Import(ctx, req.UserID, req.PhotoURL)
			if err == nil {
				return imported, nil
			}
			slog.Warn("failed to import provider avatar, using original URL",
				slog.String("user_id", req.UserID),
				slog.String("error", err.Error()),
			)
		}
		return req.PhotoURL, nil
	}

	img, err := storage.ReadImage(req.Photo, s.config.PhotoMaxSize)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			return "", model.NewValidationError("profile_photo", fmt.Sprintf("Image must be %d MB or smaller", s.config.PhotoMaxSize>>20))
		case errors.Is(err, storage.ErrNotImage):
			return "", model.NewValidationError("profile_photo", "File must be an image")
		}
		return "", model.NewUploadFailedError(err.Error())
	}

	url, err := s.uploader.Upload(ctx, s.config.PhotoBucket, storage.ObjectKey(req.UserID, img.Ext), img.ContentType, img.Reader())
	if err != nil {
		slog.Error("failed to upload profile photo",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUploadFailedError("storage unavailable")
	}
	return url, nil
}

func (s *Service) insert(ctx context.Context, p *model.Profile) error {
	err := s.profiles.Create(ctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrUsernameTaken):
		// 空き確認から作成までの間に同名で登録された
		return model.NewValidationError("username", "Username is already taken")
	case errors.Is(err, model.ErrAlreadyExists):
		return model.NewProfileExistsError()
	default:
		return fmt.Errorf("failed to create profile: %w", err)
	}
}
