package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/creatorlink/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

func (r *PostgresProfileRepo) findOne(ctx context.Context, where string, arg any) (*model.Profile, error) {
	profile := &model.Profile{}
	var photo sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, profile_photo_url, created_at FROM profiles WHERE `+where,
		arg,
	).Scan(&profile.ID, &profile.Username, &photo, &profile.CreatedAt)
	if err != nil {
		return nil, err
	}
	profile.ProfilePhotoURL = photo.String
	return profile, nil
}

// FindByID はユーザーIDでプロフィールを取得する。
// 行が存在しない場合はnil, nilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := r.findOne(ctx, `id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// FindByUsername はユーザー名でプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	profile, err := r.findOne(ctx, `username = $1`, username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by username: %w", err)
	}
	return profile, nil
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	var photo sql.NullString
	if profile.ProfilePhotoURL != "" {
		photo = sql.NullString{String: profile.ProfilePhotoURL, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, username, profile_photo_url, created_at)
		 VALUES ($1, $2, $3, $4)`,
		profile.ID, profile.Username, photo, profile.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "profiles_username_unique" {
				return model.ErrUsernameTaken
			}
			return model.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
