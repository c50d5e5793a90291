package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/creatorlink/internal/model"
)

// PostgresCreatorRepo はPostgreSQLを使用したクリエイター掲載情報リポジトリ。
type PostgresCreatorRepo struct {
	db *sql.DB
}

// NewPostgresCreatorRepo はPostgresCreatorRepoを生成する。
func NewPostgresCreatorRepo(db *sql.DB) *PostgresCreatorRepo {
	return &PostgresCreatorRepo{db: db}
}

const selectCreatorColumns = `SELECT id, name, description, instagram_url, tiktok_url,
	COALESCE(youtube_url, ''), location, languages, created_at, updated_at FROM creators`

func scanCreator(row rowScanner) (*model.CreatorProfile, error) {
	c := &model.CreatorProfile{}
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.InstagramURL, &c.TikTokURL,
		&c.YouTubeURL, &c.Location, pq.Array(&c.Languages), &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID はユーザーIDで掲載情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCreatorRepo) FindByID(ctx context.Context, userID string) (*model.CreatorProfile, error) {
	c, err := scanCreator(r.db.QueryRowContext(ctx, selectCreatorColumns+` WHERE id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find creator: %w", err)
	}
	return c, nil
}

// List は新しい順に掲載情報を返す。
func (r *PostgresCreatorRepo) List(ctx context.Context, limit, offset int) ([]*model.CreatorProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		selectCreatorColumns+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	defer rows.Close()

	var creators []*model.CreatorProfile
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}
		creators = append(creators, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate creators: %w", err)
	}
	return creators, nil
}

// Create は掲載情報を作成する。
func (r *PostgresCreatorRepo) Create(ctx context.Context, c *model.CreatorProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO creators (id, name, description, instagram_url, tiktok_url, youtube_url, location, languages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		c.ID, c.Name, c.Description, c.InstagramURL, c.TikTokURL, c.YouTubeURL, c.Location,
		pq.Array(c.Languages), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create creator: %w", err)
	}
	return nil
}

// Update は掲載情報を更新する。
func (r *PostgresCreatorRepo) Update(ctx context.Context, c *model.CreatorProfile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE creators SET name = $2, description = $3, instagram_url = $4, tiktok_url = $5,
		 youtube_url = NULLIF($6, ''), location = $7, languages = $8, updated_at = $9
		 WHERE id = $1`,
		c.ID, c.Name, c.Description, c.InstagramURL, c.TikTokURL, c.YouTubeURL, c.Location,
		pq.Array(c.Languages), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update creator: %w", err)
	}
	return requireAffected(result)
}

// DeleteByID は掲載情報を削除する。
func (r *PostgresCreatorRepo) DeleteByID(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM creators WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete creator: %w", err)
	}
	return requireAffected(result)
}

// PostgresBusinessRepo はPostgreSQLを使用したビジネス掲載情報リポジトリ。
type PostgresBusinessRepo struct {
	db *sql.DB
}

// NewPostgresBusinessRepo はPostgresBusinessRepoを生成する。
func NewPostgresBusinessRepo(db *sql.DB) *PostgresBusinessRepo {
	return &PostgresBusinessRepo{db: db}
}

const selectBusinessColumns = `SELECT id, name, address, description, email, location,
	instagram_url, created_at, updated_at FROM businesses`

func scanBusiness(row rowScanner) (*model.BusinessProfile, error) {
	b := &model.BusinessProfile{}
	err := row.Scan(&b.ID, &b.Name, &b.Address, &b.Description, &b.Email, &b.Location,
		&b.InstagramURL, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindByID はユーザーIDで掲載情報を取得する。見つからない場合はnilを返す。
func (r *PostgresBusinessRepo) FindByID(ctx context.Context, userID string) (*model.BusinessProfile, error) {
	b, err := scanBusiness(r.db.QueryRowContext(ctx, selectBusinessColumns+` WHERE id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find business: %w", err)
	}
	return b, nil
}

// List は新しい順に掲載情報を返す。
func (r *PostgresBusinessRepo) List(ctx context.Context, limit, offset int) ([]*model.BusinessProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		selectBusinessColumns+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var businesses []*model.BusinessProfile
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		businesses = append(businesses, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate businesses: %w", err)
	}
	return businesses, nil
}

// Create は掲載情報を作成する。
func (r *PostgresBusinessRepo) Create(ctx context.Context, b *model.BusinessProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, address, description, email, location, instagram_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.Name, b.Address, b.Description, b.Email, b.Location, b.InstagramURL, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

// Update は掲載情報を更新する。
func (r *PostgresBusinessRepo) Update(ctx context.Context, b *model.BusinessProfile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE businesses SET name = $2, address = $3, description = $4, email = $5,
		 location = $6, instagram_url = $7, updated_at = $8
		 WHERE id = $1`,
		b.ID, b.Name, b.Address, b.Description, b.Email, b.Location, b.InstagramURL, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update business: %w", err)
	}
	return requireAffected(result)
}

// DeleteByID は掲載情報を削除する。
func (r *PostgresBusinessRepo) DeleteByID(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM businesses WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete business: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// compile-time interface check
var (
	_ CreatorRepository  = (*PostgresCreatorRepo)(nil)
	_ BusinessRepository = (*PostgresBusinessRepo)(nil)
)
