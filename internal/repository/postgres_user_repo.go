package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/creatorlink/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserColumns = `SELECT id, email, name, COALESCE(password_hash, ''), email_confirmed_at,
	raw_user_meta_data, created_at, updated_at FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var confirmedAt sql.NullTime
	var meta []byte
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &confirmedAt,
		&meta, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		user.EmailConfirmedAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &user.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode user metadata: %w", err)
		}
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE email = $1`, normalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はパスワード認証のユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := insertUser(ctx, r.db, user); err != nil {
		return err
	}
	return nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, user *model.User) error {
	meta, err := json.Marshal(metadataOrEmpty(user.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode user metadata: %w", err)
	}

	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, email_confirmed_at, raw_user_meta_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, normalizeEmail(user.Email), user.Name, passwordHash, user.EmailConfirmedAt, meta, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ConfirmEmail はメールアドレス確認日時を記録する。確認済みの場合は何もしない。
func (r *PostgresUserRepo) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_confirmed_at = $2, updated_at = $2
		 WHERE id = $1 AND email_confirmed_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	return nil
}

// UpdateMetadata はユーザーメタデータにpatchをマージし、更新後のユーザーを返す。
// ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*model.User, error) {
	raw, err := json.Marshal(metadataOrEmpty(patch))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata patch: %w", err)
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET raw_user_meta_data = raw_user_meta_data || $2::jsonb, updated_at = now()
		 WHERE id = $1
		 RETURNING id, email, name, COALESCE(password_hash, ''), email_confirmed_at,
		 raw_user_meta_data, created_at, updated_at`,
		id, raw,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user metadata: %w", err)
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentities、sessions、profiles、掲載情報はCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// DeleteUnconfirmedBefore は確認期限を過ぎたメール未確認ユーザーを削除する。
func (r *PostgresUserRepo) DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE email_confirmed_at IS NULL AND password_hash IS NOT NULL AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unconfirmed users: %w", err)
	}
	return result.RowsAffected()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
