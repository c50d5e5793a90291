// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/creatorlink/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はパスワード認証のユーザーを作成する。
	// メールアドレスが登録済みの場合はmodel.ErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// ConfirmEmail はメールアドレス確認日時を記録する。確認済みの場合は何もしない。
	ConfirmEmail(ctx context.Context, id string, at time.Time) error

	// UpdateMetadata はユーザーメタデータにpatchをマージし、更新後のユーザーを返す。
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、profiles、掲載情報はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// DeleteUnconfirmedBefore は指定日時より前に作成されたメール未確認ユーザーを削除する。
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Link は既存ユーザーに外部IdPのidentityを追加する。
	Link(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProfileRepository は基本プロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID はユーザーIDでプロフィールを取得する。
	// 行が存在しない場合はnil, nilを返す（未作成は正常な結果として扱う）。
	FindByID(ctx context.Context, userID string) (*model.Profile, error)

	// FindByUsername はユーザー名（大文字小文字を区別）でプロフィールを取得する。
	// 見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	// ユーザー名重複はmodel.ErrUsernameTaken、作成済みはmodel.ErrAlreadyExistsを返す。
	Create(ctx context.Context, profile *model.Profile) error
}

// CreatorRepository はクリエイター掲載情報の永続化インターフェース。
type CreatorRepository interface {
	// FindByID はユーザーIDで掲載情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID string) (*model.CreatorProfile, error)
	// List は新しい順に掲載情報を返す。
	List(ctx context.Context, limit, offset int) ([]*model.CreatorProfile, error)
	// Create は掲載情報を作成する。登録済みの場合はmodel.ErrAlreadyExistsを返す。
	Create(ctx context.Context, creator *model.CreatorProfile) error
	// Update は掲載情報を更新する。存在しない場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, creator *model.CreatorProfile) error
	// DeleteByID は掲載情報を削除する。存在しない場合はmodel.ErrNotFoundを返す。
	DeleteByID(ctx context.Context, userID string) error
}

// BusinessRepository はビジネス掲載情報の永続化インターフェース。
type BusinessRepository interface {
	// FindByID はユーザーIDで掲載情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID string) (*model.BusinessProfile, error)
	// List は新しい順に掲載情報を返す。
	List(ctx context.Context, limit, offset int) ([]*model.BusinessProfile, error)
	// Create は掲載情報を作成する。登録済みの場合はmodel.ErrAlreadyExistsを返す。
	Create(ctx context.Context, business *model.BusinessProfile) error
	// Update は掲載情報を更新する。存在しない場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, business *model.BusinessProfile) error
	// DeleteByID は掲載情報を削除する。存在しない場合はmodel.ErrNotFoundを返す。
	DeleteByID(ctx context.Context, userID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
