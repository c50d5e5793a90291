// Package auth は認証基盤（パスワード・OAuth認証、セッション発行、認証イベント配信）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
	Provider       string // "google", "github" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// Name はプロバイダー識別子を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state, redirectURL string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code, redirectURL string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge            time.Duration // セッション有効期間
	RefreshWindow            time.Duration // 残り期間がこれを下回ったら参照時に延長する
	RequireEmailConfirmation bool
	BaseURL                  string // 確認メールのリンク生成に使用
}

// ServiceDeps は認証サービスの依存関係。
type ServiceDeps struct {
	Providers   []OAuthProvider
	UserRepo    repository.UserRepository
	IdentRepo   repository.IdentityRepository
	SessionRepo repository.SessionRepository
	Broker      *Broker
	Publisher   Publisher // nilの場合はBrokerに直接配信する
	Mailer      Mailer
	Tokens      *TokenIssuer
}

// SignUpResult はサインアップの結果。
// メール確認が必要な場合、Sessionはnil。
type SignUpResult struct {
	User    *model.User
	Session *model.Session
}

// OAuthStart はOAuthフロー開始時の情報。
type OAuthStart struct {
	URL   string
	State string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	broker      *Broker
	publisher   Publisher
	mailer      Mailer
	tokens      *TokenIssuer
	config      ServiceConfig
	nowFn       func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	providers := make(map[string]OAuthProvider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Name()] = p
	}

	broker := deps.Broker
	if broker == nil {
		broker = NewBroker()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = broker
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = NewLogMailer(nil)
	}

	return &Service{
		providers:   providers,
		userRepo:    deps.UserRepo,
		identRepo:   deps.IdentRepo,
		sessionRepo: deps.SessionRepo,
		broker:      broker,
		publisher:   publisher,
		mailer:      mailer,
		tokens:      deps.Tokens,
		config:      config,
		nowFn:       time.Now,
	}
}

// OnAuthStateChange は認証状態変化のリスナーを登録する。
// 戻り値のSubscriptionで必ず解除すること。
func (s *Service) OnAuthStateChange(fn Listener) *Subscription {
	return s.broker.Subscribe(fn)
}

// GetSession はセッショントークンから現在のセッションを取得する。
// トークンが空・期限切れ・ユーザー不在の場合はnil, nilを返す。
// 有効期限が延長ウィンドウ内であれば延長し、TOKEN_REFRESHEDを発行する。
func (s *Service) GetSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if user == nil {
		// ユーザー削除後に残ったセッションは無効として扱う
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			slog.Warn("failed to delete orphan session", slog.String("error", err.Error()))
		}
		return nil, nil
	}
	session.User = user

	now := s.nowFn()
	if s.config.RefreshWindow > 0 && session.ExpiresAt.Sub(now) < s.config.RefreshWindow {
		newExpiry := now.Add(s.config.SessionMaxAge)
		if err := s.sessionRepo.Extend(ctx, session.ID, newExpiry); err != nil {
			slog.Warn("failed to refresh session",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else {
			session.ExpiresAt = newExpiry
			s.publisher.Publish(ctx, Event{
				Type:      EventTokenRefreshed,
				SessionID: session.ID,
				UserID:    user.ID,
				ExpiresAt: &newExpiry,
				At:        now,
			})
		}
	}

	return session, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if user == nil || !checkPassword(user.PasswordHash, password) {
		return nil, model.NewAuthError(model.ErrCodeInvalidCredentials, "Invalid login credentials", nil)
	}
	if s.config.RequireEmailConfirmation && !user.EmailConfirmed() {
		return nil, model.NewAuthError(model.ErrCodeEmailNotConfirmed, "Email not confirmed", nil)
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID), slog.String("method", "password"))
	s.emit(ctx, EventSignedIn, session.ID, user.ID)
	return session, nil
}

// SignUp はパスワード認証のユーザーを登録する。
// メール確認が必要な設定では確認メールを送信し、セッションは発行しない。
func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	now := s.nowFn()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		Metadata:     copyMetadata(metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !s.config.RequireEmailConfirmation {
		user.EmailConfirmedAt = &now
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, model.NewAuthError(model.ErrCodeEmailTaken, "User already registered", err)
		}
		return nil, identityUnavailable(err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))

	if s.config.RequireEmailConfirmation {
		if err := s.sendConfirmation(ctx, user); err != nil {
			return nil, identityUnavailable(err)
		}
		return &SignUpResult{User: user}, nil
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	s.emit(ctx, EventSignedIn, session.ID, user.ID)
	return &SignUpResult{User: user, Session: session}, nil
}

// ResendConfirmation は未確認ユーザーに確認メールを再送する。
// 存在しない・確認済みのアドレスでもエラーにはしない。
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return identityUnavailable(err)
	}
	if user == nil || user.EmailConfirmed() {
		return nil
	}
	if err := s.sendConfirmation(ctx, user); err != nil {
		return identityUnavailable(err)
	}
	return nil
}

// VerifyEmail はメール確認トークンを検証し、確認済みにしたうえでセッションを発行する。
func (s *Service) VerifyEmail(ctx context.Context, token string) (*model.Session, error) {
	if s.tokens == nil {
		return nil, model.NewAuthError(model.ErrCodeInvalidToken, "Email confirmation is not enabled", nil)
	}

	userID, email, err := s.tokens.Verify(token)
	if err != nil {
		return nil, model.NewAuthError(model.ErrCodeInvalidToken, "Email link is invalid or has expired", err)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if user == nil || !strings.EqualFold(user.Email, email) {
		return nil, model.NewAuthError(model.ErrCodeInvalidToken, "Email link is invalid or has expired", nil)
	}

	if !user.EmailConfirmed() {
		now := s.nowFn()
		if err := s.userRepo.ConfirmEmail(ctx, user.ID, now); err != nil {
			return nil, identityUnavailable(err)
		}
		user.EmailConfirmedAt = &now
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	s.emit(ctx, EventSignedIn, session.ID, user.ID)
	return session, nil
}

// SignInWithOAuth はOAuthフローを開始するためのURLとstateを返す。
func (s *Service) SignInWithOAuth(provider, redirectURL string) (*OAuthStart, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewAuthError(model.ErrCodeOAuthFailed, fmt.Sprintf("Unsupported provider: %s", provider), nil)
	}

	state, err := generateToken()
	if err != nil {
		return nil, identityUnavailable(err)
	}

	return &OAuthStart{URL: p.GetLoginURL(state, redirectURL), State: state}, nil
}

// ExchangeOAuthCode はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 同じメールアドレスの既存ユーザーがいる場合は、検証済みメールに限りidentityを紐付ける。
func (s *Service) ExchangeOAuthCode(ctx context.Context, provider, code, redirectURL string) (*model.Session, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewAuthError(model.ErrCodeOAuthFailed, fmt.Sprintf("Unsupported provider: %s", provider), nil)
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := p.ExchangeCode(ctx, code, redirectURL)
	if err != nil {
		return nil, model.NewAuthError(model.ErrCodeOAuthFailed, "Authentication failed", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	var user *model.User
	if identity != nil {
		// 3a. 既存ユーザー
		user, err = s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, identityUnavailable(err)
		}
		if user == nil {
			return nil, model.NewAuthError(model.ErrCodeOAuthFailed, "Authentication failed", fmt.Errorf("identity %s has no user", identity.ID))
		}
	} else {
		// 3b. 未紐付け: メールアドレスで既存ユーザーを探すか、新規作成する
		user, err = s.findOrCreateOAuthUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	user, err = s.applyProviderMetadata(ctx, user, userInfo)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, identityUnavailable(err)
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("method", "oauth"),
		slog.String("provider", userInfo.Provider),
	)
	s.emit(ctx, EventSignedIn, session.ID, user.ID)
	return session, nil
}

func (s *Service) findOrCreateOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	now := s.nowFn()
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := s.userRepo.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if existing != nil {
		if !info.EmailVerified {
			return nil, model.NewAuthError(model.ErrCodeEmailTaken, "User already registered", nil)
		}
		newIdentity.UserID = existing.ID
		if err := s.identRepo.Link(ctx, newIdentity); err != nil {
			return nil, identityUnavailable(err)
		}
		if !existing.EmailConfirmed() {
			if err := s.userRepo.ConfirmEmail(ctx, existing.ID, now); err != nil {
				return nil, identityUnavailable(err)
			}
			existing.EmailConfirmedAt = &now
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return existing, nil
	}

	newUser := &model.User{
		ID:               uuid.New().String(),
		Email:            strings.ToLower(info.Email),
		Name:             info.Name,
		EmailConfirmedAt: &now,
		Metadata:         map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	newIdentity.UserID = newUser.ID

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		return nil, identityUnavailable(err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("provider", info.Provider),
	)
	return newUser, nil
}

// applyProviderMetadata はプロバイダーの氏名・アバターをメタデータに記録する。
// プロフィール登録画面でのユーザー名提案と初期画像に使われる。
func (s *Service) applyProviderMetadata(ctx context.Context, user *model.User, info *OAuthUserInfo) (*model.User, error) {
	patch := map[string]any{}
	if info.Name != "" && user.MetadataString(model.MetaFullName) != info.Name {
		patch[model.MetaFullName] = info.Name
	}
	if info.AvatarURL != "" && user.MetadataString(model.MetaAvatarURL) != info.AvatarURL {
		patch[model.MetaAvatarURL] = info.AvatarURL
	}
	if len(patch) == 0 {
		return user, nil
	}

	updated, err := s.userRepo.UpdateMetadata(ctx, user.ID, patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return user, nil
	}
	return updated, nil
}

// SignOut はセッションを破棄し、SIGNED_OUTを発行する。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return model.NewAuthError(model.ErrCodeNoSession, "Auth session missing", nil)
	}

	session, err := s.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return identityUnavailable(err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, token); err != nil {
		return identityUnavailable(err)
	}

	userID := ""
	if session != nil {
		userID = session.UserID
	}
	slog.Info("user signed out", slog.String("user_id", userID))
	s.emit(ctx, EventSignedOut, token, userID)
	return nil
}

// SignOutEverywhere はユーザーの全セッションを破棄する。
func (s *Service) SignOutEverywhere(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return identityUnavailable(err)
	}
	s.emit(ctx, EventSignedOut, "", userID)
	return nil
}

// UpdateUserMetadata はセッションのユーザーのメタデータを更新し、USER_UPDATEDを発行する。
func (s *Service) UpdateUserMetadata(ctx context.Context, token string, patch map[string]any) (*model.User, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.NewAuthError(model.ErrCodeNoSession, "Auth session missing", nil)
	}

	user, err := s.userRepo.UpdateMetadata(ctx, session.UserID, patch)
	if err != nil {
		return nil, identityUnavailable(err)
	}
	if user == nil {
		return nil, model.NewAuthError(model.ErrCodeNoSession, "User not found", nil)
	}

	s.emit(ctx, EventUserUpdated, session.ID, user.ID)
	return user, nil
}

// DeleteUser はユーザーを削除する。関連データはCASCADE削除される。
// ユーザーが存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return identityUnavailable(err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	// セッションを先に削除する
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return identityUnavailable(err)
	}
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return identityUnavailable(err)
	}
	slog.Info("user deleted", slog.String("user_id", userID))
	s.emit(ctx, EventSignedOut, "", userID)
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *model.User) error {
	if s.tokens == nil {
		return fmt.Errorf("confirmation token issuer is not configured")
	}
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return err
	}
	link := strings.TrimRight(s.config.BaseURL, "/") + "/auth/callback?" + url.Values{"access_token": {token}}.Encode()
	if err := s.mailer.SendConfirmation(ctx, user.Email, link); err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.nowFn()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	session.User = user
	return session, nil
}

func (s *Service) emit(ctx context.Context, t EventType, sessionID, userID string) {
	s.publisher.Publish(ctx, Event{
		Type:      t,
		SessionID: sessionID,
		UserID:    userID,
		At:        s.nowFn(),
	})
}

func identityUnavailable(err error) error {
	return model.NewAuthError(model.ErrCodeIdentityUnavailable, "Authentication service is unavailable", err)
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// generateToken は暗号的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
