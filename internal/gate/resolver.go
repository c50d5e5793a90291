package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
)

// SessionSource は現在のセッションを返す。session.Storeがこれを満たす。
type SessionSource interface {
	GetSession(ctx context.Context) (*model.Session, error)
}

// ProfileResolver はユーザーのプロフィール状態を返す。profile.Resolverがこれを満たす。
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, userID string) (profile.Resolution, error)
}

// Snapshot は状態解決の結果。
// Errが設定されている場合、解決に失敗して未認証に縮退している。
type Snapshot struct {
	State   State
	Session *model.Session
	Profile *model.Profile
	Err     error
}

// UserID はサインイン中のユーザーIDを返す。未認証なら空文字。
func (s Snapshot) UserID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.UserID
}

// Decide はこのスナップショットで遷移を判定する。
// 縮退状態で保護ルートを要求した場合、サインイン画面へのURLにエラーを含める。
func (s Snapshot) Decide(target string) Decision {
	return decide(s.State, target, s.ErrorMessage())
}

// ErrorMessage はユーザーに表示するエラーメッセージを返す。
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	var aErr *model.AuthError
	if errors.As(s.Err, &aErr) {
		return aErr.Message
	}
	var rErr *model.ResolverError
	if errors.As(s.Err, &rErr) {
		return "Unable to load your profile"
	}
	return "Authentication error"
}

// Resolver はセッション→プロフィールの順に問い合わせて状態を決定する。
type Resolver struct {
	profiles ProfileResolver
}

// NewResolver はResolverを生成する。
func NewResolver(profiles ProfileResolver) *Resolver {
	return &Resolver{profiles: profiles}
}

// Resolve はセッションを取得し、続けてプロフィールを解決する。
// いずれかが失敗した場合は未認証に縮退し、再試行はしない。
func (r *Resolver) Resolve(ctx context.Context, src SessionSource) Snapshot {
	session, err := src.GetSession(ctx)
	if err != nil {
		return degraded(err)
	}
	return r.ResolveSession(ctx, session)
}

// ResolveSession は取得済みのセッションについてプロフィールを解決する。
func (r *Resolver) ResolveSession(ctx context.Context, session *model.Session) Snapshot {
	if session == nil {
		return Snapshot{State: Unauthenticated}
	}

	res, err := r.profiles.ResolveProfile(ctx, session.UserID)
	if err != nil {
		return degraded(err)
	}

	if !res.Complete {
		return Snapshot{State: AuthenticatedNoProfile, Session: session, Profile: res.Profile}
	}
	return Snapshot{State: AuthenticatedComplete, Session: session, Profile: res.Profile}
}

func degraded(err error) Snapshot {
	slog.Warn("gate state resolution failed, treating as signed out",
		slog.String("error", err.Error()),
	)
	return Snapshot{State: Unauthenticated, Err: err}
}
