// Package session は利用者（HTTPリクエスト、WebSocket接続）ごとのセッションストアを提供する。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/creatorlink/internal/auth"
	"github.com/hitoshi/creatorlink/internal/model"
)

// ErrClosed はClose済みのストアに対する操作で返される。
var ErrClosed = errors.New("session store closed")

// IdentityService はストアが利用する認証基盤の操作。
// auth.Serviceがこれを満たす。
type IdentityService interface {
	GetSession(ctx context.Context, token string) (*model.Session, error)
	SignOut(ctx context.Context, token string) error
	OnAuthStateChange(fn auth.Listener) *auth.Subscription
}

// Change はセッション変化の通知内容。Sessionがnilならサインアウト状態。
type Change struct {
	Event   auth.EventType
	Session *model.Session
}

// Option はStoreの設定関数。
type Option func(*Store)

// WithSignOutErrorHandler はリモートのサインアウト失敗時に呼ばれる関数を設定する。
func WithSignOutErrorHandler(fn func(error)) Option {
	return func(s *Store) { s.onSignOutErr = fn }
}

// Store は1利用者分のセッション状態を保持する。
// 認証基盤からの変化通知の購読は常に1つだけで、Closeで必ず解除される。
type Store struct {
	identity     IdentityService
	onSignOutErr func(error)

	mu      sync.Mutex
	token   string
	current *model.Session
	sub     *auth.Subscription
	closed  bool
}

// NewStore はセッショントークンに紐づくStoreを生成する。
func NewStore(identity IdentityService, token string, opts ...Option) *Store {
	s := &Store{identity: identity, token: token}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token は現在のセッショントークンを返す。
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Current は最後に取得したセッションを返す。
func (s *Store) Current() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// GetSession は認証基盤に現在のセッションを問い合わせる。
// セッションがない場合はnil, nilを返す。失敗は再試行せずそのまま返す。
func (s *Store) GetSession(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	token := s.token
	s.mu.Unlock()

	if token == "" {
		return nil, nil
	}

	session, err := s.identity.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 問い合わせ中にClose・サインアウトされた場合は結果を反映しない
	if s.closed {
		return nil, ErrClosed
	}
	if s.token != token {
		return nil, nil
	}
	s.current = session
	return session, nil
}

// OnSessionChange はこの利用者のセッションに関わる変化のリスナーを登録する。
// 既存の購読があれば解除してから置き換える。
func (s *Store) OnSessionChange(fn func(Change)) *auth.Subscription {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &auth.Subscription{}
	}
	prev := s.sub
	s.sub = nil
	s.mu.Unlock()

	prev.Unsubscribe()

	sub := s.identity.OnAuthStateChange(func(ev auth.Event) {
		s.handleEvent(ev, fn)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return sub
	}
	s.sub = sub
	s.mu.Unlock()
	return sub
}

func (s *Store) handleEvent(ev auth.Event, fn func(Change)) {
	s.mu.Lock()
	if s.closed || !s.concerns(ev) {
		s.mu.Unlock()
		return
	}
	switch ev.Type {
	case auth.EventSignedOut:
		s.token = ""
		s.current = nil
		s.mu.Unlock()
		fn(Change{Event: ev.Type})
		return
	case auth.EventTokenRefreshed:
		// 延長は参照の結果として起きるので再参照しない。期限はイベントから反映する
		if s.current == nil || ev.ExpiresAt == nil {
			s.mu.Unlock()
			return
		}
		refreshed := *s.current
		refreshed.ExpiresAt = *ev.ExpiresAt
		s.current = &refreshed
		s.mu.Unlock()
		fn(Change{Event: ev.Type, Session: &refreshed})
		return
	}
	s.mu.Unlock()

	session, err := s.GetSession(context.Background())
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			slog.Warn("failed to reload session after auth event",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	fn(Change{Event: ev.Type, Session: session})
}

// concerns はイベントがこのストアのセッションに関係するかを返す。mu保持中に呼ぶこと。
func (s *Store) concerns(ev auth.Event) bool {
	if s.token == "" {
		return false
	}
	if ev.SessionID != "" {
		return ev.SessionID == s.token
	}
	// セッション指定なしのイベントはユーザー単位
	return s.current != nil && ev.UserID == s.current.UserID
}

// SignOut は認証基盤にセッション終了を依頼し、ローカル状態を必ず破棄する。
// リモートの失敗はログに記録するのみで呼び出し元には返さない。
func (s *Store) SignOut(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.current = nil
	s.mu.Unlock()

	if token == "" {
		return
	}

	if err := s.identity.SignOut(ctx, token); err != nil {
		slog.Warn("remote sign out failed, cleared locally",
			slog.String("error", err.Error()),
		)
		if s.onSignOutErr != nil {
			s.onSignOutErr(err)
		}
	}
}

// Close は購読を解除する。以後の応答・イベントは破棄される。何度呼んでもよい。
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	sub.Unsubscribe()
}
