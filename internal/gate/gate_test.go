package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/creatorlink/internal/auth"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
	"github.com/hitoshi/creatorlink/internal/session"
)

// --- モック定義 ---

type mockIdentity struct {
	broker       *auth.Broker
	getSessionFn func(ctx context.Context, token string) (*model.Session, error)
	signOutFn    func(ctx context.Context, token string) error
}

func newMockIdentity() *mockIdentity {
	return &mockIdentity{broker: auth.NewBroker()}
}

func (m *mockIdentity) GetSession(ctx context.Context, token string) (*model.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, token)
	}
	return nil, nil
}

func (m *mockIdentity) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

func (m *mockIdentity) OnAuthStateChange(fn auth.Listener) *auth.Subscription {
	return m.broker.Subscribe(fn)
}

var _ session.IdentityService = (*mockIdentity)(nil)

// sessionsFor はトークンとユーザーIDの対応からgetSessionFnを作る。
func sessionsFor(tokens map[string]string) func(context.Context, string) (*model.Session, error) {
	return func(_ context.Context, token string) (*model.Session, error) {
		uid, ok := tokens[token]
		if !ok {
			return nil, nil
		}
		return &model.Session{ID: token, UserID: uid, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
}

type mockProfileResolver struct {
	mu        sync.Mutex
	profiles  map[string]*model.Profile
	err       error
	callCount int
}

func newMockProfileResolver(profiles ...*model.Profile) *mockProfileResolver {
	m := &mockProfileResolver{profiles: map[string]*model.Profile{}}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockProfileResolver) ResolveProfile(_ context.Context, userID string) (profile.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.err != nil {
		return profile.Resolution{}, &model.ResolverError{UserID: userID, Err: m.err}
	}
	p := m.profiles[userID]
	if p == nil {
		return profile.Resolution{}, nil
	}
	return profile.Resolution{Complete: p.Complete(), Profile: p}, nil
}

var _ ProfileResolver = (*mockProfileResolver)(nil)

var errBackendDown = errors.New("connection refused")
