package gate

import (
	"context"
	"sync"

	"github.com/hitoshi/creatorlink/internal/session"
)

// Tracker は1利用者（WebSocket接続等）の状態を追跡する。
// Initで初回解決が終わるまで判定は行わず、以後はセッション変化に追従する。
type Tracker struct {
	store    *session.Store
	resolver *Resolver

	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)
	closed   bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewTracker はTrackerを生成する。storeの所有権はTrackerに移り、Closeで閉じられる。
func NewTracker(store *session.Store, resolver *Resolver) *Tracker {
	return &Tracker{
		store:    store,
		resolver: resolver,
		ready:    make(chan struct{}),
	}
}

// Init は初回の状態解決を行い、変化の購読を開始する。
// onChangeは状態が変わるたびに呼ばれる（nil可）。
func (t *Tracker) Init(ctx context.Context, onChange func(Snapshot)) Snapshot {
	snap := t.resolver.Resolve(ctx, t.store)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return snap
	}
	t.snap = snap
	t.onChange = onChange
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })

	t.store.OnSessionChange(t.handleChange)
	return snap
}

func (t *Tracker) handleChange(c session.Change) {
	var snap Snapshot
	if c.Session == nil {
		// サインアウト時はプロフィール等の保持データもすべて破棄する
		snap = Snapshot{State: Unauthenticated}
	} else {
		snap = t.resolver.ResolveSession(context.Background(), c.Session)
	}
	t.apply(snap)
}

// apply はClose後の結果を破棄する。
func (t *Tracker) apply(snap Snapshot) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.snap = snap
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Snapshot は現在の状態を返す。
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Decide は初回解決の完了を待ってから遷移を判定する。
func (t *Tracker) Decide(ctx context.Context, target string) (Decision, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
	return t.Snapshot().Decide(target), nil
}

// Refresh は状態を解決し直す（メール確認後の再確認等）。
func (t *Tracker) Refresh(ctx context.Context) Snapshot {
	snap := t.resolver.Resolve(ctx, t.store)
	t.apply(snap)
	return snap
}

// SignOut はサインアウトし、状態を未認証にする。
func (t *Tracker) SignOut(ctx context.Context) {
	t.store.SignOut(ctx)
	t.apply(Snapshot{State: Unauthenticated})
}

// Close は購読を解除する。何度呼んでもよい。
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.onChange = nil
	t.mu.Unlock()

	t.store.Close()
}
