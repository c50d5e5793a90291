package gate

import (
	"context"
	"net/http"

	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/session"
)

type snapshotKey struct{}

// WithSnapshot はコンテキストにスナップショットを格納する。
func WithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, snap)
}

// FromContext はコンテキストからスナップショットを取り出す。
func FromContext(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey{}).(Snapshot)
	return snap, ok
}

// Observer はリクエストごとの判定結果を受け取る（メトリクス用）。
type Observer func(state State, d Decision)

// Middleware はリクエストごとに状態を解決し、遷移判定を適用する。
type Middleware struct {
	identity session.IdentityService
	resolver *Resolver
	observer Observer
}

// NewMiddleware はMiddlewareを生成する。observerはnil可。
func NewMiddleware(identity session.IdentityService, resolver *Resolver, observer Observer) *Middleware {
	return &Middleware{identity: identity, resolver: resolver, observer: observer}
}

// Handler はゲートを適用するミドルウェア関数を返す。
// 許可された場合はスナップショットとユーザーIDをコンテキストに格納して次へ渡す。
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := middleware.SessionToken(r)
		store := session.NewStore(m.identity, token)
		defer store.Close()

		snap := m.resolver.Resolve(r.Context(), store)
		d := snap.Decide(r.URL.RequestURI())

		if m.observer != nil {
			m.observer(snap.State, d)
		}

		if !d.Allow {
			http.Redirect(w, r, d.Redirect, redirectStatus(r.Method))
			return
		}

		ctx := WithSnapshot(r.Context(), snap)
		if uid := snap.UserID(); uid != "" {
			ctx = middleware.ContextWithUserID(ctx, uid)
			ctx = middleware.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// redirectStatus はフォーム送信後のリダイレクトでGETに切り替わるよう303を使う。
func redirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
