package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/creatorlink/internal/auth"
	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
	"github.com/hitoshi/creatorlink/internal/security"
	"github.com/hitoshi/creatorlink/internal/validation"
)

// signUpWorld はサインアップからプロフィール登録までの状態を持つ認証基盤とプロフィール。
type signUpWorld struct {
	mu       sync.Mutex
	users    map[string]*model.User // トークン → ユーザー
	pending  map[string]*model.User // 確認トークン → 未確認ユーザー
	resolver *mockProfileResolver

	completedWith string // CompleteProfileに渡されたセッショントークン
}

func newSignUpWorld() *signUpWorld {
	return &signUpWorld{
		users:    map[string]*model.User{},
		pending:  map[string]*model.User{},
		resolver: newMockProfileResolver(),
	}
}

func (s *signUpWorld) identity() *mockIdentity {
	id := newMockIdentity()
	id.getSessionFn = func(_ context.Context, token string) (*model.Session, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.users[token]
		if !ok {
			return nil, nil
		}
		return newSession(token, u), nil
	}
	id.signUpFn = func(_ context.Context, email, _ string, metadata map[string]any) (*auth.SignUpResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		u := &model.User{ID: "user-a", Email: email, Metadata: metadata}
		s.pending["confirm-token"] = u
		return &auth.SignUpResult{User: u}, nil
	}
	id.verifyEmailFn = func(_ context.Context, token string) (*model.Session, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.pending[token]
		if !ok {
			return nil, model.NewAuthError(model.ErrCodeInvalidToken, "Email link is invalid or has expired", nil)
		}
		delete(s.pending, token)
		s.users["tok-a"] = u
		return newSession("tok-a", u), nil
	}
	return id
}

func (s *signUpWorld) profiles() *mockProfiles {
	return &mockProfiles{
		completeProfileFn: func(_ context.Context, token string, req profile.CreateRequest) (*model.Profile, error) {
			s.mu.Lock()
			s.completedWith = token
			s.mu.Unlock()
			p := &model.Profile{ID: req.UserID, Username: req.Username}
			s.resolver.set(p)
			return p, nil
		},
	}
}

func newSignUpRouter(t *testing.T, world *signUpWorld) http.Handler {
	t.Helper()

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		HealthChecker:     &mockHealthChecker{},
		Metrics:           metrics.NewCollector(prometheus.NewRegistry()),
		Identity:          world.identity(),
		GateResolver:      gate.NewResolver(world.resolver),
		URLGuard:          security.NewURLGuard(),
		Validator:         validation.New(),
		AuthConfig: AuthHandlerConfig{
			BaseURL:      "http://localhost:8080",
			Cookie:       CookieConfig{SessionMaxAge: 86400},
			PhotoMaxSize: 1 << 20,
		},
		Profiles:  world.profiles(),
		Dashboard: &mockDashboard{},
		Directory: &mockDirectory{},
	})
}

// browser はCookieを持ち回してルーターにリクエストを送る。
type browser struct {
	t       *testing.T
	router  http.Handler
	session string
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if method != http.MethodGet {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
		req.Header.Set("X-CSRF-Token", testCSRFToken)
	}
	if b.session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: b.session})
	}

	w := serve(b.router, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			b.session = c.Value
		}
	}
	return w
}

func (b *browser) expectRedirect(w *httptest.ResponseRecorder, status int, location string) {
	b.t.Helper()
	if w.Code != status {
		b.t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != location {
		b.t.Fatalf("Location = %q, want %q", got, location)
	}
}

func (b *browser) expectRedirectTo(w *httptest.ResponseRecorder, location string) {
	b.t.Helper()
	if w.Code != http.StatusOK {
		b.t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeBody[redirectResponse](b.t, w).RedirectTo; got != location {
		b.t.Fatalf("redirect_to = %q, want %q", got, location)
	}
}

func TestRouter_SignUpToDashboardFlow(t *testing.T) {
	world := newSignUpWorld()
	b := &browser{t: t, router: newSignUpRouter(t, world)}

	// サインアップ後は確認メール待ち。セッションはまだない
	w := b.do(http.MethodPost, "/auth/signup", url.Values{"email": {"a@b.com"}, "password": {"password123"}})
	b.expectRedirectTo(w, "/auth/check-email?email=a%40b.com")
	if b.session != "" {
		t.Fatalf("session issued before confirmation: %q", b.session)
	}

	w = b.do(http.MethodGet, "/auth/check-email?email=a%40b.com", nil)
	if got := decodeBody[authPage](t, w); got.Email != "a@b.com" {
		t.Errorf("check-email page = %+v", got)
	}

	// 未確認のうちはダッシュボードに入れない
	w = b.do(http.MethodGet, "/dashboard", nil)
	b.expectRedirect(w, http.StatusFound, "/auth/signin?redirectTo=%2Fdashboard")

	// 確認リンクでセッションが発行され、プロフィール登録へ
	w = b.do(http.MethodGet, "/auth/callback?access_token=confirm-token", nil)
	b.expectRedirect(w, http.StatusFound, gate.CompleteProfilePath)
	if b.session != "tok-a" {
		t.Fatalf("session cookie = %q, want tok-a", b.session)
	}

	w = b.do(http.MethodGet, "/dashboard", nil)
	b.expectRedirect(w, http.StatusFound, gate.CompleteProfilePath)

	w = b.do(http.MethodPost, "/auth/complete-profile", url.Values{"username": {"newuser"}})
	b.expectRedirectTo(w, gate.DashboardPath)
	if world.completedWith != "tok-a" {
		t.Errorf("profile completed with token %q, want tok-a", world.completedWith)
	}

	// 登録済みになればダッシュボードに入れ、サインイン画面からは戻される
	w = b.do(http.MethodGet, "/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	w = b.do(http.MethodGet, "/auth/signin", nil)
	b.expectRedirect(w, http.StatusFound, gate.DashboardPath)
}
