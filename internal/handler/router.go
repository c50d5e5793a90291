package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/security"
	"github.com/hitoshi/creatorlink/internal/validation"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker はDB等の疎通確認を行う。*sql.DBがこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// ProfileRegistrar はプロフィール登録に関する全操作。profile.Serviceがこれを満たす。
type ProfileRegistrar interface {
	ProfileService
	SignUpProfiles
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HealthChecker     HealthChecker

	// メトリクス（nilの場合は計測しない）
	Metrics         *metrics.Collector
	MetricsGatherer prometheus.Gatherer

	// 認証・ゲート
	Identity     IdentityService
	GateResolver *gate.Resolver
	URLGuard     security.URLGuard
	Validator    *validation.Validator
	AuthConfig   AuthHandlerConfig
	EventsConfig EventsConfig

	// プロフィール・掲載情報
	Profiles  ProfileRegistrar
	Dashboard DashboardService
	Directory DirectoryService
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → CSRF → Gate → RateLimit(General) [→ RateLimit(Auth)]
//
// /health と /metrics はゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	var collector metrics.MetricsCollector = metrics.NopCollector{}
	if deps.Metrics != nil {
		collector = deps.Metrics
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.InstrumentHandler)
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- ゲート外のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	authConfig := deps.AuthConfig
	if authConfig.OnSignOutError == nil {
		authConfig.OnSignOutError = func(error) { collector.RecordSignOutFailure() }
	}
	eventsConfig := deps.EventsConfig
	if eventsConfig.OnSignOutError == nil {
		eventsConfig.OnSignOutError = authConfig.OnSignOutError
	}

	authHandler := NewAuthHandler(deps.Identity, deps.Profiles, deps.GateResolver, deps.URLGuard, deps.Validator, authConfig)
	profileHandler := NewProfileHandler(deps.Profiles, deps.Dashboard, collector, authConfig.PhotoMaxSize)
	listingHandler := NewListingHandler(deps.Directory)
	eventsHandler := NewEventsHandler(deps.Identity, deps.GateResolver, deps.Profiles, collector, eventsConfig)

	gateMiddleware := gate.NewMiddleware(deps.Identity, deps.GateResolver, func(state gate.State, d gate.Decision) {
		collector.RecordGateDecision(state.String(), d.Allow)
	})

	// --- ゲート配下のルート ---
	// ミドルウェアスタック: CSRF → Gate → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(gateMiddleware.Handler)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証フロー（送信系は認証専用のレート制限を追加）
		r.Route("/auth", func(r chi.Router) {
			r.Get("/", authHandler.Page)
			r.Get("/signin", authHandler.Page)
			r.Get("/signup", authHandler.Page)
			r.Get("/check-email", authHandler.CheckEmail)
			r.Get("/google-signin", authHandler.GoogleSignIn)
			r.Get("/oauth-callback", authHandler.OAuthCallback)
			r.Get("/callback", authHandler.Callback)
			r.Get("/complete-profile", profileHandler.CompleteProfilePage)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/check-email/confirm", authHandler.ConfirmCheck)
				r.Post("/check-email/resend", authHandler.ResendConfirmation)
				r.Post("/complete-profile", profileHandler.CompleteProfile)
			})

			r.Post("/signout", authHandler.SignOut)
			// ゲートはサインアウトを常に通すため、全端末サインアウトはここでセッションを要求する
			r.With(middleware.NewSessionMiddleware(deps.Identity)).Post("/signout/all", authHandler.SignOutEverywhere)
		})

		// 保護ルート
		r.Get("/dashboard", profileHandler.Dashboard)
		r.Route("/account", func(r chi.Router) {
			r.Delete("/", authHandler.DeleteAccount)
			r.Route("/creator", func(r chi.Router) {
				r.Get("/", listingHandler.GetCreator)
				r.Post("/", listingHandler.CreateCreator)
				r.Put("/", listingHandler.UpdateCreator)
				r.Delete("/", listingHandler.DeleteCreator)
			})
			r.Route("/business", func(r chi.Router) {
				r.Get("/", listingHandler.GetBusiness)
				r.Post("/", listingHandler.CreateBusiness)
				r.Put("/", listingHandler.UpdateBusiness)
				r.Delete("/", listingHandler.DeleteBusiness)
			})
		})

		// 公開ルート
		r.Get("/creators", listingHandler.ListCreators)
		r.Get("/findwork", listingHandler.ListBusinesses)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Get("/username-available", profileHandler.UsernameAvailable)
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
			r.Get("/auth/events", eventsHandler.Handle)
		})
	})

	return r
}

// healthHandler はDBの疎通を確認する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
