package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/creatorlink/internal/auth"
	"github.com/hitoshi/creatorlink/internal/config"
	"github.com/hitoshi/creatorlink/internal/database"
	"github.com/hitoshi/creatorlink/internal/directory"
	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/handler"
	"github.com/hitoshi/creatorlink/internal/logger"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/profile"
	"github.com/hitoshi/creatorlink/internal/repository"
	"github.com/hitoshi/creatorlink/internal/security"
	"github.com/hitoshi/creatorlink/internal/storage"
	"github.com/hitoshi/creatorlink/internal/validation"
	"github.com/hitoshi/creatorlink/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルで再設定
	logger.SetupDefaultWithLevel(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("redis", cfg.RedisURL != ""),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.OpenAndPing(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)
	return db, nil
}

// openRedis はREDIS_URLが設定されている場合のみ接続する。未設定ならnilを返す。
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	client, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")
	return client, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newUploader は設定に応じた画像保存先を生成し、計測用のラッパーを被せる。
// 返すclose関数は必ず呼ぶこと。
func newUploader(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector) (storage.Uploader, func(), error) {
	var uploader storage.Uploader
	closeFn := func() {}

	switch cfg.StorageBackend {
	case config.StorageCloudinary:
		u, err := storage.NewCloudinaryUploader(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return nil, nil, err
		}
		uploader = u
	case config.StorageGCS:
		u, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		uploader = u
		closeFn = func() {
			if err := u.Close(); err != nil {
				slog.Warn("failed to close GCS client", slog.String("error", err.Error()))
			}
		}
	default:
		uploader = storage.DisabledUploader{}
	}

	return storage.Instrument(uploader, cfg.StorageBackend, collector.RecordUpload), closeFn, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB・Redis接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	var sessionRepo repository.SessionRepository = repository.NewPostgresSessionRepo(db)
	if rdb != nil {
		sessionRepo = repository.NewRedisSessionCache(sessionRepo, rdb)
	}
	profileRepo := repository.NewPostgresProfileRepo(db)
	creatorRepo := repository.NewPostgresCreatorRepo(db)
	businessRepo := repository.NewPostgresBusinessRepo(db)

	// 4. 認証イベントの配信（Redisがあればインスタンス間で中継する）
	broker := auth.NewBroker()
	var publisher auth.Publisher = broker
	if rdb != nil {
		relay := auth.NewRedisRelay(rdb, broker)
		publisher = relay
		go relay.RunWithRetry(ctx)
	}
	eventSub := broker.Subscribe(func(ev auth.Event) {
		collector.RecordAuthEvent(string(ev.Type))
	})
	defer eventSub.Unsubscribe()

	// 5. セキュリティ・入力検証
	urlGuard := security.NewURLGuard()
	validator := validation.New()

	// 6. 画像保存先
	uploader, closeUploader, err := newUploader(ctx, cfg, collector)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeUploader()

	var avatars profile.AvatarImporter
	if cfg.ImportProviderAvatars && cfg.StorageBackend != config.StorageNone {
		avatars = storage.NewAvatarImporter(urlGuard, uploader, cfg.ProfilePhotoBucket, cfg.PhotoMaxSize)
	}

	// 7. ドメインサービスの初期化
	authService := auth.NewService(auth.ServiceDeps{
		Providers: []auth.OAuthProvider{
			auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
			}),
		},
		UserRepo:    userRepo,
		IdentRepo:   identRepo,
		SessionRepo: sessionRepo,
		Broker:      broker,
		Publisher:   publisher,
		Mailer:      auth.NewLogMailer(slog.Default()),
		Tokens:      auth.NewTokenIssuer(cfg.SessionSecret, cfg.EmailConfirmTTL),
	}, auth.ServiceConfig{
		SessionMaxAge:            cfg.SessionTTL(),
		RefreshWindow:            cfg.SessionRefreshWindow,
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
		BaseURL:                  cfg.BaseURL,
	})

	profileResolver := profile.NewResolver(profileRepo)
	profileService := profile.NewService(profileResolver, profileRepo, authService, uploader, avatars, validator, profile.Config{
		PhotoBucket:  cfg.ProfilePhotoBucket,
		PhotoMaxSize: cfg.PhotoMaxSize,
	})
	dashboard := profile.NewDashboardLoader(profileRepo, creatorRepo, businessRepo)
	directoryService := directory.NewService(creatorRepo, businessRepo, validator, security.NewTextSanitizer())

	// 8. ルーターの構築
	rateLimiterCfg := middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth)
	rateLimiterCfg.OnLimit = collector.RecordRateLimited
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:   rateLimiter,
		HealthChecker: db,

		Metrics:         collector,
		MetricsGatherer: reg,

		Identity:     authService,
		GateResolver: gate.NewResolver(profileResolver),
		URLGuard:     urlGuard,
		Validator:    validator,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL: cfg.BaseURL,
			Cookie: handler.CookieConfig{
				Domain:        cfg.CookieDomain,
				Secure:        cfg.CookieSecure,
				SessionMaxAge: cfg.SessionMaxAge,
			},
			PhotoMaxSize: cfg.PhotoMaxSize,
		},
		EventsConfig: handler.EventsConfig{
			UsernameDebounce: cfg.UsernameDebounce,
			AllowedOrigin:    cfg.CORSAllowedOrigin,
		},

		Profiles:  profileService,
		Dashboard: dashboard,
		Directory: directoryService,
	})

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINT/SIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen failed: %w", name, err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと確認期限切れユーザーを定期的に削除し、
// /health と /metrics を公開する。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistry()
	job := newCleanupJob(cfg, db, metrics.NewCollector(reg))

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Duration("confirm_ttl", job.ConfirmTTL),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, cfg.SessionCleanupInterval)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	err = serveUntilSignal(server, "worker")
	cancel()
	<-done
	return err
}

// newCleanupJob はセッションと未確認ユーザーを削除するジョブを組み立てる。
// メール確認を必須にしない場合、未確認ユーザーは削除しない。
func newCleanupJob(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresUserRepo(db),
		collector,
		slog.Default(),
	)
	if cfg.RequireEmailConfirmation {
		job.ConfirmTTL = cfg.EmailConfirmTTL
	} else {
		job.ConfirmTTL = 0
	}
	return job
}

// runCleanup はクリーンアップを1回実行して終了する。
func runCleanup(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := newCleanupJob(cfg, db, nil).Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数がなければ未適用分をすべて適用し、"down [n]" ならn件戻す。
func runMigrate(cfg *config.Config, args []string) error {
	steps, err := migrateDirection(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("rollback_steps", steps),
	)

	var st database.MigrationStatus
	if steps > 0 {
		st, err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	} else {
		st, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
		slog.Bool("dirty", st.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
