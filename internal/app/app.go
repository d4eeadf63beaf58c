// Package app はプロセスの起動と依存関係のワイヤリングを提供する。
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
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/domainman/internal/auth"
	"github.com/hitoshi/domainman/internal/config"
	"github.com/hitoshi/domainman/internal/database"
	"github.com/hitoshi/domainman/internal/handler"
	"github.com/hitoshi/domainman/internal/logger"
	"github.com/hitoshi/domainman/internal/metrics"
	"github.com/hitoshi/domainman/internal/middleware"
	"github.com/hitoshi/domainman/internal/netlify"
	"github.com/hitoshi/domainman/internal/policy"
	"github.com/hitoshi/domainman/internal/provisioning"
	"github.com/hitoshi/domainman/internal/repository"
	"github.com/hitoshi/domainman/internal/security"
	"github.com/hitoshi/domainman/internal/worker/audit"
)

const (
	shutdownTimeout  = 30 * time.Second
	dbConnectTimeout = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	log := logger.SetupDefault(w, cfg.LogLevel)
	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとコマンドのcontextをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Server はAPIサーバーの依存関係をまとめたもの。Closeで保持しているリソースを解放する。
type Server struct {
	Handler http.Handler
	closers []func() error
}

// Close はレートリミッターとRedis接続を解放する。
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildServer はDB接続以外の全依存関係をワイヤリングし、HTTPハンドラーを構築する。
// 外部サービスへの接続は行わない。
func BuildServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*Server, error) {
	srv := &Server{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. 外部HTTPクライアント（DNSプロバイダーとGitHub API共通）
	httpClient := security.NewSafeClient(cfg.ProviderTimeout)
	dnsClient := newDNSClient(cfg, httpClient, log, collector)

	// 3. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	subRepo := repository.NewPostgresSubdomainRepo(db)

	// 4. 認証
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		SigningKey: []byte(cfg.SecretKey),
		Algorithm:  cfg.Algorithm,
		TTL:        cfg.AccessTokenExpire,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	redisClient, err := auth.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		srv.closers = append(srv.closers, redisClient.Close)
	} else {
		log.Warn("REDIS_URL is not set; logout will not revoke tokens")
	}

	oauthProvider := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
	}, httpClient)
	authService := auth.NewService(
		oauthProvider, userRepo, tokens,
		auth.NewRedisRevocationStore(redisClient),
		security.NewProfileSanitizer(),
	)

	// 5. プロビジョニング
	filter, err := policy.NewDefaultFilter()
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	provService := provisioning.NewService(
		subRepo, dnsClient, filter,
		provisioning.Config{BaseDomain: cfg.NetlifyDomain, Quota: cfg.SubdomainQuota},
		log, collector,
	)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	srv.closers = append(srv.closers, func() error {
		rateLimiter.Stop()
		return nil
	})

	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Authenticator:      authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		AuthRateLimit:      cfg.RateLimitAuth,
		Logger:             log,

		DatabaseCheck: func(ctx context.Context) (time.Duration, error) {
			return database.Ping(ctx, db)
		},
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:  cfg.FrontendURL,
			CookieSecure: cfg.CookieSecure,
		},

		SubdomainService: provService,
		TargetValidator:  security.NewTargetGuard(),
	})

	return srv, nil
}

func newDNSClient(cfg *config.Config, httpClient *http.Client, log *slog.Logger, collector metrics.MetricsCollector) *netlify.Client {
	return netlify.NewClient(httpClient, netlify.Config{
		AccessToken: cfg.NetlifyAccessKey,
		BaseURL:     cfg.NetlifyAPIURL,
		Timeout:     cfg.ProviderTimeout,
	}, log, collector)
}

// connectDatabase はDB接続を開き、疎通を確認する。
func connectDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := connectDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := BuildServer(cfg, db, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	return listenAndServe(ctx, ":"+cfg.ServerPort, srv.Handler, "API server")
}

// runWorker はワーカーモードで起動する。
// 差分監査ジョブを定期実行し、監査結果のメトリクスを/metricsで公開する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := connectDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	dnsClient := newDNSClient(cfg, security.NewSafeClient(cfg.ProviderTimeout), log, collector)
	job := audit.NewJob(dnsClient, repository.NewPostgresSubdomainRepo(db), cfg.NetlifyDomain, log, collector)

	go job.Start(ctx, cfg.AuditInterval)

	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(nil).Live)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	return listenAndServe(ctx, ":"+cfg.ServerPort, r, "worker")
}

// listenAndServe はctxがキャンセルされるまでHTTPサーバーを実行し、その後グレースフルシャットダウンする。
func listenAndServe(ctx context.Context, addr string, h http.Handler, name string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// stepsが0の場合はすべての未適用マイグレーションを適用し、正の場合はその数だけ巻き戻す。
func runMigrate(cfg *config.Config, steps int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("rollback_steps", steps),
	)

	if steps > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back successfully")
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateVersion は現在のスキーマバージョンをwに出力する。
func runMigrateVersion(w io.Writer, cfg *config.Config) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
	return err
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
