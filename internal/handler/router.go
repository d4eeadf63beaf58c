package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/domainman/internal/middleware"
	"github.com/hitoshi/domainman/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	AuthRateLimit      int // IPあたり/分
	Logger             *slog.Logger // nil の場合はアクセスログを出力しない

	// ヘルスチェック
	DatabaseCheck DatabaseCheck
	// MetricsHandler が nil の場合は /metrics を公開しない
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// サブドメイン
	SubdomainService SubdomainServiceInterface
	TargetValidator  security.TargetValidator
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  /api/v1/auth/login, callback: IPRateLimit
//	  それ以外の/api/v1: BearerAuth → RateLimit(General) [→ RateLimit(Mutation)]
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	subHandler := NewSubdomainHandler(deps.SubdomainService, deps.TargetValidator)
	healthHandler := NewHealthHandler(deps.DatabaseCheck)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Live)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", healthHandler.Healthz)

		// OAuthフロー（IP単位のレート制限）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewIPRateLimitMiddleware(deps.AuthRateLimit))
			r.Get("/auth/login/github", authHandler.Login)
			r.Get("/auth/github/callback", authHandler.Callback)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.Authenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			mutation := deps.RateLimiter.MutationMiddleware()
			r.Route("/subdomains", func(r chi.Router) {
				r.Get("/", subHandler.List)
				r.With(mutation).Post("/", subHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", subHandler.Get)
					r.With(mutation).Put("/", subHandler.Update)
					r.With(mutation).Delete("/", subHandler.Delete)
				})
			})
		})
	})

	return r
}
