package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/davpush/internal/metrics"
	"github.com/hitoshi/davpush/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// サービス
	RegistrationService RegistrationServiceInterface
	SubscriptionService SubscriptionServiceInterface

	// DAVNext は登録ドキュメント以外のDAVリクエストの委譲先。nilの場合は404。
	DAVNext http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → (サーフェスごとの認証・制限)
//
// JSON API（/api/*）はブラウザ向けサーフェスとしてCORSとCSRF検証を通す。
// DAVエンドポイント（/dav/*）はDAVクライアント向けのため、CSRF検証の対象外とする。
// /healthと/metricsは認証なしで公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	// 運用系エンドポイント
	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	registerHandler := NewRegisterHandler(deps.RegistrationService, deps.Metrics, deps.DAVNext, logger)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.Metrics)

	// --- ブラウザ向けJSON API ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		// CSRFトークン取得は認証不要
		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// ミドルウェアスタック: Session → CSRF → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/api/subscriptions", func(r chi.Router) {
				r.Get("/", subHandler.ListSubscriptions)
				r.Delete("/{id}", subHandler.Unsubscribe)
			})
		})
	})

	// --- DAVエンドポイント ---
	// ミドルウェアスタック: Session → RateLimit(General)、登録POSTには登録専用レート制限を追加
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.With(deps.RateLimiter.RegisterMiddleware()).Post("/dav/*", registerHandler.Register)
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if checker == nil || checker.PingContext(ctx) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
