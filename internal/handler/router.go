package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedharvest/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 手動取得
	Trigger      Trigger
	URLRunner    URLRunner
	URLValidator URLValidator
	RateLimiter  *middleware.RateLimiter

	// データソース参照
	Sources SourceReader

	// 運用
	DB      Pinger
	Queue   QueueDepth
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging
//
// 外部への取得を発生させる手動取得ルートにはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	fetchHandler := NewFetchHandler(deps.Trigger, deps.URLRunner, deps.URLValidator, deps.Logger)
	sourceHandler := NewSourceHandler(deps.Sources, deps.Logger)

	r.Get("/health", HealthHandler(deps.DB, deps.Queue, deps.Logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)
			r.Get("/stats", sourceHandler.Stats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetSource)
				r.With(limit(deps.RateLimiter)).Post("/fetch", fetchHandler.TriggerSource)
			})
		})

		r.With(limit(deps.RateLimiter)).Post("/fetch", fetchHandler.FetchURL)
	})

	return r
}

// limit はRateLimiterが未設定の場合は何もしないミドルウェアを返す。
func limit(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware()
}
