package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/thainews/internal/metrics"
	"github.com/hitoshi/thainews/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// パイプライン
	RSSService RSSService
	History    HistoryLister

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 最適化済み画像の公開
	UploadDir       string
	UploadURLPrefix string
}

// NewRouter は管理APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → CORS
//
// 処理トリガー系（POST）のみクライアントIP単位のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	rssHandler := NewRSSHandler(deps.RSSService, deps.History, deps.Logger)

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/rss", func(r chi.Router) {
		r.Get("/status", rssHandler.GetStatus)
		r.Get("/history", rssHandler.ListHistory)
		r.Get("/feeds/{id}/history", rssHandler.ListFeedHistory)

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}
			r.Post("/process", rssHandler.ProcessAll)
			r.Post("/feeds/{id}/process", rssHandler.ProcessFeed)
			r.Post("/auto/start", rssHandler.StartAuto)
			r.Post("/auto/stop", rssHandler.StopAuto)
		})
	})

	if deps.UploadDir != "" && deps.UploadURLPrefix != "" {
		prefix := "/" + strings.Trim(deps.UploadURLPrefix, "/")
		fs := http.StripPrefix(prefix, http.FileServer(http.Dir(deps.UploadDir)))
		r.Handle(prefix+"/*", fs)
	}

	return r
}

// NewOpsRouter はワーカーモード用にヘルスチェックとメトリクスのみを公開するルーターを返す。
func NewOpsRouter(checker HealthChecker, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", NewHealthHandler(checker, logger))
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	return r
}
