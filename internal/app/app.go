// Package app はサブコマンドごとの依存関係のワイヤリングと起動・停止を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/thainews/internal/config"
	"github.com/hitoshi/thainews/internal/database"
	"github.com/hitoshi/thainews/internal/handler"
	"github.com/hitoshi/thainews/internal/imageproc"
	"github.com/hitoshi/thainews/internal/imagesrc"
	"github.com/hitoshi/thainews/internal/logger"
	"github.com/hitoshi/thainews/internal/metrics"
	"github.com/hitoshi/thainews/internal/middleware"
	"github.com/hitoshi/thainews/internal/repository"
	"github.com/hitoshi/thainews/internal/security"
	"github.com/hitoshi/thainews/internal/worker/cleanup"
	"github.com/hitoshi/thainews/internal/worker/rss"
)

const (
	shutdownTimeout = 60 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
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
		slog.String("image_policy", cfg.ImagePolicy),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandProcessOnce:
		return runProcessOnce(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline は取り込みパイプラインを構成するコンポーネント一式。
type pipeline struct {
	orchestrator *rss.Orchestrator
	history      repository.HistoryRepository
	registry     *prometheus.Registry
	cleanup      *cleanup.CleanupJob
}

// buildPipeline はDB接続と設定から取り込みパイプラインを組み立てる。
// DBへの接続は行わない。
func buildPipeline(cfg *config.Config, db *sql.DB, log *slog.Logger) *pipeline {
	feedRepo := repository.NewPostgresFeedRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	historyRepo := repository.NewPostgresHistoryRepo(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	guard := security.NewSSRFGuard(cfg.AllowPrivateHosts)
	if cfg.AllowPrivateHosts {
		log.Warn("SSRFガードが無効化されています（開発用設定）")
	}

	retryCfg := rss.RetryConfig{
		Attempts:    cfg.FetchAttempts,
		BaseTimeout: cfg.FetchBaseTimeout,
		TimeoutStep: cfg.FetchTimeoutStep,
		BackoffBase: cfg.FetchBackoffBase,
	}
	fetcher := rss.NewFetcher(
		guard.NewSafeClient(cfg.FetchMaxTimeout()),
		retryCfg,
		logger.Component(log, "fetcher"),
		collector.RecordFetchRetry,
	)

	optimizer := imageproc.NewOptimizer(cfg.UploadDir, cfg.UploadURLPrefix, cfg.ImageMaxWidth)
	resolver := imagesrc.NewResolver(imagesrc.ParsePolicy(cfg.ImagePolicy), guard, optimizer)

	processor := rss.NewProcessor(
		feedRepo, articleRepo, historyRepo,
		fetcher, resolver, collector,
		logger.Component(log, "processor"),
		cfg.FetchMaxSize,
	)
	orchestrator := rss.NewOrchestrator(
		feedRepo, processor, processor.Status(),
		logger.Component(log, "orchestrator"),
		cfg.AutoInterval, cfg.StaggerDelay,
	)

	return &pipeline{
		orchestrator: orchestrator,
		history:      historyRepo,
		registry:     reg,
		cleanup:      cleanup.NewCleanupJob(historyRepo, logger.Component(log, "cleanup"), cfg.HistoryRetentionDays),
	}
}

// openDatabase はマイグレーションを適用したうえでDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe は管理APIサーバーと定期実行を起動する。
// SIGINTまたはSIGTERMを受信すると、HTTPサーバーを停止し、実行中のフィード処理の完了を待つ。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()
	p := buildPipeline(cfg, db, log)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAdmin), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		RSSService:        p.orchestrator,
		History:           p.history,
		HealthChecker:     db,
		Gatherer:          p.registry,
		UploadDir:         cfg.UploadDir,
		UploadURLPrefix:   cfg.UploadURLPrefix,
	})

	// 同期実行の処理エンドポイントはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go p.cleanup.Start(ctx, cleanupInterval)
	p.orchestrator.StartAutoProcessing()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			p.orchestrator.Shutdown(context.Background())
			return fmt.Errorf("server listen error: %w", err)
		}
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := p.orchestrator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は定期実行のみを起動する。
// ヘルスチェックとメトリクスのみを公開する運用ポートを開く。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()
	p := buildPipeline(cfg, db, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewOpsRouter(db, p.registry, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("auto_interval", cfg.AutoInterval),
		slog.Duration("stagger_delay", cfg.StaggerDelay),
	)

	go p.cleanup.Start(ctx, cleanupInterval)
	p.orchestrator.StartAutoProcessing()

	<-ctx.Done()
	slog.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	opsServer.Shutdown(shutdownCtx)
	if err := p.orchestrator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runProcessOnce は有効な全フィードを1回処理して終了する。
func runProcessOnce(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p := buildPipeline(cfg, db, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	added, _, err := p.orchestrator.ProcessAllFeeds(ctx)
	if err != nil {
		return fmt.Errorf("process-once failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.orchestrator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	slog.Info("process-once completed", slog.Int("articles_added", added))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck は /health エンドポイントにHTTPリクエストを送り、結果を返す。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
