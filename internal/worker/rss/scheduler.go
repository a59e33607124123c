package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/thainews/internal/model"
	"github.com/hitoshi/thainews/internal/repository"
)

// DefaultAutoInterval は interval に正の値が与えられなかった場合の定期実行間隔。
const DefaultAutoInterval = 15 * time.Minute

// ErrOrchestratorClosed はShutdown後に処理が要求されたことを表す。
var ErrOrchestratorClosed = errors.New("orchestrator is shut down")

// FeedProcessor はフィード1件の処理を行うインターフェース。
type FeedProcessor interface {
	ProcessFeed(ctx context.Context, feed *model.Feed) FeedResult
}

// Status は取り込みパイプライン全体の状態のスナップショット。
type Status struct {
	IsProcessing          bool                         `json:"is_processing"`
	AutoProcessingEnabled bool                         `json:"auto_processing_enabled"`
	Feeds                 map[string]model.FeedStatus `json:"feeds"`
}

// Orchestrator は有効な全フィードの処理と定期実行を管理する。
// 全フィード処理は同時に1つしか実行されない。
type Orchestrator struct {
	feedRepo  repository.FeedRepository
	processor FeedProcessor
	status    *StatusTracker
	logger    *slog.Logger
	interval  time.Duration
	stagger   time.Duration

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	processing bool
	closed     bool
	autoCancel context.CancelFunc

	inflight sync.WaitGroup
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
// interval は定期実行の間隔、stagger はフィードごとの開始遅延の単位。
// interval が0以下なら DefaultAutoInterval、stagger が負なら0を使う。
func NewOrchestrator(
	feedRepo repository.FeedRepository,
	processor FeedProcessor,
	status *StatusTracker,
	logger *slog.Logger,
	interval time.Duration,
	stagger time.Duration,
) *Orchestrator {
	if interval <= 0 {
		interval = DefaultAutoInterval
	}
	if stagger < 0 {
		stagger = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		feedRepo:   feedRepo,
		processor:  processor,
		status:     status,
		logger:     logger,
		interval:   interval,
		stagger:    stagger,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
}

// ProcessAllFeeds は有効な全フィードを並行して処理し、追加された記事数の合計を返す。
// 各フィードは「インデックス × stagger」だけ遅れて開始し、1件の失敗は他に影響しない。
// すでに実行中の場合は何もせず started=false を返す。
func (o *Orchestrator) ProcessAllFeeds(ctx context.Context) (added int, started bool, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, false, ErrOrchestratorClosed
	}
	if o.processing {
		o.mu.Unlock()
		o.logger.Info("全フィード処理はすでに実行中のためスキップします")
		return 0, false, nil
	}
	o.processing = true
	o.inflight.Add(1)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
		o.inflight.Done()
	}()

	start := time.Now()

	feeds, err := o.feedRepo.ListActive(ctx)
	if err != nil {
		return 0, true, fmt.Errorf("有効なフィードの取得に失敗: %w", err)
	}

	if len(feeds) == 0 {
		o.logger.Info("処理対象のフィードはありません")
		return 0, true, nil
	}

	o.logger.Info("全フィード処理を開始します",
		slog.Int("feed_count", len(feeds)),
	)

	results := make([]FeedResult, len(feeds))
	var wg sync.WaitGroup
	for i, feed := range feeds {
		wg.Add(1)
		go func(i int, f *model.Feed) {
			defer wg.Done()

			if err := sleepContext(ctx, time.Duration(i)*o.stagger); err != nil {
				results[i] = FeedResult{FeedID: f.ID, Err: err}
				return
			}
			results[i] = o.processor.ProcessFeed(ctx, f)
		}(i, feed)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		added += r.Added
		if r.Err != nil {
			failed++
		}
	}

	o.logger.Info("全フィード処理が完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Int("failed_feeds", failed),
		slog.Int("articles_added", added),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return added, true, nil
}

// ProcessFeedByID は指定フィードを1件処理する。
// 全フィード処理の実行中でも排他されない。
func (o *Orchestrator) ProcessFeedByID(ctx context.Context, feedID string) (FeedResult, error) {
	feed, err := o.feedRepo.FindByID(ctx, feedID)
	if err != nil {
		return FeedResult{}, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	if feed == nil {
		return FeedResult{}, model.ErrFeedNotFound
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return FeedResult{}, ErrOrchestratorClosed
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	defer o.inflight.Done()
	return o.processor.ProcessFeed(ctx, feed), nil
}

// StartAutoProcessing は定期実行を開始する。開始直後に1回実行し、以降interval毎に実行する。
// すでに開始済みの場合は何もせず false を返す。
func (o *Orchestrator) StartAutoProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.autoCancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(o.lifeCtx)
	o.autoCancel = cancel

	go o.autoLoop(ctx)

	o.logger.Info("自動処理を開始しました",
		slog.Duration("interval", o.interval),
	)
	return true
}

// StopAutoProcessing は定期実行を停止する。実行中の全フィード処理は中断しない。
// 開始されていない場合は何もせず false を返す。
func (o *Orchestrator) StopAutoProcessing() bool {
	o.mu.Lock()
	cancel := o.autoCancel
	o.autoCancel = nil
	o.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	o.logger.Info("自動処理を停止しました")
	return true
}

// autoLoop は定期実行のループ。全フィード処理はループのキャンセルとは独立して最後まで実行される。
func (o *Orchestrator) autoLoop(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.runScheduled()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runScheduled()
		}
	}
}

func (o *Orchestrator) runScheduled() {
	if _, _, err := o.ProcessAllFeeds(o.lifeCtx); err != nil {
		o.logger.Error("定期実行の全フィード処理に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Status は全体とフィードごとの処理状態を返す。
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		IsProcessing:          o.processing,
		AutoProcessingEnabled: o.autoCancel != nil,
	}
	o.mu.Unlock()

	st.Feeds = o.status.Snapshot()
	return st
}

// Shutdown は定期実行を停止し、実行中の処理の完了を待つ。
// ctx が先に終了した場合は実行中の処理をキャンセルしてctxのエラーを返す。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.StopAutoProcessing()

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.lifeCancel()
		return nil
	case <-ctx.Done():
		o.lifeCancel()
		return ctx.Err()
	}
}
