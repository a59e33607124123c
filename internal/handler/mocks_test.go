package handler

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/hitoshi/thainews/internal/model"
	"github.com/hitoshi/thainews/internal/worker/rss"
)

type mockRSSService struct {
	processAllFn  func(ctx context.Context) (int, bool, error)
	processFeedFn func(ctx context.Context, feedID string) (rss.FeedResult, error)
	startFn       func() bool
	stopFn        func() bool
	statusFn      func() rss.Status
}

func (m *mockRSSService) ProcessAllFeeds(ctx context.Context) (int, bool, error) {
	return m.processAllFn(ctx)
}

func (m *mockRSSService) ProcessFeedByID(ctx context.Context, feedID string) (rss.FeedResult, error) {
	return m.processFeedFn(ctx, feedID)
}

func (m *mockRSSService) StartAutoProcessing() bool { return m.startFn() }

func (m *mockRSSService) StopAutoProcessing() bool { return m.stopFn() }

func (m *mockRSSService) Status() rss.Status { return m.statusFn() }

type mockHistory struct {
	listRecentFn func(ctx context.Context, limit int) ([]*model.ProcessingHistory, error)
	listByFeedFn func(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error)
}

func (m *mockHistory) ListRecent(ctx context.Context, limit int) ([]*model.ProcessingHistory, error) {
	return m.listRecentFn(ctx, limit)
}

func (m *mockHistory) ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error) {
	return m.listByFeedFn(ctx, feedID, limit)
}

type mockChecker struct {
	err error
}

func (m *mockChecker) PingContext(ctx context.Context) error { return m.err }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
