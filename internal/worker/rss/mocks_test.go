package rss

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/thainews/internal/model"
)

// newTestLogger はバッファに出力するテスト用ロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(&lockedWriter{buf: buf}, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// lockedWriter は並行書き込みからバッファを保護する。
type lockedWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// mockFeedRepo はFeedRepositoryのテスト用モック。
type mockFeedRepo struct {
	listActiveFunc func(ctx context.Context) ([]*model.Feed, error)
	findByIDFunc   func(ctx context.Context, id string) (*model.Feed, error)

	mu            sync.Mutex
	lastProcessed map[string]time.Time
}

func (m *mockFeedRepo) ListActive(ctx context.Context) ([]*model.Feed, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	return m.ListActive(ctx)
}

func (m *mockFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockFeedRepo) UpdateLastProcessed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastProcessed == nil {
		m.lastProcessed = make(map[string]time.Time)
	}
	m.lastProcessed[id] = at
	return nil
}

func (m *mockFeedRepo) processedAt(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.lastProcessed[id]
	return at, ok
}

// memArticleRepo はsource_urlの一意制約を持つインメモリ記事ストア。
type memArticleRepo struct {
	mu         sync.Mutex
	articles   []*model.Article
	insertFunc func(a *model.Article) error
}

func (m *memArticleRepo) ListDedupCandidates(_ context.Context) ([]model.DedupCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DedupCandidate, 0, len(m.articles))
	for _, a := range m.articles {
		out = append(out, model.DedupCandidate{Title: a.Title, SourceURL: a.SourceURL})
	}
	return out, nil
}

func (m *memArticleRepo) Insert(_ context.Context, a *model.Article) error {
	if m.insertFunc != nil {
		if err := m.insertFunc(a); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.articles {
		if a.SourceURL != "" && e.SourceURL == a.SourceURL {
			return fmt.Errorf("source_url %s: %w", a.SourceURL, model.ErrDuplicateArticle)
		}
	}
	m.articles = append(m.articles, a)
	return nil
}

func (m *memArticleRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

// memHistoryRepo は追記された処理履歴を保持する。
type memHistoryRepo struct {
	mu      sync.Mutex
	entries []*model.ProcessingHistory
}

func (m *memHistoryRepo) Append(_ context.Context, h *model.ProcessingHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, h)
	return nil
}

func (m *memHistoryRepo) ListRecent(_ context.Context, limit int) ([]*model.ProcessingHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return m.entries[:limit], nil
}

func (m *memHistoryRepo) ListByFeed(_ context.Context, feedID string, _ int) ([]*model.ProcessingHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProcessingHistory
	for _, e := range m.entries {
		if e.FeedID == feedID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memHistoryRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *memHistoryRepo) all() []*model.ProcessingHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.ProcessingHistory(nil), m.entries...)
}

// stubResolver は固定の画像URLを返すImageResolver。
type stubResolver struct {
	url string
}

func (s *stubResolver) Resolve(_ context.Context, _ model.RawItem) string {
	return s.url
}
