package rss

import (
	"sync"
	"time"

	"github.com/hitoshi/thainews/internal/model"
)

// StatusTracker はフィードごとのインメモリ処理状態を保持する。
type StatusTracker struct {
	mu    sync.RWMutex
	feeds map[string]model.FeedStatus
}

// NewStatusTracker はStatusTrackerの新しいインスタンスを生成する。
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{feeds: make(map[string]model.FeedStatus)}
}

// begin はフィードの処理開始を記録する。前回の結果は保持したまま処理中フラグを立てる。
func (s *StatusTracker) begin(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.feeds[feedID]
	st.IsProcessing = true
	s.feeds[feedID] = st
}

// finish はフィードの処理結果で状態を上書きする。
func (s *StatusTracker) finish(feedID string, itemsProcessed int, err error, at time.Time) {
	st := model.FeedStatus{
		LastProcessed:  &at,
		ItemsProcessed: itemsProcessed,
	}
	if err != nil {
		st.LastError = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[feedID] = st
}

// Snapshot は全フィードの状態のコピーを返す。
func (s *StatusTracker) Snapshot() map[string]model.FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.FeedStatus, len(s.feeds))
	for id, st := range s.feeds {
		out[id] = st
	}
	return out
}
