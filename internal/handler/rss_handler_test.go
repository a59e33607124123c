package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/thainews/internal/middleware"
	"github.com/hitoshi/thainews/internal/model"
	"github.com/hitoshi/thainews/internal/worker/rss"
)

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newHandler(svc *mockRSSService, hist *mockHistory) *RSSHandler {
	var buf bytes.Buffer
	return NewRSSHandler(svc, hist, newTestLogger(&buf))
}

func TestProcessAll_Started(t *testing.T) {
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) { return 7, true, nil },
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ProcessAll(w, httptest.NewRequest(http.MethodPost, "/api/rss/process", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["started"] != true {
		t.Errorf("started = %v, want true", body["started"])
	}
	if body["articles_added"] != float64(7) {
		t.Errorf("articles_added = %v, want 7", body["articles_added"])
	}
}

func TestProcessAll_ZeroAddedStillReported(t *testing.T) {
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) { return 0, true, nil },
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ProcessAll(w, httptest.NewRequest(http.MethodPost, "/api/rss/process", nil))

	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if v, ok := body["articles_added"]; !ok || v != float64(0) {
		t.Errorf("articles_added = %v (present=%v), want 0", v, ok)
	}
}

func TestProcessAll_AlreadyRunning_Returns202(t *testing.T) {
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) { return 0, false, nil },
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ProcessAll(w, httptest.NewRequest(http.MethodPost, "/api/rss/process", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["started"] != false {
		t.Errorf("started = %v, want false", body["started"])
	}
	if _, ok := body["articles_added"]; ok {
		t.Error("articles_added should be omitted when not started")
	}
}

func TestProcessAll_DetachedFromRequestCancel(t *testing.T) {
	var gotErr error
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) {
			gotErr = ctx.Err()
			return 0, true, nil
		},
	}
	h := newHandler(svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/rss/process", nil).WithContext(ctx)
	h.ProcessAll(httptest.NewRecorder(), req)

	if gotErr != nil {
		t.Errorf("processing context was canceled with the request: %v", gotErr)
	}
}

func TestProcessAll_Error_Returns500(t *testing.T) {
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) {
			return 0, true, errors.New("db down")
		},
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ProcessAll(w, httptest.NewRequest(http.MethodPost, "/api/rss/process", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestProcessFeed_Success(t *testing.T) {
	svc := &mockRSSService{
		processFeedFn: func(ctx context.Context, feedID string) (rss.FeedResult, error) {
			return rss.FeedResult{FeedID: feedID, ItemsSeen: 3, Added: 2, Duplicates: 1}, nil
		},
	}
	h := newHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/rss/feeds/feed-1/process", nil), "id", "feed-1")
	w := httptest.NewRecorder()
	h.ProcessFeed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body feedResultResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.FeedID != "feed-1" || body.ArticlesAdded != 2 || body.Duplicates != 1 || !body.Success {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestProcessFeed_FeedFailureReported(t *testing.T) {
	svc := &mockRSSService{
		processFeedFn: func(ctx context.Context, feedID string) (rss.FeedResult, error) {
			return rss.FeedResult{FeedID: feedID, Err: errors.New("unexpected HTTP status 404")}, nil
		},
	}
	h := newHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", "feed-1")
	w := httptest.NewRecorder()
	h.ProcessFeed(w, req)

	var body feedResultResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Success {
		t.Error("success should be false")
	}
	if body.Error != "unexpected HTTP status 404" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestProcessFeed_NotFound_Returns404(t *testing.T) {
	svc := &mockRSSService{
		processFeedFn: func(ctx context.Context, feedID string) (rss.FeedResult, error) {
			return rss.FeedResult{}, model.ErrFeedNotFound
		},
	}
	h := newHandler(svc, nil)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.ProcessFeed(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeFeedNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeFeedNotFound)
	}
}

func TestAutoStartStop(t *testing.T) {
	svc := &mockRSSService{
		startFn: func() bool { return true },
		stopFn:  func() bool { return false },
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.StartAuto(w, httptest.NewRequest(http.MethodPost, "/api/rss/auto/start", nil))
	var started autoResponse
	json.NewDecoder(w.Body).Decode(&started)
	if !started.AutoProcessingEnabled || !started.Changed {
		t.Errorf("start response = %+v", started)
	}

	w = httptest.NewRecorder()
	h.StopAuto(w, httptest.NewRequest(http.MethodPost, "/api/rss/auto/stop", nil))
	var stopped autoResponse
	json.NewDecoder(w.Body).Decode(&stopped)
	if stopped.AutoProcessingEnabled || stopped.Changed {
		t.Errorf("stop response = %+v", stopped)
	}
}

func TestGetStatus(t *testing.T) {
	svc := &mockRSSService{
		statusFn: func() rss.Status {
			return rss.Status{
				IsProcessing:          true,
				AutoProcessingEnabled: true,
				Feeds: map[string]model.FeedStatus{
					"feed-1": {ItemsProcessed: 4, LastError: "no items"},
				},
			}
		},
	}
	h := newHandler(svc, nil)

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/rss/status", nil))

	var body rss.Status
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !body.IsProcessing || !body.AutoProcessingEnabled {
		t.Errorf("flags = %+v", body)
	}
	if body.Feeds["feed-1"].ItemsProcessed != 4 {
		t.Errorf("feed-1 = %+v", body.Feeds["feed-1"])
	}
}

func TestListHistory(t *testing.T) {
	processedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var gotLimit int
	hist := &mockHistory{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.ProcessingHistory, error) {
			gotLimit = limit
			return []*model.ProcessingHistory{{
				ID: "h-1", FeedID: "feed-1", ArticlesProcessed: 3, ArticlesAdded: 2,
				Success: true, ProcessedAt: processedAt,
			}}, nil
		},
	}
	h := newHandler(nil, hist)

	tests := []struct {
		query     string
		wantLimit int
	}{
		{"", defaultHistoryLimit},
		{"?limit=10", 10},
		{"?limit=100000", maxHistoryLimit},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ListHistory(w, httptest.NewRequest(http.MethodGet, "/api/rss/history"+tt.query, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, w.Code)
		}
		if gotLimit != tt.wantLimit {
			t.Errorf("%q: limit = %d, want %d", tt.query, gotLimit, tt.wantLimit)
		}
		var body []historyResponse
		json.NewDecoder(w.Body).Decode(&body)
		if len(body) != 1 || body[0].FeedID != "feed-1" || !body[0].ProcessedAt.Equal(processedAt) {
			t.Errorf("%q: body = %+v", tt.query, body)
		}
	}
}

func TestListHistory_InvalidLimit_Returns400(t *testing.T) {
	h := newHandler(nil, &mockHistory{})

	for _, q := range []string{"abc", "0", "-5"} {
		w := httptest.NewRecorder()
		h.ListHistory(w, httptest.NewRequest(http.MethodGet, "/api/rss/history?limit="+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestListFeedHistory_EmptyIsArray(t *testing.T) {
	var gotFeed string
	hist := &mockHistory{
		listByFeedFn: func(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error) {
			gotFeed = feedID
			return nil, nil
		},
	}
	h := newHandler(nil, hist)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "feed-9")
	w := httptest.NewRecorder()
	h.ListFeedHistory(w, req)

	if gotFeed != "feed-9" {
		t.Errorf("feedID = %q, want feed-9", gotFeed)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestHealthHandler(t *testing.T) {
	var buf bytes.Buffer

	w := httptest.NewRecorder()
	NewHealthHandler(&mockChecker{}, newTestLogger(&buf))(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	NewHealthHandler(&mockChecker{err: errors.New("refused")}, newTestLogger(&buf))(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", w.Code)
	}
}

func TestProcessAll_OutlivesServerWriteTimeout(t *testing.T) {
	svc := &mockRSSService{
		processAllFn: func(ctx context.Context) (int, bool, error) {
			time.Sleep(300 * time.Millisecond)
			return 3, true, nil
		},
	}
	h := newHandler(svc, nil)
	var buf bytes.Buffer
	wrapped := middleware.NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(h.ProcessAll))

	srv := httptest.NewUnstartedServer(wrapped)
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/api/rss/process", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["articles_added"] != float64(3) {
		t.Errorf("articles_added = %v, want 3", body["articles_added"])
	}
}
