// Package handler は取り込みパイプラインの管理APIを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/thainews/internal/middleware"
	"github.com/hitoshi/thainews/internal/model"
	"github.com/hitoshi/thainews/internal/worker/rss"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RSSService は管理APIが必要とするオーケストレーターのインターフェース。
type RSSService interface {
	ProcessAllFeeds(ctx context.Context) (added int, started bool, err error)
	ProcessFeedByID(ctx context.Context, feedID string) (rss.FeedResult, error)
	StartAutoProcessing() bool
	StopAutoProcessing() bool
	Status() rss.Status
}

// HistoryLister は処理履歴の参照インターフェース。
type HistoryLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.ProcessingHistory, error)
	ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error)
}

// RSSHandler はRSS取り込みの手動トリガーと状態参照のHTTPハンドラー。
type RSSHandler struct {
	service RSSService
	history HistoryLister
	logger  *slog.Logger
}

// NewRSSHandler はRSSHandlerを生成する。
func NewRSSHandler(service RSSService, history HistoryLister, logger *slog.Logger) *RSSHandler {
	return &RSSHandler{service: service, history: history, logger: logger}
}

type processAllResponse struct {
	Started       bool `json:"started"`
	ArticlesAdded *int `json:"articles_added,omitempty"`
}

type feedResultResponse struct {
	FeedID        string `json:"feed_id"`
	Success       bool   `json:"success"`
	ItemsSeen     int    `json:"items_seen"`
	ArticlesAdded int    `json:"articles_added"`
	Duplicates    int    `json:"duplicates"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Error         string `json:"error,omitempty"`
}

type autoResponse struct {
	AutoProcessingEnabled bool `json:"auto_processing_enabled"`
	Changed               bool `json:"changed"`
}

type historyResponse struct {
	ID                string    `json:"id"`
	FeedID            string    `json:"rss_feed_id"`
	ArticlesProcessed int       `json:"articles_processed"`
	ArticlesAdded     int       `json:"articles_added"`
	Success           bool      `json:"success"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ProcessedAt       time.Time `json:"processed_at"`
}

// ProcessAll は有効な全フィードを同期的に処理する。
// 実行中の全フィード処理がある場合は何もせず202を返す。
// POST /api/rss/process
func (h *RSSHandler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	h.clearWriteDeadline(w)
	// クライアント切断で処理を途中終了させない
	ctx := context.WithoutCancel(r.Context())

	added, started, err := h.service.ProcessAllFeeds(ctx)
	if err != nil {
		h.writeInternalError(w, "全フィード処理に失敗しました", err)
		return
	}
	if !started {
		writeJSON(w, http.StatusAccepted, processAllResponse{Started: false})
		return
	}
	writeJSON(w, http.StatusOK, processAllResponse{Started: true, ArticlesAdded: &added})
}

// ProcessFeed は指定フィードを1件処理する。
// POST /api/rss/feeds/{id}/process
func (h *RSSHandler) ProcessFeed(w http.ResponseWriter, r *http.Request) {
	h.clearWriteDeadline(w)
	feedID := chi.URLParam(r, "id")
	ctx := context.WithoutCancel(r.Context())

	result, err := h.service.ProcessFeedByID(ctx, feedID)
	if errors.Is(err, model.ErrFeedNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewFeedNotFoundError(feedID))
		return
	}
	if err != nil {
		h.writeInternalError(w, "フィード処理に失敗しました", err)
		return
	}

	resp := feedResultResponse{
		FeedID:        result.FeedID,
		Success:       result.Err == nil,
		ItemsSeen:     result.ItemsSeen,
		ArticlesAdded: result.Added,
		Duplicates:    result.Duplicates,
		Skipped:       result.Skipped,
		Failed:        result.Failed,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// StartAuto は定期実行を開始する。
// POST /api/rss/auto/start
func (h *RSSHandler) StartAuto(w http.ResponseWriter, r *http.Request) {
	changed := h.service.StartAutoProcessing()
	writeJSON(w, http.StatusOK, autoResponse{AutoProcessingEnabled: true, Changed: changed})
}

// StopAuto は定期実行を停止する。
// POST /api/rss/auto/stop
func (h *RSSHandler) StopAuto(w http.ResponseWriter, r *http.Request) {
	changed := h.service.StopAutoProcessing()
	writeJSON(w, http.StatusOK, autoResponse{AutoProcessingEnabled: false, Changed: changed})
}

// GetStatus はパイプラインの状態スナップショットを返す。
// GET /api/rss/status
func (h *RSSHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// ListHistory は直近の処理履歴を返す。
// GET /api/rss/history?limit=
func (h *RSSHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	entries, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeInternalError(w, "処理履歴の取得に失敗しました", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponses(entries))
}

// ListFeedHistory は指定フィードの処理履歴を返す。
// GET /api/rss/feeds/{id}/history?limit=
func (h *RSSHandler) ListFeedHistory(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	entries, err := h.history.ListByFeed(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeInternalError(w, "処理履歴の取得に失敗しました", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponses(entries))
}

// clearWriteDeadline はサーバーの WriteTimeout をこのレスポンスに限り解除する。
// 同期処理の所要時間は記事数に比例し、上限を事前に決められないため。
func (h *RSSHandler) clearWriteDeadline(w http.ResponseWriter) {
	err := http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("書き込み期限の解除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

func (h *RSSHandler) writeInternalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// parseLimit はlimitクエリを解析する。未指定時はデフォルト値、上限を超える値は上限に丸める。
func parseLimit(r *http.Request) (int, *model.APIError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, model.NewInvalidParamError("limit", raw)
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func toHistoryResponses(entries []*model.ProcessingHistory) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:                e.ID,
			FeedID:            e.FeedID,
			ArticlesProcessed: e.ArticlesProcessed,
			ArticlesAdded:     e.ArticlesAdded,
			Success:           e.Success,
			ErrorMessage:      e.ErrorMessage,
			ProcessedAt:       e.ProcessedAt,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
