// Package rss はRSSフィードの取り込みパイプラインを提供する。
// リトライ付き取得、記事候補の正規化・重複排除・保存、処理履歴の記録、
// および全フィードの定期実行を含む。
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/thainews/internal/category"
	"github.com/hitoshi/thainews/internal/content"
	"github.com/hitoshi/thainews/internal/dedup"
	"github.com/hitoshi/thainews/internal/metrics"
	"github.com/hitoshi/thainews/internal/model"
	"github.com/hitoshi/thainews/internal/repository"
)

// minFeedBodyLength はフィード本文として受け付ける最小文字数。
const minFeedBodyLength = 100

// noItemsNote は記事が0件だった場合に履歴へ記録する注記。
const noItemsNote = "no items"

// breakingKeywords は速報と判定するタイトル中のキーワード。
var breakingKeywords = []string{
	"ด่วน", "เร่งด่วน", "ข่าวด่วน",
	"breaking", "urgent",
	"เสียชีวิต", "จับกุม", "อุบัติเหตุ", "ไฟไหม้", "น้ำท่วม", "แผ่นดินไหว", "ระเบิด",
}

// feedRequestHeader はフィード取得時のリクエストヘッダー。
var feedRequestHeader = http.Header{
	"User-Agent": {"Mozilla/5.0 (compatible; ThaiNewsBot/1.0; +RSS reader)"},
	"Accept":     {"application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"},
}

// ItemOutcome は記事候補1件の処理結果。
type ItemOutcome int

const (
	// OutcomeAdded は新規記事として保存された。
	OutcomeAdded ItemOutcome = iota
	// OutcomeSkipped はタイトルまたはリンクが無いため処理しなかった。
	OutcomeSkipped
	// OutcomeDuplicate は既存記事と重複していた。
	OutcomeDuplicate
	// OutcomeFailed は処理中にエラーが発生した。
	OutcomeFailed
)

// FeedResult はフィード1件の処理結果。
type FeedResult struct {
	FeedID     string
	ItemsSeen  int
	Added      int
	Duplicates int
	Skipped    int
	Failed     int
	Err        error
}

// FeedFetcher はリトライ付きフィード取得のインターフェース。
type FeedFetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*http.Response, error)
}

// ImageResolver は記事の代表画像を決定するインターフェース。
type ImageResolver interface {
	Resolve(ctx context.Context, item model.RawItem) string
}

// Processor はフィード1件の取得から記事保存・履歴記録までを行う。
type Processor struct {
	feedRepo    repository.FeedRepository
	articleRepo repository.ArticleRepository
	historyRepo repository.HistoryRepository
	fetcher     FeedFetcher
	images      ImageResolver
	metrics     metrics.MetricsCollector
	status      *StatusTracker
	logger      *slog.Logger
	maxBodySize int64
	now         func() time.Time
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(
	feedRepo repository.FeedRepository,
	articleRepo repository.ArticleRepository,
	historyRepo repository.HistoryRepository,
	fetcher FeedFetcher,
	images ImageResolver,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxBodySize int64,
) *Processor {
	return &Processor{
		feedRepo:    feedRepo,
		articleRepo: articleRepo,
		historyRepo: historyRepo,
		fetcher:     fetcher,
		images:      images,
		metrics:     collector,
		status:      NewStatusTracker(),
		logger:      logger,
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// Status はフィードごとの処理状態を返す。
func (p *Processor) Status() *StatusTracker {
	return p.status
}

// ProcessFeed はフィードを取得して新しい記事を保存し、処理履歴を1件記録する。
// 取得やパースに失敗した場合も履歴・最終処理日時・処理状態は必ず更新される。
func (p *Processor) ProcessFeed(ctx context.Context, feed *model.Feed) FeedResult {
	start := time.Now()
	p.status.begin(feed.ID)

	res := FeedResult{FeedID: feed.ID}

	items, err := p.fetchItems(ctx, feed)
	if err != nil {
		res.Err = err
		p.logger.Error("フィードの処理に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
			slog.String("error", err.Error()),
		)
	} else {
		res.ItemsSeen = len(items)
		for _, item := range items {
			switch p.processItem(ctx, feed, item) {
			case OutcomeAdded:
				res.Added++
			case OutcomeDuplicate:
				res.Duplicates++
			case OutcomeSkipped:
				res.Skipped++
			case OutcomeFailed:
				res.Failed++
			}
		}
	}

	p.record(ctx, feed, res, start)
	return res
}

// fetchItems はフィードを取得・パースして記事候補を返す。
func (p *Processor) fetchItems(ctx context.Context, feed *model.Feed) ([]model.RawItem, error) {
	resp, err := p.fetcher.Fetch(ctx, feed.URL, feedRequestHeader)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			p.metrics.RecordHTTPStatus(fe.StatusCode)
		}
		return nil, err
	}
	defer resp.Body.Close()

	p.metrics.RecordHTTPStatus(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(string(body))); n < minFeedBodyLength {
		return nil, fmt.Errorf("feed body too short (%d characters)", n)
	}

	items, err := ParseItems(body)
	if err != nil {
		if preview, ok := jsonPreview(body); ok {
			p.logger.Warn("フィードがJSONを返しました",
				slog.String("feed_id", feed.ID),
				slog.String("feed_url", feed.URL),
				slog.String("preview", preview),
			)
			return nil, fmt.Errorf("feed returned JSON instead of XML: %w", err)
		}
		return nil, err
	}
	return items, nil
}

// processItem は記事候補1件を処理する。エラーはここで記録され、呼び出し元には伝播しない。
func (p *Processor) processItem(ctx context.Context, feed *model.Feed, item model.RawItem) ItemOutcome {
	if item.Title == "" || item.Link == "" {
		return OutcomeSkipped
	}

	existing, err := p.articleRepo.ListDedupCandidates(ctx)
	if err != nil {
		p.itemFailed(feed, item, err)
		return OutcomeFailed
	}
	if dedup.IsDuplicate(item.Title, item.Link, existing) {
		p.metrics.RecordDuplicate()
		return OutcomeDuplicate
	}

	text := content.Clean(item.Content, item.ContentEncoded)
	now := p.now()
	article := &model.Article{
		ID:         uuid.New().String(),
		Title:      item.Title,
		Summary:    content.Summarize(text),
		Content:    text,
		Category:   category.Determine(feed.Category, item.Categories),
		ImageURL:   p.images.Resolve(ctx, item),
		SourceURL:  item.Link,
		FeedID:     feed.ID,
		IsBreaking: IsBreaking(item.Title),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := p.articleRepo.Insert(ctx, article); err != nil {
		if errors.Is(err, model.ErrDuplicateArticle) {
			p.metrics.RecordDuplicate()
			return OutcomeDuplicate
		}
		p.itemFailed(feed, item, err)
		return OutcomeFailed
	}

	p.logger.Info("記事を追加しました",
		slog.String("feed_id", feed.ID),
		slog.String("article_id", article.ID),
		slog.String("source_url", article.SourceURL),
		slog.Bool("is_breaking", article.IsBreaking),
	)
	return OutcomeAdded
}

func (p *Processor) itemFailed(feed *model.Feed, item model.RawItem, err error) {
	p.metrics.RecordItemFailed()
	p.logger.Warn("記事の処理に失敗しました",
		slog.String("feed_id", feed.ID),
		slog.String("item_link", item.Link),
		slog.String("error", err.Error()),
	)
}

// record は最終処理日時・処理履歴・処理状態・メトリクスを更新する。
// それぞれの更新失敗はログに記録し、他の更新は継続する。
// 呼び出し元のキャンセル後も記録は行う。
func (p *Processor) record(ctx context.Context, feed *model.Feed, res FeedResult, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	processedAt := p.now()

	if err := p.feedRepo.UpdateLastProcessed(ctx, feed.ID, processedAt); err != nil {
		p.logger.Error("最終処理日時の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}

	entry := &model.ProcessingHistory{
		ID:                uuid.New().String(),
		FeedID:            feed.ID,
		ArticlesProcessed: res.ItemsSeen,
		ArticlesAdded:     res.Added,
		Success:           res.Err == nil,
		ProcessedAt:       processedAt,
	}
	switch {
	case res.Err != nil:
		entry.ErrorMessage = res.Err.Error()
	case res.ItemsSeen == 0:
		entry.ErrorMessage = noItemsNote
	}
	if err := p.historyRepo.Append(ctx, entry); err != nil {
		p.logger.Error("処理履歴の記録に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}

	p.status.finish(feed.ID, res.ItemsSeen, res.Err, processedAt)

	result := metrics.ResultSuccess
	if res.Err != nil {
		result = metrics.ResultFailure
	}
	p.metrics.RecordFeedProcessed(result)
	p.metrics.RecordItemsSeen(res.ItemsSeen)
	p.metrics.RecordArticlesAdded(res.Added)
	duration := time.Since(start)
	p.metrics.RecordFeedLatency(duration)

	p.logger.Info("フィードの処理が完了しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
		slog.Int("items_seen", res.ItemsSeen),
		slog.Int("articles_added", res.Added),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Bool("success", res.Err == nil),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// IsBreaking はタイトルに速報キーワードが含まれるかを判定する。
func IsBreaking(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range breakingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
