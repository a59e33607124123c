package rss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/thainews/internal/metrics"
	"github.com/hitoshi/thainews/internal/model"
)

const testFeedURL = "https://example.com/rss.xml"

// testEnv はProcessorとそのモック依存の組。
type testEnv struct {
	feeds    *mockFeedRepo
	articles *memArticleRepo
	history  *memHistoryRepo
	proc     *Processor
	logs     *bytes.Buffer
	calls    *atomic.Int32
}

// newTestEnv は handler が全リクエストに応答するProcessorを生成する。
func newTestEnv(t *testing.T, handler func(req *http.Request) *http.Response) *testEnv {
	t.Helper()

	var calls atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return handler(req), nil
	})}

	logs := &bytes.Buffer{}
	logger := newTestLogger(logs)
	fetcher := NewFetcher(client, DefaultRetryConfig(), logger, nil)
	fetcher.sleep = func(context.Context, time.Duration) error { return nil }

	env := &testEnv{
		feeds:    &mockFeedRepo{},
		articles: &memArticleRepo{},
		history:  &memHistoryRepo{},
		logs:     logs,
		calls:    &calls,
	}
	env.proc = NewProcessor(
		env.feeds, env.articles, env.history,
		fetcher,
		&stubResolver{url: "https://img.example.com/a.jpg"},
		metrics.NewCollector(prometheus.NewRegistry()),
		logger,
		10*1024*1024,
	)
	return env
}

func respond(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/rss+xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// rssItem は1件分の<item>要素を生成する。
func rssItem(title, link, description string, categories ...string) string {
	var b strings.Builder
	b.WriteString("<item>")
	if title != "" {
		fmt.Fprintf(&b, "<title>%s</title>", title)
	}
	if link != "" {
		fmt.Fprintf(&b, "<link>%s</link>", link)
	}
	fmt.Fprintf(&b, "<description><![CDATA[%s]]></description>", description)
	for _, c := range categories {
		fmt.Fprintf(&b, "<category>%s</category>", c)
	}
	b.WriteString("</item>")
	return b.String()
}

// rssDoc はチャンネルに記事を並べたRSS文書を生成する。
func rssDoc(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Thai News Test Feed</title>
<link>https://example.com</link>
<description>Feed used by the ingestion pipeline tests</description>
` + strings.Join(items, "\n") + `
</channel></rss>`
}

func testFeed() *model.Feed {
	return &model.Feed{ID: "feed-1", URL: testFeedURL, Title: "Example", Category: "ข่าวท้องถิ่น", IsActive: true}
}

func threeItemFeed() string {
	return rssDoc(
		rssItem("Government announces new budget plan", "https://example.com/news/1",
			"<p>The cabinet approved the budget today. Spending on schools will rise sharply. More details follow.</p>", "Politics"),
		rssItem("Flood hits Chiang Mai province", "https://example.com/news/2",
			"<p>Heavy rain caused flooding.</p>"),
		rssItem("Football team wins regional cup", "https://example.com/news/3",
			"<p>The match ended two to one.</p>", "Sports"),
	)
}

func TestProcessFeed_SkipsExactLinkDuplicate(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, threeItemFeed())
	})
	env.articles.articles = []*model.Article{
		{ID: "a0", Title: "Unrelated earlier story", SourceURL: "https://example.com/news/2"},
	}

	res := env.proc.ProcessFeed(context.Background(), testFeed())

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Added != 2 || res.Duplicates != 1 {
		t.Errorf("added=%d duplicates=%d, want 2 and 1", res.Added, res.Duplicates)
	}

	hist := env.history.all()
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	h := hist[0]
	if h.ArticlesProcessed != 3 || h.ArticlesAdded != 2 || !h.Success || h.ErrorMessage != "" {
		t.Errorf("history = %+v, want processed=3 added=2 success=true", h)
	}
	if _, ok := env.feeds.processedAt("feed-1"); !ok {
		t.Error("last processed timestamp must be updated")
	}

	st := env.proc.Status().Snapshot()["feed-1"]
	if st.IsProcessing || st.ItemsProcessed != 3 || st.LastError != "" || st.LastProcessed == nil {
		t.Errorf("status = %+v", st)
	}
}

func TestProcessFeed_BuildsArticle(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, rssDoc(
			rssItem("ข่าวด่วน ไฟไหม้โรงงาน", "https://example.com/news/fire",
				"<p>Fire broke out at a factory this morning. Firefighters arrived quickly. No injuries were reported.</p>",
				"Sports"),
		))
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Added != 1 {
		t.Fatalf("added = %d, want 1 (err=%v)", res.Added, res.Err)
	}

	a := env.articles.articles[0]
	if a.ID == "" || a.FeedID != "feed-1" || a.SourceURL != "https://example.com/news/fire" {
		t.Errorf("unexpected identity fields: %+v", a)
	}
	if strings.ContainsAny(a.Content, "<>") {
		t.Errorf("content must be plain text: %q", a.Content)
	}
	if a.Summary == "" || len([]rune(a.Summary)) > 303 {
		t.Errorf("summary = %q", a.Summary)
	}
	if a.Category != "กีฬา" {
		t.Errorf("category = %q, want กีฬา", a.Category)
	}
	if !a.IsBreaking {
		t.Error("title with ด่วน must be breaking")
	}
	if a.ImageURL != "https://img.example.com/a.jpg" {
		t.Errorf("image = %q", a.ImageURL)
	}
}

func TestProcessFeed_AllAttemptsFail(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusServiceUnavailable, "unavailable")
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())

	if res.Added != 0 || res.Err == nil {
		t.Fatalf("result = %+v, want 0 added and an error", res)
	}
	if env.calls.Load() != 3 {
		t.Errorf("fetch attempts = %d, want 3", env.calls.Load())
	}

	hist := env.history.all()
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Success || hist[0].ErrorMessage == "" || hist[0].ArticlesAdded != 0 {
		t.Errorf("history = %+v, want success=false with message", hist[0])
	}
	if _, ok := env.feeds.processedAt("feed-1"); !ok {
		t.Error("last processed timestamp must be updated even on failure")
	}
	if st := env.proc.Status().Snapshot()["feed-1"]; st.LastError == "" {
		t.Error("status must carry the last error")
	}
}

func TestProcessFeed_NonOKStatus(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusNotFound, "not found")
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err == nil || !strings.Contains(res.Err.Error(), "404") {
		t.Errorf("err = %v, want status 404 error", res.Err)
	}
	if env.calls.Load() != 1 {
		t.Errorf("4xx must not be retried, calls = %d", env.calls.Load())
	}
}

func TestProcessFeed_SkipsItemsWithoutTitleOrLink(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, rssDoc(
			rssItem("", "https://example.com/news/no-title", "body"),
			rssItem("Title without link", "", "body"),
		))
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Skipped != 2 || env.articles.count() != 0 {
		t.Errorf("skipped=%d stored=%d, want 2 and 0", res.Skipped, env.articles.count())
	}
	if h := env.history.all()[0]; h.ArticlesProcessed != 2 || h.ArticlesAdded != 0 || !h.Success {
		t.Errorf("history = %+v", h)
	}
}

func TestProcessFeed_IdempotentRerun(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, threeItemFeed())
	})

	first := env.proc.ProcessFeed(context.Background(), testFeed())
	second := env.proc.ProcessFeed(context.Background(), testFeed())

	if first.Added != 3 {
		t.Errorf("first run added = %d, want 3", first.Added)
	}
	if second.Added != 0 || second.Duplicates != 3 {
		t.Errorf("second run added=%d duplicates=%d, want 0 and 3", second.Added, second.Duplicates)
	}
	if env.articles.count() != 3 {
		t.Errorf("stored = %d, want 3", env.articles.count())
	}
	if len(env.history.all()) != 2 {
		t.Errorf("each run must append exactly one history entry")
	}
}

func TestProcessFeed_SimilarTitleWithinRun(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, rssDoc(
			rssItem("Flood waters rise across northern provinces", "https://a.example.com/1", "x"),
			rssItem("Flood waters rise across northern province", "https://b.example.com/2", "x"),
		))
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Added != 1 || res.Duplicates != 1 {
		t.Errorf("added=%d duplicates=%d, want 1 and 1", res.Added, res.Duplicates)
	}
}

func TestProcessFeed_NoItems(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, rssDoc())
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err != nil || res.ItemsSeen != 0 {
		t.Fatalf("result = %+v", res)
	}
	h := env.history.all()[0]
	if !h.Success || h.ErrorMessage != noItemsNote || h.ArticlesProcessed != 0 {
		t.Errorf("history = %+v, want success with no-items note", h)
	}
	if _, ok := env.feeds.processedAt("feed-1"); !ok {
		t.Error("last processed timestamp must be updated")
	}
}

func TestProcessFeed_ShortBodyRejected(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, "<rss></rss>")
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err == nil || !strings.Contains(res.Err.Error(), "too short") {
		t.Errorf("err = %v, want too short", res.Err)
	}
	if h := env.history.all()[0]; h.Success {
		t.Error("history must record failure")
	}
}

func TestProcessFeed_ShortBodyCountsCharacters(t *testing.T) {
	// 40文字のタイ語は100バイトを超えるが、100文字には満たない。
	body := "  " + strings.Repeat("ข่าวด่วน", 5) + "\n\n"
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, body)
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err == nil {
		t.Fatal("expected error for short body, got nil")
	}
	if !strings.Contains(res.Err.Error(), "too short (40 characters)") {
		t.Errorf("err = %v, want too short (40 characters)", res.Err)
	}
}

func TestProcessFeed_JSONBodyLogsPreview(t *testing.T) {
	body := `{"status":"error","message":"` + strings.Repeat("ระบบปิดปรับปรุง ", 20) + `"}`
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, body)
	})

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err == nil || !strings.Contains(res.Err.Error(), "JSON") {
		t.Errorf("err = %v, want JSON failure", res.Err)
	}
	if !strings.Contains(env.logs.String(), `"preview":"{\"status\":\"error\"`) {
		t.Errorf("expected JSON preview in logs: %s", env.logs.String())
	}
}

func TestProcessFeed_ItemFailureDoesNotAbortFeed(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, threeItemFeed())
	})
	env.articles.insertFunc = func(a *model.Article) error {
		if a.SourceURL == "https://example.com/news/2" {
			return errors.New("connection lost")
		}
		return nil
	}

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Err != nil {
		t.Fatalf("item errors must not fail the feed: %v", res.Err)
	}
	if res.Added != 2 || res.Failed != 1 {
		t.Errorf("added=%d failed=%d, want 2 and 1", res.Added, res.Failed)
	}
	if h := env.history.all()[0]; !h.Success || h.ArticlesAdded != 2 {
		t.Errorf("history = %+v", h)
	}
}

func TestProcessFeed_UniqueViolationCountsAsDuplicate(t *testing.T) {
	env := newTestEnv(t, func(req *http.Request) *http.Response {
		return respond(req, http.StatusOK, threeItemFeed())
	})
	env.articles.insertFunc = func(a *model.Article) error {
		if a.SourceURL == "https://example.com/news/3" {
			return fmt.Errorf("source_url %s: %w", a.SourceURL, model.ErrDuplicateArticle)
		}
		return nil
	}

	res := env.proc.ProcessFeed(context.Background(), testFeed())
	if res.Added != 2 || res.Duplicates != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 added and 1 duplicate", res)
	}
}

func TestIsBreaking(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"ข่าวด่วน! รถไฟตกราง", true},
		{"BREAKING: Earthquake in the north", true},
		{"Urgent update on border", true},
		{"ตำรวจจับกุมผู้ต้องหา", true},
		{"น้ำท่วมหนักที่เชียงใหม่", true},
		{"ราคาทองวันนี้", false},
		{"Weekly market summary", false},
	}
	for _, tt := range tests {
		if got := IsBreaking(tt.title); got != tt.want {
			t.Errorf("IsBreaking(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}
