package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

// RetryConfig はフィード取得のリトライ設定。
type RetryConfig struct {
	// Attempts は最大試行回数。
	Attempts int
	// BaseTimeout は1回目の試行のタイムアウト。
	BaseTimeout time.Duration
	// TimeoutStep は試行ごとに加算されるタイムアウト。
	TimeoutStep time.Duration
	// BackoffBase は指数バックオフの初回待機時間。
	BackoffBase time.Duration
}

// DefaultRetryConfig はデフォルトのリトライ設定を返す（3回、20s/35s/50s、500ms起点）。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:    3,
		BaseTimeout: 20 * time.Second,
		TimeoutStep: 15 * time.Second,
		BackoffBase: 500 * time.Millisecond,
	}
}

// AttemptTimeout はattempt回目（1始まり）の試行のタイムアウトを返す。
func (c RetryConfig) AttemptTimeout(attempt int) time.Duration {
	return c.BaseTimeout + time.Duration(attempt-1)*c.TimeoutStep
}

// Backoff はattempt回目（1始まり）の試行が失敗した後の待機時間を返す。
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return c.BackoffBase << (attempt - 1)
}

// MaxTimeout は最終試行のタイムアウトを返す。
func (c RetryConfig) MaxTimeout() time.Duration {
	return c.AttemptTimeout(c.Attempts)
}

// FetchError はリトライ付き取得の最終的な失敗を表す。
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int // ステータスコードによる失敗の場合のみ設定される
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v (after %d attempt(s))", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// errServerStatus は5xxレスポンスを試行失敗として扱うための内部エラー。
var errServerStatus = errors.New("server error status")

// Fetcher はタイムアウトが試行ごとに伸びるリトライ付きHTTP取得を行う。
type Fetcher struct {
	client  *http.Client
	cfg     RetryConfig
	logger  *slog.Logger
	onRetry func()
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// onRetry はリトライのたびに呼ばれる（nil可）。
func NewFetcher(client *http.Client, cfg RetryConfig, logger *slog.Logger, onRetry func()) *Fetcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		onRetry: onRetry,
		sleep:   sleepContext,
	}
}

// Fetch はURLをGETし、成功したレスポンスを返す。
// 5xxレスポンスとタイムアウト・接続リセット・DNS解決失敗のみリトライし、
// それ以外のエラーは即座に返す。5xx以外のステータスのレスポンスはそのまま返す。
// 返されたレスポンスのBodyを閉じると、その試行のコンテキストも解放される。
func (f *Fetcher) Fetch(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	var lastErr error
	var lastStatus, used int

	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		used = attempt
		resp, err := f.attempt(ctx, url, header, attempt)
		if err == nil {
			return resp, nil
		}

		lastErr, lastStatus = err, 0
		if resp != nil {
			lastStatus = resp.StatusCode
		}

		f.logger.Warn("フィード取得の試行に失敗しました",
			slog.String("feed_url", url),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", f.cfg.Attempts),
			slog.String("error_code", errorCode(err, lastStatus)),
			slog.String("error", err.Error()),
		)

		if attempt == f.cfg.Attempts || !isRetryable(ctx, err) {
			break
		}

		if f.onRetry != nil {
			f.onRetry()
		}
		if sleepErr := f.sleep(ctx, f.cfg.Backoff(attempt)); sleepErr != nil {
			lastErr, lastStatus = sleepErr, 0
			break
		}
	}

	return nil, &FetchError{URL: url, Attempts: used, StatusCode: lastStatus, Err: lastErr}
}

// attempt は1回分のリクエストを実行する。
// 5xxの場合はBodyを閉じたレスポンスとerrServerStatusを返す。
func (f *Fetcher) attempt(ctx context.Context, url string, header http.Header, attempt int) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout(attempt))

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return resp, fmt.Errorf("%w: %d", errServerStatus, resp.StatusCode)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose はBodyのクローズ時に試行コンテキストを解放する。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// isRetryable は一時的な失敗かどうかを判定する。
// 呼び出し元のコンテキストが終了している場合はリトライしない。
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	if errors.Is(err, errServerStatus) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// errorCode はログ出力用のエラー分類を返す。
func errorCode(err error, status int) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case status != 0:
		return fmt.Sprintf("HTTP_%d", status)
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.As(err, &dnsErr):
		return "DNS"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// sleepContext はコンテキストのキャンセルを考慮して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
