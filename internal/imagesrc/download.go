package imagesrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// maxImageSize は画像ダウンロードの最大サイズ（10MB）。
	maxImageSize = 10 * 1024 * 1024
	// maxPageSize は記事ページ取得時に読み込む最大サイズ（2MB）。
	maxPageSize = 2 * 1024 * 1024

	probeTimeout    = 5 * time.Second
	pageTimeout     = 10 * time.Second
	downloadTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (compatible; ThaiNewsBot/1.0)"
)

// probe は画像URLが取得可能かをHEADリクエストで確認する。
// HEADが拒否された場合は1バイトのRange GETで再確認する。
func (r *Resolver) probe(ctx context.Context, imageURL string) bool {
	if err := r.guard.ValidateURL(imageURL); err != nil {
		return false
	}
	client := r.guard.NewSafeClient(probeTimeout)

	ok, err := r.probeWith(ctx, client, http.MethodHead, imageURL)
	if err == nil && ok {
		return true
	}

	ok, err = r.probeWith(ctx, client, http.MethodGet, imageURL)
	return err == nil && ok
}

func (r *Resolver) probeWith(ctx context.Context, client *http.Client, method, imageURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, imageURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}
	mimeType := extractMimeType(resp.Header.Get("Content-Type"))
	return mimeType == "" || isImageMime(mimeType), nil
}

// fetchPage は記事ページのHTMLを取得する。
func (r *Resolver) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	if err := r.guard.ValidateURL(pageURL); err != nil {
		return nil, fmt.Errorf("ssrf validation: %w", err)
	}
	client := r.guard.NewSafeClient(pageTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
}

// download は画像をダウンロードし、データとMIMEタイプを返す。
// 画像以外のContent-Typeやサイズ超過はエラーとする。
func (r *Resolver) download(ctx context.Context, imageURL, referer string) ([]byte, string, error) {
	if err := r.guard.ValidateURL(imageURL); err != nil {
		return nil, "", fmt.Errorf("ssrf validation: %w", err)
	}
	client := r.guard.NewSafeClient(downloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxImageSize {
		return nil, "", fmt.Errorf("image too large: %d bytes", len(body))
	}

	mimeType := extractMimeType(resp.Header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = extractMimeType(http.DetectContentType(body))
	}
	if !isImageMime(mimeType) {
		return nil, "", fmt.Errorf("not an image: %s", mimeType)
	}
	return body, mimeType, nil
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// isImageMime はMIMEタイプが画像かどうかを判定する。
func isImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
