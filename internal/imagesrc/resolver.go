package imagesrc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/thainews/internal/imageproc"
	"github.com/hitoshi/thainews/internal/model"
)

// Policy は画像候補の採用方針を表す。
type Policy string

const (
	// PolicyHotlink は先頭候補を検証せずにそのまま採用する。
	PolicyHotlink Policy = "hotlink"
	// PolicyVerify は候補の到達性を確認し、すべて失敗した場合はローカル保存にフォールバックする。
	PolicyVerify Policy = "verify"
)

// ParsePolicy は設定値からPolicyを返す。未知の値はPolicyHotlinkとする。
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyVerify {
		return PolicyVerify
	}
	return PolicyHotlink
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// ImageStore は画像の最適化・保存のインターフェース。
type ImageStore interface {
	OptimizeAndStore(data []byte, filename string, opts imageproc.Options) (string, error)
}

// Resolver は記事ごとの代表画像URLを決定する。
type Resolver struct {
	policy Policy
	guard  SSRFValidator
	store  ImageStore
}

// NewResolver はResolverの新しいインスタンスを生成する。
// store がnilの場合、ローカル保存へのフォールバックは行わない。
func NewResolver(policy Policy, guard SSRFValidator, store ImageStore) *Resolver {
	return &Resolver{
		policy: policy,
		guard:  guard,
		store:  store,
	}
}

// Resolve は記事の代表画像URLを返す。決定できない場合は空文字を返す。
//
// hotlinkでは候補があれば先頭をそのまま返し、無ければ記事ページのOGP画像を返す。
// verifyでは候補を順に到達確認し、全滅した場合はOGP画像を確認し、
// それも使えなければ画像をダウンロードしてローカルに保存したパスを返す。
func (r *Resolver) Resolve(ctx context.Context, item model.RawItem) string {
	candidates := Candidates(item)

	if r.policy != PolicyVerify {
		if len(candidates) > 0 {
			return candidates[0]
		}
		return r.scrapeOGImage(ctx, item.Link)
	}

	for _, c := range candidates {
		if r.probe(ctx, c) {
			return c
		}
	}

	scraped := r.scrapeOGImage(ctx, item.Link)
	if scraped != "" && r.probe(ctx, scraped) {
		return scraped
	}

	fallbacks := candidates
	if scraped != "" {
		fallbacks = append(fallbacks[:len(fallbacks):len(fallbacks)], scraped)
	}
	for _, u := range fallbacks {
		if local := r.storeLocally(ctx, u, item.Link); local != "" {
			return local
		}
	}
	return ""
}

// scrapeOGImage は記事ページを取得してOGP画像のURLを抽出する。
func (r *Resolver) scrapeOGImage(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		return ""
	}

	body, err := r.fetchPage(ctx, pageURL)
	if err != nil {
		slog.Warn("OGP画像取得: ページ取得失敗", "url", pageURL, "error", err)
		return ""
	}
	return ExtractOGImage(body, pageURL)
}

// storeLocally は画像をダウンロードして最適化・保存し、公開パスを返す。
func (r *Resolver) storeLocally(ctx context.Context, imageURL, referer string) string {
	if r.store == nil {
		return ""
	}

	data, mimeType, err := r.download(ctx, imageURL, referer)
	if err != nil {
		slog.Warn("画像ダウンロード失敗", "url", imageURL, "error", err)
		return ""
	}

	opts := imageproc.Options{Format: imageproc.FormatJPEG}
	if mimeType == "image/png" {
		opts.Format = imageproc.FormatPNG
	}

	local, err := r.store.OptimizeAndStore(data, fileKey(imageURL), opts)
	if err != nil {
		slog.Warn("画像最適化失敗", "url", imageURL, "error", err)
		return ""
	}

	slog.Info("画像をローカルに保存しました", "url", imageURL, "path", local)
	return local
}

// fileKey は画像URLから保存ファイル名（拡張子なし）を生成する。
func fileKey(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	return hex.EncodeToString(sum[:16])
}
