// Package imagesrc はフィード記事の代表画像URLを決定する。
package imagesrc

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/thainews/internal/model"
)

// maxExtraCandidates はエンクロージャ以外から収集する候補の上限。
const maxExtraCandidates = 5

// Candidates は記事から画像URL候補を優先順に収集する。
// エンクロージャを先頭に置き、続いてメディア要素とHTML中の<img>から最大5件を加える。
// プロトコル相対URLはhttpsに正規化し、重複は除去する。
func Candidates(item model.RawItem) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(raw string) bool {
		u := normalizeURL(raw)
		if u == "" {
			return false
		}
		if _, ok := seen[u]; ok {
			return false
		}
		seen[u] = struct{}{}
		out = append(out, u)
		return true
	}

	add(item.EnclosureURL)

	extras := make([]string, 0, len(item.MediaURLs))
	extras = append(extras, item.MediaURLs...)
	extras = append(extras, htmlImageURLs(item.ContentEncoded+item.Content)...)

	extra := 0
	for _, raw := range extras {
		if extra >= maxExtraCandidates {
			break
		}
		if add(raw) {
			extra++
		}
	}
	return out
}

// normalizeURL は候補URLを正規化する。http(s)以外は空文字を返す。
func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	return u
}

// htmlImageURLs はHTML断片の<img>要素から画像URLを文書順に抽出する。
// src が無い場合は遅延読み込み用の属性、最後にsrcsetの先頭URLを参照する。
func htmlImageURLs(fragment string) []string {
	if !strings.Contains(fragment, "<img") && !strings.Contains(fragment, "<IMG") {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil
	}

	var urls []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := s.Attr(attr); ok && normalizeURL(v) != "" {
				urls = append(urls, v)
				return
			}
		}
		if v, ok := s.Attr("srcset"); ok {
			if first := firstSrcsetURL(v); first != "" {
				urls = append(urls, first)
			}
		}
	})
	return urls
}

// firstSrcsetURL はsrcset属性値の先頭エントリのURLを返す。
func firstSrcsetURL(srcset string) string {
	entry := strings.TrimSpace(strings.SplitN(srcset, ",", 2)[0])
	if entry == "" {
		return ""
	}
	return strings.Fields(entry)[0]
}
