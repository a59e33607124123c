package rss

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/hitoshi/thainews/internal/model"
)

// jsonPreviewLength はJSON応答をログに出力する際の最大文字数。
const jsonPreviewLength = 200

// errNotJSONFeed はJSON本文がJSON Feed形式でないことを表す。
var errNotJSONFeed = errors.New("body is JSON but not a JSON Feed")

// ParseItems はフィード本文（RSS/Atom/JSON Feed）をパースし、記事候補をフィード内の順序で返す。
func ParseItems(body []byte) ([]model.RawItem, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	// 任意のJSONオブジェクトも0件のJSON Feedとして読めてしまうため、versionで判別する
	if parsed.FeedType == "json" && !strings.Contains(parsed.FeedVersion, "jsonfeed.org") {
		return nil, fmt.Errorf("parse feed: %w", errNotJSONFeed)
	}
	return convertItems(parsed.Items), nil
}

// convertItems はgofeedの記事をmodel.RawItemに変換する。
func convertItems(items []*gofeed.Item) []model.RawItem {
	out := make([]model.RawItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		raw := model.RawItem{
			GUID:           strings.TrimSpace(item.GUID),
			Title:          strings.TrimSpace(item.Title),
			Link:           strings.TrimSpace(item.Link),
			Content:        item.Description,
			ContentEncoded: item.Content,
			Categories:     item.Categories,
			EnclosureURL:   imageEnclosure(item.Enclosures),
			MediaURLs:      mediaURLs(item),
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			raw.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if raw.Link == "" && isHTTPURL(raw.GUID) {
			raw.Link = raw.GUID
		}

		out = append(out, raw)
	}
	return out
}

// imageEnclosure は画像として扱えるエンクロージャの先頭URLを返す。
func imageEnclosure(enclosures []*gofeed.Enclosure) string {
	for _, enc := range enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		t := strings.ToLower(enc.Type)
		if t == "" || strings.HasPrefix(t, "image/") {
			return enc.URL
		}
	}
	return ""
}

// mediaURLs はmedia:content、media:thumbnail（media:group内を含む）と
// itemの画像要素から画像URLを順に収集する。
func mediaURLs(item *gofeed.Item) []string {
	var urls []string

	if media, ok := item.Extensions["media"]; ok {
		urls = append(urls, mediaElementURLs(media["content"], true)...)
		urls = append(urls, mediaElementURLs(media["thumbnail"], false)...)
		for _, group := range media["group"] {
			urls = append(urls, mediaElementURLs(group.Children["content"], true)...)
			urls = append(urls, mediaElementURLs(group.Children["thumbnail"], false)...)
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		urls = append(urls, item.Image.URL)
	}
	return urls
}

// mediaElementURLs はメディア要素のurl属性を返す。
// checkType が true の場合、画像以外と明示された要素は除外する。
func mediaElementURLs(elems []ext.Extension, checkType bool) []string {
	var urls []string
	for _, e := range elems {
		u := strings.TrimSpace(e.Attrs["url"])
		if u == "" {
			continue
		}
		if checkType && !isImageMedia(e.Attrs["medium"], e.Attrs["type"]) {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

func isImageMedia(medium, mimeType string) bool {
	medium = strings.ToLower(medium)
	mimeType = strings.ToLower(mimeType)
	if medium != "" && medium != "image" {
		return false
	}
	return mimeType == "" || strings.HasPrefix(mimeType, "image/")
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// jsonPreview は本文がJSONの場合に先頭部分を返す。JSONでなければ空文字を返す。
func jsonPreview(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return "", false
	}

	preview := string(trimmed)
	if utf8.RuneCountInString(preview) > jsonPreviewLength {
		preview = string([]rune(preview)[:jsonPreviewLength])
	}
	return preview, true
}
