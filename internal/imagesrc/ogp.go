package imagesrc

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ogImageKeys はOGP画像として参照するmetaタグのキー（優先順）。
var ogImageKeys = []string{
	"og:image",
	"og:image:url",
	"og:image:secure_url",
	"twitter:image",
	"twitter:image:src",
}

// ExtractOGImage はHTMLのheadからog:image（なければtwitter:image）のURLを抽出する。
// 相対URLはbaseURLを基準に絶対URLに解決される。見つからない場合は空文字を返す。
func ExtractOGImage(htmlBody []byte, baseURL string) string {
	found := make(map[string]string)

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
loop:
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				break loop
			}
			if tagName != "meta" || !hasAttr {
				continue
			}

			var key, content string
			for {
				attrKey, attrVal, more := tokenizer.TagAttr()
				switch strings.ToLower(string(attrKey)) {
				case "property", "name":
					key = strings.ToLower(strings.TrimSpace(string(attrVal)))
				case "content":
					content = strings.TrimSpace(string(attrVal))
				}
				if !more {
					break
				}
			}

			if key == "" || content == "" {
				continue
			}
			if _, ok := found[key]; !ok {
				found[key] = content
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				break loop
			}
		}
	}

	for _, k := range ogImageKeys {
		if v, ok := found[k]; ok {
			if resolved := resolveURL(v, baseURL); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}

// resolveURL は相対URLをbaseURL基準の絶対URLに変換する。http(s)以外は空文字を返す。
func resolveURL(ref, baseURL string) string {
	if u := normalizeURL(ref); u != "" {
		return u
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return normalizeURL(base.ResolveReference(r).String())
}
