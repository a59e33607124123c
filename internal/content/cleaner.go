// Package content はフィード記事のHTMLからプレーンテキストと要約を生成する。
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// blockSelector はテキスト化の際に前後を空白で区切るブロック要素。
const blockSelector = "p, div, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr, td, th, figcaption"

// entityReplacer はHTMLパース後にも残りがちな実体参照を展開する。
// 二重エスケープされたフィードや、フォールバック経路のエスケープ済み出力に対応する。
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#039;", "'",
	"&apos;", "'",
	"&lsquo;", "‘",
	"&rsquo;", "’",
	"&ldquo;", "“",
	"&rdquo;", "”",
	"&#8216;", "‘",
	"&#8217;", "’",
	"&#8220;", "“",
	"&#8221;", "”",
	"&hellip;", "…",
	"&#8230;", "…",
)

// cdataReplacer はCDATAセクションの囲みを外し、中身をHTMLとして解析させる。
// HTML5パーサはCDATAを不正なコメントとして扱い、"]]>" の漏れや後続テキストの欠落を招く。
var cdataReplacer = strings.NewReplacer("<![CDATA[", "", "]]>", "")

// strictPolicy は全タグを除去するbluemondayポリシー。
// goqueryでの解析に失敗した場合のフォールバックに使用する。
var strictPolicy = bluemonday.StrictPolicy()

// Clean はフィード記事の本文をプレーンテキストに変換する。
// content:encoded が存在する場合はそちらを優先する。
func Clean(content, contentEncoded string) string {
	raw := content
	if strings.TrimSpace(contentEncoded) != "" {
		raw = contentEncoded
	}
	raw = cdataReplacer.Replace(raw)
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text, err := htmlToText(raw)
	if err != nil {
		text = stripTags(raw)
	}

	return normalizeWS(entityReplacer.Replace(text))
}

// htmlToText はHTMLをパースしてレンダリング後のテキストを取り出す。
// script/style の中身は捨て、ブロック要素の境界には空白を入れる。
func htmlToText(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find(blockSelector).AppendHtml(" ")

	return doc.Text(), nil
}

// stripTags はbluemondayで全タグを除去する。
// 出力はエスケープ済みなので、呼び出し側で実体参照を展開すること。
func stripTags(raw string) string {
	return strictPolicy.Sanitize(raw)
}

// normalizeWS は改行・タブ・連続空白（NBSPを含む）を単一スペースにまとめる。
func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
