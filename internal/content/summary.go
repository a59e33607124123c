package content

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// NoSummary は本文が空の場合の要約。
	NoSummary = "ไม่มีสรุปข่าว"

	shortTextRunes   = 50
	minSentenceRunes = 10
	maxSentences     = 3
	maxSummaryRunes  = 300
	ellipsis         = "..."
)

// sentenceBoundary は文の区切り（. ! ? 。）。
var sentenceBoundary = regexp.MustCompile(`[.!?。]+`)

// Summarize はプレーンテキストから先頭最大3文の要約を生成する。
// 50文字未満の本文はそのまま返す。要約は300文字を超えないよう切り詰める。
func Summarize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return NoSummary
	}
	if utf8.RuneCountInString(text) < shortTextRunes {
		return text
	}

	var sentences []string
	for _, part := range sentenceBoundary.Split(text, -1) {
		part = strings.TrimSpace(part)
		if utf8.RuneCountInString(part) < minSentenceRunes {
			continue
		}
		sentences = append(sentences, part)
		if len(sentences) == maxSentences {
			break
		}
	}

	// 10文字以上の文が無い場合は本文そのものを要約として扱う
	summary := strings.Join(sentences, ". ")
	if summary == "" {
		summary = text
	}

	if utf8.RuneCountInString(summary) > maxSummaryRunes {
		return truncateRunes(summary, maxSummaryRunes-len(ellipsis)) + ellipsis
	}
	if !strings.HasSuffix(summary, ".") {
		summary += ellipsis
	}
	return summary
}

// truncateRunes は文字列を先頭n文字（rune単位）に切り詰める。
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
