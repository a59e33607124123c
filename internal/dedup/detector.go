// Package dedup は取り込み候補の記事が既存記事と重複しているかを判定する。
package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/hitoshi/thainews/internal/model"
)

// SimilarityThreshold を超えるタイトル類似度を持つ記事は重複とみなす。
const SimilarityThreshold = 0.85

// Similarity は2つの文字列の正規化レーベンシュタイン類似度を 0.0〜1.0 で返す。
// 比較は大文字小文字を区別しない。
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// IsDuplicate は候補記事が既存記事のいずれかと重複しているかを返す。
// ソースURLの完全一致を先に確認し、次にタイトル類似度で判定する。
func IsDuplicate(title, link string, existing []model.DedupCandidate) bool {
	if link != "" {
		for _, e := range existing {
			if e.SourceURL == link {
				return true
			}
		}
	}

	for _, e := range existing {
		if e.Title == "" {
			continue
		}
		if Similarity(title, e.Title) > SimilarityThreshold {
			return true
		}
	}
	return false
}
