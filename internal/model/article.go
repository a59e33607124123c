package model

import "time"

// Article は永続化されるニュース記事を表す。
// SourceURLが設定されている場合、同一SourceURLの記事は1件のみ存在する。
type Article struct {
	ID         string
	Title      string
	Summary    string
	Content    string // プレーンテキスト
	Category   string
	ImageURL   string
	SourceURL  string
	FeedID     string
	IsBreaking bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DedupCandidate は重複判定に必要な既存記事の最小情報。
type DedupCandidate struct {
	Title     string
	SourceURL string
}

// RawItem はフィードのパース直後に正規化された記事候補を表す。
// 1回の処理中にのみ存在し、永続化されない。
type RawItem struct {
	GUID           string
	Title          string
	Link           string
	PublishedAt    *time.Time
	Content        string // description/summary
	ContentEncoded string // content:encoded
	Categories     []string
	EnclosureURL   string
	MediaURLs      []string // media:content, media:thumbnail の順
}
