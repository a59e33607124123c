// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/thainews/internal/model"
)

// FeedRepository はRSSフィード設定の永続化インターフェース。
// フィードの作成・編集は管理画面側が行うため、ここでは参照と処理時刻の更新のみを扱う。
type FeedRepository interface {
	// ListActive は有効なフィードを作成日時順に返す。
	ListActive(ctx context.Context) ([]*model.Feed, error)

	// ListAll は全フィードを返す。
	ListAll(ctx context.Context) ([]*model.Feed, error)

	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// UpdateLastProcessed はフィードの最終処理日時を更新する。
	UpdateLastProcessed(ctx context.Context, id string, processedAt time.Time) error
}

// ArticleRepository はニュース記事の永続化インターフェース。
type ArticleRepository interface {
	// ListDedupCandidates は重複判定用に全記事のタイトルとsource_urlを返す。
	ListDedupCandidates(ctx context.Context) ([]model.DedupCandidate, error)

	// Insert は記事を挿入する。
	// source_urlの一意制約違反の場合は model.ErrDuplicateArticle を返す。
	Insert(ctx context.Context, article *model.Article) error
}

// HistoryRepository はRSS処理履歴の追記専用ストア。
type HistoryRepository interface {
	// Append は処理履歴を1件追記する。
	Append(ctx context.Context, entry *model.ProcessingHistory) error

	// ListRecent は新しい順に最大limit件の履歴を返す。
	ListRecent(ctx context.Context, limit int) ([]*model.ProcessingHistory, error)

	// ListByFeed は指定フィードの履歴を新しい順に最大limit件返す。
	ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error)

	// DeleteOlderThan はcutoffより古い履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
