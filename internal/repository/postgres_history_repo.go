package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/thainews/internal/model"
)

const historyColumns = `id, rss_feed_id, articles_processed, articles_added, success, error_message, processed_at`

// PostgresHistoryRepo はPostgreSQLを使用したRSS処理履歴リポジトリ。
type PostgresHistoryRepo struct {
	db *sql.DB
}

// NewPostgresHistoryRepo はPostgresHistoryRepoを生成する。
func NewPostgresHistoryRepo(db *sql.DB) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db}
}

// Append は処理履歴を1件追記する。
func (r *PostgresHistoryRepo) Append(ctx context.Context, h *model.ProcessingHistory) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rss_processing_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.FeedID, h.ArticlesProcessed, h.ArticlesAdded, h.Success,
		nullString(h.ErrorMessage), h.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("処理履歴の追記に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の履歴を返す。
func (r *PostgresHistoryRepo) ListRecent(ctx context.Context, limit int) ([]*model.ProcessingHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM rss_processing_history
		 ORDER BY processed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("処理履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanHistories(rows)
}

// ListByFeed は指定フィードの履歴を新しい順に最大limit件返す。
func (r *PostgresHistoryRepo) ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.ProcessingHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM rss_processing_history
		 WHERE rss_feed_id = $1
		 ORDER BY processed_at DESC LIMIT $2`,
		feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード別処理履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanHistories(rows)
}

// DeleteOlderThan はcutoffより古い履歴を削除し、削除件数を返す。
func (r *PostgresHistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rss_processing_history WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("処理履歴の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func scanHistories(rows *sql.Rows) ([]*model.ProcessingHistory, error) {
	var entries []*model.ProcessingHistory
	for rows.Next() {
		h := &model.ProcessingHistory{}
		var errorMessage sql.NullString
		if err := rows.Scan(
			&h.ID, &h.FeedID, &h.ArticlesProcessed, &h.ArticlesAdded,
			&h.Success, &errorMessage, &h.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("処理履歴の読み取りに失敗しました: %w", err)
		}
		h.ErrorMessage = nullStringValue(errorMessage)
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("処理履歴の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ HistoryRepository = (*PostgresHistoryRepo)(nil)
