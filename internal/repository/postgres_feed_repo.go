package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/thainews/internal/model"
)

const feedColumns = `id, url, title, category, is_active, last_processed, created_at, updated_at`

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// ListActive は有効なフィードを作成日時順に返す。
func (r *PostgresFeedRepo) ListActive(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM rss_feeds WHERE is_active ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("有効なフィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// ListAll は全フィードを作成日時順に返す。
func (r *PostgresFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM rss_feeds ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM rss_feeds WHERE id = $1`,
		id,
	)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// UpdateLastProcessed はフィードの最終処理日時を更新する。
func (r *PostgresFeedRepo) UpdateLastProcessed(ctx context.Context, id string, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rss_feeds SET last_processed = $2, updated_at = now() WHERE id = $1`,
		id, processedAt,
	)
	if err != nil {
		return fmt.Errorf("最終処理日時の更新に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var lastProcessed sql.NullTime

	if err := row.Scan(
		&feed.ID, &feed.URL, &feed.Title, &feed.Category, &feed.IsActive,
		&lastProcessed, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.LastProcessed = nullTimePtr(lastProcessed)
	return feed, nil
}

func scanFeeds(rows *sql.Rows) ([]*model.Feed, error) {
	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィードの走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
