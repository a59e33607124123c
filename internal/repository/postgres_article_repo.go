package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/thainews/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用したニュース記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// ListDedupCandidates は全記事のタイトルとsource_urlを返す。
// 本文などの大きな列は読まない。
func (r *PostgresArticleRepo) ListDedupCandidates(ctx context.Context) ([]model.DedupCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT title, source_url FROM news`)
	if err != nil {
		return nil, fmt.Errorf("重複判定用の記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var candidates []model.DedupCandidate
	for rows.Next() {
		var c model.DedupCandidate
		var sourceURL sql.NullString
		if err := rows.Scan(&c.Title, &sourceURL); err != nil {
			return nil, fmt.Errorf("記事の読み取りに失敗しました: %w", err)
		}
		c.SourceURL = nullStringValue(sourceURL)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事の走査に失敗しました: %w", err)
	}
	return candidates, nil
}

// Insert は記事を挿入する。
// source_urlの一意インデックスに違反した場合は model.ErrDuplicateArticle を返す。
func (r *PostgresArticleRepo) Insert(ctx context.Context, a *model.Article) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO news (id, title, summary, content, category, image_url,
		                   source_url, rss_feed_id, is_breaking, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Title, a.Summary, a.Content, a.Category, nullString(a.ImageURL),
		nullString(a.SourceURL), nullString(a.FeedID), a.IsBreaking,
		a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("source_url %s: %w", a.SourceURL, model.ErrDuplicateArticle)
	}
	if err != nil {
		return fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
