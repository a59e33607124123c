// Package cleanup はRSS処理履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した rss_processing_history を日次で削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HistoryPruner は古い処理履歴を削除するインターフェース。
// repository.HistoryRepository が満たす。
type HistoryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した処理履歴の自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	history       HistoryPruner
	logger        *slog.Logger
	RetentionDays int // 処理履歴の保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(history HistoryPruner, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupJob{
		history:       history,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run はprocessed_atがRetentionDays日前より古い処理履歴を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("処理履歴クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("処理履歴クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("処理履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降interval毎にRunを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("処理履歴クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
