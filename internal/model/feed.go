// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は管理画面から登録されたRSS/Atomフィードの設定を表す。
// パイプラインからは読み取り専用で、LastProcessedのみ処理後に更新される。
type Feed struct {
	ID            string
	URL           string
	Title         string
	Category      string
	IsActive      bool
	LastProcessed *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeedStatus はフィードごとのインメモリ処理状態を表す。
// プロセス再起動で失われる診断用の情報。
type FeedStatus struct {
	IsProcessing   bool       `json:"is_processing"`
	LastError      string     `json:"last_error,omitempty"`
	LastProcessed  *time.Time `json:"last_processed,omitempty"`
	ItemsProcessed int        `json:"items_processed"`
}
