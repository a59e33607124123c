package model

import "time"

// ProcessingHistory はフィード処理1回分の追記専用の記録。
type ProcessingHistory struct {
	ID                string
	FeedID            string
	ArticlesProcessed int
	ArticlesAdded     int
	Success           bool
	ErrorMessage      string
	ProcessedAt       time.Time
}
