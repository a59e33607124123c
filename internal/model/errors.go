package model

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedNotFound は指定IDのフィードが存在しないことを表す。
	ErrFeedNotFound = errors.New("feed not found")
	// ErrDuplicateArticle はsource_urlの一意制約により挿入が拒否されたことを表す。
	ErrDuplicateArticle = errors.New("duplicate article")
)

// APIError は管理APIの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFeedNotFound  = "FEED_NOT_FOUND"
	ErrCodeInvalidParam  = "INVALID_PARAMETER"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewFeedNotFoundError はフィード未検出エラーを生成する。
func NewFeedNotFoundError(feedID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", feedID),
		Category: "feed",
		Action:   "フィードIDを確認してください。",
	}
}

// NewInvalidParamError は不正なパラメータエラーを生成する。
func NewInvalidParamError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParam,
		Message:  fmt.Sprintf("パラメータ %s の値が不正です: %s", name, value),
		Category: "validation",
		Action:   "正の整数を指定してください。",
	}
}
