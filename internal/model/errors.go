// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError はJSON APIサーフェスの統一エラーフォーマットを表す。
// DAVプロトコル側のエラーは文字列リストとしてXMLボディに載せるため、
// この型はJSONエンドポイント（購読管理API）専用。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subscription, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
)

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
// 他ユーザー所有の購読に対する操作も同じエラーになる（存在の漏洩を防ぐ）。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", subscriptionID),
		Category: "subscription",
		Action:   "購読IDを確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
