// Package transport は通知トランスポートの共通契約を定義する。
// トランスポートは購読タイプごとの通知配送メカニズム（Web Push等）を抽象化する。
package transport

import (
	"context"

	"github.com/beevik/etree"
)

// ValidationResult はオプション検証の結果を表す。
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// RegisterResult はトランスポート側登録の結果を表す。
type RegisterResult struct {
	Success bool
	Errors  []string
	// ResponseStatus はトランスポートが指定するHTTPステータス。0の場合は呼び出し側の既定値。
	ResponseStatus int
	// Response はレスポンスボディに載せる不透明なXML要素。
	Response *etree.Element
	// UnsubscribeLink はトランスポートが提供する購読解除URL。空の場合は呼び出し側が合成する。
	UnsubscribeLink string
}

// UpdateResult はトランスポート側更新の結果を表す。
type UpdateResult struct {
	Success  bool
	Errors   []string
	Response *etree.Element
}

// Transport は購読タイプごとの通知配送メカニズムが実装する契約。
type Transport interface {
	// ValidateOptions は購読オプションを検証する。副作用を持たない。
	ValidateOptions(opts *etree.Element) ValidationResult

	// SubscriptionID は（ユーザー, コレクション, オプション）に対応する既存購読のIDを返す。
	// 存在しない場合は空文字列を返す。IDが返っても所有権は保証されないため、
	// 呼び出し側はSubscription Storeで所有者を検証すること。
	SubscriptionID(ctx context.Context, userID, collectionName string, opts *etree.Element) (string, error)

	// Register はトランスポート側の配送状態をsubscriptionIDをキーとして作成する。
	Register(ctx context.Context, subscriptionID string, opts *etree.Element) (*RegisterResult, error)

	// Update はトランスポート側の配送状態を更新する。
	Update(ctx context.Context, subscriptionID string, opts *etree.Element) (*UpdateResult, error)

	// Unregister はトランスポート側の配送状態を破棄する。
	// 失敗時の扱いは呼び出し側の責務（登録時はロールバック、削除時はベストエフォート）。
	Unregister(ctx context.Context, subscriptionID string) error
}
