// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/davpush/internal/model"
)

// SubscriptionRepository は購読登録データの永続化インターフェース。
// 読み取り・更新・削除は常に所有ユーザーでスコープする。
// 他ユーザー所有の購読は存在しないものとして扱う（nilを返す）。
type SubscriptionRepository interface {
	// FindByIDAndUser は指定IDの購読を所有ユーザーでスコープして取得する。
	// 見つからない場合・所有者が異なる場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID string) (*model.Subscription, error)

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error)

	// CreateAtomic は購読行の作成とregisterコールバックを1つのトランザクションで実行する。
	// registerが失敗した場合は購読行をロールバックし、他のリクエストから
	// 観測可能な部分状態を残さない。
	CreateAtomic(ctx context.Context, sub *model.Subscription, register func(ctx context.Context) error) error

	// UpdateExpiration は購読の有効期限を更新する。
	UpdateExpiration(ctx context.Context, id string, expiresAt time.Time) error

	// Delete は指定IDの購読を削除する。
	Delete(ctx context.Context, id string) error
}

// PushResourceRepository はweb-pushトランスポートの配送先状態の永続化インターフェース。
type PushResourceRepository interface {
	// FindSubscriptionID は（ユーザー, コレクション, エンドポイント）に対応する
	// 既存購読のIDを返す。存在しない場合は空文字列を返す。
	FindSubscriptionID(ctx context.Context, userID, collectionName, endpoint string) (string, error)

	// Create は配送先状態を作成する。
	Create(ctx context.Context, res *model.PushResource) error

	// Update は配送先状態を更新する。
	Update(ctx context.Context, res *model.PushResource) error

	// DeleteBySubscriptionID は購読IDに対応する配送先状態を削除する。
	// 対応する行が存在しなくてもエラーにしない。
	DeleteBySubscriptionID(ctx context.Context, subscriptionID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
