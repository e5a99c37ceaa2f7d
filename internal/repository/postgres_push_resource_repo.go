package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/davpush/internal/model"
)

// PostgresPushResourceRepo はPostgreSQLを使用した配送先状態リポジトリ。
type PostgresPushResourceRepo struct {
	db *sql.DB
}

// NewPostgresPushResourceRepo はPostgresPushResourceRepoを生成する。
func NewPostgresPushResourceRepo(db *sql.DB) *PostgresPushResourceRepo {
	return &PostgresPushResourceRepo{db: db}
}

// FindSubscriptionID は（ユーザー, コレクション, エンドポイント）に対応する
// 既存購読のIDを返す。存在しない場合は空文字列を返す。
// push_resourcesにはユーザー・コレクションを持たせないため、
// push_subscriptionsとJOINしてスコープする。
func (r *PostgresPushResourceRepo) FindSubscriptionID(ctx context.Context, userID, collectionName, endpoint string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT pr.subscription_id
		 FROM push_resources pr
		 JOIN push_subscriptions s ON s.id = pr.subscription_id
		 WHERE s.user_id = $1 AND s.collection_name = $2 AND pr.endpoint = $3`,
		userID, collectionName, endpoint,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("配送先状態の検索に失敗しました: %w", err)
	}

	return id, nil
}

// Create は配送先状態を作成する。
func (r *PostgresPushResourceRepo) Create(ctx context.Context, res *model.PushResource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO push_resources (subscription_id, endpoint, p256dh_key, auth_secret, content_encoding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.SubscriptionID, res.Endpoint, res.P256DHKey, res.AuthSecret, res.ContentEncoding, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("配送先状態の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は配送先状態を更新する。鍵素材の更新にも対応する。
func (r *PostgresPushResourceRepo) Update(ctx context.Context, res *model.PushResource) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE push_resources
		 SET endpoint = $2, p256dh_key = $3, auth_secret = $4, content_encoding = $5, updated_at = NOW()
		 WHERE subscription_id = $1`,
		res.SubscriptionID, res.Endpoint, res.P256DHKey, res.AuthSecret, res.ContentEncoding,
	)
	if err != nil {
		return fmt.Errorf("配送先状態の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("配送先状態が見つかりません: %s", res.SubscriptionID)
	}
	return nil
}

// DeleteBySubscriptionID は購読IDに対応する配送先状態を削除する。
// 対応する行が存在しなくてもエラーにしない（購読削除のベストエフォート経路で使う）。
func (r *PostgresPushResourceRepo) DeleteBySubscriptionID(ctx context.Context, subscriptionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_resources WHERE subscription_id = $1`,
		subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("配送先状態の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PushResourceRepository = (*PostgresPushResourceRepo)(nil)
