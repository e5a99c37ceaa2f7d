package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/davpush/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読登録リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByIDAndUser は指定IDの購読を所有ユーザーでスコープして取得する。
// 見つからない場合・所有者が異なる場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, collection_name, transport_type, expires_at, created_at, updated_at
		 FROM push_subscriptions WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&sub.ID, &sub.UserID, &sub.CollectionName, &sub.TransportType, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}

	return sub, nil
}

// ListByUserID はユーザーの購読一覧を返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, collection_name, transport_type, expires_at, created_at, updated_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.CollectionName, &sub.TransportType, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// CreateAtomic は購読行の作成とregisterコールバックを1つのトランザクションで実行する。
// INSERTはトランザクション内で行い、registerが成功した場合のみコミットする。
// registerの失敗時はロールバックし、購読行は他のリクエストから観測されない。
func (r *PostgresSubscriptionRepo) CreateAtomic(ctx context.Context, sub *model.Subscription, register func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, collection_name, transport_type, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, sub.CollectionName, sub.TransportType, sub.ExpiresAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	// トランスポート側の登録。失敗時はdeferのRollbackで購読行ごと巻き戻す。
	if err := register(ctx); err != nil {
		return fmt.Errorf("トランスポート登録に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// UpdateExpiration は購読の有効期限を更新する。
func (r *PostgresSubscriptionRepo) UpdateExpiration(ctx context.Context, id string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET expires_at = $2, updated_at = NOW() WHERE id = $1`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("有効期限の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("購読が見つかりません: %s", id)
	}
	return nil
}

// Delete は指定IDの購読を削除する。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("購読が見つかりません: %s", id)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
