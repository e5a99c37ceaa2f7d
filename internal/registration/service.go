package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/hitoshi/davpush/internal/model"
	"github.com/hitoshi/davpush/internal/repository"
	"github.com/hitoshi/davpush/internal/transport"
)

// Outcome は登録オーケストレーションの構造化された結果。
// ハンドラーはこれをワイヤレベルのレスポンスに変換する。
type Outcome struct {
	Status          int
	SubscriptionID  string
	UnsubscribeLink string
	ExpiresAt       time.Time
	// Response はトランスポートの不透明なレスポンス要素。成功時のみ。
	Response *etree.Element
	// Errors が非空ならStatusはbad requestで、上のフィールドは無効。
	Errors []string
	// Created はcreate経路だったことを示す（メトリクス用）。
	Created bool
	// TransportType は処理対象のトランスポートタイプ。
	// レジストリに無いタイプは"unknown"に丸められ、パース失敗時は空。
	TransportType string
}

// Failed はこのOutcomeが失敗かを返す。
func (o *Outcome) Failed() bool {
	return len(o.Errors) > 0
}

// Service は購読登録・削除のオーケストレータ。
// トランスポートとSubscription Storeの協調、create/update判定、
// 有効期限ポリシーの適用を担う。
type Service struct {
	registry *transport.Registry
	subs     repository.SubscriptionRepository
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(registry *transport.Registry, subs repository.SubscriptionRepository, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		subs:     subs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
		now:      time.Now,
	}
}

// failure はエラーレスポンスのOutcomeを組み立てる。
func failure(errs ...string) *Outcome {
	return &Outcome{Status: http.StatusBadRequest, Errors: errs}
}

// Register は解析済みの登録ドキュメントを処理する。
// トランスポートが既存購読を報告すれば更新、そうでなければ作成を行う。
// いずれの失敗経路でも部分的な状態変化を残さない。
func (s *Service) Register(ctx context.Context, userID, collectionName string, children []*etree.Element) *Outcome {
	req, parseErrs := ParseRegister(children)
	if len(parseErrs) > 0 {
		return failure(parseErrs...)
	}

	out := s.registerParsed(ctx, userID, collectionName, req)
	// クライアントが指定した任意文字列をそのまま外に出すとメトリクスの
	// ラベル値が無制限に増えるため、登録済みタイプ以外は"unknown"に丸める。
	if _, ok := s.registry.Resolve(req.SubscriptionType); ok {
		out.TransportType = req.SubscriptionType
	} else {
		out.TransportType = "unknown"
	}
	return out
}

// registerParsed は解析済みリクエストに対してcreate/update判定と実行を行う。
func (s *Service) registerParsed(ctx context.Context, userID, collectionName string, req *ParsedRequest) *Outcome {
	expiresAt := ResolveExpiration(req.Expires, s.now())

	tr, ok := s.registry.Resolve(req.SubscriptionType)
	if !ok {
		return failure(fmt.Sprintf("%s transport does not exist", req.SubscriptionType))
	}

	if result := tr.ValidateOptions(req.Options); !result.Valid {
		if len(result.Errors) > 0 {
			return failure(result.Errors...)
		}
		return failure("options validation error")
	}

	existingID, err := tr.SubscriptionID(ctx, userID, collectionName, req.Options)
	if err != nil {
		s.logger.Error("subscription lookup failed",
			slog.String("transport", req.SubscriptionType),
			slog.String("error", err.Error()),
		)
		return failure("registration error")
	}

	if existingID == "" {
		return s.create(ctx, tr, userID, collectionName, req, expiresAt)
	}
	return s.update(ctx, tr, userID, collectionName, existingID, req, expiresAt)
}

// create は新規購読を作成する。購読行のINSERTとトランスポート登録を
// 1つのアトミックな単位として実行し、トランスポート失敗時は行ごと巻き戻す。
// 失敗の詳細はログにのみ残し、クライアントには汎用メッセージを返す。
func (s *Service) create(ctx context.Context, tr transport.Transport, userID, collectionName string, req *ParsedRequest, expiresAt time.Time) *Outcome {
	now := s.now()
	sub := &model.Subscription{
		ID:             uuid.NewString(),
		UserID:         userID,
		CollectionName: collectionName,
		TransportType:  req.SubscriptionType,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var result *transport.RegisterResult
	err := s.subs.CreateAtomic(ctx, sub, func(ctx context.Context) error {
		r, err := tr.Register(ctx, sub.ID, req.Options)
		if err != nil {
			return err
		}
		if !r.Success {
			return fmt.Errorf("transport registration failed: %s", strings.Join(r.Errors, "; "))
		}
		result = r
		return nil
	})
	if err != nil {
		// resultが埋まっている場合はトランスポート登録後にコミットが失敗している。
		// 購読行は巻き戻るため、孤立した配送状態を取り消す。
		if result != nil {
			if uerr := tr.Unregister(ctx, sub.ID); uerr != nil {
				s.logger.Warn("transport unregister after commit failure failed",
					slog.String("subscription_id", sub.ID),
					slog.String("error", uerr.Error()),
				)
			}
		}
		s.logger.Error("subscription registration failed",
			slog.String("transport", req.SubscriptionType),
			slog.String("collection", collectionName),
			slog.String("error", err.Error()),
		)
		return failure("registration error")
	}

	status := http.StatusCreated
	if result.ResponseStatus != 0 {
		status = result.ResponseStatus
	}

	link := result.UnsubscribeLink
	if link == "" {
		link = s.unsubscribeLink(sub.ID)
	}

	return &Outcome{
		Status:          status,
		SubscriptionID:  sub.ID,
		UnsubscribeLink: link,
		ExpiresAt:       expiresAt,
		Response:        result.Response,
		Created:         true,
	}
}

// update は既存購読を更新する。所有者スコープでの存在確認と
// コレクション一致検証を行い、トランスポート更新の成功後にのみ
// ストアの有効期限を書き換える。
// 更新成功はワイヤ契約上、作成と同一（created）として報告する。
func (s *Service) update(ctx context.Context, tr transport.Transport, userID, collectionName, subscriptionID string, req *ParsedRequest, expiresAt time.Time) *Outcome {
	existing, err := s.subs.FindByIDAndUser(ctx, subscriptionID, userID)
	if err != nil {
		s.logger.Error("subscription lookup failed",
			slog.String("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return failure("subscription update error")
	}
	if existing == nil {
		// 他ユーザー所有、またはトランスポート側の記憶が古い。存在は漏らさない。
		return failure("subscription update error")
	}
	if existing.CollectionName != collectionName {
		return failure("subscription update error")
	}

	result, err := tr.Update(ctx, subscriptionID, req.Options)
	if err != nil {
		s.logger.Error("transport update failed",
			slog.String("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return failure("subscription update error")
	}
	if !result.Success {
		if len(result.Errors) > 0 {
			return failure(result.Errors...)
		}
		return failure("subscription update error")
	}

	if err := s.subs.UpdateExpiration(ctx, subscriptionID, expiresAt); err != nil {
		s.logger.Error("expiration update failed",
			slog.String("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return failure("subscription update error")
	}

	return &Outcome{
		Status:          http.StatusCreated,
		SubscriptionID:  subscriptionID,
		UnsubscribeLink: s.unsubscribeLink(subscriptionID),
		ExpiresAt:       expiresAt,
		Response:        result.Response,
	}
}

// Unsubscribe は購読を削除し、削除した購読のトランスポートタイプを返す。
// 他ユーザー所有・存在しないIDは区別せず同一のnot-foundエラーにする。
// トランスポート側の解除はベストエフォートで、失敗してもストア削除は進める。
func (s *Service) Unsubscribe(ctx context.Context, userID, subscriptionID string) (string, error) {
	sub, err := s.subs.FindByIDAndUser(ctx, subscriptionID, userID)
	if err != nil {
		return "", fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return "", model.NewSubscriptionNotFoundError(subscriptionID)
	}

	if tr, ok := s.registry.Resolve(sub.TransportType); ok {
		if err := tr.Unregister(ctx, subscriptionID); err != nil {
			s.logger.Warn("transport unregister failed",
				slog.String("subscription_id", subscriptionID),
				slog.String("transport", sub.TransportType),
				slog.String("error", err.Error()),
			)
		}
	} else {
		s.logger.Warn("transport for stored subscription no longer registered",
			slog.String("subscription_id", subscriptionID),
			slog.String("transport", sub.TransportType),
		)
	}

	if err := s.subs.Delete(ctx, subscriptionID); err != nil {
		return "", fmt.Errorf("購読の削除に失敗しました: %w", err)
	}

	return sub.TransportType, nil
}

// ListSubscriptions はユーザーの購読一覧を返す。
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error) {
	subs, err := s.subs.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// unsubscribeLink は購読IDから正規の購読解除URLを合成する。
func (s *Service) unsubscribeLink(subscriptionID string) string {
	return s.baseURL + "/subscriptions/" + subscriptionID
}
