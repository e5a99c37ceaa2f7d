// Package webpush はWeb Push（RFC 8030）による通知トランスポートを実装する。
// 購読オプションのpush-resourceをSSRFガードで検証し、
// 配送先状態をpush_resourcesテーブルに永続化する。
package webpush

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"
	"github.com/beevik/etree"

	"github.com/hitoshi/davpush/internal/davxml"
	"github.com/hitoshi/davpush/internal/model"
	"github.com/hitoshi/davpush/internal/repository"
	"github.com/hitoshi/davpush/internal/transport"
)

// TransportType はこのトランスポートの購読タイプ識別子。
// 登録ドキュメントの web-push-subscription 要素に対応する。
const TransportType = "web-push"

// defaultContentEncoding はcontent-encoding未指定時の既定値。
const defaultContentEncoding = "aes128gcm"

// URLValidator はpush-resource URLの安全性検証のインターフェース。
// security.SSRFGuardServiceの部分集合として定義する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Config はWeb PushトランスポートのVAPID設定を保持する。
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// VAPIDSubject はプッシュサービスに提示する連絡先（mailto:またはURL）。
	VAPIDSubject string
}

// Transport はWeb Pushのtransport.Transport実装。
type Transport struct {
	resources repository.PushResourceRepository
	validator URLValidator
	client    *http.Client
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New はWeb Pushトランスポートを生成する。
// clientにはSSRFガード付きHTTPクライアントを渡すこと。
func New(resources repository.PushResourceRepository, validator URLValidator, client *http.Client, cfg Config, logger *slog.Logger) *Transport {
	return &Transport{
		resources: resources,
		validator: validator,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// options は購読オプション要素から取り出した配送先パラメータ。
type options struct {
	endpoint        string
	p256dhKey       string
	authSecret      string
	contentEncoding string
}

// parseOptions はweb-push-subscription要素から配送先パラメータを取り出す。
func parseOptions(opts *etree.Element) options {
	o := options{
		endpoint:        strings.TrimSpace(davxml.ChildText(opts, "push-resource")),
		p256dhKey:       strings.TrimSpace(davxml.ChildText(opts, "subscription-public-key")),
		authSecret:      strings.TrimSpace(davxml.ChildText(opts, "auth-secret")),
		contentEncoding: strings.TrimSpace(davxml.ChildText(opts, "content-encoding")),
	}
	if o.contentEncoding == "" {
		o.contentEncoding = defaultContentEncoding
	}
	return o
}

// ValidateOptions は購読オプションを検証する。副作用を持たない。
func (t *Transport) ValidateOptions(opts *etree.Element) transport.ValidationResult {
	var errs []string
	o := parseOptions(opts)

	if o.endpoint == "" {
		errs = append(errs, "missing push-resource element")
	} else if err := t.validator.ValidateURL(o.endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("invalid push resource: %v", err))
	}

	if o.p256dhKey == "" {
		errs = append(errs, "missing subscription-public-key element")
	} else if key, err := decodeKey(o.p256dhKey); err != nil || len(key) != 65 {
		// P-256の非圧縮公開鍵は65バイト固定
		errs = append(errs, "invalid subscription-public-key")
	}

	if o.authSecret == "" {
		errs = append(errs, "missing auth-secret element")
	} else if secret, err := decodeKey(o.authSecret); err != nil || len(secret) != 16 {
		errs = append(errs, "invalid auth-secret")
	}

	if o.contentEncoding != defaultContentEncoding {
		errs = append(errs, fmt.Sprintf("unsupported content-encoding: %s", o.contentEncoding))
	}

	return transport.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// SubscriptionID は（ユーザー, コレクション, エンドポイント）に対応する既存購読のIDを返す。
// 同じブラウザ購読からの再登録を更新として扱うための冪等性キー。
func (t *Transport) SubscriptionID(ctx context.Context, userID, collectionName string, opts *etree.Element) (string, error) {
	o := parseOptions(opts)
	if o.endpoint == "" {
		return "", nil
	}
	return t.resources.FindSubscriptionID(ctx, userID, collectionName, o.endpoint)
}

// Register は配送先状態を作成する。
// プッシュサービスへVAPID認証付きの空のプライミング通知を送り、
// エンドポイントが配送を受け付けることを登録時点で確認する。
// プライミング送信の失敗は登録全体の失敗として呼び出し側にロールバックさせる。
func (t *Transport) Register(ctx context.Context, subscriptionID string, opts *etree.Element) (*transport.RegisterResult, error) {
	o := parseOptions(opts)

	if err := t.prime(ctx, o); err != nil {
		return nil, fmt.Errorf("push resource rejected priming notification: %w", err)
	}

	now := t.now()
	res := &model.PushResource{
		SubscriptionID:  subscriptionID,
		Endpoint:        o.endpoint,
		P256DHKey:       o.p256dhKey,
		AuthSecret:      o.authSecret,
		ContentEncoding: o.contentEncoding,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.resources.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("配送先状態の作成に失敗しました: %w", err)
	}

	return &transport.RegisterResult{
		Success:  true,
		Response: t.responsePayload(),
	}, nil
}

// Update は配送先状態を更新する。鍵素材やエンドポイントの変更を反映する。
func (t *Transport) Update(ctx context.Context, subscriptionID string, opts *etree.Element) (*transport.UpdateResult, error) {
	o := parseOptions(opts)

	now := t.now()
	res := &model.PushResource{
		SubscriptionID:  subscriptionID,
		Endpoint:        o.endpoint,
		P256DHKey:       o.p256dhKey,
		AuthSecret:      o.authSecret,
		ContentEncoding: o.contentEncoding,
		UpdatedAt:       now,
	}
	if err := t.resources.Update(ctx, res); err != nil {
		return nil, fmt.Errorf("配送先状態の更新に失敗しました: %w", err)
	}

	return &transport.UpdateResult{
		Success:  true,
		Response: t.responsePayload(),
	}, nil
}

// Unregister は配送先状態を破棄する。
func (t *Transport) Unregister(ctx context.Context, subscriptionID string) error {
	return t.resources.DeleteBySubscriptionID(ctx, subscriptionID)
}

// prime はプッシュサービスへ空のプライミング通知を送る。
// 2xx以外のステータスはエンドポイントが無効（404/410等）とみなして失敗にする。
func (t *Transport) prime(ctx context.Context, o options) error {
	sub := &wp.Subscription{
		Endpoint: o.endpoint,
		Keys: wp.Keys{
			P256dh: o.p256dhKey,
			Auth:   o.authSecret,
		},
	}

	resp, err := wp.SendNotificationWithContext(ctx, nil, sub, &wp.Options{
		HTTPClient:      t.client,
		Subscriber:      t.cfg.VAPIDSubject,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             30,
		Urgency:         wp.UrgencyVeryLow,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Warn("priming notification rejected",
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}

	return nil
}

// responsePayload は登録・更新レスポンスに載せるXML要素を生成する。
// クライアントはvapid-public-keyで受信メッセージの送信元を検証できる。
func (t *Transport) responsePayload() *etree.Element {
	el := davxml.NewElement("web-push-subscription")
	key := davxml.NewElement("vapid-public-key")
	key.SetText(t.cfg.VAPIDPublicKey)
	el.AddChild(key)
	return el
}

// decodeKey はbase64url（パディングなし/あり）の鍵素材をデコードする。
func decodeKey(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// GenerateVAPIDKeys はVAPID鍵ペアを生成する。
// 設定に鍵が無い場合の起動時フォールバックとして使う。
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return wp.GenerateVAPIDKeys()
}

// compile-time interface check
var _ transport.Transport = (*Transport)(nil)
