// Package registration は購読登録プロトコルのドメインロジックを提供する。
// 登録ドキュメントの解析、有効期限ポリシー、登録・削除のオーケストレーションを担う。
package registration

import (
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/hitoshi/davpush/internal/davxml"
)

// TimeFormat はexpires要素とExpiresヘッダのdate-timeフォーマット（IMF-fixdate）。
const TimeFormat = http.TimeFormat

// ParsedRequest は解析済みの登録リクエストを表す。
// Optionsはトランスポートへそのまま渡す不透明なXML要素。
type ParsedRequest struct {
	SubscriptionType string
	Options          *etree.Element
	Expires          *time.Time
}

// ParseRegister は登録ドキュメントのルート直下の子要素群を解析する。
// エラーは最初の1件で打ち切らず蓄積する。エラーが1件でもあれば
// ParsedRequestはnilになる（部分的な結果は返さない）。
func ParseRegister(children []*etree.Element) (*ParsedRequest, []string) {
	var errs []string
	req := &ParsedRequest{}

	var subscriptions []*etree.Element
	var expires *etree.Element

	for _, child := range children {
		switch {
		case davxml.IsPushElement(child, "subscription"):
			subscriptions = append(subscriptions, child)
		case davxml.IsPushElement(child, "expires"):
			// 重複するexpiresは最初の1つだけを採用する
			if expires == nil {
				expires = child
			}
		}
	}

	switch len(subscriptions) {
	case 0:
		errs = append(errs, "no subscription included")
	case 1:
		inner := subscriptions[0].ChildElements()
		if len(inner) != 1 {
			errs = append(errs, "only one subscription allowed")
		} else {
			// 要素名から固定サフィックスを除いたものが購読タイプ
			// （例: web-push-subscription → web-push）
			req.SubscriptionType = strings.TrimSuffix(inner[0].Tag, "-subscription")
			req.Options = inner[0]
		}
	default:
		// 過剰な要素の解析は試みないが、他の子要素の処理は続行している
		errs = append(errs, "more than one subscriptions at a time are not allowed")
	}

	if expires != nil {
		t, err := time.Parse(TimeFormat, strings.TrimSpace(expires.Text()))
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			req.Expires = &t
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}
