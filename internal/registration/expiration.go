package registration

import "time"

// DefaultExpirationWindow は購読の最大有効期間。
// クライアントが要求できる有効期限はこの上限でクランプされる。
const DefaultExpirationWindow = 7 * 24 * time.Hour

// ResolveExpiration はクライアント要求値から実効有効期限を決定する。
// 未指定・過去・上限超過のいずれもデフォルト上限（now+7日）に丸める。
// 不正な要求でもリクエスト自体は拒否しない。
func ResolveExpiration(requested *time.Time, now time.Time) time.Time {
	horizon := now.Add(DefaultExpirationWindow)
	if requested == nil {
		return horizon
	}
	if requested.Before(now) {
		return horizon
	}
	if requested.After(horizon) {
		return horizon
	}
	return *requested
}
