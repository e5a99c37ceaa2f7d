// Package model はドメインモデルを定義する。
package model

import "time"

// Session はユーザーのログインセッションを表す。
// セッションの発行自体は外部の認証基盤が行い、本サービスは検証のみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
