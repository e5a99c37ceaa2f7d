// Package model はドメインモデルを定義する。
package model

import "time"

// Subscription はコレクションの変更通知に対する購読登録を表す。
// 1つの購読は必ず1人のユーザーに属し、1つのトランスポートで配送される。
type Subscription struct {
	ID             string
	UserID         string
	CollectionName string
	TransportType  string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PushResource はWeb Pushトランスポートの配送先状態を表す。
// SubscriptionIDはSubscriptionと1対1で対応する。
type PushResource struct {
	SubscriptionID  string
	Endpoint        string
	P256DHKey       string
	AuthSecret      string
	ContentEncoding string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
