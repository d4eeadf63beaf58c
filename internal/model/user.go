// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GitHub OAuthで初回ログインした時点で作成される。
type User struct {
	ID          string
	GitHubID    int64
	Username    string
	DisplayName string
	Email       *string
	AvatarURL   string
	AccessToken string // GitHubのアクセストークン
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
