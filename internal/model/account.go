package model

import "time"

// AccountSettings はユーザーのアカウント設定を表す。
// Subdomainはブランド付きミーティングルームのスラッグで、全ユーザーで一意。
type AccountSettings struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	Subdomain string
	// BillingCurrency は請求に使う通貨コード（ISO 4217）。
	BillingCurrency string
	CreatedAt time.Time
	UpdatedAt time.Time
}
