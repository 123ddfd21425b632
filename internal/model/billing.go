package model

import "time"

// PricingPlan は料金プランを表す。
type PricingPlan struct {
	ID        string
	Name      string
	Price     float64
	Currency  string
	Interval  string
	Features  []string
	IsPopular bool
}

// IsFree は無料プランかを判定する。
func (p *PricingPlan) IsFree() bool {
	return p.Price <= 0
}

// SubscriptionStatus はサブスクリプションの状態。
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// SubscriptionPeriod は1回の課金でカバーされる期間。
const SubscriptionPeriod = 30 * 24 * time.Hour

// Subscription はユーザーの有料プラン契約を表す。
type Subscription struct {
	ID            string
	UserID        string
	PlanID        string
	PlanName      string
	Status        SubscriptionStatus
	Amount        float64
	Currency      string
	StartDate     time.Time
	EndDate       time.Time
	AutoRenew     bool
	PaymentMethod string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActiveAt は指定時刻に有効な契約かを判定する。
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}

// TransactionStatus は決済トランザクションの状態。
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionPending   TransactionStatus = "pending"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction は決済履歴の1件を表す。
type Transaction struct {
	ID               string
	UserID           string
	SubscriptionID   string
	Amount           float64
	Currency         string
	Status           TransactionStatus
	PaymentMethod    string
	Description      string
	PaymentReference string
	CreatedAt        time.Time
}

// PaymentRequest は決済開始リクエスト。
type PaymentRequest struct {
	Amount      float64
	Currency    string
	CustomerID  string
	Description string
}

// PaymentResponse は決済開始結果。RedirectURLへ利用者を誘導する。
type PaymentResponse struct {
	CheckoutID  string
	RedirectURL string
}

// PaymentState は決済ゲートウェイ上の決済状態。
type PaymentState string

const (
	PaymentSuccess PaymentState = "success"
	PaymentPending PaymentState = "pending"
	PaymentFailed  PaymentState = "failed"
)

// PaymentStatus は決済状態の照会結果。
type PaymentStatus struct {
	CheckoutID    string
	Status        PaymentState
	TransactionID string
	Details       map[string]any
}
