package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, network, account, billing, system
	Action   string // ユーザー向け対処方法
	Field    string // バリデーションエラーの対象フィールド（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryNetwork    = "network"
	CategoryAccount    = "account"
	CategoryBilling    = "billing"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeAuthenticationFailed  = "AUTHENTICATION_FAILED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeWeakPassword          = "WEAK_PASSWORD"
	ErrCodeNetwork               = "NETWORK_ERROR"
	ErrCodePartiallyProvisioned  = "ACCOUNT_PARTIALLY_PROVISIONED"
	ErrCodeSubdomainTaken        = "SUBDOMAIN_TAKEN"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrCodeRoomNotFound          = "ROOM_NOT_FOUND"
	ErrCodePlanNotFound          = "PLAN_NOT_FOUND"
	ErrCodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeCheckoutNotFound      = "CHECKOUT_NOT_FOUND"
	ErrCodePaymentFailed         = "PAYMENT_FAILED"
	ErrCodePaymentPending        = "PAYMENT_PENDING"
	ErrCodeSessionNotEstablished = "SESSION_NOT_ESTABLISHED"
)

// PasswordMinLength はサインアップ時のパスワード最小長。
const PasswordMinLength = 8

// NewAuthenticationError はIDプロバイダーが認証を拒否した場合のエラーを生成する。
// プロバイダーのメッセージはそのまま表示用に保持する。
func NewAuthenticationError(providerMessage string) *APIError {
	if providerMessage == "" {
		providerMessage = "Authentication failed."
	}
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  providerMessage,
		Category: CategoryAuth,
		Action:   "Check your email and password and try again.",
	}
}

// NewUnauthorizedError は認証が必要な操作を未認証で呼び出した場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: CategoryAuth,
		Action:   "Please log in.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Correct the highlighted field and submit again.",
		Field:    field,
	}
}

// NewWeakPasswordError はパスワード長が不足している場合のエラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password must be at least %d characters long", PasswordMinLength),
		Category: CategoryValidation,
		Action:   "Choose a longer password.",
		Field:    "password",
	}
}

// NewNetworkError は外部サービスとの通信に失敗した場合のエラーを生成する。
func NewNetworkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  fmt.Sprintf("Could not reach an upstream service: %s", reason),
		Category: CategoryNetwork,
		Action:   "Please wait a moment and try again.",
	}
}

// NewSubdomainTakenError はサブドメインが既に使用されている場合のエラーを生成する。
func NewSubdomainTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeSubdomainTaken,
		Message:  "This subdomain is already taken",
		Category: CategoryValidation,
		Action:   "Choose a different subdomain.",
		Field:    "subdomain",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: CategoryValidation,
		Action:   "Enter a URL starting with http:// or https://.",
		Field:    field,
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "The URL points to a network location that is not allowed.",
		Category: CategoryValidation,
		Action:   "Use a publicly reachable image URL.",
		Field:    field,
	}
}

// NewAccountNotFoundError はアカウント設定が存在しない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "Account settings not found.",
		Category: CategoryAccount,
		Action:   "Retry account provisioning from the dashboard.",
	}
}

// NewRoomNotFoundError はルーム設定が存在しない場合のエラーを生成する。
func NewRoomNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeRoomNotFound,
		Message:  "Meeting room not found.",
		Category: CategoryAccount,
		Action:   "Check the room address.",
	}
}

// NewPlanNotFoundError は料金プランが存在しない場合のエラーを生成する。
func NewPlanNotFoundError(planID string) *APIError {
	return &APIError{
		Code:     ErrCodePlanNotFound,
		Message:  fmt.Sprintf("Pricing plan not found: %s", planID),
		Category: CategoryBilling,
		Action:   "Choose a plan from the pricing page.",
	}
}

// NewSubscriptionNotFoundError はサブスクリプションが見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("Subscription not found: %s", subscriptionID),
		Category: CategoryBilling,
		Action:   "Reload your subscription details.",
	}
}

// NewCheckoutNotFoundError はチェックアウトが見つからない場合のエラーを生成する。
func NewCheckoutNotFoundError(checkoutID string) *APIError {
	return &APIError{
		Code:     ErrCodeCheckoutNotFound,
		Message:  fmt.Sprintf("Checkout not found: %s", checkoutID),
		Category: CategoryBilling,
		Action:   "Start the checkout again from the pricing page.",
	}
}

// NewPaymentFailedError は決済が失敗した場合のエラーを生成する。
func NewPaymentFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentFailed,
		Message:  "Payment failed. Please try again.",
		Category: CategoryBilling,
		Action:   "Use a different payment method or try again later.",
	}
}

// NewPaymentPendingError は決済が未確定の場合のエラーを生成する。
func NewPaymentPendingError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentPending,
		Message:  "Payment is still being processed.",
		Category: CategoryBilling,
		Action:   "Check the payment status again in a few seconds.",
	}
}

// NewSessionNotEstablishedError はログイン成功後にセッションが反映されなかった場合のエラーを生成する。
func NewSessionNotEstablishedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotEstablished,
		Message:  "Signed in, but the session is not ready yet.",
		Category: CategoryAuth,
		Action:   "Reload the page.",
	}
}

// ProvisioningError はIDの作成後にアカウント設定やルーム設定の初期化が失敗したことを表す。
// IDは作成済みのため、再登録せずにプロビジョニングだけを再試行できる。
type ProvisioningError struct {
	UserID string
	Email  string
	Step   string // 失敗したステップ: account, room
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("account %s partially provisioned (step %s): %v", e.UserID, e.Step, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// APIError はレスポンス用のAPIErrorを返す。
func (e *ProvisioningError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodePartiallyProvisioned,
		Message:  "Your account was created, but its settings could not be initialized.",
		Category: CategoryAccount,
		Action:   "Retry account setup from the dashboard. You do not need to sign up again.",
	}
}

// CategoryOf はエラーのカテゴリを返す。APIErrorを含まない場合はsystemを返す。
func CategoryOf(err error) string {
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		return CategoryAccount
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategorySystem
}

// IsAuthenticationError はIDプロバイダーによる認証拒否かを判定する。
func IsAuthenticationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeAuthenticationFailed
}
