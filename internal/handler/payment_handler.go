package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/payment"
)

// paymentPendingRetryAfter は決済が未確定の場合に再照会を促す秒数。
const paymentPendingRetryAfter = "2"

// CheckoutServiceInterface は決済ハンドラーが必要とするサービスインターフェース。payment.Checkoutが実装する。
type CheckoutServiceInterface interface {
	Start(ctx context.Context, user *model.User, planID string) (*payment.StartResult, error)
	Complete(ctx context.Context, user *model.User, checkoutID string) (*payment.CompleteResult, error)
}

// PaymentHandler はプラン購入の決済フローのHTTPハンドラー。
type PaymentHandler struct {
	checkout CheckoutServiceInterface
	sessions SessionUserUpdater
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(checkout CheckoutServiceInterface, sessions SessionUserUpdater) *PaymentHandler {
	return &PaymentHandler{
		checkout: checkout,
		sessions: sessions,
	}
}

// startPaymentRequest は決済開始リクエストのボディ。
type startPaymentRequest struct {
	PlanID string `json:"planId"`
}

// startPaymentResponse は決済開始のレスポンス。
type startPaymentResponse struct {
	CheckoutID  string       `json:"checkoutId"`
	RedirectURL string       `json:"redirectUrl"`
	Plan        planResponse `json:"plan"`
}

// paymentStatusResponse は決済完了時のレスポンス。
type paymentStatusResponse struct {
	CheckoutID    string                `json:"checkoutId"`
	Status        string                `json:"status"`
	TransactionID string                `json:"transactionId,omitempty"`
	Subscription  *subscriptionResponse `json:"subscription"`
}

// StartPayment はプラン購入のチェックアウトを開始する。
// POST /api/payments
func (h *PaymentHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req startPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.checkout.Start(r.Context(), user, req.PlanID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startPaymentResponse{
		CheckoutID:  res.CheckoutID,
		RedirectURL: res.RedirectURL,
		Plan:        toPlanResponse(res.Plan),
	})
}

// PaymentStatus は決済状態を照会し、成功していれば契約を作成する。
// GET /api/payments/{checkoutId}/status
//
// 成功は200、失敗は402、未確定は202とRetry-Afterを返す。
func (h *PaymentHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	res, err := h.checkout.Complete(r.Context(), user, chi.URLParam(r, "checkoutId"))
	if err != nil {
		if apiErrorCode(err) == model.ErrCodePaymentPending {
			w.Header().Set("Retry-After", paymentPendingRetryAfter)
		}
		handleServiceError(w, err)
		return
	}

	if res.Payment.Status == model.PaymentFailed {
		apiErr := model.NewPaymentFailedError()
		if msg, ok := res.Payment.Details["message"].(string); ok && msg != "" {
			apiErr.Message = msg
		}
		writeAPIErrorResponse(w, http.StatusPaymentRequired, apiErr)
		return
	}

	markSubscribed(r, h.sessions, user.ID)
	writeJSON(w, http.StatusOK, paymentStatusResponse{
		CheckoutID:    res.Payment.CheckoutID,
		Status:        string(res.Payment.Status),
		TransactionID: res.Payment.TransactionID,
		Subscription:  toSubscriptionResponse(res.Subscription),
	})
}
