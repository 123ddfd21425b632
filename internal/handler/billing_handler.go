package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/subscription"
)

// SubscriptionServiceInterface は契約ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	GetActive(ctx context.Context, userID string) (*model.Subscription, error)
	GetHistory(ctx context.Context, userID string) ([]model.Subscription, error)
	Create(ctx context.Context, userID string, in subscription.CreateInput) (*model.Subscription, error)
	Cancel(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error)
	UpdateAutoRenew(ctx context.Context, userID, subscriptionID string, autoRenew bool) (*model.Subscription, error)
}

// TransactionServiceInterface は決済履歴の取得。
type TransactionServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.Transaction, error)
}

// SessionUserUpdater はセッション内ユーザーへの浅いマージ。authflow.Flowが実装する。
type SessionUserUpdater interface {
	UpdateUser(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, error)
}

// BillingHandler は料金プラン・契約・決済履歴のHTTPハンドラー。
type BillingHandler struct {
	plans         PlanCatalog
	subscriptions SubscriptionServiceInterface
	transactions  TransactionServiceInterface
	sessions      SessionUserUpdater
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(
	plans PlanCatalog,
	subscriptions SubscriptionServiceInterface,
	transactions TransactionServiceInterface,
	sessions SessionUserUpdater,
) *BillingHandler {
	return &BillingHandler{
		plans:         plans,
		subscriptions: subscriptions,
		transactions:  transactions,
		sessions:      sessions,
	}
}

// autoRenewRequest は自動更新設定リクエストのボディ。
type autoRenewRequest struct {
	AutoRenew *bool `json:"autoRenew"`
}

// ListPlans は料金プランの一覧を返す。ログインは不要。
// GET /api/pricing
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponses(plans))
}

// GetActiveSubscription は有効な契約を返す。契約がない場合はsubscriptionがnullになる。
// GET /api/subscriptions/active
func (h *BillingHandler) GetActiveSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetActive(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*subscriptionResponse{
		"subscription": toSubscriptionResponse(sub),
	})
}

// GetSubscriptionHistory は契約履歴を返す。
// GET /api/subscriptions/history
func (h *BillingHandler) GetSubscriptionHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	subs, err := h.subscriptions.GetHistory(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]*subscriptionResponse, len(subs))
	for i := range subs {
		results[i] = toSubscriptionResponse(&subs[i])
	}
	writeJSON(w, http.StatusOK, results)
}

// CreateSubscription は契約を作成する。
// POST /api/subscriptions
func (h *BillingHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var in subscription.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), user.ID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	markSubscribed(r, h.sessions, user.ID)
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// CancelSubscription は契約をキャンセルする。契約期間の終了までは有効なまま残る。
// POST /api/subscriptions/{id}/cancel
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// UpdateAutoRenew は契約の自動更新設定を変更する。
// PUT /api/subscriptions/{id}/autorenew
func (h *BillingHandler) UpdateAutoRenew(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req autoRenewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AutoRenew == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("autoRenew", "autoRenew is required"))
		return
	}

	sub, err := h.subscriptions.UpdateAutoRenew(r.Context(), user.ID, chi.URLParam(r, "id"), *req.AutoRenew)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// ListTransactions は決済履歴を返す。
// GET /api/transactions
func (h *BillingHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	txns, err := h.transactions.List(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]transactionResponse, len(txns))
	for i := range txns {
		results[i] = toTransactionResponse(&txns[i])
	}
	writeJSON(w, http.StatusOK, results)
}

// markSubscribed は契約の作成をセッション内のユーザーに反映する。
// セッションを持たないベアラーのみの呼び出しでは何もしない。
func markSubscribed(r *http.Request, sessions SessionUserUpdater, userID string) {
	clientID, ok := middleware.ClientIDFromContext(r.Context())
	if !ok || sessions == nil {
		return
	}
	subscribed := true
	if _, err := sessions.UpdateUser(r.Context(), clientID, model.UserPatch{IsSubscribed: &subscribed}); err != nil {
		slog.Debug("subscription created without a mounted session",
			slog.String("client_id", clientID),
			slog.String("user_id", userID),
		)
	}
}
