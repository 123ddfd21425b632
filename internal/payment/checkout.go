package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/subscription"
)

// PendingTTL は未完了のチェックアウトを保持する期間。
const PendingTTL = time.Hour

// DefaultPaymentMethod はチェックアウト経由の契約に記録する支払い方法。
const DefaultPaymentMethod = "card"

// PlanFinder は料金プランを引く。
type PlanFinder interface {
	FindPlan(ctx context.Context, planID string) (*model.PricingPlan, error)
}

// SubscriptionCreator は決済完了後に契約を作成する。
type SubscriptionCreator interface {
	Create(ctx context.Context, userID string, in subscription.CreateInput) (*model.Subscription, error)
}

// FailureRecorder は失敗した決済を記録する。
type FailureRecorder interface {
	RecordFailed(ctx context.Context, userID string, plan *model.PricingPlan, paymentMethod, reference string) (*model.Transaction, error)
}

// StartResult はチェックアウト開始の結果。
type StartResult struct {
	CheckoutID  string             `json:"checkoutId"`
	RedirectURL string             `json:"redirectUrl"`
	Plan        *model.PricingPlan `json:"-"`
}

// CompleteResult はチェックアウト完了の結果。成功時のみSubscriptionが入る。
type CompleteResult struct {
	Payment      *model.PaymentStatus
	Subscription *model.Subscription
}

type pendingCheckout struct {
	plan      *model.PricingPlan
	startedAt time.Time
	claimed   bool // 完了処理中
}

// Checkout はプラン購入の決済フローを管理する。
// 開始したチェックアウトはユーザーごとにメモリ上で保持し、完了時に照合する。
type Checkout struct {
	gateway       Gateway
	plans         PlanFinder
	subscriptions SubscriptionCreator
	failures      FailureRecorder
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]map[string]pendingCheckout
}

// NewCheckout はCheckoutを生成する。
func NewCheckout(
	gateway Gateway,
	plans PlanFinder,
	subscriptions SubscriptionCreator,
	failures FailureRecorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Checkout {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkout{
		gateway:       gateway,
		plans:         plans,
		subscriptions: subscriptions,
		failures:      failures,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
		pending:       make(map[string]map[string]pendingCheckout),
	}
}

// Start は指定プランの決済を開始する。
func (c *Checkout) Start(ctx context.Context, user *model.User, planID string) (*StartResult, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	if planID == "" {
		return nil, model.NewValidationError("planId", "Please select a plan")
	}

	plan, err := c.plans.FindPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, model.NewValidationError("planId", "The free plan does not require payment")
	}

	resp, err := c.gateway.Initiate(ctx, model.PaymentRequest{
		Amount:      plan.Price,
		Currency:    plan.Currency,
		CustomerID:  user.ID,
		Description: fmt.Sprintf("%s Plan Subscription", plan.Name),
	})
	if err != nil {
		c.logger.Error("payment initiation failed",
			slog.String("user_id", user.ID),
			slog.String("plan_id", plan.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError("payment gateway unavailable")
	}

	c.remember(user.ID, resp.CheckoutID, plan)
	c.logger.Info("checkout started",
		slog.String("user_id", user.ID),
		slog.String("plan_id", plan.ID),
		slog.String("checkout_id", resp.CheckoutID),
	)
	return &StartResult{CheckoutID: resp.CheckoutID, RedirectURL: resp.RedirectURL, Plan: plan}, nil
}

// Complete はチェックアウトの決済状態を確認し、結果を反映する。
//   - success: 契約を作成してチェックアウトを破棄する
//   - failed: 失敗した決済を記録してチェックアウトを破棄する
//   - pending: チェックアウトを残したままPAYMENT_PENDINGを返す
//
// 同じチェックアウトの完了処理は同時に1つだけ実行する。処理中に届いた呼び出しにはPAYMENT_PENDINGを返す。
func (c *Checkout) Complete(ctx context.Context, user *model.User, checkoutID string) (*CompleteResult, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	id := SanitizeCheckoutID(checkoutID)

	pc, err := c.claim(user.ID, id)
	if err != nil {
		return nil, err
	}

	status, err := c.gateway.Status(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownCheckout) {
			c.forget(user.ID, id)
			return nil, model.NewCheckoutNotFoundError(id)
		}
		c.release(user.ID, id)
		return nil, model.NewNetworkError("payment gateway unavailable")
	}
	c.metrics.RecordPayment(string(status.Status))

	switch status.Status {
	case model.PaymentSuccess:
		sub, err := c.subscriptions.Create(ctx, user.ID, subscription.CreateInput{
			PlanID:           pc.plan.ID,
			PaymentMethod:    DefaultPaymentMethod,
			AutoRenew:        true,
			PaymentReference: status.TransactionID,
		})
		if err != nil {
			c.release(user.ID, id)
			return nil, fmt.Errorf("決済完了後の契約作成に失敗しました: %w", err)
		}
		c.forget(user.ID, id)
		c.logger.Info("checkout completed",
			slog.String("user_id", user.ID),
			slog.String("checkout_id", id),
			slog.String("subscription_id", sub.ID),
		)
		return &CompleteResult{Payment: status, Subscription: sub}, nil

	case model.PaymentFailed:
		if _, err := c.failures.RecordFailed(ctx, user.ID, pc.plan, DefaultPaymentMethod, id); err != nil {
			c.release(user.ID, id)
			return nil, err
		}
		c.forget(user.ID, id)
		c.logger.Warn("checkout payment failed",
			slog.String("user_id", user.ID),
			slog.String("checkout_id", id),
		)
		return &CompleteResult{Payment: status}, nil

	default:
		c.release(user.ID, id)
		return nil, model.NewPaymentPendingError()
	}
}

// remember はチェックアウトを保持し、期限切れのものを掃除する。
func (c *Checkout) remember(userID, checkoutID string, plan *model.PricingPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for uid, byID := range c.pending {
		for id, pc := range byID {
			if now.Sub(pc.startedAt) > PendingTTL {
				delete(byID, id)
			}
		}
		if len(byID) == 0 {
			delete(c.pending, uid)
		}
	}

	byID, ok := c.pending[userID]
	if !ok {
		byID = make(map[string]pendingCheckout)
		c.pending[userID] = byID
	}
	byID[checkoutID] = pendingCheckout{plan: plan, startedAt: now}
}

// claim はチェックアウトを完了処理中にする。
func (c *Checkout) claim(userID, checkoutID string) (pendingCheckout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[userID][checkoutID]
	if !ok || c.now().Sub(pc.startedAt) > PendingTTL {
		return pendingCheckout{}, model.NewCheckoutNotFoundError(checkoutID)
	}
	if pc.claimed {
		return pendingCheckout{}, model.NewPaymentPendingError()
	}
	pc.claimed = true
	c.pending[userID][checkoutID] = pc
	return pc, nil
}

// release は完了処理中の印を外し、次の呼び出しで再確認できるようにする。
func (c *Checkout) release(userID, checkoutID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pc, ok := c.pending[userID][checkoutID]; ok {
		pc.claimed = false
		c.pending[userID][checkoutID] = pc
	}
}

func (c *Checkout) forget(userID, checkoutID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byID, ok := c.pending[userID]; ok {
		delete(byID, checkoutID)
		if len(byID) == 0 {
			delete(c.pending, userID)
		}
	}
}
