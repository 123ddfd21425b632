// Package subscription は有料プラン契約のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
	"github.com/hitoshi/virtucalls/internal/transaction"
)

// PlanFinder は料金プランを引く。pricing.Serviceが実装する。
type PlanFinder interface {
	FindPlan(ctx context.Context, planID string) (*model.PricingPlan, error)
}

// CreateInput は契約作成の入力。
type CreateInput struct {
	PlanID        string `json:"planId" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required,max=50"`
	AutoRenew     bool   `json:"autoRenew"`
	// PaymentReference は決済ゲートウェイ側の取引ID。空の場合は採番する。
	PaymentReference string `json:"-"`
}

// Service は契約管理のサービス層。
// 契約の取得、作成、キャンセル、自動更新設定のビジネスロジックを提供する。
type Service struct {
	repo  repository.SubscriptionRepository
	plans PlanFinder
	now   func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.SubscriptionRepository, plans PlanFinder) *Service {
	return &Service{repo: repo, plans: plans, now: time.Now}
}

// GetActive はユーザーの有効な契約を返す。契約がない場合はnilを返す。
func (s *Service) GetActive(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.repo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// GetHistory はユーザーの契約履歴を新しい順に返す。
func (s *Service) GetHistory(ctx context.Context, userID string) ([]model.Subscription, error) {
	subs, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約履歴の取得に失敗しました: %w", err)
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	return subs, nil
}

// Create は新しい契約を作成する。
// 既存の有効な契約はキャンセルされ、完了済みの決済記録が同時に作成される。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Subscription, error) {
	if in.PlanID == "" {
		return nil, model.NewValidationError("planId", "Please select a plan")
	}
	if in.PaymentMethod == "" {
		return nil, model.NewValidationError("paymentMethod", "Please select a payment method")
	}

	plan, err := s.plans.FindPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, model.NewValidationError("planId", "The free plan does not require a subscription")
	}

	now := s.now()
	sub := &model.Subscription{
		ID:            uuid.New().String(),
		UserID:        userID,
		PlanID:        plan.ID,
		PlanName:      plan.Name,
		Status:        model.SubscriptionActive,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		StartDate:     now,
		EndDate:       now.Add(model.SubscriptionPeriod),
		AutoRenew:     in.AutoRenew,
		PaymentMethod: in.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	reference := in.PaymentReference
	if reference == "" {
		reference = "pay_" + ulid.Make().String()
	}
	txn := &model.Transaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		SubscriptionID:   sub.ID,
		Amount:           plan.Price,
		Currency:         plan.Currency,
		Status:           model.TransactionCompleted,
		PaymentMethod:    in.PaymentMethod,
		Description:      transaction.Description(plan),
		PaymentReference: reference,
		CreatedAt:        now,
	}

	if err := s.repo.CreateWithTransaction(ctx, sub, txn); err != nil {
		return nil, fmt.Errorf("契約の作成に失敗しました: %w", err)
	}
	return sub, nil
}

// Cancel は契約をキャンセルする。他のユーザーの契約は存在しないものとして扱う。
func (s *Service) Cancel(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error) {
	sub, err := s.owned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, subscriptionID, model.SubscriptionCanceled); err != nil {
		return nil, fmt.Errorf("契約のキャンセルに失敗しました: %w", err)
	}
	sub.Status = model.SubscriptionCanceled
	sub.AutoRenew = false
	sub.UpdatedAt = s.now()
	return sub, nil
}

// UpdateAutoRenew は契約の自動更新設定を変更する。
func (s *Service) UpdateAutoRenew(ctx context.Context, userID, subscriptionID string, autoRenew bool) (*model.Subscription, error) {
	sub, err := s.owned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateAutoRenew(ctx, subscriptionID, autoRenew); err != nil {
		return nil, fmt.Errorf("自動更新設定の更新に失敗しました: %w", err)
	}
	sub.AutoRenew = autoRenew
	sub.UpdatedAt = s.now()
	return sub, nil
}

// IsSubscribed は有料プランの有効な契約があるかを判定する。
func (s *Service) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	sub, err := s.repo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return false, nil
	}
	return sub.IsActiveAt(s.now()) && sub.Amount > 0, nil
}

// ExpireEnded は終了日を過ぎた契約をexpiredにする。
func (s *Service) ExpireEnded(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireEnded(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("契約の期限切れ処理に失敗しました: %w", err)
	}
	return n, nil
}

func (s *Service) owned(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if sub == nil || sub.UserID != userID {
		return nil, model.NewSubscriptionNotFoundError(subscriptionID)
	}
	return sub, nil
}

// StubStatus は常に未契約と判定するSubscriptionStatusの実装。
type StubStatus struct{}

// IsSubscribed は常にfalseを返す。
func (StubStatus) IsSubscribed(context.Context, string) (bool, error) {
	return false, nil
}
