// Package transaction は決済履歴の参照と記録を提供する。
package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
)

// Service は決済履歴のサービス層。
type Service struct {
	repo repository.TransactionRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.TransactionRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List はユーザーの決済履歴を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.Transaction, error) {
	txns, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("決済履歴の取得に失敗しました: %w", err)
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// RecordFailed は失敗した決済を記録する。契約には紐付けない。
func (s *Service) RecordFailed(ctx context.Context, userID string, plan *model.PricingPlan, paymentMethod, reference string) (*model.Transaction, error) {
	txn := &model.Transaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		Amount:           plan.Price,
		Currency:         plan.Currency,
		Status:           model.TransactionFailed,
		PaymentMethod:    paymentMethod,
		Description:      Description(plan),
		PaymentReference: reference,
		CreatedAt:        s.now(),
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("決済履歴の記録に失敗しました: %w", err)
	}
	return txn, nil
}

// Description はプランの請求明細の説明文を返す。
func Description(plan *model.PricingPlan) string {
	cycle := "Monthly"
	if plan.Interval == "yearly" {
		cycle = "Yearly"
	}
	return fmt.Sprintf("%s subscription - %s Plan", cycle, plan.Name)
}
