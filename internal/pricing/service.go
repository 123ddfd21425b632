// Package pricing は料金プランの参照を提供する。
package pricing

import (
	"context"
	"fmt"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
)

// Service は料金プランのサービス層。
type Service struct {
	repo repository.PricingPlanRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.PricingPlanRepository) *Service {
	return &Service{repo: repo}
}

// ListPlans は表示順に全プランを返す。
func (s *Service) ListPlans(ctx context.Context) ([]model.PricingPlan, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("料金プランの取得に失敗しました: %w", err)
	}
	if plans == nil {
		plans = []model.PricingPlan{}
	}
	return plans, nil
}

// FindPlan は指定IDのプランを返す。存在しない場合はPLAN_NOT_FOUNDを返す。
func (s *Service) FindPlan(ctx context.Context, planID string) (*model.PricingPlan, error) {
	plan, err := s.repo.FindByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("料金プランの取得に失敗しました: %w", err)
	}
	if plan == nil {
		return nil, model.NewPlanNotFoundError(planID)
	}
	return plan, nil
}
