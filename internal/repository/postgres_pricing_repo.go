package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/virtucalls/internal/model"
)

// PostgresPricingPlanRepo はPostgreSQLを使用した料金プランリポジトリ。
// プランはマイグレーションで投入される。
type PostgresPricingPlanRepo struct {
	db *sql.DB
}

// NewPostgresPricingPlanRepo はPostgresPricingPlanRepoを生成する。
func NewPostgresPricingPlanRepo(db *sql.DB) *PostgresPricingPlanRepo {
	return &PostgresPricingPlanRepo{db: db}
}

const planColumns = `id, name, price, currency, billing_interval, features, is_popular`

// List は表示順に全プランを返す。
func (r *PostgresPricingPlanRepo) List(ctx context.Context) ([]model.PricingPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM pricing_plans ORDER BY sort_order, price`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing plans: %w", err)
	}
	defer rows.Close()

	var plans []model.PricingPlan
	for rows.Next() {
		var p model.PricingPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Interval, pq.Array(&p.Features), &p.IsPopular); err != nil {
			return nil, fmt.Errorf("failed to scan pricing plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pricing plans: %w", err)
	}
	return plans, nil
}

// FindByID は指定IDのプランを取得する。見つからない場合はnilを返す。
func (r *PostgresPricingPlanRepo) FindByID(ctx context.Context, id string) (*model.PricingPlan, error) {
	p := &model.PricingPlan{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM pricing_plans WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Interval, pq.Array(&p.Features), &p.IsPopular)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pricing plan: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ PricingPlanRepository = (*PostgresPricingPlanRepo)(nil)
