package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用したサブスクリプションリポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, plan_id, plan_name, status, amount, currency,
	start_date, end_date, auto_renew, payment_method, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	s := &model.Subscription{}
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.PlanName, &s.Status, &s.Amount, &s.Currency,
		&s.StartDate, &s.EndDate, &s.AutoRenew, &s.PaymentMethod, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindActiveByUserID はユーザーの有効なサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status = 'active' AND end_date > now()
		 ORDER BY start_date DESC LIMIT 1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active subscription: %w", err)
	}
	return s, nil
}

// ListByUserID はユーザーのサブスクリプション履歴を新しい順に返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 ORDER BY start_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return s, nil
}

// CreateWithTransaction は既存の有効な契約をキャンセルし、新しい契約と決済記録を同一トランザクションで作成する。
func (r *PostgresSubscriptionRepo) CreateWithTransaction(ctx context.Context, sub *model.Subscription, txn *model.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 既存の有効な契約をキャンセル
	_, err = tx.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'canceled', auto_renew = false, updated_at = $2
		 WHERE user_id = $1 AND status = 'active'`,
		sub.UserID, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel previous subscriptions: %w", err)
	}

	// 新しい契約を作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions
		   (id, user_id, plan_id, plan_name, status, amount, currency, start_date, end_date,
		    auto_renew, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.UserID, sub.PlanID, sub.PlanName, sub.Status, sub.Amount, sub.Currency,
		sub.StartDate, sub.EndDate, sub.AutoRenew, sub.PaymentMethod, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	// 決済記録を作成
	if txn != nil {
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus は契約状態を更新する。
func (r *PostgresSubscriptionRepo) UpdateStatus(ctx context.Context, id string, status model.SubscriptionStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// UpdateAutoRenew は自動更新フラグを更新する。
func (r *PostgresSubscriptionRepo) UpdateAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET auto_renew = $2, updated_at = now() WHERE id = $1`,
		id, autoRenew,
	)
	if err != nil {
		return fmt.Errorf("failed to update auto renew: %w", err)
	}
	return nil
}

// ExpireEnded は終了日を過ぎた有効な契約をexpiredにし、更新件数を返す。
func (r *PostgresSubscriptionRepo) ExpireEnded(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'expired', updated_at = $1
		 WHERE status = 'active' AND end_date <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
