package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/virtucalls/internal/model"
)

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresTransactionRepo はPostgreSQLを使用した決済履歴リポジトリ。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

// ListByUserID はユーザーの決済履歴を新しい順に返す。
func (r *PostgresTransactionRepo) ListByUserID(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, subscription_id, amount, currency, status, payment_method,
		        description, payment_reference, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var subID, ref sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &subID, &t.Amount, &t.Currency, &t.Status, &t.PaymentMethod,
			&t.Description, &ref, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.SubscriptionID = subID.String
		t.PaymentReference = ref.String
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

// Create は決済記録を作成する。
func (r *PostgresTransactionRepo) Create(ctx context.Context, txn *model.Transaction) error {
	return insertTransaction(ctx, r.db, txn)
}

func insertTransaction(ctx context.Context, db execer, t *model.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions
		   (id, user_id, subscription_id, amount, currency, status, payment_method,
		    description, payment_reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, nullIfEmpty(t.SubscriptionID), t.Amount, t.Currency, t.Status, t.PaymentMethod,
		t.Description, nullIfEmpty(t.PaymentReference), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
