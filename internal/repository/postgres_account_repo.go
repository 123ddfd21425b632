package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/virtucalls/internal/model"
)

// PostgresAccountSettingsRepo はPostgreSQLを使用したアカウント設定リポジトリ。
type PostgresAccountSettingsRepo struct {
	db *sql.DB
}

// NewPostgresAccountSettingsRepo はPostgresAccountSettingsRepoを生成する。
func NewPostgresAccountSettingsRepo(db *sql.DB) *PostgresAccountSettingsRepo {
	return &PostgresAccountSettingsRepo{db: db}
}

const accountColumns = `id, user_id, name, email, subdomain, billing_currency, created_at, updated_at`

func scanAccount(row *sql.Row) (*model.AccountSettings, error) {
	a := &model.AccountSettings{}
	var subdomain sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Email, &subdomain, &a.BillingCurrency, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Subdomain = subdomain.String
	return a, nil
}

// nullIfEmpty は空文字をNULLとして扱う。
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FindByUserID はユーザーのアカウント設定を取得する。見つからない場合はnilを返す。
func (r *PostgresAccountSettingsRepo) FindByUserID(ctx context.Context, userID string) (*model.AccountSettings, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM account_settings WHERE user_id = $1`,
		userID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find account settings: %w", err)
	}
	return a, nil
}

// FindBySubdomain はサブドメインでアカウント設定を検索する。見つからない場合はnilを返す。
func (r *PostgresAccountSettingsRepo) FindBySubdomain(ctx context.Context, subdomain string) (*model.AccountSettings, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM account_settings WHERE subdomain = $1`,
		subdomain,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find account settings by subdomain: %w", err)
	}
	return a, nil
}

// Create はアカウント設定を作成する。
func (r *PostgresAccountSettingsRepo) Create(ctx context.Context, a *model.AccountSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO account_settings (id, user_id, name, email, subdomain, billing_currency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.Name, a.Email, nullIfEmpty(a.Subdomain), a.BillingCurrency, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert account settings: %w", err)
	}
	return nil
}

// Update はアカウント設定を更新する。
func (r *PostgresAccountSettingsRepo) Update(ctx context.Context, a *model.AccountSettings) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE account_settings SET name = $2, email = $3, subdomain = $4, billing_currency = $5, updated_at = $6
		 WHERE user_id = $1`,
		a.UserID, a.Name, a.Email, nullIfEmpty(a.Subdomain), a.BillingCurrency, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update account settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountSettingsRepository = (*PostgresAccountSettingsRepo)(nil)
