package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/virtucalls/internal/model"
)

// PostgresProviderSessionRepo はPostgreSQLを使用したIDプロバイダーセッションリポジトリ。
// クライアントIDを主キーとし、1クライアントにつき1セッションを保持する。
type PostgresProviderSessionRepo struct {
	db *sql.DB
}

// NewPostgresProviderSessionRepo はPostgresProviderSessionRepoを生成する。
func NewPostgresProviderSessionRepo(db *sql.DB) *PostgresProviderSessionRepo {
	return &PostgresProviderSessionRepo{db: db}
}

// Upsert はクライアントのセッションを作成または置き換える。
func (r *PostgresProviderSessionRepo) Upsert(ctx context.Context, s *model.ProviderSession) error {
	meta, err := json.Marshal(s.User.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal user metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO provider_sessions
		   (client_id, user_id, user_email, user_metadata, access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (client_id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   user_email = EXCLUDED.user_email,
		   user_metadata = EXCLUDED.user_metadata,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		s.ClientID, s.User.ID, s.User.Email, meta, s.AccessToken, s.RefreshToken, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider session: %w", err)
	}
	return nil
}

// FindByClientID はクライアントのセッションを取得する。期限切れでも返す。
// 見つからない場合はnilを返す。
func (r *PostgresProviderSessionRepo) FindByClientID(ctx context.Context, clientID string) (*model.ProviderSession, error) {
	s := &model.ProviderSession{}
	var meta []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT client_id, user_id, user_email, user_metadata, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM provider_sessions WHERE client_id = $1`,
		clientID,
	).Scan(&s.ClientID, &s.User.ID, &s.User.Email, &meta, &s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider session: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.User.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user metadata: %w", err)
		}
	}
	return s, nil
}

// DeleteByClientID はクライアントのセッションを削除する。
func (r *PostgresProviderSessionRepo) DeleteByClientID(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_sessions WHERE client_id = $1`,
		clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete provider session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProviderSessionRepository = (*PostgresProviderSessionRepo)(nil)
