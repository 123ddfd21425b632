package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/virtucalls/internal/model"
)

// PostgresRoomSettingsRepo はPostgreSQLを使用したルーム設定リポジトリ。
type PostgresRoomSettingsRepo struct {
	db *sql.DB
}

// NewPostgresRoomSettingsRepo はPostgresRoomSettingsRepoを生成する。
func NewPostgresRoomSettingsRepo(db *sql.DB) *PostgresRoomSettingsRepo {
	return &PostgresRoomSettingsRepo{db: db}
}

// FindByUserID はユーザーのルーム設定を取得する。見つからない場合はnilを返す。
func (r *PostgresRoomSettingsRepo) FindByUserID(ctx context.Context, userID string) (*model.RoomSettings, error) {
	s := &model.RoomSettings{}
	var logoURL, bgImageURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, welcome_message, logo_url, background_type, background_color,
		        background_image_url, primary_color, theme, layout, watermark, created_at, updated_at
		 FROM room_settings WHERE user_id = $1`,
		userID,
	).Scan(
		&s.ID, &s.UserID, &s.Title, &s.WelcomeMessage, &logoURL, &s.BackgroundType, &s.BackgroundColor,
		&bgImageURL, &s.PrimaryColor, &s.Theme, &s.Layout, &s.Watermark, &s.CreatedAt, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room settings: %w", err)
	}

	s.LogoURL = logoURL.String
	s.BackgroundImageURL = bgImageURL.String
	return s, nil
}

// Create はルーム設定を作成する。既に存在する場合はErrDuplicateを返す。
func (r *PostgresRoomSettingsRepo) Create(ctx context.Context, s *model.RoomSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_settings
		   (id, user_id, title, welcome_message, logo_url, background_type, background_color,
		    background_image_url, primary_color, theme, layout, watermark, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.UserID, s.Title, s.WelcomeMessage, nullIfEmpty(s.LogoURL), s.BackgroundType, s.BackgroundColor,
		nullIfEmpty(s.BackgroundImageURL), s.PrimaryColor, s.Theme, s.Layout, s.Watermark, s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert room settings: %w", err)
	}
	return nil
}

// Update はルーム設定を更新する。
func (r *PostgresRoomSettingsRepo) Update(ctx context.Context, s *model.RoomSettings) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE room_settings SET
		   title = $2, welcome_message = $3, logo_url = $4, background_type = $5, background_color = $6,
		   background_image_url = $7, primary_color = $8, theme = $9, layout = $10, watermark = $11, updated_at = $12
		 WHERE user_id = $1`,
		s.UserID, s.Title, s.WelcomeMessage, nullIfEmpty(s.LogoURL), s.BackgroundType, s.BackgroundColor,
		nullIfEmpty(s.BackgroundImageURL), s.PrimaryColor, s.Theme, s.Layout, s.Watermark, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update room settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RoomSettingsRepository = (*PostgresRoomSettingsRepo)(nil)
