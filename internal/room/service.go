// Package room はミーティングルームのブランディング設定のドメインロジックを提供する。
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
	"github.com/hitoshi/virtucalls/internal/security"
)

// 入力の上限
const (
	MaxTitleLength   = 100
	MaxWelcomeLength = 1000
)

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// AccountLookup はサブドメインからアカウント設定を引く。account.Serviceが実装する。
type AccountLookup interface {
	FindBySubdomain(ctx context.Context, subdomain string) (*model.AccountSettings, error)
}

// Service はルーム設定のサービス層。
type Service struct {
	repo      repository.RoomSettingsRepository
	accounts  AccountLookup
	urlGuard  security.URLGuard
	sanitizer security.TextSanitizer
	// probeAssets がtrueの場合、画像URLに実際にHEADリクエストを送って確認する
	probeAssets bool
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	repo repository.RoomSettingsRepository,
	accounts AccountLookup,
	urlGuard security.URLGuard,
	sanitizer security.TextSanitizer,
	probeAssets bool,
) *Service {
	return &Service{
		repo:        repo,
		accounts:    accounts,
		urlGuard:    urlGuard,
		sanitizer:   sanitizer,
		probeAssets: probeAssets,
		now:         time.Now,
	}
}

// Get はユーザーのルーム設定を返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.RoomSettings, error) {
	r, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ルーム設定の取得に失敗しました: %w", err)
	}
	if r == nil {
		return nil, model.NewRoomNotFoundError()
	}
	return r, nil
}

// Update は現在の設定にpatchをマージし、検証してから保存する。
func (s *Service) Update(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 1. テキストのサニタイズ
	if patch.Title != nil {
		title := s.sanitizer.SanitizeTitle(*patch.Title)
		patch.Title = &title
	}
	if patch.WelcomeMessage != nil {
		msg := s.sanitizer.SanitizeWelcome(*patch.WelcomeMessage)
		patch.WelcomeMessage = &msg
	}

	updated := *current
	updated.Apply(patch)

	// 2. マージ後の設定全体を検証
	if err := s.validate(&updated); err != nil {
		return nil, err
	}

	// 3. 変更された画像URLの検証
	if patch.LogoURL != nil && updated.LogoURL != "" {
		if err := s.checkAsset(ctx, "logoUrl", updated.LogoURL); err != nil {
			return nil, err
		}
	}
	if patch.BackgroundImageURL != nil && updated.BackgroundImageURL != "" {
		if err := s.checkAsset(ctx, "backgroundImageUrl", updated.BackgroundImageURL); err != nil {
			return nil, err
		}
	}

	updated.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("ルーム設定の更新に失敗しました: %w", err)
	}
	return &updated, nil
}

// CreateInitial はサインアップ直後の既定ルーム設定を作成する。既に存在する場合は既存の設定を返す。
func (s *Service) CreateInitial(ctx context.Context, userID string) (*model.RoomSettings, error) {
	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ルーム設定の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now()
	r := model.DefaultRoomSettings(userID)
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.repo.Create(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.Get(ctx, userID)
		}
		return nil, fmt.Errorf("ルーム設定の作成に失敗しました: %w", err)
	}
	return r, nil
}

// PublicRoom はサブドメインのミーティングルームの表示情報を返す。
// ルーム設定がまだない所有者には既定の設定を表示する。
func (s *Service) PublicRoom(ctx context.Context, subdomain string) (*model.PublicRoom, error) {
	owner, err := s.accounts.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}

	settings, err := s.repo.FindByUserID(ctx, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("ルーム設定の取得に失敗しました: %w", err)
	}
	if settings == nil {
		slog.Warn("room settings missing for subdomain owner, using defaults",
			slog.String("subdomain", owner.Subdomain),
			slog.String("user_id", owner.UserID),
		)
		settings = model.DefaultRoomSettings(owner.UserID)
	}

	return &model.PublicRoom{
		Subdomain: owner.Subdomain,
		OwnerName: owner.Name,
		Settings:  settings,
	}, nil
}

// validate はマージ後の設定を検証する。
func (s *Service) validate(r *model.RoomSettings) error {
	if r.Title == "" {
		return model.NewValidationError("title", "Please enter a room title")
	}
	if utf8.RuneCountInString(r.Title) > MaxTitleLength {
		return model.NewValidationError("title", fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	if utf8.RuneCountInString(r.WelcomeMessage) > MaxWelcomeLength {
		return model.NewValidationError("welcomeMessage", fmt.Sprintf("Welcome message must be at most %d characters", MaxWelcomeLength))
	}

	switch r.BackgroundType {
	case model.BackgroundColor, model.BackgroundImage:
	default:
		return model.NewValidationError("backgroundType", "Background type must be color or image")
	}
	switch r.Theme {
	case model.ThemeLight, model.ThemeDark, model.ThemeCustom:
	default:
		return model.NewValidationError("theme", "Theme must be light, dark, or custom")
	}
	switch r.Layout {
	case model.LayoutGrid, model.LayoutSpotlight, model.LayoutSidebar:
	default:
		return model.NewValidationError("layout", "Layout must be grid, spotlight, or sidebar")
	}

	if !hexColorPattern.MatchString(r.PrimaryColor) {
		return model.NewValidationError("primaryColor", "Primary color must be a hex color such as #1890ff")
	}
	if !hexColorPattern.MatchString(r.BackgroundColor) {
		return model.NewValidationError("backgroundColor", "Background color must be a hex color such as #f0f2f5")
	}
	if r.BackgroundType == model.BackgroundImage && r.BackgroundImageURL == "" {
		return model.NewValidationError("backgroundImageUrl", "Please provide a background image URL")
	}
	return nil
}

// checkAsset は画像URLを検証し、設定されていれば到達性も確認する。
func (s *Service) checkAsset(ctx context.Context, field, rawURL string) error {
	check := s.urlGuard.ValidateURL
	if s.probeAssets {
		check = func(u string) error { return s.urlGuard.Probe(ctx, u) }
	}

	err := check(rawURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlockedURL):
		slog.Warn("blocked room asset url",
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
		return model.NewSSRFBlockedError(field)
	default:
		return model.NewInvalidURLError(field, err.Error())
	}
}
