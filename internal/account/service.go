// Package account はアカウント設定のドメインロジックを提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/net/idna"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
)

// サブドメインの制約
const (
	SubdomainMinLength = 3
	SubdomainMaxLength = 20
)

// DefaultBillingCurrency は請求通貨の既定値。
const DefaultBillingCurrency = "USD"

// createInitialAttempts はサブドメインの衝突時に接尾辞を変えて作成を試みる回数。
const createInitialAttempts = 5

var subdomainPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// 既定サブドメインに使えない文字
var subdomainInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)

// UpdateInput はアカウント設定の更新内容。
type UpdateInput struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Subdomain       string `json:"subdomain" validate:"required"`
	BillingCurrency string `json:"billingCurrency" validate:"omitempty,len=3,alpha"`
}

// Service はアカウント設定のサービス層。
type Service struct {
	repo     repository.AccountSettingsRepository
	validate *validator.Validate
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.AccountSettingsRepository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Get はユーザーのアカウント設定を返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.AccountSettings, error) {
	a, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アカウント設定の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError()
	}
	return a, nil
}

// Update はアカウント設定を検証して更新する。サブドメインが使用済みの場合はSUBDOMAIN_TAKENを返す。
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (*model.AccountSettings, error) {
	// 1. 入力の正規化と検証
	in.Name = identity.SanitizeName(in.Name)
	in.Email = identity.NormalizeEmail(in.Email)
	in.Subdomain = strings.TrimSpace(in.Subdomain)
	in.BillingCurrency = strings.ToUpper(strings.TrimSpace(in.BillingCurrency))

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, identity.ValidationErrorFrom(verrs[0])
		}
		return nil, model.NewValidationError("", err.Error())
	}
	if err := ValidateSubdomain(in.Subdomain); err != nil {
		return nil, err
	}

	// 2. 現在の設定を取得
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. 他のユーザーが使用中のサブドメインは拒否
	if in.Subdomain != current.Subdomain {
		owner, err := s.repo.FindBySubdomain(ctx, in.Subdomain)
		if err != nil {
			return nil, fmt.Errorf("サブドメインの確認に失敗しました: %w", err)
		}
		if owner != nil && owner.UserID != userID {
			return nil, model.NewSubdomainTakenError()
		}
	}

	updated := *current
	updated.Name = in.Name
	updated.Email = in.Email
	updated.Subdomain = in.Subdomain
	if in.BillingCurrency != "" {
		updated.BillingCurrency = in.BillingCurrency
	}
	updated.UpdatedAt = s.now()

	// 確認と更新の間に取られた場合は一意制約で検出する
	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewSubdomainTakenError()
		}
		return nil, fmt.Errorf("アカウント設定の更新に失敗しました: %w", err)
	}
	return &updated, nil
}

// CreateInitial はサインアップ直後のアカウント設定を作成する。
// 既に存在する場合は既存の設定を返す。サブドメインはメールアドレスから導出し、
// 使用済みの場合は接尾辞を付けて再試行する。
func (s *Service) CreateInitial(ctx context.Context, userID, name, email string) (*model.AccountSettings, error) {
	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アカウント設定の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	if name == "" {
		name = model.DefaultUserName
	}
	base := DefaultSubdomain(email)
	now := s.now()

	for attempt := 0; attempt < createInitialAttempts; attempt++ {
		a := &model.AccountSettings{
			ID:              uuid.New().String(),
			UserID:          userID,
			Name:            name,
			Email:           email,
			Subdomain:       withSuffix(base, attempt),
			BillingCurrency: DefaultBillingCurrency,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err := s.repo.Create(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("アカウント設定の作成に失敗しました: %w", err)
		}

		// 同時に作成された場合はユーザー側の重複
		existing, findErr := s.repo.FindByUserID(ctx, userID)
		if findErr != nil {
			return nil, fmt.Errorf("アカウント設定の取得に失敗しました: %w", findErr)
		}
		if existing != nil {
			return existing, nil
		}
	}

	// サブドメインなしで作成し、ユーザーに設定してもらう
	a := &model.AccountSettings{
		ID:              uuid.New().String(),
		UserID:          userID,
		Name:            name,
		Email:           email,
		BillingCurrency: DefaultBillingCurrency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("アカウント設定の作成に失敗しました: %w", err)
	}
	return a, nil
}

// FindBySubdomain はサブドメインの所有者のアカウント設定を返す。
func (s *Service) FindBySubdomain(ctx context.Context, subdomain string) (*model.AccountSettings, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if ValidateSubdomain(subdomain) != nil {
		return nil, model.NewRoomNotFoundError()
	}
	a, err := s.repo.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, fmt.Errorf("サブドメインの検索に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewRoomNotFoundError()
	}
	return a, nil
}

// SubdomainFor はユーザーのアカウント設定に保存されたサブドメインを返す。
// 設定がない場合は空文字を返す。
func (s *Service) SubdomainFor(ctx context.Context, userID string) (string, error) {
	a, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", nil
	}
	return a.Subdomain, nil
}

// ValidateSubdomain はサブドメインがDNSラベルとして有効で、表示ルールを満たすかを検証する。
func ValidateSubdomain(sub string) error {
	if sub == "" {
		return model.NewValidationError("subdomain", "Please enter a subdomain")
	}
	if !subdomainPattern.MatchString(sub) {
		return model.NewValidationError("subdomain", "Subdomain can only contain lowercase letters, numbers, and hyphens")
	}
	if len(sub) < SubdomainMinLength || len(sub) > SubdomainMaxLength {
		return model.NewValidationError("subdomain",
			fmt.Sprintf("Subdomain must be between %d-%d characters", SubdomainMinLength, SubdomainMaxLength))
	}
	if strings.HasPrefix(sub, "-") || strings.HasSuffix(sub, "-") {
		return model.NewValidationError("subdomain", "Subdomain cannot start or end with a hyphen")
	}
	if _, err := idna.Registration.ToASCII(sub); err != nil {
		return model.NewValidationError("subdomain", "Subdomain is not a valid host label")
	}
	return nil
}

// DefaultSubdomain はメールアドレスのローカル部から使用可能なサブドメインを導出する。
func DefaultSubdomain(email string) string {
	local := strings.ToLower(identity.SubdomainFromEmail(email))
	sub := subdomainInvalidChars.ReplaceAllString(local, "-")
	sub = strings.Trim(sub, "-")
	if len(sub) > SubdomainMaxLength-3 {
		sub = strings.TrimRight(sub[:SubdomainMaxLength-3], "-")
	}
	for len(sub) < SubdomainMinLength {
		sub += "0"
	}
	return sub
}

func withSuffix(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt+1)
}
