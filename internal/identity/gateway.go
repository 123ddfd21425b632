package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/virtucalls/internal/model"
)

// credentialsInput はログイン・サインアップ入力の検証ルール。
type credentialsInput struct {
	Name     string `validate:"max=100"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required"`
}

// Gateway はIDプロバイダーへの単一の統合点。
// 入力の正規化とエラーの分類を行い、セッションストアには触れない。
type Gateway struct {
	provider    Provider
	provisioner Provisioner
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewGateway はGatewayを生成する。
func NewGateway(provider Provider, provisioner Provisioner, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider:    provider,
		provisioner: provisioner,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Login はメールアドレスとパスワードでサインインする。
// メールアドレスはトリムと小文字化を行い、パスワードはそのまま渡す。
// プロバイダーが拒否した場合はプロバイダーのメッセージを持つAuthenticationErrorを返す。
func (g *Gateway) Login(ctx context.Context, clientID, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if err := g.check(credentialsInput{Email: email, Password: password}); err != nil {
		return nil, err
	}

	sess, err := g.provider.SignIn(ctx, clientID, email, password)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return NormalizeUser(sess), nil
}

// Signup はユーザーを登録し、アカウント設定とルーム設定を初期化する。
// パスワード長はプロバイダー呼び出し前に検証する。
// 補助レコードの初期化に失敗した場合、作成済みのユーザーと*model.ProvisioningErrorを返す。
func (g *Gateway) Signup(ctx context.Context, clientID, name, email, password string) (*model.User, error) {
	// 1. 入力の正規化と検証
	name = SanitizeName(name)
	email = NormalizeEmail(email)
	if utf8.RuneCountInString(password) < model.PasswordMinLength {
		return nil, model.NewWeakPasswordError()
	}
	if err := g.check(credentialsInput{Name: name, Email: email, Password: password}); err != nil {
		return nil, err
	}

	// 2. プロバイダーにユーザーを登録
	pu, sess, err := g.provider.SignUp(ctx, clientID, email, password, map[string]any{"name": name})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	user := NormalizeUser(sess)
	if user == nil {
		user = normalizeProviderUser(*pu)
	}

	// 3. 補助レコードの初期化（失敗はプロビジョニングエラーとして返す）
	if err := g.provisioner.Provision(ctx, pu.ID, name, email); err != nil {
		g.logger.Error("account provisioning failed after signup",
			slog.String("user_id", pu.ID),
			slog.String("error", err.Error()),
		)
		var provErr *model.ProvisioningError
		if !errors.As(err, &provErr) {
			provErr = &model.ProvisioningError{UserID: pu.ID, Email: email, Step: "unknown", Err: err}
		}
		return user, provErr
	}

	return user, nil
}

// RetryProvisioning はサインアップ時に失敗した補助レコードの初期化を再試行する。
func (g *Gateway) RetryProvisioning(ctx context.Context, userID, name, email string) error {
	if err := g.provisioner.Provision(ctx, userID, SanitizeName(name), NormalizeEmail(email)); err != nil {
		return fmt.Errorf("retry provisioning: %w", err)
	}
	return nil
}

// Logout はプロバイダーのセッションを破棄する。
func (g *Gateway) Logout(ctx context.Context, clientID string) error {
	if err := g.provider.SignOut(ctx, clientID); err != nil {
		return classifyProviderError(err)
	}
	return nil
}

// check はvalidatorタグで入力を検証し、最初の違反をValidationErrorに変換する。
func (g *Gateway) check(in credentialsInput) error {
	err := g.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return ValidationErrorFrom(verrs[0])
	}
	return model.NewValidationError("", err.Error())
}

// ValidationErrorFrom はvalidatorのフィールドエラーを表示用のValidationErrorに変換する。
func ValidationErrorFrom(fe validator.FieldError) *model.APIError {
	field := lowerFirst(fe.Field())
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "email":
		msg = "Please enter a valid email address"
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", field)
	}
	return model.NewValidationError(field, msg)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

// classifyProviderError はプロバイダーのエラーを分類する。
// 通信エラーとAPIErrorはそのまま、それ以外はAuthenticationErrorとして扱う。
func classifyProviderError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewAuthenticationError(err.Error())
}
