// Package local はPostgreSQLとbcryptで完結する組み込みIDプロバイダーを提供する。
//
// パスワードハッシュはusersテーブル、クライアントごとのセッションはprovider_sessionsテーブルに保存し、
// アクセストークンはidentity.TokensでHS256署名する。状態変化はEventBusに発行する。
package local

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
)

// プロバイダーが返す拒否メッセージ。画面にそのまま表示される。
var (
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrUserExists         = errors.New("User already registered")
)

// Provider はローカルのIDプロバイダー。
type Provider struct {
	credentials repository.CredentialRepository
	sessions    repository.ProviderSessionRepository
	tokens      *identity.Tokens
	bus         identity.EventBus
	logger      *slog.Logger
	cost        int
	now         func() time.Time
}

// NewProvider はProviderを生成する。
func NewProvider(
	credentials repository.CredentialRepository,
	sessions repository.ProviderSessionRepository,
	tokens *identity.Tokens,
	bus identity.EventBus,
	logger *slog.Logger,
) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		bus:         bus,
		logger:      logger,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// SignIn はパスワードを照合し、新しいセッションを発行する。
func (p *Provider) SignIn(ctx context.Context, clientID, email, password string) (*model.ProviderSession, error) {
	cred, err := p.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, p.storeUnavailable("find credential", err)
	}
	if cred == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return p.startSession(ctx, clientID, providerUserFrom(cred))
}

// SignUp はユーザーを登録し、そのままサインイン状態にする。
func (p *Provider) SignUp(ctx context.Context, clientID, email, password string, metadata map[string]any) (*model.ProviderUser, *model.ProviderSession, error) {
	existing, err := p.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, p.storeUnavailable("find credential", err)
	}
	if existing != nil {
		return nil, nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, nil, err
	}

	now := p.now()
	name, _ := metadata["name"].(string)
	cred := &model.Credential{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, p.storeUnavailable("create credential", err)
	}

	pu := providerUserFrom(cred)
	sess, err := p.startSession(ctx, clientID, pu)
	if err != nil {
		return &pu, nil, err
	}
	return &pu, sess, nil
}

// SignOut はクライアントのセッションを削除し、SIGNED_OUTを発行する。
func (p *Provider) SignOut(ctx context.Context, clientID string) error {
	if err := p.sessions.DeleteByClientID(ctx, clientID); err != nil {
		return p.storeUnavailable("delete session", err)
	}
	p.publish(ctx, model.AuthEvent{Kind: model.AuthEventSignedOut, ClientID: clientID})
	return nil
}

// GetSession はクライアントの有効なセッションを返す。期限切れの場合はnilを返す。
func (p *Provider) GetSession(ctx context.Context, clientID string) (*model.ProviderSession, error) {
	sess, err := p.sessions.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, p.storeUnavailable("find session", err)
	}
	if sess == nil || sess.Expired(p.now()) {
		return nil, nil
	}
	return sess, nil
}

// Subscribe はクライアントの認証状態変化をEventBus経由で購読する。
func (p *Provider) Subscribe(ctx context.Context, clientID string, fn identity.Listener) (identity.Unsubscribe, error) {
	return p.bus.Subscribe(ctx, clientID, fn)
}

func (p *Provider) startSession(ctx context.Context, clientID string, pu model.ProviderUser) (*model.ProviderSession, error) {
	token, expiresAt, err := p.tokens.Issue(pu)
	if err != nil {
		return nil, err
	}

	now := p.now()
	sess := &model.ProviderSession{
		ClientID:     clientID,
		AccessToken:  token,
		RefreshToken: uuid.New().String(),
		ExpiresAt:    expiresAt,
		User:         pu,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.sessions.Upsert(ctx, sess); err != nil {
		return nil, p.storeUnavailable("save session", err)
	}

	p.publish(ctx, model.AuthEvent{Kind: model.AuthEventSignedIn, ClientID: clientID, Session: sess})
	return sess, nil
}

// publish はイベントを発行する。発行の失敗は操作自体の失敗にしない。
func (p *Provider) publish(ctx context.Context, event model.AuthEvent) {
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Warn("failed to publish auth event",
			slog.String("client_id", event.ClientID),
			slog.String("event", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Provider) storeUnavailable(op string, err error) error {
	p.logger.Error("identity store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return model.NewNetworkError("identity store unavailable")
}

func providerUserFrom(cred *model.Credential) model.ProviderUser {
	return model.ProviderUser{
		ID:        cred.ID,
		Email:     cred.Email,
		Metadata:  map[string]any{"name": cred.Name},
		CreatedAt: cred.CreatedAt,
	}
}

// compile-time interface check
var _ identity.Provider = (*Provider)(nil)
