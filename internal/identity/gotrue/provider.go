// Package gotrue はSupabase Auth（GoTrue）のREST APIをIDプロバイダーとして使う。
//
// GoTrueはステートレスなトークンを返すだけなので、クライアントごとのセッションは
// provider_sessionsテーブルに保存し、状態変化はEventBusに発行する。
package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/repository"
)

// Config はGoTrueへの接続設定。
type Config struct {
	BaseURL string // 例: https://<project>.supabase.co/auth/v1
	AnonKey string
	Timeout time.Duration
}

// Provider はGoTrueを使うIDプロバイダー。
type Provider struct {
	client   *resty.Client
	sessions repository.ProviderSessionRepository
	bus      identity.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvider はProviderを生成する。
func NewProvider(cfg Config, sessions repository.ProviderSessionRepository, bus identity.EventBus, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("apikey", cfg.AnonKey).
		SetAuthToken(cfg.AnonKey).
		SetTimeout(timeout)

	return &Provider{
		client:   c,
		sessions: sessions,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// tokenResponse は/tokenと/signupが返すセッション。
// メール確認が必要な構成の/signupはユーザーオブジェクトだけを返すため、そのフィールドも持つ。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`

	userResponse
}

// errorResponse はGoTrueのエラーボディ。バージョンによってフィールド名が異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	case e.Message != "":
		return e.Message
	default:
		return e.Error
	}
}

// RejectedError はGoTrueが要求を拒否したことを表す。Errorはプロバイダーのメッセージを返す。
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// SignIn はパスワードグラントでトークンを取得し、セッションを保存する。
func (p *Provider) SignIn(ctx context.Context, clientID, email, password string) (*model.ProviderSession, error) {
	var tr tokenResponse
	err := p.post(ctx, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &tr)
	if err != nil {
		return nil, err
	}

	sess := p.sessionFrom(clientID, &tr)
	if err := p.save(ctx, sess, model.AuthEventSignedIn); err != nil {
		return nil, err
	}
	return sess, nil
}

// SignUp はユーザーを登録する。メール確認待ちの場合はセッションなしでユーザーだけを返す。
func (p *Provider) SignUp(ctx context.Context, clientID, email, password string, metadata map[string]any) (*model.ProviderUser, *model.ProviderSession, error) {
	var tr tokenResponse
	err := p.post(ctx, "/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}, &tr)
	if err != nil {
		return nil, nil, err
	}

	if tr.AccessToken == "" {
		pu := providerUser(&tr.userResponse)
		return &pu, nil, nil
	}

	sess := p.sessionFrom(clientID, &tr)
	if err := p.save(ctx, sess, model.AuthEventSignedIn); err != nil {
		return &sess.User, nil, err
	}
	return &sess.User, sess, nil
}

// SignOut はGoTrue上のセッションを失効させ、保存済みのセッションを削除する。
// 既に失効しているトークンは成功として扱う。
func (p *Provider) SignOut(ctx context.Context, clientID string) error {
	sess, err := p.sessions.FindByClientID(ctx, clientID)
	if err != nil {
		return p.storeUnavailable("find session", err)
	}

	if sess != nil {
		err := p.post(ctx, "/logout", sess.AccessToken, nil, nil)
		var rejected *RejectedError
		if err != nil && !(errors.As(err, &rejected) && (rejected.Status == http.StatusUnauthorized || rejected.Status == http.StatusNotFound)) {
			return err
		}
	}

	if err := p.sessions.DeleteByClientID(ctx, clientID); err != nil {
		return p.storeUnavailable("delete session", err)
	}
	p.publish(ctx, model.AuthEvent{Kind: model.AuthEventSignedOut, ClientID: clientID})
	return nil
}

// GetSession は保存済みのセッションを返す。期限切れの場合はリフレッシュトークンで更新し、
// TOKEN_REFRESHEDを発行する。更新が拒否された場合はセッションを破棄してnilを返す。
func (p *Provider) GetSession(ctx context.Context, clientID string) (*model.ProviderSession, error) {
	sess, err := p.sessions.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, p.storeUnavailable("find session", err)
	}
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(p.now()) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		return nil, p.drop(ctx, clientID)
	}

	var tr tokenResponse
	err = p.post(ctx, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": sess.RefreshToken,
	}, &tr)
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		p.logger.Info("refresh token rejected, dropping session",
			slog.String("client_id", clientID),
			slog.String("reason", rejected.Message),
		)
		return nil, p.drop(ctx, clientID)
	}
	if err != nil {
		return nil, err
	}

	refreshed := p.sessionFrom(clientID, &tr)
	refreshed.CreatedAt = sess.CreatedAt
	if err := p.save(ctx, refreshed, model.AuthEventTokenRefreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Subscribe はクライアントの認証状態変化をEventBus経由で購読する。
func (p *Provider) Subscribe(ctx context.Context, clientID string, fn identity.Listener) (identity.Unsubscribe, error) {
	return p.bus.Subscribe(ctx, clientID, fn)
}

// post はGoTrueにJSONをPOSTする。accessTokenが空の場合は匿名キーで認証する。
func (p *Provider) post(ctx context.Context, path, accessToken string, body, out any) error {
	req := p.client.R().SetContext(ctx)
	if accessToken != "" {
		req.SetAuthToken(accessToken)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post(path)
	if err != nil {
		p.logger.Warn("identity provider request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewNetworkError("identity provider unreachable")
	}

	if resp.IsError() {
		var er errorResponse
		_ = json.Unmarshal(resp.Body(), &er)
		msg := er.text()
		if msg == "" {
			msg = fmt.Sprintf("identity provider returned status %d", resp.StatusCode())
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return model.NewNetworkError(msg)
		}
		return &RejectedError{Status: resp.StatusCode(), Message: msg}
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode identity provider response: %w", err)
		}
	}
	return nil
}

func (p *Provider) sessionFrom(clientID string, tr *tokenResponse) *model.ProviderSession {
	now := p.now()
	expiresAt := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.ExpiresAt > 0 {
		expiresAt = time.Unix(tr.ExpiresAt, 0)
	}

	u := tr.User
	if u == nil {
		u = &tr.userResponse
	}
	return &model.ProviderSession{
		ClientID:     clientID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         providerUser(u),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (p *Provider) save(ctx context.Context, sess *model.ProviderSession, kind model.AuthEventKind) error {
	if err := p.sessions.Upsert(ctx, sess); err != nil {
		return p.storeUnavailable("save session", err)
	}
	p.publish(ctx, model.AuthEvent{Kind: kind, ClientID: sess.ClientID, Session: sess})
	return nil
}

func (p *Provider) drop(ctx context.Context, clientID string) error {
	if err := p.sessions.DeleteByClientID(ctx, clientID); err != nil {
		return p.storeUnavailable("delete session", err)
	}
	p.publish(ctx, model.AuthEvent{Kind: model.AuthEventSignedOut, ClientID: clientID})
	return nil
}

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
	p.logger.Error("session store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return model.NewNetworkError("session store unavailable")
}

func providerUser(u *userResponse) model.ProviderUser {
	return model.ProviderUser{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  u.UserMetadata,
		CreatedAt: u.CreatedAt,
	}
}

// compile-time interface check
var _ identity.Provider = (*Provider)(nil)
