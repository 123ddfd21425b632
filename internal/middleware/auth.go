package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

var userContextKey = contextKey("user")

// TokenVerifier はアクセストークンを検証する。identity.Tokensが実装する。
type TokenVerifier interface {
	Verify(raw string) (*identity.Claims, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			raw, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. トークンを検証
			claims, err := verifier.Verify(raw)
			if err != nil {
				slog.Warn("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			if s, ok := w.(userIDSetter); ok {
				s.setUserID(claims.Subject)
			}
			email := identity.NormalizeEmail(claims.Email)
			user := &model.User{
				ID:        claims.Subject,
				Email:     email,
				Name:      claimName(claims),
				Subdomain: identity.SubdomainFromEmail(email),
				Token:     raw,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// TokenSource はクライアントに永続化されたトークンを引く。session.Persisterが実装する。
type TokenSource interface {
	Load(ctx context.Context, clientID string) (*session.Blob, error)
}

// NewTokenRelayMiddleware はAuthorizationヘッダーのないブラウザリクエストに、
// クライアントに保存されたアクセストークンをBearerトークンとして付与する。
// クライアントミドルウェアの後に配置する。
func NewTokenRelayMiddleware(tokens TokenSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bearerToken(r); ok {
				next.ServeHTTP(w, r)
				return
			}
			clientID, ok := ClientIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			blob, err := tokens.Load(r.Context(), clientID)
			if err != nil {
				slog.Warn("failed to load persisted token",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
			}
			if blob != nil && blob.Token != "" {
				r = r.Clone(r.Context())
				r.Header.Set("Authorization", "Bearer "+blob.Token)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// Bearer認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil || user.ID == "" {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// ContextWithUserID はユーザーIDだけを持つユーザーをコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithUser(ctx, &model.User{ID: userID})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

func claimName(claims *identity.Claims) string {
	if claims.UserMetadata != nil {
		if name, ok := claims.UserMetadata["name"].(string); ok {
			if name = identity.SanitizeName(name); name != "" {
				return name
			}
		}
	}
	return model.DefaultUserName
}
