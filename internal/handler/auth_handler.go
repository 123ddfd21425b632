package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/virtucalls/internal/authflow"
	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// ログイン後の既定の遷移先
const (
	dashboardPath = "/dashboard"
	landingPath   = "/"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。authflow.Flowが実装する。
type AuthServiceInterface interface {
	Session(ctx context.Context, clientID string) (session.State, error)
	Login(ctx context.Context, clientID, email, password string) (*model.User, error)
	Signup(ctx context.Context, clientID, name, email, password string) (*authflow.SignupResult, error)
	Logout(ctx context.Context, clientID string) error
}

// AuthHandler はログイン・サインアップ・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	validate *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service:  service,
		validate: validator.New(),
	}
}

// loginRequest はログインリクエストのボディ。Fromはログイン後に戻る遷移先。
type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	From     string `json:"from"`
}

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// authResponse はログイン・サインアップ成功時のレスポンス。
type authResponse struct {
	User                 *model.User `json:"user"`
	Redirect             string      `json:"redirect,omitempty"`
	ConfirmationRequired bool        `json:"confirmationRequired,omitempty"`
}

// Session は現在のセッション状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}

	st, err := h.service.Session(r.Context(), clientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, sessionResponse{
		User:            st.User,
		IsAuthenticated: st.IsAuthenticated,
		IsLoading:       st.IsLoading,
	})
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.check(w, req) {
		return
	}

	user, err := h.service.Login(r.Context(), clientID, req.Email, req.Password)
	if err != nil {
		if model.IsAuthenticationError(err) {
			slog.Info("login rejected by identity provider",
				slog.String("client_id", clientID),
			)
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:     user,
		Redirect: safeRedirect(req.From, dashboardPath),
	})
}

// Signup はユーザーを登録する。
// POST /auth/signup
//
// メール確認が必要な場合は202、アカウントの初期化に失敗した場合は503を返す。
// 後者はIDが作成済みのため、/api/account/provision で初期化だけを再試行できる。
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.check(w, req) {
		return
	}

	res, err := h.service.Signup(r.Context(), clientID, req.Name, req.Email, req.Password)
	if err != nil {
		var provErr *model.ProvisioningError
		if errors.As(err, &provErr) {
			slog.Warn("signup completed with partial provisioning",
				slog.String("client_id", clientID),
				slog.String("user_id", provErr.UserID),
				slog.String("step", provErr.Step),
			)
		}
		handleServiceError(w, err)
		return
	}

	if res.ConfirmationRequired {
		writeJSON(w, http.StatusAccepted, authResponse{
			User:                 res.User,
			ConfirmationRequired: true,
		})
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		User:     res.User,
		Redirect: dashboardPath,
	})
}

// Logout はサインアウトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), clientID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"redirect": landingPath})
}

// check はリクエストを検証し、違反があれば400を書き込みfalseを返す。
func (h *AuthHandler) check(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, identity.ValidationErrorFrom(verrs[0]))
		return false
	}
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("", err.Error()))
	return false
}

// clientIDFrom はクライアントIDを返す。クライアントCookieミドルウェアを通っていない場合は401を書き込む。
func clientIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID, ok := middleware.ClientIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return "", false
	}
	return clientID, true
}

// safeRedirect はアプリ内の相対パスだけを遷移先として許可する。
func safeRedirect(from, fallback string) string {
	if from == "" || !strings.HasPrefix(from, "/") {
		return fallback
	}
	// スキーム相対URLとバックスラッシュによる外部遷移を拒否する
	if strings.HasPrefix(from, "//") || strings.Contains(from, `\`) {
		return fallback
	}
	return from
}
