package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/virtucalls/internal/account"
	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.AccountSettings, error)
	Update(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error)
}

// SessionProfileInterface はセッション内ユーザーの更新と初期化の再試行。authflow.Flowが実装する。
type SessionProfileInterface interface {
	UpdateUser(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, error)
	RetryProvisioning(ctx context.Context, user *model.User) error
}

// AccountHandler はアカウント設定のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
	profile SessionProfileInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, profile SessionProfileInterface) *AccountHandler {
	return &AccountHandler{
		service: service,
		profile: profile,
	}
}

// GetAccount はアカウント設定を返す。
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	a, err := h.service.Get(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// UpdateAccount はアカウント設定を更新し、セッション内のユーザーにも反映する。
// PUT /api/account
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var in account.UpdateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	a, err := h.service.Update(r.Context(), user.ID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 表示名・メールアドレス・サブドメインをセッションに浅くマージする
	if clientID, ok := middleware.ClientIDFromContext(r.Context()); ok {
		patch := model.UserPatch{Name: &a.Name, Email: &a.Email, Subdomain: &a.Subdomain}
		if _, err := h.profile.UpdateUser(r.Context(), clientID, patch); err != nil {
			slog.Debug("account updated without a mounted session",
				slog.String("client_id", clientID),
				slog.String("user_id", user.ID),
			)
		}
	}

	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// RetryProvisioning はサインアップ時に失敗したアカウント設定とルーム設定の初期化を再試行する。
// POST /api/account/provision
func (h *AccountHandler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.profile.RetryProvisioning(r.Context(), user); err != nil {
		handleServiceError(w, err)
		return
	}

	a, err := h.service.Get(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// RoomServiceInterface はルームハンドラーが必要とするサービスインターフェース。
type RoomServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.RoomSettings, error)
	Update(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error)
}

// RoomHandler はルーム設定のHTTPハンドラー。
type RoomHandler struct {
	service RoomServiceInterface
}

// NewRoomHandler はRoomHandlerを生成する。
func NewRoomHandler(service RoomServiceInterface) *RoomHandler {
	return &RoomHandler{service: service}
}

// GetRoom はルーム設定を返す。
// GET /api/room
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	room, err := h.service.Get(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(room))
}

// UpdateRoom はルーム設定を部分更新する。
// PUT /api/room
func (h *RoomHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req roomUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	room, err := h.service.Update(r.Context(), user.ID, req.toPatch())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(room))
}
