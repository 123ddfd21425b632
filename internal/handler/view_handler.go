package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// SessionReader はクライアントのセッション状態を返す。authflow.Flowが実装する。
type SessionReader interface {
	Session(ctx context.Context, clientID string) (session.State, error)
}

// PlanCatalog は料金プランの一覧と取得。pricing.Serviceが実装する。
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]model.PricingPlan, error)
	FindPlan(ctx context.Context, planID string) (*model.PricingPlan, error)
}

// PublicRoomFinder はサブドメインから公開ルームを引く。room.Serviceが実装する。
type PublicRoomFinder interface {
	PublicRoom(ctx context.Context, subdomain string) (*model.PublicRoom, error)
}

// ViewHandler は画面ごとの表示データを返すHTTPハンドラー。
// ガード付きの画面はガードのミドルウェアを通過した後に呼ばれる。
type ViewHandler struct {
	sessions   SessionReader
	plans      PlanCatalog
	rooms      PublicRoomFinder
	roomDomain string
}

// NewViewHandler はViewHandlerを生成する。roomDomainはミーティングルームURLのドメイン。
func NewViewHandler(sessions SessionReader, plans PlanCatalog, rooms PublicRoomFinder, roomDomain string) *ViewHandler {
	return &ViewHandler{
		sessions:   sessions,
		plans:      plans,
		rooms:      rooms,
		roomDomain: roomDomain,
	}
}

// viewResponse は画面の表示データ。
type viewResponse struct {
	View string      `json:"view"`
	User *model.User `json:"user,omitempty"`
	Data any         `json:"data,omitempty"`
}

// Landing はトップ画面。
// GET /
func (h *ViewHandler) Landing(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: "landing", User: viewUser(st.User)})
}

// Login はログイン画面。ログイン済みの場合はfromの遷移先へリダイレクトする。
// GET /login
func (h *ViewHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.entry(w, r, "login")
}

// Signup はサインアップ画面。
// GET /signup
func (h *ViewHandler) Signup(w http.ResponseWriter, r *http.Request) {
	h.entry(w, r, "signup")
}

// Pricing は料金プラン画面。
// GET /pricing
func (h *ViewHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View: "pricing",
		User: viewUser(st.User),
		Data: map[string]any{"plans": toPlanResponses(plans)},
	})
}

// Dashboard はダッシュボード画面。
// GET /dashboard
func (h *ViewHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.protected(w, r, "dashboard", nil)
}

// Account はアカウント設定画面。
// GET /dashboard/account
func (h *ViewHandler) Account(w http.ResponseWriter, r *http.Request) {
	h.protected(w, r, "account", map[string]any{
		"subscriptionRequired": r.URL.Query().Get("subscriptionRequired") == "true",
	})
}

// Room はルーム設定画面。
// GET /dashboard/room
func (h *ViewHandler) Room(w http.ResponseWriter, r *http.Request) {
	h.protected(w, r, "room", nil)
}

// Join はミーティングへの参加画面。有料プランの契約者のみ表示される。
// GET /dashboard/join
func (h *ViewHandler) Join(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	if st.User == nil {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View: "join",
		User: viewUser(st.User),
		Data: map[string]any{"roomUrl": h.roomURL(st.User.Subdomain)},
	})
}

// Checkout はプラン購入画面。
// GET /checkout/{planId}
func (h *ViewHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	if st.User == nil {
		writeUnauthorized(w)
		return
	}

	plan, err := h.plans.FindPlan(r.Context(), chi.URLParam(r, "planId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View: "checkout",
		User: viewUser(st.User),
		Data: map[string]any{"plan": toPlanResponse(plan)},
	})
}

// PublicRoom はサブドメインのミーティングルーム画面。ログインは不要。
// GET /{subdomain}
func (h *ViewHandler) PublicRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.PublicRoom(r.Context(), chi.URLParam(r, "subdomain"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View: "meeting-room",
		Data: publicRoomResponse{
			Subdomain: room.Subdomain,
			OwnerName: room.OwnerName,
			Settings:  toRoomResponse(room.Settings),
		},
	})
}

// entry はログイン・サインアップ画面を返す。ログイン済みなら元の遷移先へ戻す。
func (h *ViewHandler) entry(w http.ResponseWriter, r *http.Request, view string) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	from := r.URL.Query().Get("from")
	if st.IsAuthenticated {
		http.Redirect(w, r, safeRedirect(from, dashboardPath), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View: view,
		Data: map[string]any{"from": safeRedirect(from, "")},
	})
}

// protected はガード通過後の画面を返す。
func (h *ViewHandler) protected(w http.ResponseWriter, r *http.Request, view string, data any) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	if st.User == nil {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{View: view, User: viewUser(st.User), Data: data})
}

// state はリクエストのクライアントのセッション状態を返す。
func (h *ViewHandler) state(w http.ResponseWriter, r *http.Request) (session.State, bool) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return session.State{}, false
	}
	st, err := h.sessions.Session(r.Context(), clientID)
	if err != nil {
		handleServiceError(w, err)
		return session.State{}, false
	}
	return st, true
}

func (h *ViewHandler) roomURL(subdomain string) string {
	if subdomain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.%s", subdomain, h.roomDomain)
}
