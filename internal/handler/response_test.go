package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/model"
)

// --- テストヘルパー ---

const testClientID = "2b7e1516-28ae-4d2a-a6d2-abf7158809cf"

// withUser はテスト用にベアラー認証済みのユーザーを注入するヘルパー。
func withUser(r *http.Request, user *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), user))
}

// withClient はテスト用にクライアントIDを注入するヘルパー。
func withClient(r *http.Request, clientID string) *http.Request {
	return r.WithContext(middleware.ContextWithClientID(r.Context(), clientID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func testUser() *model.User {
	return &model.User{
		ID:        "user-123",
		Name:      "Alice",
		Email:     "alice@example.com",
		Subdomain: "alice",
		Token:     "token-abc",
	}
}

// --- テスト ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewAuthenticationError("Invalid login credentials"), http.StatusUnauthorized},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewValidationError("email", "bad"), http.StatusBadRequest},
		{model.NewWeakPasswordError(), http.StatusBadRequest},
		{model.NewInvalidURLError("logoUrl", "bad"), http.StatusBadRequest},
		{model.NewSSRFBlockedError("logoUrl"), http.StatusForbidden},
		{model.NewSubdomainTakenError(), http.StatusConflict},
		{model.NewNetworkError("timeout"), http.StatusBadGateway},
		{model.NewAccountNotFoundError(), http.StatusNotFound},
		{model.NewRoomNotFoundError(), http.StatusNotFound},
		{model.NewPlanNotFoundError("x"), http.StatusNotFound},
		{model.NewSubscriptionNotFoundError("x"), http.StatusNotFound},
		{model.NewCheckoutNotFoundError("x"), http.StatusNotFound},
		{model.NewPaymentFailedError(), http.StatusPaymentRequired},
		{model.NewPaymentPendingError(), http.StatusAccepted},
		{model.NewSessionNotEstablishedError(), http.StatusServiceUnavailable},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("ルーム設定の更新に失敗しました: %w", model.NewSSRFBlockedError("logoUrl")))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeSSRFBlocked {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeSSRFBlocked)
	}
	if body["field"] != "logoUrl" {
		t.Errorf("field = %q, want %q", body["field"], "logoUrl")
	}
}

func TestHandleServiceError_ProvisioningErrorTakesPrecedence(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, &model.ProvisioningError{
		UserID: "user-1",
		Step:   "room",
		Err:    model.NewSubdomainTakenError(),
	})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodePartiallyProvisioned {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodePartiallyProvisioned)
	}
	if body["category"] != model.CategoryAccount {
		t.Errorf("category = %q, want %q", body["category"], model.CategoryAccount)
	}
}

func TestHandleServiceError_InternalErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body["code"], "INTERNAL_ERROR")
	}
	if body["message"] == "pq: connection refused" {
		t.Error("internal error details must not be exposed")
	}
}

func TestDecodeJSON_InvalidBody(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Body = http.NoBody

	var dst map[string]any
	if decodeJSON(w, req, &dst) {
		t.Fatal("decodeJSON() = true, want false")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", body["code"])
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"", "/dashboard"},
		{"/dashboard/room", "/dashboard/room"},
		{"/checkout/pro?x=1", "/checkout/pro?x=1"},
		{"https://evil.example.com", "/dashboard"},
		{"//evil.example.com", "/dashboard"},
		{`/\evil.example.com`, "/dashboard"},
		{"dashboard", "/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := safeRedirect(tt.from, "/dashboard"); got != tt.want {
				t.Errorf("safeRedirect(%q) = %q, want %q", tt.from, got, tt.want)
			}
		})
	}
}
