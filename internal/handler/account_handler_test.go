package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/virtucalls/internal/account"
	"github.com/hitoshi/virtucalls/internal/model"
)

// --- モック定義 ---

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	getFn    func(ctx context.Context, userID string) (*model.AccountSettings, error)
	updateFn func(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error)
}

func (m *mockAccountService) Get(ctx context.Context, userID string) (*model.AccountSettings, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, model.NewAccountNotFoundError()
}

func (m *mockAccountService) Update(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, in)
	}
	return nil, nil
}

// mockRoomService はRoomServiceInterfaceのモック実装。
type mockRoomService struct {
	getFn    func(ctx context.Context, userID string) (*model.RoomSettings, error)
	updateFn func(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error)
}

func (m *mockRoomService) Get(ctx context.Context, userID string) (*model.RoomSettings, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, model.NewRoomNotFoundError()
}

func (m *mockRoomService) Update(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, patch)
	}
	return nil, nil
}

func aliceAccount() *model.AccountSettings {
	return &model.AccountSettings{
		ID:              "acc-1",
		UserID:          "user-123",
		Name:            "Alice",
		Email:           "alice@example.com",
		Subdomain:       "alice",
		BillingCurrency: "USD",
		UpdatedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- /api/account テスト ---

func TestAccountHandler_GetAccount(t *testing.T) {
	svc := &mockAccountService{
		getFn: func(ctx context.Context, userID string) (*model.AccountSettings, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			return aliceAccount(), nil
		},
	}
	h := NewAccountHandler(svc, &mockAuthService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/account", nil), testUser())
	w := httptest.NewRecorder()
	h.GetAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body accountResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Subdomain != "alice" || body.BillingCurrency != "USD" {
		t.Errorf("body = %+v", body)
	}
}

func TestAccountHandler_GetAccount_Unauthorized(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{}, &mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	w := httptest.NewRecorder()
	h.GetAccount(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAccountHandler_UpdateAccount_MergesIntoSession(t *testing.T) {
	svc := &mockAccountService{
		updateFn: func(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error) {
			if in.Subdomain != "wonderland" {
				t.Errorf("Subdomain = %q, want %q", in.Subdomain, "wonderland")
			}
			a := aliceAccount()
			a.Subdomain = in.Subdomain
			return a, nil
		},
	}
	var gotPatch model.UserPatch
	profile := &mockAuthService{
		updateUserFn: func(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, error) {
			if clientID != testClientID {
				t.Errorf("clientID = %q, want %q", clientID, testClientID)
			}
			gotPatch = patch
			return testUser(), nil
		},
	}
	h := NewAccountHandler(svc, profile)

	req := httptest.NewRequest(http.MethodPut, "/api/account",
		strings.NewReader(`{"name":"Alice","email":"alice@example.com","subdomain":"wonderland"}`))
	req = withClient(withUser(req, testUser()), testClientID)
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPatch.Subdomain == nil || *gotPatch.Subdomain != "wonderland" {
		t.Errorf("session patch subdomain = %v, want wonderland", gotPatch.Subdomain)
	}
	if gotPatch.IsSubscribed != nil {
		t.Error("account update must not touch isSubscribed")
	}
}

func TestAccountHandler_UpdateAccount_WithoutSessionStillSucceeds(t *testing.T) {
	svc := &mockAccountService{
		updateFn: func(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error) {
			return aliceAccount(), nil
		},
	}
	h := NewAccountHandler(svc, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPut, "/api/account",
		strings.NewReader(`{"name":"Alice","email":"alice@example.com","subdomain":"alice"}`))
	req = withClient(withUser(req, testUser()), testClientID)
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAccountHandler_UpdateAccount_SubdomainTaken(t *testing.T) {
	svc := &mockAccountService{
		updateFn: func(ctx context.Context, userID string, in account.UpdateInput) (*model.AccountSettings, error) {
			return nil, model.NewSubdomainTakenError()
		},
	}
	h := NewAccountHandler(svc, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPut, "/api/account",
		strings.NewReader(`{"name":"Alice","email":"alice@example.com","subdomain":"bob"}`))
	req = withUser(req, testUser())
	w := httptest.NewRecorder()
	h.UpdateAccount(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := parseAPIErrorResponse(t, w); body["field"] != "subdomain" {
		t.Errorf("field = %q, want subdomain", body["field"])
	}
}

func TestAccountHandler_RetryProvisioning(t *testing.T) {
	t.Run("success returns the account", func(t *testing.T) {
		var retried *model.User
		profile := &mockAuthService{
			retryFn: func(ctx context.Context, user *model.User) error {
				retried = user
				return nil
			},
		}
		svc := &mockAccountService{
			getFn: func(ctx context.Context, userID string) (*model.AccountSettings, error) {
				return aliceAccount(), nil
			},
		}
		h := NewAccountHandler(svc, profile)

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/account/provision", nil), testUser())
		w := httptest.NewRecorder()
		h.RetryProvisioning(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if retried == nil || retried.Email != "alice@example.com" {
			t.Errorf("retried user = %+v", retried)
		}
	})

	t.Run("still failing", func(t *testing.T) {
		profile := &mockAuthService{
			retryFn: func(ctx context.Context, user *model.User) error {
				return &model.ProvisioningError{UserID: user.ID, Step: "room", Err: errors.New("db down")}
			},
		}
		h := NewAccountHandler(&mockAccountService{}, profile)

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/account/provision", nil), testUser())
		w := httptest.NewRecorder()
		h.RetryProvisioning(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// --- /api/room テスト ---

func TestRoomHandler_UpdateRoom_ConvertsPatch(t *testing.T) {
	svc := &mockRoomService{
		updateFn: func(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error) {
			if patch.Title == nil || *patch.Title != "Team Standup" {
				t.Errorf("Title = %v, want Team Standup", patch.Title)
			}
			if patch.Theme == nil || *patch.Theme != model.ThemeDark {
				t.Errorf("Theme = %v, want dark", patch.Theme)
			}
			if patch.Layout != nil || patch.LogoURL != nil {
				t.Error("omitted fields must stay nil")
			}
			r := model.DefaultRoomSettings(userID)
			r.Apply(patch)
			return r, nil
		},
	}
	h := NewRoomHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/room", strings.NewReader(`{"title":"Team Standup","theme":"dark"}`))
	req = withUser(req, testUser())
	w := httptest.NewRecorder()
	h.UpdateRoom(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body roomResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Title != "Team Standup" || body.Theme != "dark" || body.Layout != "grid" {
		t.Errorf("body = %+v", body)
	}
}

func TestRoomHandler_UpdateRoom_BlockedAsset(t *testing.T) {
	svc := &mockRoomService{
		updateFn: func(ctx context.Context, userID string, patch model.RoomSettingsPatch) (*model.RoomSettings, error) {
			return nil, model.NewSSRFBlockedError("logoUrl")
		},
	}
	h := NewRoomHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/room", strings.NewReader(`{"logoUrl":"http://169.254.169.254/logo.png"}`))
	req = withUser(req, testUser())
	w := httptest.NewRecorder()
	h.UpdateRoom(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRoomHandler_GetRoom_NotFound(t *testing.T) {
	h := NewRoomHandler(&mockRoomService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/room", nil), testUser())
	w := httptest.NewRecorder()
	h.GetRoom(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
