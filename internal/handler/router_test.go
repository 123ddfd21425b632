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

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// routerFixture はテスト用のルーターと依存を保持する。
type routerFixture struct {
	router    http.Handler
	tokens    *identity.Tokens
	persister *session.MemoryPersister
	state     session.State
	pinger    *mockPinger
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	f := &routerFixture{
		tokens:    identity.NewTokens("router-test-secret", "virtucalls-test", time.Hour),
		persister: session.NewMemoryPersister(),
		pinger:    &mockPinger{},
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	auth := &mockAuthService{
		sessionFn: func(ctx context.Context, clientID string) (session.State, error) {
			return f.state, nil
		},
		loginFn: func(ctx context.Context, clientID, email, password string) (*model.User, error) {
			return testUser(), nil
		},
	}
	accounts := &mockAccountService{
		getFn: func(ctx context.Context, userID string) (*model.AccountSettings, error) {
			a := aliceAccount()
			a.UserID = userID
			return a, nil
		},
	}
	rooms := &mockRoomService{
		getFn: func(ctx context.Context, userID string) (*model.RoomSettings, error) {
			return model.DefaultRoomSettings(userID), nil
		},
	}
	publicRooms := &mockPublicRooms{
		publicRoomFn: func(ctx context.Context, subdomain string) (*model.PublicRoom, error) {
			if subdomain != "alice" {
				return nil, model.NewRoomNotFoundError()
			}
			return &model.PublicRoom{Subdomain: "alice", OwnerName: "Alice", Settings: model.DefaultRoomSettings("user-123")}, nil
		},
	}

	f.router = NewRouter(&RouterDeps{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		Health:        f.pinger,
		RateLimiter:   rl,
		Tokens:        f.persister,
		Verifier:      f.tokens,
		AuthService:   auth,
		Profile:       auth,
		RoomDomain:    "virtucalls.test",
		PublicRooms:   publicRooms,
		Accounts:      accounts,
		Rooms:         rooms,
		Plans:         &mockPlanCatalog{},
		Subscriptions: &mockSubscriptionService{},
		Transactions:  &mockTransactionService{},
		Checkout:      &mockCheckoutService{},
	})
	return f
}

// do はクライアントCookieを付けてリクエストを送る。
func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookieName, Value: testClientID})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) issue(t *testing.T, userID, email string) string {
	t.Helper()
	token, _, err := f.tokens.Issue(model.ProviderUser{ID: userID, Email: email})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	f.pinger.err = errors.New("db down")
	w = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsAndSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_GuardedViews(t *testing.T) {
	subscribed := testUser()
	subscribed.IsSubscribed = true

	tests := []struct {
		name         string
		state        session.State
		path         string
		wantStatus   int
		wantLocation string
	}{
		{
			name:         "anonymous dashboard redirects to login with from",
			state:        session.State{},
			path:         "/dashboard",
			wantStatus:   http.StatusFound,
			wantLocation: "/login?from=%2Fdashboard",
		},
		{
			name:         "anonymous checkout keeps plan in from",
			state:        session.State{},
			path:         "/checkout/pro",
			wantStatus:   http.StatusFound,
			wantLocation: "/login?from=%2Fcheckout%2Fpro",
		},
		{
			name:       "loading renders waiting body",
			state:      session.State{IsLoading: true},
			path:       "/dashboard/room",
			wantStatus: http.StatusOK,
		},
		{
			name:         "join without subscription redirects to account",
			state:        authenticatedState(testUser()),
			path:         "/dashboard/join",
			wantStatus:   http.StatusFound,
			wantLocation: "/dashboard/account?subscriptionRequired=true",
		},
		{
			name:       "join with subscription renders",
			state:      authenticatedState(subscribed),
			path:       "/dashboard/join",
			wantStatus: http.StatusOK,
		},
		{
			name:       "public room needs no session",
			state:      session.State{},
			path:       "/alice",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.state = tt.state

			w := f.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantLocation != "" {
				if loc := w.Header().Get("Location"); loc != tt.wantLocation {
					t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
				}
			}
		})
	}
}

func TestRouter_LoadingViewDoesNotRedirect(t *testing.T) {
	f := newRouterFixture(t)
	f.state = session.State{IsLoading: true}

	w := f.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "loading" {
		t.Errorf("status = %q, want loading", body["status"])
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
}

func TestRouter_DataAPIRequiresToken(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/account", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 料金プランはログイン不要
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
	if w.Code != http.StatusOK {
		t.Errorf("pricing status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_DataAPIWithBearerToken(t *testing.T) {
	f := newRouterFixture(t)
	token := f.issue(t, "user-bearer", "bearer@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := f.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body accountResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.UserID != "user-bearer" {
		t.Errorf("userId = %q, want %q", body.UserID, "user-bearer")
	}
}

func TestRouter_CookieOnlyRequestUsesRelayedToken(t *testing.T) {
	f := newRouterFixture(t)
	token := f.issue(t, "user-relay", "relay@example.com")
	if err := f.persister.Save(t.Context(), testClientID, session.Blob{User: &model.User{ID: "user-relay"}, Token: token}); err != nil {
		t.Fatal(err)
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/room", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_LoginRequiresCSRFToken(t *testing.T) {
	f := newRouterFixture(t)
	body := `{"email":"alice@example.com","password":"secret123"}`

	w := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status without csrf = %d, want %d", w.Code, http.StatusForbidden)
	}

	// CSRFトークンを取得して再送する
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	var tokenBody struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&tokenBody); err != nil || tokenBody.Token == "" {
		t.Fatalf("csrf token response: %v / %q", err, tokenBody.Token)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: tokenBody.Token})
	req.Header.Set("X-CSRF-Token", tokenBody.Token)
	w = f.do(req)

	if w.Code != http.StatusOK {
		t.Errorf("status with csrf = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_ClientCookieIssued(t *testing.T) {
	f := newRouterFixture(t)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.ClientCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("client cookie should be issued to a new browser")
	}
}
