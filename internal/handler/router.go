package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/virtucalls/internal/guard"
	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/session"
)

// errNoClient はクライアントCookieミドルウェアを通っていないリクエストを表す。
var errNoClient = errors.New("request has no client id")

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 横断的な依存
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	Health         Pinger

	// ミドルウェア依存
	CORSAllowedOrigin string
	HSTS              bool
	ClientConfig      middleware.ClientConfig
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Tokens            middleware.TokenSource
	Verifier          middleware.TokenVerifier

	// 認証とセッション
	AuthService AuthServiceInterface
	Profile     SessionProfileInterface

	// 画面
	RoomDomain  string
	PublicRooms PublicRoomFinder

	// データAPI
	Accounts      AccountServiceInterface
	Rooms         RoomServiceInterface
	Plans         PlanCatalog
	Subscriptions SubscriptionServiceInterface
	Transactions  TransactionServiceInterface
	Checkout      CheckoutServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Metrics → Logging → Recovery → SecurityHeaders → CORS → Client → CSRF
//
// データAPI（/api/*）はさらに TokenRelay → BearerAuth → RateLimit(General) を通る。
// 画面はガードがセッションストアを参照して表示・待機・リダイレクトを判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(metrics.Middleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewClientMiddleware(deps.ClientConfig))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService)
	viewHandler := NewViewHandler(deps.AuthService, deps.Plans, deps.PublicRooms, deps.RoomDomain)
	accountHandler := NewAccountHandler(deps.Accounts, deps.Profile)
	roomHandler := NewRoomHandler(deps.Rooms)
	billingHandler := NewBillingHandler(deps.Plans, deps.Subscriptions, deps.Transactions, deps.Profile)
	paymentHandler := NewPaymentHandler(deps.Checkout, deps.Profile)

	g := guard.New(guard.StateSourceFunc(func(req *http.Request) (session.State, error) {
		clientID, ok := middleware.ClientIDFromContext(req.Context())
		if !ok {
			return session.State{}, errNoClient
		}
		return deps.AuthService.Session(req.Context(), clientID)
	}), collector)

	// --- 運用 ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.Health))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/session", authHandler.Session)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.Signup)
		r.Post("/logout", authHandler.Logout)
	})

	// --- 画面 ---
	r.Get("/", viewHandler.Landing)
	r.Get("/login", viewHandler.Login)
	r.Get("/signup", viewHandler.Signup)
	r.Get("/pricing", viewHandler.Pricing)

	r.Group(func(r chi.Router) {
		r.Use(g.Protect())
		r.Get("/dashboard", viewHandler.Dashboard)
		r.Get("/dashboard/account", viewHandler.Account)
		r.Get("/dashboard/room", viewHandler.Room)
		r.Get("/checkout/{planId}", viewHandler.Checkout)
	})
	r.With(g.RequireSubscription()).Get("/dashboard/join", viewHandler.Join)

	// 静的なパスに一致しない1階層のパスはサブドメインのルームとして扱う
	r.Get("/{subdomain}", viewHandler.PublicRoom)

	// --- データAPI ---
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.Get("/pricing", billingHandler.ListPlans)

		// ミドルウェアスタック: TokenRelay → BearerAuth → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewTokenRelayMiddleware(deps.Tokens))
			r.Use(middleware.NewBearerAuthMiddleware(deps.Verifier))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/account", func(r chi.Router) {
				r.Get("/", accountHandler.GetAccount)
				r.Put("/", accountHandler.UpdateAccount)
				r.Post("/provision", accountHandler.RetryProvisioning)
			})

			r.Route("/room", func(r chi.Router) {
				r.Get("/", roomHandler.GetRoom)
				r.Put("/", roomHandler.UpdateRoom)
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", billingHandler.CreateSubscription)
				r.Get("/active", billingHandler.GetActiveSubscription)
				r.Get("/history", billingHandler.GetSubscriptionHistory)
				r.Post("/{id}/cancel", billingHandler.CancelSubscription)
				r.Put("/{id}/autorenew", billingHandler.UpdateAutoRenew)
			})

			r.Get("/transactions", billingHandler.ListTransactions)

			r.Route("/payments", func(r chi.Router) {
				r.Post("/", paymentHandler.StartPayment)
				r.Get("/{checkoutId}/status", paymentHandler.PaymentStatus)
			})
		})
	})

	return r
}
