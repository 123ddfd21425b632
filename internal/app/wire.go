package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/virtucalls/internal/account"
	"github.com/hitoshi/virtucalls/internal/authflow"
	"github.com/hitoshi/virtucalls/internal/config"
	"github.com/hitoshi/virtucalls/internal/handler"
	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/identity/gotrue"
	"github.com/hitoshi/virtucalls/internal/identity/local"
	"github.com/hitoshi/virtucalls/internal/identity/redisbus"
	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/middleware"
	"github.com/hitoshi/virtucalls/internal/payment"
	"github.com/hitoshi/virtucalls/internal/pricing"
	"github.com/hitoshi/virtucalls/internal/provision"
	"github.com/hitoshi/virtucalls/internal/reconciler"
	"github.com/hitoshi/virtucalls/internal/repository"
	"github.com/hitoshi/virtucalls/internal/room"
	"github.com/hitoshi/virtucalls/internal/security"
	"github.com/hitoshi/virtucalls/internal/session"
	"github.com/hitoshi/virtucalls/internal/subscription"
	"github.com/hitoshi/virtucalls/internal/transaction"
)

// assetProbeTimeout はルーム画像URLの疎通確認のタイムアウト。
const assetProbeTimeout = 5 * time.Second

// server はAPIサーバーの依存関係一式を保持する。
type server struct {
	handler     http.Handler
	pool        *reconciler.Pool
	rateLimiter *middleware.RateLimiter
	relay       *redisbus.Bus
	redis       *redis.Client
	cfg         *config.Config
	logger      *slog.Logger
}

// stateBackend はセッションの永続化先と認証イベントの配信経路。
type stateBackend struct {
	bus       identity.EventBus
	persister session.Persister
	relay     *redisbus.Bus
	redis     *redis.Client
}

// newStateBackend はREDIS_URLが設定されていればRedis、なければメモリ上の実装を返す。
func newStateBackend(cfg *config.Config, logger *slog.Logger) (*stateBackend, error) {
	if cfg.RedisURL == "" {
		return &stateBackend{
			bus:       identity.NewMemoryBus(),
			persister: session.NewMemoryPersister(),
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	relay := redisbus.New(client, "", logger)
	return &stateBackend{
		bus:       relay,
		persister: session.NewRedisPersister(client, time.Duration(cfg.SessionMaxAge)*time.Second),
		relay:     relay,
		redis:     client,
	}, nil
}

// newProvider は設定に応じたIDプロバイダーを返す。
func newProvider(
	cfg *config.Config,
	db *sql.DB,
	tokens *identity.Tokens,
	bus identity.EventBus,
	logger *slog.Logger,
) identity.Provider {
	sessionRepo := repository.NewPostgresProviderSessionRepo(db)

	if cfg.IdentityProvider == config.ProviderGoTrue {
		return gotrue.NewProvider(gotrue.Config{
			BaseURL: cfg.GoTrueURL,
			AnonKey: cfg.GoTrueAnonKey,
		}, sessionRepo, bus, logger)
	}
	return local.NewProvider(
		repository.NewPostgresCredentialRepo(db), sessionRepo, tokens, bus, logger,
	)
}

// newServer は全依存関係をワイヤリングしてAPIサーバーを構築する。
// バックグラウンド処理はstartで開始する。
func newServer(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. セッション状態の保存先と認証イベントの配信経路
	backend, err := newStateBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	// 3. リポジトリ
	accountRepo := repository.NewPostgresAccountSettingsRepo(db)
	roomRepo := repository.NewPostgresRoomSettingsRepo(db)
	pricingRepo := repository.NewPostgresPricingPlanRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	txnRepo := repository.NewPostgresTransactionRepo(db)

	// 4. ドメインサービス
	accountService := account.NewService(accountRepo)
	roomService := room.NewService(
		roomRepo,
		accountService,
		security.NewURLGuard(assetProbeTimeout),
		security.NewRoomSanitizer(),
		cfg.RoomAssetProbe,
	)
	pricingService := pricing.NewService(pricingRepo)
	subService := subscription.NewService(subRepo, pricingService)
	txnService := transaction.NewService(txnRepo)

	// 5. IDプロバイダーとゲートウェイ
	tokens := identity.NewTokens(cfg.JWTSecret, cfg.BaseURL, cfg.AccessTokenTTL)
	provider := newProvider(cfg, db, tokens, backend.bus, logger)
	provisioner := provision.New(accountService, roomService, collector, logger)
	gateway := identity.NewGateway(provider, provisioner, logger)

	// 6. リコンサイラーと認証フロー
	var subStatus reconciler.SubscriptionStatus = subService
	if cfg.SubscriptionLookup == config.SubscriptionLookupStub {
		subStatus = subscription.StubStatus{}
	}
	pool := reconciler.NewPool(provider, backend.persister, reconciler.Options{
		Enricher:         reconciler.NewEnricher(subStatus, accountService, logger),
		Metrics:          collector,
		Logger:           logger,
		RetryMaxInterval: cfg.SubscribeRetryMax,
	})
	flow := authflow.NewFlow(gateway, pool, cfg.LoginWaitTimeout, logger)

	// 7. 決済
	checkout := payment.NewCheckout(
		payment.NewSimulatedGateway(payment.SimulatedConfig{
			Latency:     cfg.PaymentLatency,
			SuccessRate: cfg.PaymentSuccessRate,
		}),
		pricingService,
		subService,
		txnService,
		collector,
		logger,
	)

	// 8. ルーター
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         logger,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		Health:         db,

		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		ClientConfig: middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rl,
		Tokens:      backend.persister,
		Verifier:    tokens,

		AuthService: flow,
		Profile:     flow,

		RoomDomain:  cfg.RoomDomain,
		PublicRooms: roomService,

		Accounts:      accountService,
		Rooms:         roomService,
		Plans:         pricingService,
		Subscriptions: subService,
		Transactions:  txnService,
		Checkout:      checkout,
	})

	return &server{
		handler:     router,
		pool:        pool,
		rateLimiter: rl,
		relay:       backend.relay,
		redis:       backend.redis,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// start はアイドルクライアントの解放とRedisからのイベント中継を開始する。
// ctxがキャンセルされると停止する。
func (s *server) start(ctx context.Context) {
	go s.pool.Run(ctx, s.cfg.ClientSweepInterval, s.cfg.ClientIdleTimeout)

	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil {
				s.logger.Error("auth event relay failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// close はマウント中のクライアントとバックグラウンド処理を停止する。
func (s *server) close() {
	s.pool.Close()
	s.rateLimiter.Stop()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
}
