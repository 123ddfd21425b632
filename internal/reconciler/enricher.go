package reconciler

import (
	"context"
	"log/slog"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
)

// SubscriptionStatus はユーザーが有料プランを契約中かを判定する。
type SubscriptionStatus interface {
	IsSubscribed(ctx context.Context, userID string) (bool, error)
}

// SubdomainSource はアカウント設定に保存されたサブドメインを返す。未設定の場合は空文字を返す。
type SubdomainSource interface {
	SubdomainFor(ctx context.Context, userID string) (string, error)
}

// Enricher はプロバイダーのセッションからUserを組み立て、購読状態とサブドメインを補う。
// ルックアップに失敗した場合はログに残して既定値（未購読・メール由来のサブドメイン）を使う。
type Enricher struct {
	subscriptions SubscriptionStatus
	subdomains    SubdomainSource
	logger        *slog.Logger
}

// NewEnricher はEnricherを生成する。subscriptionsとsubdomainsはnilでもよい。
func NewEnricher(subscriptions SubscriptionStatus, subdomains SubdomainSource, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{subscriptions: subscriptions, subdomains: subdomains, logger: logger}
}

// Enrich はセッションをUserに変換する。sessがnilの場合はnilを返す。
func (e *Enricher) Enrich(ctx context.Context, sess *model.ProviderSession) *model.User {
	user := identity.NormalizeUser(sess)
	if user == nil || e == nil {
		return user
	}

	if e.subdomains != nil {
		sub, err := e.subdomains.SubdomainFor(ctx, user.ID)
		if err != nil {
			e.logger.Warn("subdomain lookup failed, using email-derived subdomain",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else if sub != "" {
			user.Subdomain = sub
		}
	}

	if e.subscriptions != nil {
		subscribed, err := e.subscriptions.IsSubscribed(ctx, user.ID)
		if err != nil {
			e.logger.Warn("subscription lookup failed, treating user as unsubscribed",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else {
			user.IsSubscribed = subscribed
		}
	}

	return user
}
