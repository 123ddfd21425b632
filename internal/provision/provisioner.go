// Package provision はサインアップ直後の補助レコードの初期化を提供する。
package provision

import (
	"context"
	"log/slog"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/model"
)

// 初期化ステップ名。ProvisioningError.Stepとメトリクスのラベルに使う。
const (
	StepAccount = "account"
	StepRoom    = "room"
)

// AccountCreator はアカウント設定の初期レコードを作成する。account.Serviceが実装する。
type AccountCreator interface {
	CreateInitial(ctx context.Context, userID, name, email string) (*model.AccountSettings, error)
}

// RoomCreator はルーム設定の初期レコードを作成する。room.Serviceが実装する。
type RoomCreator interface {
	CreateInitial(ctx context.Context, userID string) (*model.RoomSettings, error)
}

// Provisioner はアカウント設定とルーム設定を順に作成する。
// どちらのステップも冪等なので、失敗後はそのまま再実行できる。
type Provisioner struct {
	accounts AccountCreator
	rooms    RoomCreator
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// New はProvisionerを生成する。
func New(accounts AccountCreator, rooms RoomCreator, collector metrics.MetricsCollector, logger *slog.Logger) *Provisioner {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{accounts: accounts, rooms: rooms, metrics: collector, logger: logger}
}

// Provision は補助レコードを作成する。失敗した場合は*model.ProvisioningErrorを返す。
func (p *Provisioner) Provision(ctx context.Context, userID, name, email string) error {
	if _, err := p.accounts.CreateInitial(ctx, userID, name, email); err != nil {
		return p.fail(userID, email, StepAccount, err)
	}
	if _, err := p.rooms.CreateInitial(ctx, userID); err != nil {
		return p.fail(userID, email, StepRoom, err)
	}

	p.logger.Info("account provisioned", slog.String("user_id", userID))
	return nil
}

func (p *Provisioner) fail(userID, email, step string, err error) error {
	p.metrics.RecordProvisioningFailure(step)
	p.logger.Error("provisioning step failed",
		slog.String("user_id", userID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return &model.ProvisioningError{UserID: userID, Email: email, Step: step, Err: err}
}

// compile-time interface check
var _ identity.Provisioner = (*Provisioner)(nil)
