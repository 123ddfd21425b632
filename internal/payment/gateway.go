// Package payment は決済ゲートウェイとチェックアウト処理を提供する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/virtucalls/internal/model"
)

// ErrUnknownCheckout はゲートウェイが知らないチェックアウトIDを表す。
var ErrUnknownCheckout = errors.New("unknown checkout")

// Gateway は決済ゲートウェイのインターフェース。
type Gateway interface {
	// Initiate は決済を開始し、利用者を誘導するURLを返す。
	Initiate(ctx context.Context, req model.PaymentRequest) (*model.PaymentResponse, error)
	// Status はチェックアウトの決済状態を返す。
	Status(ctx context.Context, checkoutID string) (*model.PaymentStatus, error)
}

var checkoutIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeRequest はゲートウェイに渡す前に決済リクエストを正規化する。
// 通貨は先頭3文字の大文字、説明文は山括弧を除去する。
func SanitizeRequest(req model.PaymentRequest) model.PaymentRequest {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) > 3 {
		currency = currency[:3]
	}
	req.Currency = currency
	req.Description = strings.NewReplacer("<", "", ">", "").Replace(req.Description)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	return req
}

// SanitizeCheckoutID は英数字とアンダースコア以外を除去する。
func SanitizeCheckoutID(id string) string {
	return checkoutIDUnsafe.ReplaceAllString(id, "")
}

// SimulatedConfig はSimulatedGatewayの設定。
type SimulatedConfig struct {
	// RedirectBase は決済ページのURL。チェックアウトIDがidクエリに付く。
	RedirectBase string
	// Latency は各呼び出しに加える疑似的な通信遅延。
	Latency time.Duration
	// SuccessRate は決済が成功する確率（0〜1）。
	SuccessRate float64
}

// simulatedCheckout はSimulatedGatewayが保持するチェックアウトの状態。
type simulatedCheckout struct {
	request model.PaymentRequest
	status  *model.PaymentStatus
}

// SimulatedGateway は外部の決済プロバイダーを模したGateway実装。
// 決済結果は最初のStatus呼び出しで確定し、以降は同じ結果を返す。
type SimulatedGateway struct {
	cfg  SimulatedConfig
	roll func() float64

	mu        sync.Mutex
	checkouts map[string]*simulatedCheckout
}

// NewSimulatedGateway はSimulatedGatewayを生成する。
func NewSimulatedGateway(cfg SimulatedConfig) *SimulatedGateway {
	if cfg.RedirectBase == "" {
		cfg.RedirectBase = "https://example.com/payment"
	}
	return &SimulatedGateway{
		cfg:       cfg,
		roll:      rand.Float64,
		checkouts: make(map[string]*simulatedCheckout),
	}
}

// Initiate は決済を開始する。
func (g *SimulatedGateway) Initiate(ctx context.Context, req model.PaymentRequest) (*model.PaymentResponse, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	req = SanitizeRequest(req)
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %v", req.Amount)
	}

	id := "checkout_" + ulid.Make().String()
	g.mu.Lock()
	g.checkouts[id] = &simulatedCheckout{request: req}
	g.mu.Unlock()

	return &model.PaymentResponse{
		CheckoutID:  id,
		RedirectURL: g.cfg.RedirectBase + "?id=" + id,
	}, nil
}

// Status は決済状態を返す。
func (g *SimulatedGateway) Status(ctx context.Context, checkoutID string) (*model.PaymentStatus, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	id := SanitizeCheckoutID(checkoutID)

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.checkouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheckout, id)
	}
	if c.status == nil {
		c.status = g.settle(id, c.request)
	}
	st := *c.status
	return &st, nil
}

// settle は成功率に従って決済結果を決める。
func (g *SimulatedGateway) settle(id string, req model.PaymentRequest) *model.PaymentStatus {
	if g.roll() < g.cfg.SuccessRate {
		return &model.PaymentStatus{
			CheckoutID:    id,
			Status:        model.PaymentSuccess,
			TransactionID: "txn_" + ulid.Make().String(),
			Details: map[string]any{
				"amount":   req.Amount,
				"currency": req.Currency,
				"message":  "Payment processed successfully",
			},
		}
	}
	return &model.PaymentStatus{
		CheckoutID: id,
		Status:     model.PaymentFailed,
		Details: map[string]any{
			"message": "Payment failed: Insufficient funds",
		},
	}
}

func (g *SimulatedGateway) wait(ctx context.Context) error {
	if g.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// compile-time interface check
var _ Gateway = (*SimulatedGateway)(nil)
