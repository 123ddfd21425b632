package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// ErrPoolClosed はClose後のPoolを使おうとしたことを表す。
var ErrPoolClosed = errors.New("reconciler pool is closed")

// Pool はクライアントごとのReconcilerを管理する。
// クライアントは最初のAcquireでマウントされ、一定時間アクセスがなければSweepで破棄される。
type Pool struct {
	provider  identity.Provider
	persister session.Persister
	opts      Options
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*poolEntry
	closed  bool
}

type poolEntry struct {
	rec      *Reconciler
	lastSeen time.Time
}

// NewPool はPoolを生成する。
func NewPool(provider identity.Provider, persister session.Persister, opts Options) *Pool {
	return &Pool{
		provider:  provider,
		persister: persister,
		opts:      opts.withDefaults(),
		now:       time.Now,
		clients:   make(map[string]*poolEntry),
	}
}

// Acquire はクライアントのセッションストアを返す。未マウントの場合はマウントする。
func (p *Pool) Acquire(ctx context.Context, clientID string) (*session.Store, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if e, ok := p.clients[clientID]; ok {
		e.lastSeen = p.now()
		p.mu.Unlock()
		return e.rec.Store(), nil
	}

	rec := New(clientID, p.provider, p.persister, p.opts)
	p.clients[clientID] = &poolEntry{rec: rec, lastSeen: p.now()}
	n := len(p.clients)
	p.mu.Unlock()

	p.opts.Metrics.SetMountedClients(n)
	rec.Mount(ctx)
	return rec.Store(), nil
}

// Lookup はマウント済みのクライアントのストアを返す。マウントはしない。
func (p *Pool) Lookup(clientID string) (*session.Store, bool) {
	rec, ok := p.get(clientID)
	if !ok {
		return nil, false
	}
	return rec.Store(), true
}

// BeginInteraction はクライアントのログイン・サインアップ試行を開始する。
// クライアントが未マウントの場合は何もしない関数を返す。
func (p *Pool) BeginInteraction(clientID string) func(err error) {
	rec, ok := p.get(clientID)
	if !ok {
		return func(error) {}
	}
	return rec.BeginInteraction()
}

// UpdateUser はクライアントの現在のユーザーにpatchをマージする。
func (p *Pool) UpdateUser(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, bool) {
	rec, ok := p.get(clientID)
	if !ok {
		return nil, false
	}
	return rec.UpdateUser(ctx, patch)
}

// Len はマウント中のクライアント数を返す。
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Pool) get(clientID string) (*Reconciler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.clients[clientID]
	if !ok {
		return nil, false
	}
	e.lastSeen = p.now()
	return e.rec, true
}

// Sweep はidle以上アクセスのないクライアントを破棄し、破棄した数を返す。
func (p *Pool) Sweep(idle time.Duration) int {
	cutoff := p.now().Add(-idle)

	p.mu.Lock()
	var stale []*Reconciler
	for id, e := range p.clients {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.rec)
			delete(p.clients, id)
		}
	}
	n := len(p.clients)
	p.mu.Unlock()

	for _, rec := range stale {
		rec.Teardown()
	}
	if len(stale) > 0 {
		p.opts.Metrics.SetMountedClients(n)
		p.opts.Logger.Info("idle client sessions released",
			slog.Int("released", len(stale)),
			slog.Int("mounted", n),
		)
	}
	return len(stale)
}

// Run はintervalごとにSweepを実行する。ctxがキャンセルされるまでブロックする。
func (p *Pool) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(idle)
		}
	}
}

// Close はすべてのクライアントを破棄する。以降のAcquireはErrPoolClosedを返す。
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := make([]*Reconciler, 0, len(p.clients))
	for _, e := range p.clients {
		all = append(all, e.rec)
	}
	p.clients = make(map[string]*poolEntry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range all {
		wg.Add(1)
		go func(rec *Reconciler) {
			defer wg.Done()
			rec.Teardown()
		}(rec)
	}
	wg.Wait()
	p.opts.Metrics.SetMountedClients(0)
	p.opts.Logger.Info("all client sessions released", slog.Int("released", len(all)))
}
