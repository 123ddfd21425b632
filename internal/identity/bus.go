package identity

import (
	"context"
	"sync"

	"github.com/hitoshi/virtucalls/internal/model"
)

// EventBus はクライアント単位の認証イベント配信路。
// プロバイダーはPublishし、リコンサイラーはProvider.Subscribe経由で受け取る。
type EventBus interface {
	Publish(ctx context.Context, event model.AuthEvent) error
	Subscribe(ctx context.Context, clientID string, fn Listener) (Unsubscribe, error)
}

// MemoryBus はプロセス内で同期的にイベントを配信するEventBus。
// Publishは登録済みリスナーを呼び出し終えてから戻る。
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Listener
}

// NewMemoryBus はMemoryBusを生成する。
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]Listener)}
}

// Publish はイベントをクライアントの全リスナーに配信する。
func (b *MemoryBus) Publish(_ context.Context, event model.AuthEvent) error {
	b.Deliver(event)
	return nil
}

// Deliver はイベントをローカルのリスナーに配信する。
func (b *MemoryBus) Deliver(event model.AuthEvent) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.subs[event.ClientID]))
	for _, fn := range b.subs[event.ClientID] {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// Subscribe はクライアントのリスナーを登録する。
func (b *MemoryBus) Subscribe(_ context.Context, clientID string, fn Listener) (Unsubscribe, error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[clientID] == nil {
		b.subs[clientID] = make(map[uint64]Listener)
	}
	b.subs[clientID][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[clientID], id)
			if len(b.subs[clientID]) == 0 {
				delete(b.subs, clientID)
			}
		})
	}, nil
}

// ListenerCount はクライアントに登録されているリスナー数を返す。
func (b *MemoryBus) ListenerCount(clientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[clientID])
}

// compile-time interface check
var _ EventBus = (*MemoryBus)(nil)
