package session

import (
	"context"
	"sync"

	"github.com/hitoshi/virtucalls/internal/model"
)

// Blob はクライアントごとに永続化されるユーザーとトークンの組。
// APIリクエストへのBearerトークン付与にだけ使う派生キャッシュで、
// 認証状態の正はIDプロバイダーのセッションにある。
type Blob struct {
	User  *model.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

// Persister はBlobの保存先を抽象化する。
type Persister interface {
	Save(ctx context.Context, clientID string, blob Blob) error
	// Load はBlobを取得する。存在しない場合はnilを返す。
	Load(ctx context.Context, clientID string) (*Blob, error)
	Delete(ctx context.Context, clientID string) error
}

// NopPersister は何も保存しないPersister。
type NopPersister struct{}

func (NopPersister) Save(context.Context, string, Blob) error { return nil }

func (NopPersister) Load(context.Context, string) (*Blob, error) { return nil, nil }

func (NopPersister) Delete(context.Context, string) error { return nil }

// MemoryPersister はプロセス内メモリにBlobを保存する。単一インスタンス構成とテスト用。
type MemoryPersister struct {
	mu    sync.RWMutex
	blobs map[string]Blob
	saves int
}

// NewMemoryPersister はMemoryPersisterを生成する。
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{blobs: make(map[string]Blob)}
}

// Save はBlobを保存する。
func (p *MemoryPersister) Save(_ context.Context, clientID string, blob Blob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	blob.User = blob.User.Clone()
	p.blobs[clientID] = blob
	p.saves++
	return nil
}

// Load はBlobを取得する。存在しない場合はnilを返す。
func (p *MemoryPersister) Load(_ context.Context, clientID string) (*Blob, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	blob, ok := p.blobs[clientID]
	if !ok {
		return nil, nil
	}
	blob.User = blob.User.Clone()
	return &blob, nil
}

// Delete はBlobを削除する。
func (p *MemoryPersister) Delete(_ context.Context, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blobs, clientID)
	return nil
}

// SaveCount はSaveが呼ばれた回数を返す。
func (p *MemoryPersister) SaveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.saves
}

// compile-time interface check
var (
	_ Persister = NopPersister{}
	_ Persister = (*MemoryPersister)(nil)
)
