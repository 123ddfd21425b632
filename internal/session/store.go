// Package session はクライアントごとの認証状態コンテナを提供する。
//
// Storeは読み取り専用のビューで、書き込みはNewが返すWriterだけが行える。
// Writerを保持するのはセッションリコンサイラーだけとし、書き込み経路を1本に保つ。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/virtucalls/internal/model"
)

// State はある時点の認証状態のスナップショット。
// IsAuthenticatedは常に User != nil と一致する。
type State struct {
	User            *model.User
	IsAuthenticated bool
	IsLoading       bool
	Version         uint64
}

// Store はクライアント1つ分の認証状態を保持する。
type Store struct {
	clientID string

	mu      sync.RWMutex
	state   State
	changed chan struct{}
}

// Writer はStoreへの唯一の書き込みハンドル。
type Writer struct {
	store     *Store
	persister Persister
	logger    *slog.Logger

	// 永続化の順序を書き込み順と一致させるためにWriter単位で直列化する
	mu sync.Mutex
}

// New はクライアント用のStoreとWriterを生成する。
// 初期状態はユーザーなし・ロード中。persisterがnilの場合は永続化しない。
func New(clientID string, persister Persister) (*Store, *Writer) {
	s := &Store{
		clientID: clientID,
		state:    State{IsLoading: true},
		changed:  make(chan struct{}),
	}
	if persister == nil {
		persister = NopPersister{}
	}
	return s, &Writer{store: s, persister: persister, logger: slog.Default()}
}

// ClientID はStoreが属するクライアントIDを返す。
func (s *Store) ClientID() string {
	return s.clientID
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.User = s.state.User.Clone()
	return st
}

// Changed は次の状態変化でcloseされるチャネルを返す。
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Wait はpredがtrueを返す状態になるまで待つ。
// ctxが終了した場合は最後に観測した状態とctxのエラーを返す。
func (s *Store) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.RLock()
		st := s.snapshotLocked()
		ch := s.changed
		s.mu.RUnlock()

		if pred(st) {
			return st, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// update は状態を変更し、変化があれば購読者に通知する。
func (s *Store) update(fn func(st *State) bool) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fn(&s.state) {
		return s.snapshotLocked(), false
	}
	s.state.IsAuthenticated = s.state.User != nil
	s.state.Version++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.snapshotLocked(), true
}

// SetUser はユーザーを置き換える。IsAuthenticatedは新しい値から再計算される。
// 現在と同じ値の場合は何もせず、永続化も行わない。
func (w *Writer) SetUser(ctx context.Context, user *model.User) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := user.Clone()
	_, changed := w.store.update(func(st *State) bool {
		if st.User.Equal(next) {
			return false
		}
		st.User = next
		return true
	})
	if !changed {
		return
	}

	if next == nil {
		w.evict(ctx)
		return
	}
	if err := w.persister.Save(ctx, w.store.clientID, Blob{User: next, Token: next.Token}); err != nil {
		w.logger.Warn("failed to persist session blob",
			slog.String("client_id", w.store.clientID),
			slog.String("error", err.Error()),
		)
	}
}

// SetLoading はロード中フラグを切り替える。
func (w *Writer) SetLoading(loading bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.store.update(func(st *State) bool {
		if st.IsLoading == loading {
			return false
		}
		st.IsLoading = loading
		return true
	})
}

// Clear はユーザーを削除し、永続化されたセッション情報を破棄する。
func (w *Writer) Clear(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.store.update(func(st *State) bool {
		if st.User == nil {
			return false
		}
		st.User = nil
		return true
	})
	w.evict(ctx)
}

func (w *Writer) evict(ctx context.Context) {
	if err := w.persister.Delete(ctx, w.store.clientID); err != nil {
		w.logger.Warn("failed to evict session blob",
			slog.String("client_id", w.store.clientID),
			slog.String("error", err.Error()),
		)
	}
}
