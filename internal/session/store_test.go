package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
)

type countingPersister struct {
	mu      sync.Mutex
	saves   []Blob
	deletes int
	saveErr error
}

func (p *countingPersister) Save(_ context.Context, _ string, blob Blob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, blob)
	return p.saveErr
}

func (p *countingPersister) Load(context.Context, string) (*Blob, error) { return nil, nil }

func (p *countingPersister) Delete(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	return nil
}

var _ Persister = (*countingPersister)(nil)

func testUser() *model.User {
	return &model.User{ID: "user-1", Name: "Alice", Email: "alice@example.com", Subdomain: "alice", Token: "tok"}
}

func TestNew_InitialStateIsLoadingWithoutUser(t *testing.T) {
	store, _ := New("client-1", nil)

	st := store.Snapshot()
	if !st.IsLoading {
		t.Error("IsLoading = false, want true")
	}
	if st.User != nil || st.IsAuthenticated {
		t.Errorf("initial state = %+v, want no user", st)
	}
	if store.ClientID() != "client-1" {
		t.Errorf("ClientID() = %q, want %q", store.ClientID(), "client-1")
	}
}

func TestSetUser_RecomputesIsAuthenticated(t *testing.T) {
	store, w := New("client-1", nil)
	ctx := context.Background()

	w.SetUser(ctx, testUser())
	if st := store.Snapshot(); !st.IsAuthenticated || st.User == nil {
		t.Fatalf("after SetUser: %+v, want authenticated", st)
	}

	w.SetUser(ctx, nil)
	if st := store.Snapshot(); st.IsAuthenticated || st.User != nil {
		t.Fatalf("after SetUser(nil): %+v, want unauthenticated", st)
	}
}

func TestSetUser_SameValueIsNoop(t *testing.T) {
	p := &countingPersister{}
	store, w := New("client-1", p)
	ctx := context.Background()

	w.SetUser(ctx, testUser())
	first := store.Snapshot()
	w.SetUser(ctx, testUser())
	second := store.Snapshot()

	if first.Version != second.Version {
		t.Errorf("Version changed from %d to %d on identical write", first.Version, second.Version)
	}
	if len(p.saves) != 1 {
		t.Errorf("persisted %d times, want 1", len(p.saves))
	}
	if p.saves[0].Token != "tok" {
		t.Errorf("persisted token = %q, want %q", p.saves[0].Token, "tok")
	}
}

func TestSetUser_PersistErrorStillUpdatesState(t *testing.T) {
	p := &countingPersister{saveErr: errors.New("redis down")}
	store, w := New("client-1", p)

	w.SetUser(context.Background(), testUser())

	if !store.Snapshot().IsAuthenticated {
		t.Error("state should be updated even when persistence fails")
	}
}

func TestClear_EvictsPersistedBlob(t *testing.T) {
	p := NewMemoryPersister()
	store, w := New("client-1", p)
	ctx := context.Background()

	w.SetUser(ctx, testUser())
	if blob, _ := p.Load(ctx, "client-1"); blob == nil {
		t.Fatal("blob should be persisted after SetUser")
	}

	w.Clear(ctx)

	if st := store.Snapshot(); st.User != nil || st.IsAuthenticated {
		t.Errorf("after Clear: %+v, want no user", st)
	}
	if blob, _ := p.Load(ctx, "client-1"); blob != nil {
		t.Errorf("blob = %+v, want evicted", blob)
	}
}

func TestSnapshot_IsDetachedCopy(t *testing.T) {
	store, w := New("client-1", nil)
	w.SetUser(context.Background(), testUser())

	st := store.Snapshot()
	st.User.Name = "Mallory"

	if got := store.Snapshot().User.Name; got != "Alice" {
		t.Errorf("store user name = %q, want %q", got, "Alice")
	}
}

func TestSetLoading_SameValueDoesNotNotify(t *testing.T) {
	store, w := New("client-1", nil)
	ch := store.Changed()

	w.SetLoading(true)

	select {
	case <-ch:
		t.Error("Changed fired for an unchanged loading flag")
	default:
	}

	w.SetLoading(false)
	select {
	case <-ch:
	default:
		t.Error("Changed did not fire after loading flag changed")
	}
}

func TestWait_ReturnsWhenPredicateHolds(t *testing.T) {
	store, w := New("client-1", nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.SetUser(context.Background(), testUser())
		w.SetLoading(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	st, err := store.Wait(ctx, func(s State) bool { return s.IsAuthenticated && !s.IsLoading })
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if st.User == nil || st.User.ID != "user-1" {
		t.Errorf("Wait user = %+v, want user-1", st.User)
	}
}

func TestWait_ContextTimeout(t *testing.T) {
	store, _ := New("client-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := store.Wait(ctx, func(s State) bool { return s.IsAuthenticated })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestStore_InvariantUnderConcurrentWrites(t *testing.T) {
	store, w := New("client-1", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				w.SetUser(ctx, testUser())
			} else {
				w.Clear(ctx)
			}
		}(i)
		go func() {
			defer wg.Done()
			st := store.Snapshot()
			if st.IsAuthenticated != (st.User != nil) {
				t.Errorf("invariant violated: %+v", st)
			}
		}()
	}
	wg.Wait()
}
