package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
)

type fakeCreator struct {
	id    int64
	err   error
	delay time.Duration
	calls atomic.Int64
	last  api.CreateRoomRequest
}

func (f *fakeCreator) CreateOrGetRoom(_ context.Context, req api.CreateRoomRequest) (int64, error) {
	f.calls.Add(1)
	f.last = req
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.id, f.err
}

type fakeMapping struct {
	handle string
	id     int64
	err    error
}

func (f *fakeMapping) SetServerRoomID(handle string, serverRoomID int64) error {
	f.handle = handle
	f.id = serverRoomID
	return f.err
}

func TestEnsureServerRoomIDCreatesOnce(t *testing.T) {
	creator := &fakeCreator{id: 501}
	mapping := &fakeMapping{}
	p := NewProvisioner(creator, mapping, "market-10-alice001", "market", "10", "42", zap.NewNop())

	id, ok := p.EnsureServerRoomID(context.Background())
	if !ok || id != 501 {
		t.Fatalf("EnsureServerRoomID = (%d, %v), want (501, true)", id, ok)
	}
	if creator.last.Type != "market" || creator.last.TypeID != 10 || creator.last.ToUserID != 42 {
		t.Errorf("create request = %+v", creator.last)
	}
	if mapping.handle != "market-10-alice001" || mapping.id != 501 {
		t.Errorf("mapping persisted = %q/%d", mapping.handle, mapping.id)
	}

	// Second call hits the cache.
	id, ok = p.EnsureServerRoomID(context.Background())
	if !ok || id != 501 {
		t.Fatalf("cached EnsureServerRoomID = (%d, %v)", id, ok)
	}
	if n := creator.calls.Load(); n != 1 {
		t.Errorf("creator called %d times, want 1", n)
	}
}

func TestEnsureServerRoomIDConcurrentSingleFlight(t *testing.T) {
	creator := &fakeCreator{id: 501, delay: 50 * time.Millisecond}
	p := NewProvisioner(creator, &fakeMapping{}, "market-10-alice001", "market", "10", "42", zap.NewNop())

	var wg sync.WaitGroup
	results := make([]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, ok := p.EnsureServerRoomID(context.Background())
			if ok {
				results[i] = id
			}
		}(i)
	}
	wg.Wait()

	if n := creator.calls.Load(); n != 1 {
		t.Errorf("creator called %d times under racing ensures, want 1", n)
	}
	for i, id := range results {
		if id != 501 {
			t.Errorf("goroutine %d got id %d, want 501", i, id)
		}
	}
}

func TestEnsureServerRoomIDUnusableIdentity(t *testing.T) {
	for _, tc := range []struct{ post, peer string }{
		{"", "42"},
		{"10", ""},
		{"abc", "42"},
		{"-3", "42"},
		{"10", "4.5"},
	} {
		creator := &fakeCreator{id: 501}
		p := NewProvisioner(creator, &fakeMapping{}, "h", "market", tc.post, tc.peer, zap.NewNop())
		if id, ok := p.EnsureServerRoomID(context.Background()); ok || id != 0 {
			t.Errorf("post=%q peer=%q: got (%d, %v), want (0, false)", tc.post, tc.peer, id, ok)
		}
		if creator.calls.Load() != 0 {
			t.Errorf("post=%q peer=%q: creator must not be called", tc.post, tc.peer)
		}
	}
}

func TestEnsureServerRoomIDCreationFailureRetriesLater(t *testing.T) {
	creator := &fakeCreator{err: errors.New("server unavailable")}
	p := NewProvisioner(creator, &fakeMapping{}, "market-10-alice001", "market", "10", "42", zap.NewNop())

	if id, ok := p.EnsureServerRoomID(context.Background()); ok || id != 0 {
		t.Fatalf("failed ensure = (%d, %v), want (0, false)", id, ok)
	}

	// Failure does not poison the provisioner: a later attempt succeeds.
	creator.err = nil
	creator.id = 502
	if id, ok := p.EnsureServerRoomID(context.Background()); !ok || id != 502 {
		t.Fatalf("retry ensure = (%d, %v), want (502, true)", id, ok)
	}
}

func TestEnsureServerRoomIDPersistFailureIsNonFatal(t *testing.T) {
	creator := &fakeCreator{id: 501}
	mapping := &fakeMapping{err: errors.New("disk full")}
	p := NewProvisioner(creator, mapping, "market-10-alice001", "market", "10", "42", zap.NewNop())

	if id, ok := p.EnsureServerRoomID(context.Background()); !ok || id != 501 {
		t.Fatalf("ensure with failing persist = (%d, %v), want (501, true)", id, ok)
	}
}

func TestSeedSkipsCreation(t *testing.T) {
	creator := &fakeCreator{id: 999}
	p := NewProvisioner(creator, &fakeMapping{}, "market-10-alice001", "market", "10", "42", zap.NewNop())
	p.Seed(77)

	if id, ok := p.EnsureServerRoomID(context.Background()); !ok || id != 77 {
		t.Fatalf("seeded ensure = (%d, %v), want (77, true)", id, ok)
	}
	if creator.calls.Load() != 0 {
		t.Error("seeded provisioner must not create")
	}
}

func TestCoerceID(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"10", 10, true},
		{" 10 ", 10, true},
		{"0", 0, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-1", 0, false},
		{"4.5", 0, false},
		{"10x", 0, false},
	}
	for _, tc := range cases {
		got, ok := CoerceID(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("CoerceID(%q) = (%d, %v), want (%d, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
