package room

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/store"
)

type fakeDirectory struct {
	handle string
	err    error
	calls  int
}

func (f *fakeDirectory) CanonicalHandle(_ context.Context, _ Meta) (string, error) {
	f.calls++
	return f.handle, f.err
}

type recordingMover struct {
	from, to string
	calls    int
}

func (m *recordingMover) MoveMessagesRoom(oldHandle, newHandle string) error {
	m.calls++
	m.from, m.to = oldHandle, newHandle
	return nil
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestResolveEmptyProposedYieldsNoRoom(t *testing.T) {
	dir := &fakeDirectory{handle: "market-10-alice001"}
	r := NewResolver(dir, &recordingMover{}, zap.NewNop())

	if got := r.Resolve(context.Background(), Meta{}, ""); got != "" {
		t.Errorf("Resolve with empty proposed = %q, want empty", got)
	}
	if dir.calls != 0 {
		t.Error("no lookup should run without a proposed handle")
	}
}

func TestResolveShortcutSkipsLookup(t *testing.T) {
	dir := &fakeDirectory{handle: "market-10-somebody-else"}
	mover := &recordingMover{}
	r := NewResolver(dir, mover, zap.NewNop())

	meta := Meta{Source: "market", PostID: "10", RoomID: "77", BuyerID: "42"}
	got := r.Resolve(context.Background(), meta, "market-10-alice001")
	if got != "market-10-alice001" {
		t.Errorf("Resolve = %q, want proposed handle", got)
	}
	if dir.calls != 0 {
		t.Error("explicit room id + buyer identity must bypass the lookup")
	}
	if mover.calls != 0 {
		t.Error("no migration on the shortcut path")
	}
}

func TestResolveFallsBackOnLookupFailure(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("network down")}
	r := NewResolver(dir, &recordingMover{}, zap.NewNop())

	got := r.Resolve(context.Background(), Meta{Source: "market", PostID: "10"}, "market-10-alice001")
	if got != "market-10-alice001" {
		t.Errorf("Resolve = %q, want fallback to proposed", got)
	}
}

func TestResolveMigratesToCanonicalHandle(t *testing.T) {
	dir := &fakeDirectory{handle: "market-10-alice001"}
	mover := &recordingMover{}
	r := NewResolver(dir, mover, zap.NewNop())

	got := r.Resolve(context.Background(), Meta{Source: "market", PostID: "10", Nickname: "Alice"}, "market-10-Alice")
	if got != "market-10-alice001" {
		t.Errorf("Resolve = %q, want canonical", got)
	}
	if mover.calls != 1 || mover.from != "market-10-Alice" || mover.to != "market-10-alice001" {
		t.Errorf("migration = %+v, want market-10-Alice -> market-10-alice001", mover)
	}
}

func TestResolveSameHandleSkipsMigration(t *testing.T) {
	dir := &fakeDirectory{handle: "market-10-alice001"}
	mover := &recordingMover{}
	r := NewResolver(dir, mover, zap.NewNop())

	r.Resolve(context.Background(), Meta{Source: "market", PostID: "10"}, "market-10-alice001")
	if mover.calls != 0 {
		t.Error("no migration when canonical equals proposed")
	}
}

// End-to-end migration against the real store: the canonical handle takes
// over the stale handle's log, but an existing destination log wins.
func TestResolveMigrationNoClobber(t *testing.T) {
	db := testStore(t)
	at := time.Now()
	if _, err := db.AppendOutboxText("market-10-Alice", "one", at); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendOutboxText("market-10-Alice", "two", at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	dir := &fakeDirectory{handle: "market-10-alice001"}
	r := NewResolver(dir, db, zap.NewNop())

	got := r.Resolve(context.Background(), Meta{Source: "market", PostID: "10"}, "market-10-Alice")
	if got != "market-10-alice001" {
		t.Fatalf("Resolve = %q", got)
	}
	dst, _ := db.LoadMessages("market-10-alice001")
	src, _ := db.LoadMessages("market-10-Alice")
	if len(dst) != 2 || len(src) != 0 {
		t.Errorf("after migration: dst=%d src=%d, want 2/0", len(dst), len(src))
	}

	// Second resolution with history on both sides must leave both intact.
	if _, err := db.AppendOutboxText("market-10-Alice", "late straggler", at.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	r.Resolve(context.Background(), Meta{Source: "market", PostID: "10"}, "market-10-Alice")
	dst, _ = db.LoadMessages("market-10-alice001")
	src, _ = db.LoadMessages("market-10-Alice")
	if len(dst) != 2 || len(src) != 1 {
		t.Errorf("no-clobber violated: dst=%d src=%d, want 2/1", len(dst), len(src))
	}
}
