package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dhkim312/unichat/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestAppendAndLoadMessages(t *testing.T) {
	db := testDB(t)
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	seq, err := db.AppendOutboxText("market-10-alice001", "안녕하세요", at)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != 1 {
		t.Fatalf("got %d messages, want 1", len(seq))
	}
	if seq[0].Kind != chat.KindText || seq[0].Text != "안녕하세요" || !seq[0].Mine {
		t.Errorf("message = %+v", seq[0])
	}

	seq, err = db.AppendSystemMessage("market-10-alice001", "거래가 완료되었습니다", at.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != 2 || seq[1].Kind != chat.KindSystem {
		t.Errorf("sequence = %+v", seq)
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	db := testDB(t)
	m := chat.Message{ID: "srv-42-1000", Kind: chat.KindText, Text: "hi", SentAt: "2025-01-01T09:00:00Z"}

	if _, err := db.AppendMessage("lost-7-bob", m); err != nil {
		t.Fatal(err)
	}
	seq, err := db.AppendMessage("lost-7-bob", m)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != 1 {
		t.Errorf("got %d messages, want 1 (idempotent append)", len(seq))
	}
}

func TestAppendOutboxImageRoundTrip(t *testing.T) {
	db := testDB(t)
	at := time.Now()

	seq, err := db.AppendOutboxImage("market-10-alice001", []string{"file:///a.jpg", "file:///b.jpg"}, at)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != 1 {
		t.Fatalf("got %d messages, want 1", len(seq))
	}
	m := seq[0]
	if m.Kind != chat.KindImage || m.Count != 2 || len(m.ImageURIs) != 2 {
		t.Errorf("image message = %+v", m)
	}
	if m.URI != "file:///a.jpg" {
		t.Errorf("legacy URI = %q, want first attachment", m.URI)
	}
}

func TestReplaceMessagesKeepsOrder(t *testing.T) {
	db := testDB(t)
	msgs := []chat.Message{
		{ID: "srv-1-1000", Kind: chat.KindText, Text: "one", SentAt: "2025-01-01T09:00:00Z"},
		{ID: "out-2000", Kind: chat.KindText, Text: "two", SentAt: "2025-01-01T09:01:00Z", Mine: true},
		{ID: "srv-1-3000", Kind: chat.KindText, Text: "three", SentAt: "2025-01-01T09:02:00Z"},
	}
	if err := db.ReplaceMessages("group-3-carol", msgs); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadMessages("group-3-carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID {
			t.Errorf("position %d: id = %q, want %q", i, got[i].ID, msgs[i].ID)
		}
	}
	if !got[1].Mine {
		t.Error("mine flag lost on round trip")
	}
}

func TestUpdateRoomLogKeepsConcurrentAppend(t *testing.T) {
	db := testDB(t)
	handle := "market-10-alice001"
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	if _, err := db.AppendOutboxText(handle, "first", at); err != nil {
		t.Fatal(err)
	}

	rewriting := make(chan struct{})
	appendDone := make(chan error, 1)
	go func() {
		<-rewriting
		_, err := db.AppendSystemMessage(handle, "거래가 완료되었습니다", at.Add(time.Minute))
		appendDone <- err
	}()

	// The rewrite callback runs while another goroutine races an append
	// against it. The append must either land before the load or after
	// the rewrite commits, never inside the window.
	updated, err := db.UpdateRoomLog(handle, func(local []chat.Message) []chat.Message {
		close(rewriting)
		time.Sleep(50 * time.Millisecond)
		return local
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := <-appendDone; err != nil {
		t.Fatal(err)
	}

	final, err := db.LoadMessages(handle)
	if err != nil {
		t.Fatal(err)
	}
	if len(final) != len(updated)+1 {
		t.Fatalf("final log has %d messages, want %d", len(final), len(updated)+1)
	}
	last := final[len(final)-1]
	if last.Kind != chat.KindSystem {
		t.Errorf("concurrently appended entry lost, tail = %+v", last)
	}
}

func TestReplaceMessagesUpdatesRoomRecency(t *testing.T) {
	db := testDB(t)
	handle := "market-10-alice001"
	if err := db.UpsertRoom(&Room{Handle: handle, Category: "market", PostID: 10}); err != nil {
		t.Fatal(err)
	}

	last := time.Date(2025, 1, 1, 9, 2, 0, 0, time.UTC)
	msgs := []chat.Message{
		{ID: "srv-9-1000", Kind: chat.KindText, Text: "one", SentAt: "2025-01-01T09:00:00Z"},
		{ID: "srv-9-2000", Kind: chat.KindText, Text: "two", SentAt: last.Format(time.RFC3339)},
	}
	if err := db.ReplaceMessages(handle, msgs); err != nil {
		t.Fatal(err)
	}

	row, err := db.GetRoom(handle)
	if err != nil {
		t.Fatal(err)
	}
	if row.LastMessageAt != last.UnixMilli() {
		t.Errorf("last_message_at = %d, want %d", row.LastMessageAt, last.UnixMilli())
	}
}

func TestMoveMessagesRoom(t *testing.T) {
	db := testDB(t)
	at := time.Now()
	if _, err := db.AppendOutboxText("market-10-Alice", "first", at); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendOutboxText("market-10-Alice", "second", at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := db.MoveMessagesRoom("market-10-Alice", "market-10-alice001"); err != nil {
		t.Fatal(err)
	}

	moved, _ := db.LoadMessages("market-10-alice001")
	left, _ := db.LoadMessages("market-10-Alice")
	if len(moved) != 2 {
		t.Errorf("destination has %d messages, want 2", len(moved))
	}
	if len(left) != 0 {
		t.Errorf("source has %d messages, want 0", len(left))
	}
}

func TestMoveMessagesRoomNoClobber(t *testing.T) {
	db := testDB(t)
	at := time.Now()
	if _, err := db.AppendOutboxText("market-10-Alice", "old history", at); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendOutboxText("market-10-alice001", "existing", at); err != nil {
		t.Fatal(err)
	}

	if err := db.MoveMessagesRoom("market-10-Alice", "market-10-alice001"); err != nil {
		t.Fatal(err)
	}

	// Destination already had a log: both handles keep their contents.
	dst, _ := db.LoadMessages("market-10-alice001")
	src, _ := db.LoadMessages("market-10-Alice")
	if len(dst) != 1 || dst[0].Text != "existing" {
		t.Errorf("destination = %+v, want untouched", dst)
	}
	if len(src) != 1 || src[0].Text != "old history" {
		t.Errorf("source = %+v, want untouched", src)
	}
}

func TestMoveMessagesRoomNoops(t *testing.T) {
	db := testDB(t)
	if err := db.MoveMessagesRoom("", "x"); err != nil {
		t.Errorf("empty source: %v", err)
	}
	if err := db.MoveMessagesRoom("x", ""); err != nil {
		t.Errorf("empty destination: %v", err)
	}
	if err := db.MoveMessagesRoom("x", "x"); err != nil {
		t.Errorf("equal handles: %v", err)
	}
}

func TestRoomMappingAndUnread(t *testing.T) {
	db := testDB(t)
	r := &Room{Handle: "market-10-alice001", Category: "market", PostID: 10, PeerNickname: "alice001"}
	if err := db.UpsertRoom(r); err != nil {
		t.Fatal(err)
	}

	if err := db.SetServerRoomID("market-10-alice001", 77); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetRoom("market-10-alice001")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ServerRoomID != 77 {
		t.Fatalf("room = %+v, want server room id 77", got)
	}

	// Unread is overwritten wholesale, never incremented.
	if err := db.SetUnread("market-10-alice001", 5); err != nil {
		t.Fatal(err)
	}
	if err := db.SetUnread("market-10-alice001", 0); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetRoom("market-10-alice001")
	if got.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", got.UnreadCount)
	}

	byID, err := db.RoomByServerID(77)
	if err != nil {
		t.Fatal(err)
	}
	if byID == nil || byID.Handle != "market-10-alice001" {
		t.Errorf("RoomByServerID = %+v", byID)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("c1", "market-10-alice001", "text", "hello", false); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c2", "market-10-alice001", "text", "opening", true); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if !pending[1].Initial {
		t.Error("initial flag lost")
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c2", "network error"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after drain, want 0", len(pending))
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	v, err := db.GetSyncState("missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := db.SetSyncState("room:market-10-alice001:last_merge", "1700000000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSyncState("room:market-10-alice001:last_merge", "1700000001000"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetSyncState("room:market-10-alice001:last_merge")
	if v != "1700000001000" {
		t.Errorf("checkpoint = %q, want updated value", v)
	}
}
