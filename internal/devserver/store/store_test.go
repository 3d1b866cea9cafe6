package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/forumdm/internal/chat"
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

func users(t *testing.T, db *DB, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(names))
	for i, n := range names {
		p, err := db.EnsureUser(n)
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = p.ID
	}
	return ids
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

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

func TestEnsureUser(t *testing.T) {
	db := testDB(t)

	a, err := db.EnsureUser("ana")
	if err != nil {
		t.Fatal(err)
	}
	again, err := db.EnsureUser("ana")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != again.ID {
		t.Errorf("EnsureUser twice gave ids %d and %d", a.ID, again.ID)
	}
	if _, err := db.User(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("User(999) error = %v, want ErrNotFound", err)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	ids := users(t, db, "me", "peer", "other")
	me, peer, other := ids[0], ids[1], ids[2]

	// Two messages share a timestamp; the id breaks the tie.
	for i, at := range []int64{100, 200, 200, 300, 400} {
		from, to := me, peer
		if i%2 == 1 {
			from, to = peer, me
		}
		if _, _, err := db.InsertMessage(from, to, "m", "", at); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := db.InsertMessage(other, me, "not in this conversation", "", 250); err != nil {
		t.Fatal(err)
	}

	var got []chat.Message
	cursor := chat.Cursor{}
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page, err := db.ListMessages(me, peer, cursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, page.Messages...)
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if len(got) != 5 {
		t.Fatalf("got %d messages, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if chat.CompareMessages(got[i-1], got[i]) <= 0 {
			t.Errorf("messages %d and %d not strictly newest first: %+v %+v", i-1, i, got[i-1], got[i])
		}
	}
}

func TestInsertMessageIdempotentToken(t *testing.T) {
	db := testDB(t)
	ids := users(t, db, "me", "peer")

	first, created, err := db.InsertMessage(ids[0], ids[1], "hi", "tok-1", 100)
	if err != nil || !created {
		t.Fatalf("first insert = %v, %v", created, err)
	}
	again, created, err := db.InsertMessage(ids[0], ids[1], "hi", "tok-1", 200)
	if err != nil {
		t.Fatal(err)
	}
	if created || again != first {
		t.Errorf("repeat insert = %+v created=%v, want original", again, created)
	}
	// Tokens are scoped to the sender.
	if _, created, _ := db.InsertMessage(ids[1], ids[0], "hi", "tok-1", 300); !created {
		t.Error("same token from another sender was deduplicated")
	}
	// Sends without a token never collide.
	for i := 0; i < 2; i++ {
		if _, created, err := db.InsertMessage(ids[0], ids[1], "x", "", 400); err != nil || !created {
			t.Fatalf("tokenless insert = %v, %v", created, err)
		}
	}
}

func TestRecallMessage(t *testing.T) {
	db := testDB(t)
	ids := users(t, db, "me", "peer")
	m, _, err := db.InsertMessage(ids[0], ids[1], "oops", "", 1_000)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.RecallMessage(ids[1], m.ID, 1_000); !errors.Is(err, ErrNotSender) {
		t.Errorf("recall by peer error = %v, want ErrNotSender", err)
	}
	late := 1_000 + chat.RecallWindow.Milliseconds() + 1
	if _, err := db.RecallMessage(ids[0], m.ID, late); !errors.Is(err, ErrRecallWindow) {
		t.Errorf("late recall error = %v, want ErrRecallWindow", err)
	}
	got, err := db.RecallMessage(ids[0], m.ID, 2_000)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Recalled() || got.Body != "" {
		t.Errorf("recalled = %+v", got)
	}
	// Recalling again succeeds even outside the window.
	if _, err := db.RecallMessage(ids[0], m.ID, late); err != nil {
		t.Errorf("second recall error = %v", err)
	}
	if _, err := db.RecallMessage(ids[0], 999, 2_000); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown recall error = %v, want ErrNotFound", err)
	}
}

func TestListThreadsAndUnread(t *testing.T) {
	db := testDB(t)
	ids := users(t, db, "me", "a", "b", "c")
	me, a, b, c := ids[0], ids[1], ids[2], ids[3]

	mustInsert := func(from, to int64, at int64) {
		t.Helper()
		if _, _, err := db.InsertMessage(from, to, "m", "", at); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert(a, me, 100)
	mustInsert(a, me, 150)
	mustInsert(me, b, 300)
	mustInsert(c, me, 200)

	page, err := db.ListThreads(me, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Threads) != 2 || page.Threads[0].PeerID != b || page.Threads[1].PeerID != c || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}
	next, err := db.ListThreads(me, page.NextCursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Threads) != 1 || next.Threads[0].PeerID != a || next.HasMore {
		t.Fatalf("second page = %+v", next)
	}
	if next.Threads[0].UnreadCount != 2 || next.Threads[0].LastMessageAtMs != 150 {
		t.Errorf("thread a = %+v, want 2 unread at 150", next.Threads[0])
	}

	if err := db.MarkRead(me, a); err != nil {
		t.Fatal(err)
	}
	mustInsert(a, me, 500)
	page, err = db.ListThreads(me, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Threads[0].PeerID != a || page.Threads[0].UnreadCount != 1 {
		t.Errorf("after read = %+v, want a first with 1 unread", page.Threads[0])
	}
}

func TestLastActive(t *testing.T) {
	db := testDB(t)
	ids := users(t, db, "seen", "never")
	if err := db.Touch(ids[0], 1234); err != nil {
		t.Fatal(err)
	}
	got, err := db.LastActive([]int64{ids[0], ids[1], 999})
	if err != nil {
		t.Fatal(err)
	}
	if got[ids[0]] == nil || *got[ids[0]] != 1234 {
		t.Errorf("seen = %v", got[ids[0]])
	}
	if v, ok := got[ids[1]]; !ok || v != nil {
		t.Errorf("never = %v, %v, want known with no time", v, ok)
	}
	if _, ok := got[999]; ok {
		t.Error("unknown user reported")
	}
}
