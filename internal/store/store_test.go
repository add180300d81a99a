package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshboard/meshboard/internal/store"
)

// openTest opens a fresh store in a temp directory.
func openTest(t *testing.T) *store.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.Open(filepath.Join(t.TempDir(), "board.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestPostsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	id1, err := s.CreatePost(ctx, 1000, "!aaaaaaaa", "hello", nil)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if id1 != 1 {
		t.Errorf("first post id = %d, want 1", id1)
	}

	id2, err := s.CreatePost(ctx, 1001, "!bbbbbbbb", "hi back", &id1)
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("post ids must be strictly increasing: %d then %d", id1, id2)
	}

	p, err := s.PostByID(ctx, id1)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if p.Body != "hello" || p.Author != "!aaaaaaaa" || p.ReplyTo != nil {
		t.Errorf("post = %+v", p)
	}

	replies, err := s.Replies(ctx, id1)
	if err != nil {
		t.Fatalf("replies: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != id2 || *replies[0].ReplyTo != id1 {
		t.Errorf("replies = %+v", replies)
	}

	if _, err := s.PostByID(ctx, 999); !errors.Is(err, store.ErrPostNotFound) {
		t.Errorf("missing post err = %v, want ErrPostNotFound", err)
	}
}

func TestRecentPostsOrder(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if _, err := s.CreatePost(ctx, int64(1000+i), "!aaaaaaaa", "msg", nil); err != nil {
			t.Fatalf("create post %d: %v", i, err)
		}
	}

	recent, err := s.RecentPosts(ctx, 10)
	if err != nil {
		t.Fatalf("recent posts: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("len(recent) = %d, want 10", len(recent))
	}
	if recent[0].ID != 15 || recent[9].ID != 6 {
		t.Errorf("recent order = %d..%d, want 15..6", recent[0].ID, recent[9].ID)
	}

	ids, err := s.RecentPostIDs(ctx, 5)
	if err != nil {
		t.Fatalf("recent ids: %v", err)
	}
	want := []int64{11, 12, 13, 14, 15}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("inventory ids = %v, want %v", ids, want)
		}
	}

	missing, err := s.MissingPostIDs(ctx, []int64{14, 99, 100})
	if err != nil {
		t.Fatalf("missing ids: %v", err)
	}
	if len(missing) != 2 || missing[0] != 99 || missing[1] != 100 {
		t.Errorf("missing = %v, want [99 100]", missing)
	}
}

func TestKV(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	if _, err := s.GetKV(ctx, store.KeyNotice); !errors.Is(err, store.ErrNoSuchKey) {
		t.Errorf("missing key err = %v, want ErrNoSuchKey", err)
	}

	if err := s.SetKV(ctx, store.KeyNotice, "meeting at 7pm"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	if err := s.SetKV(ctx, store.KeyNotice, "meeting moved to 8pm"); err != nil {
		t.Fatalf("overwrite kv: %v", err)
	}

	v, err := s.GetKV(ctx, store.KeyNotice)
	if err != nil {
		t.Fatalf("get kv: %v", err)
	}
	if v != "meeting moved to 8pm" {
		t.Errorf("kv = %q", v)
	}

	if err := s.DeleteKV(ctx, store.KeyNotice); err != nil {
		t.Fatalf("delete kv: %v", err)
	}
	if _, err := s.GetKV(ctx, store.KeyNotice); !errors.Is(err, store.ErrNoSuchKey) {
		t.Errorf("deleted key err = %v, want ErrNoSuchKey", err)
	}
}

func TestSetsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const id = "!deadbeef"

	// Double-add and double-remove must both succeed silently.
	for i := 0; i < 2; i++ {
		if err := s.AddAdmin(ctx, id); err != nil {
			t.Fatalf("add admin: %v", err)
		}
	}

	ok, err := s.IsAdmin(ctx, id)
	if err != nil || !ok {
		t.Fatalf("IsAdmin = %v, %v", ok, err)
	}

	n, err := s.AdminCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("AdminCount = %d, %v; want 1", n, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.RemoveAdmin(ctx, id); err != nil {
			t.Fatalf("remove admin: %v", err)
		}
	}

	if ok, _ := s.IsAdmin(ctx, id); ok {
		t.Error("admin should be removed")
	}

	if err := s.AddBlacklist(ctx, id); err != nil {
		t.Fatalf("add blacklist: %v", err)
	}
	if ok, _ := s.IsBlacklisted(ctx, id); !ok {
		t.Error("blacklist membership lost")
	}

	if err := s.AddPeer(ctx, id); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := s.TouchPeer(ctx, id); err != nil {
		t.Fatalf("touch peer: %v", err)
	}
	peers, err := s.Peers(ctx)
	if err != nil || len(peers) != 1 || peers[0] != id {
		t.Fatalf("Peers = %v, %v", peers, err)
	}
}

func TestAppliedUIDGatesApplication(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const uid = "a1b2c3d4e5"

	applied, err := s.IsAppliedUID(ctx, uid)
	if err != nil || applied {
		t.Fatalf("IsAppliedUID fresh = %v, %v", applied, err)
	}

	if err := s.MarkSeenUID(ctx, uid); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := s.MarkAppliedUID(ctx, uid); err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	// Replays are idempotent.
	if err := s.MarkAppliedUID(ctx, uid); err != nil {
		t.Fatalf("re-mark applied: %v", err)
	}

	applied, err = s.IsAppliedUID(ctx, uid)
	if err != nil || !applied {
		t.Fatalf("IsAppliedUID = %v, %v; want true", applied, err)
	}
}

func TestRxBufferAssembly(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const uid = "f0f1f2f3f4"

	if err := s.CreateRxBuffer(ctx, uid, 3, "!11111111"); err != nil {
		t.Fatalf("create buffer: %v", err)
	}
	// Duplicate header is ignored.
	if err := s.CreateRxBuffer(ctx, uid, 99, "!22222222"); err != nil {
		t.Fatalf("duplicate header: %v", err)
	}

	// Parts arrive out of order.
	for _, part := range []struct {
		idx   int
		chunk string
	}{
		{2, "world"},
		{1, "hello "},
		{3, "!"},
	} {
		if err := s.AppendRxPart(ctx, uid, part.idx, 3, part.chunk); err != nil {
			t.Fatalf("append part %d: %v", part.idx, err)
		}
	}

	b, err := s.GetRxBuffer(ctx, uid)
	if err != nil {
		t.Fatalf("get buffer: %v", err)
	}
	if b.Total != 3 || b.Got != 3 || b.FromID != "!11111111" {
		t.Errorf("buffer = %+v", b)
	}
	if !b.Complete() {
		t.Error("buffer should be complete")
	}
	if got := b.Assemble(); got != "hello world!" {
		t.Errorf("Assemble = %q, want %q", got, "hello world!")
	}

	// Duplicate part does not bump got.
	if err := s.AppendRxPart(ctx, uid, 2, 3, "world"); err != nil {
		t.Fatalf("duplicate part: %v", err)
	}
	b, _ = s.GetRxBuffer(ctx, uid)
	if b.Got != 3 {
		t.Errorf("got after duplicate = %d, want 3", b.Got)
	}

	if err := s.DeleteRxBuffer(ctx, uid); err != nil {
		t.Fatalf("delete buffer: %v", err)
	}
	if _, err := s.GetRxBuffer(ctx, uid); !errors.Is(err, store.ErrBufferNotFound) {
		t.Errorf("deleted buffer err = %v, want ErrBufferNotFound", err)
	}
	// Deleting again is fine.
	if err := s.DeleteRxBuffer(ctx, uid); err != nil {
		t.Fatalf("re-delete buffer: %v", err)
	}

	if err := s.AppendRxPart(ctx, "nosuchuid0", 1, 1, "x"); !errors.Is(err, store.ErrBufferNotFound) {
		t.Errorf("part without header err = %v, want ErrBufferNotFound", err)
	}
}

func TestRxBufferIncomplete(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const uid = "0123456789"

	if err := s.CreateRxBuffer(ctx, uid, 2, "!11111111"); err != nil {
		t.Fatalf("create buffer: %v", err)
	}
	if err := s.AppendRxPart(ctx, uid, 2, 2, "tail"); err != nil {
		t.Fatalf("append part: %v", err)
	}

	b, err := s.GetRxBuffer(ctx, uid)
	if err != nil {
		t.Fatalf("get buffer: %v", err)
	}
	if b.Complete() {
		t.Error("buffer with a missing index must not be complete")
	}
}

func TestGCRxBuffers(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	if err := s.CreateRxBuffer(ctx, "fresh00000", 2, "!11111111"); err != nil {
		t.Fatalf("create buffer: %v", err)
	}

	// A zero TTL reaps everything created before "now".
	time.Sleep(1100 * time.Millisecond)
	n, err := s.GCRxBuffers(ctx, 0)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if n != 1 {
		t.Errorf("gc reaped %d, want 1", n)
	}
}

func TestDMQueue(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const to = "!deadbeef"

	var ids []int64
	for _, body := range []string{"first", "second", "third", "fourth"} {
		id, err := s.EnqueueDM(ctx, to, body)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	// Flush cap: only the first 3 in queue order.
	pending, err := s.PendingDMs(ctx, to, 3, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 || pending[0].Body != "first" || pending[2].Body != "third" {
		t.Fatalf("pending = %+v", pending)
	}

	for _, d := range pending {
		if err := s.MarkDMDelivered(ctx, d.ID); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
	}

	// Delivered rows never reappear.
	pending, err = s.PendingDMs(ctx, to, 3, 0)
	if err != nil {
		t.Fatalf("pending after flush: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != ids[3] {
		t.Fatalf("pending after flush = %+v", pending)
	}

	// Marking a delivered row again leaves the original stamp intact.
	if err := s.MarkDMDelivered(ctx, ids[0]); err != nil {
		t.Fatalf("re-mark delivered: %v", err)
	}

	// No pending rows for other recipients.
	other, err := s.PendingDMs(ctx, "!00000001", 3, 0)
	if err != nil {
		t.Fatalf("pending other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("pending for other = %+v", other)
	}
}

func TestDMTTLHidesStaleRows(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	const to = "!deadbeef"

	if _, err := s.EnqueueDM(ctx, to, "stale soon"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// With a generous TTL the row is visible.
	pending, err := s.PendingDMs(ctx, to, 3, 72*time.Hour)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending fresh = %v, %v", pending, err)
	}

	// A sub-second TTL hides it once the clock ticks past.
	time.Sleep(1100 * time.Millisecond)
	pending, err = s.PendingDMs(ctx, to, 3, time.Nanosecond)
	if err != nil {
		t.Fatalf("pending stale: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("stale rows should be hidden, got %+v", pending)
	}
}

func TestTableCounts(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	if _, err := s.CreatePost(ctx, 0, "!aaaaaaaa", "one", nil); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := s.EnqueueDM(ctx, "!bbbbbbbb", "hi"); err != nil {
		t.Fatalf("enqueue dm: %v", err)
	}
	if err := s.AddPeer(ctx, "!cccccccc"); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	c, err := s.TableCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if c.Posts != 1 || c.PendingDMs != 1 || c.Peers != 1 {
		t.Errorf("counts = %+v", c)
	}
}
