package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/risa-org/cdp/pending"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/router"
	"github.com/risa-org/cdp/session"
)

func newSession(key, target string) *session.Session {
	deps := &session.Deps{
		IDs:    pending.NewSequencer(),
		Calls:  pending.NewTable(nil),
		Events: router.New(nil),
		Codec:  protocol.NewCodec(nil),
	}
	return session.New(key, target, deps)
}

func TestPutAndGet(t *testing.T) {
	store := New()
	sess := newSession("S1", "T1")

	if err := store.Put(sess); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	got, ok := store.Get("S1")
	if !ok {
		t.Fatal("expected to find session after storing it")
	}
	if got != sess {
		t.Errorf("expected the stored session back, got %v", got.Key())
	}
}

func TestGetUnknown(t *testing.T) {
	store := New()

	if _, ok := store.Get("does-not-exist"); ok {
		t.Error("expected false for unknown session key")
	}
}

func TestPutDuplicate(t *testing.T) {
	store := New()
	store.Put(newSession("S1", "T1"))

	if err := store.Put(newSession("S1", "T2")); err != ErrDuplicateKey {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDeleteOnlyRemovesSameSession(t *testing.T) {
	store := New()
	old := newSession("S1", "T1")
	store.Put(old)

	if !store.Delete(old) {
		t.Fatal("expected delete to succeed")
	}
	if store.Delete(old) {
		t.Error("second delete should report false")
	}

	fresh := newSession("S1", "T1")
	store.Put(fresh)
	if store.Delete(old) {
		t.Error("a stale session must not remove its successor")
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 session, got %d", store.Count())
	}
}

func TestAllAndByTarget(t *testing.T) {
	store := New()
	store.Put(newSession("S3", "T1"))
	store.Put(newSession("S1", "T1"))
	store.Put(newSession("S2", "T2"))

	all := store.All()
	if len(all) != 3 || all[0].Key() != "S1" || all[2].Key() != "S3" {
		t.Errorf("expected sessions ordered by key, got %d", len(all))
	}

	onT1 := store.ByTarget("T1")
	if len(onT1) != 2 || onT1[0].Key() != "S1" || onT1[1].Key() != "S3" {
		t.Errorf("unexpected sessions for T1: %d", len(onT1))
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := newSession(string(rune('a'+i%26))+string(rune('A'+i/26)), "T")
			store.Put(sess)
			store.Get(sess.Key())
			store.All()
			store.Delete(sess)
		}(i)
	}
	wg.Wait()

	if store.Count() != 0 {
		t.Errorf("expected empty store, got %d", store.Count())
	}
}

func TestCloseReturnsSessionsAndRejectsPut(t *testing.T) {
	store := New()
	a := newSession("A", "T1")
	b := newSession("B", "T2")
	if err := store.Put(b); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(a); err != nil {
		t.Fatal(err)
	}

	held := store.Close()
	if len(held) != 2 || held[0] != a || held[1] != b {
		t.Fatalf("expected [A B], got %v", held)
	}
	if err := store.Put(newSession("C", "T3")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if again := store.Close(); again != nil {
		t.Errorf("second Close returned %v", again)
	}
	if !store.Delete(a) {
		t.Error("Delete should still work after Close")
	}
}
