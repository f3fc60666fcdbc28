package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bankchat/bankchat-go/bankchat"
)

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore(10)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, bankchat.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreGetOrCreate(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	again, err := store.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if again.ID != a.ID || !again.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("GetOrCreate returned a different session: %+v vs %+v", again, a)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	a, _ := store.GetOrCreate(ctx, "a")
	a.State["selected_account"] = "110-1"
	a.AppendTurn(bankchat.Turn{ID: "t1", UserText: "잔액"}, 10)

	stored, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Turns) != 0 || len(stored.State) != 0 {
		t.Fatalf("mutations leaked into the store before Put: %+v", stored)
	}

	if err := store.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	stored, _ = store.Get(ctx, "a")
	if len(stored.Turns) != 1 || stored.State.String("selected_account") != "110-1" {
		t.Fatalf("Put did not persist the session: %+v", stored)
	}

	// The stored copy must not share maps with what Put received.
	a.State["selected_account"] = "999-9"
	a.Turns[0].UserText = "변경"
	stored, _ = store.Get(ctx, "a")
	if stored.State.String("selected_account") != "110-1" || stored.Turns[0].UserText != "잔액" {
		t.Errorf("store shares memory with the caller: %+v", stored)
	}
}

func TestMemoryStoreEvictsOldestAtCapacity(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := store.GetOrCreate(ctx, fmt.Sprintf("s%d", i)); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}

	if _, err := store.Get(ctx, "s0"); !errors.Is(err, bankchat.ErrSessionNotFound) {
		t.Errorf("oldest session should be evicted, got err %v", err)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("session %s evicted unexpectedly: %v", id, err)
		}
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("repeated Delete must not fail: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, bankchat.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreListMostRecentFirst(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	a, _ := store.GetOrCreate(ctx, "a")
	b, _ := store.GetOrCreate(ctx, "b")
	a.UpdatedAt = time.Now().Add(time.Hour)
	b.UpdatedAt = time.Now()
	store.Put(ctx, a)
	store.Put(ctx, b)

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != "a" {
		t.Errorf("summaries = %v, want a first", summaries)
	}
}

func TestSessionAppendTurnTrimsHistory(t *testing.T) {
	s := New("id")
	for i := 0; i < 5; i++ {
		s.AppendTurn(bankchat.Turn{ID: fmt.Sprintf("t%d", i)}, 3)
	}
	if len(s.Turns) != 3 {
		t.Fatalf("len(Turns) = %d, want 3", len(s.Turns))
	}
	if s.Turns[0].ID != "t2" || s.Turns[2].ID != "t4" {
		t.Errorf("Turns = %v, want the newest three", s.Turns)
	}
}
