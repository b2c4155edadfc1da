package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func turn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestParseIdentity(t *testing.T) {
	t.Parallel()

	id, err := ParseIdentity("telegram:12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Channel != "telegram" || id.SubjectID != "12345" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.Key() != "telegram:12345" {
		t.Fatalf("unexpected key: %q", id.Key())
	}

	if _, err := ParseIdentity("no-separator"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestAppendEnforcesCap(t *testing.T) {
	t.Parallel()

	store := NewStore(4)
	id := Identity{Channel: "telegram", SubjectID: "1"}
	for i := 0; i < 10; i++ {
		store.Append(id, turn(RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	turns := store.Recent(id, 100)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	// Oldest-first, newest retained.
	for i, tr := range turns {
		want := fmt.Sprintf("msg-%d", 6+i)
		if tr.Text != want {
			t.Fatalf("turn %d: expected %q, got %q", i, want, tr.Text)
		}
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(8)
	id := Identity{Channel: "whatsapp", SubjectID: "2010001"}

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = store.GetOrCreate(id)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(sessions); i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("concurrent first access returned distinct sessions")
		}
	}
	if store.Size() != 1 {
		t.Fatalf("expected 1 tracked identity, got %d", store.Size())
	}
}

func TestChannelsAreDistinctKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(8)
	store.Append(Identity{Channel: "telegram", SubjectID: "7"}, turn(RoleUser, "hi"))
	store.Append(Identity{Channel: "whatsapp", SubjectID: "7"}, turn(RoleUser, "hello"), turn(RoleAssistant, "hey"))

	if got := store.TurnCount(Identity{Channel: "telegram", SubjectID: "7"}); got != 1 {
		t.Fatalf("telegram count: expected 1, got %d", got)
	}
	if got := store.TurnCount(Identity{Channel: "whatsapp", SubjectID: "7"}); got != 2 {
		t.Fatalf("whatsapp count: expected 2, got %d", got)
	}
}

func TestCrossKeyAppendsDoNotBlock(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	busy := Identity{Channel: "telegram", SubjectID: "busy"}
	other := Identity{Channel: "telegram", SubjectID: "other"}

	// Hold one identity's session lock, simulating a long append in flight.
	sess := store.GetOrCreate(busy)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	done := make(chan struct{})
	go func() {
		store.Append(other, turn(RoleUser, "hi"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("append to a different identity blocked behind a busy session")
	}
	if got := store.TurnCount(other); got != 1 {
		t.Fatalf("expected 1 turn for the other identity, got %d", got)
	}
}

func TestAppendIfEmptyRecordsOnce(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	id := Identity{Channel: "whatsapp", SubjectID: "2010001"}

	var wg sync.WaitGroup
	var appended atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.AppendIfEmpty(id, turn(RoleAssistant, "greeting")) {
				appended.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := appended.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful append, got %d", got)
	}
	if got := store.TurnCount(id); got != 1 {
		t.Fatalf("expected 1 recorded turn, got %d", got)
	}

	if store.AppendIfEmpty(id, turn(RoleUser, "late")) {
		t.Fatalf("append to a non-empty session must be refused")
	}
}

func TestSnapshotSeesWholePairs(t *testing.T) {
	t.Parallel()

	store := NewStore(100)
	id := Identity{Channel: "telegram", SubjectID: "9"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			store.Append(id,
				turn(RoleUser, "q"),
				turn(RoleAssistant, "a"),
			)
		}
	}()

	for i := 0; i < 50; i++ {
		snap := store.Snapshot()
		turns := snap[id.Key()]
		if len(turns)%2 != 0 {
			t.Fatalf("snapshot saw a half-appended pair: %d turns", len(turns))
		}
	}
	<-done
}

func TestRecentWindow(t *testing.T) {
	t.Parallel()

	store := NewStore(50)
	id := Identity{Channel: "telegram", SubjectID: "3"}
	for i := 0; i < 20; i++ {
		store.Append(id, turn(RoleUser, fmt.Sprintf("m%d", i)))
	}

	recent := store.Recent(id, 5)
	if len(recent) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(recent))
	}
	if recent[0].Text != "m15" || recent[4].Text != "m19" {
		t.Fatalf("unexpected window: first=%q last=%q", recent[0].Text, recent[4].Text)
	}

	if got := store.Recent(Identity{Channel: "telegram", SubjectID: "missing"}, 5); got != nil {
		t.Fatalf("expected nil for unknown identity, got %v", got)
	}
}

func TestLoadKeepsNewestWithinCap(t *testing.T) {
	t.Parallel()

	store := NewStore(3)
	turns := make([]Turn, 6)
	for i := range turns {
		turns[i] = turn(RoleUser, fmt.Sprintf("t%d", i))
	}
	store.Load(map[string][]Turn{"telegram:1": turns})

	got := store.Recent(Identity{Channel: "telegram", SubjectID: "1"}, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 turns after load, got %d", len(got))
	}
	if got[0].Text != "t3" || got[2].Text != "t5" {
		t.Fatalf("expected newest turns kept, got first=%q last=%q", got[0].Text, got[2].Text)
	}
}
