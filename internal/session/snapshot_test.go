package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "history.json")
	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := map[string][]Turn{
		"telegram:42": {
			{Role: RoleAssistant, Text: "أهلاً", Time: when},
			{Role: RoleUser, Text: "عايز تيشيرت", Time: when},
		},
	}

	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write snapshot failed: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	turns := got["telegram:42"]
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleAssistant || turns[0].Text != "أهلاً" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if !turns[1].Time.Equal(when) {
		t.Fatalf("timestamp not preserved: %v", turns[1].Time)
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	t.Parallel()

	got, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil map for missing file")
	}
}

func TestReadSnapshotCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err == nil {
		t.Fatalf("expected decode error for corrupt file")
	}
	if got != nil {
		t.Fatalf("corrupt file must yield no prior state")
	}
}

func TestWriteSnapshotReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	if err := WriteSnapshot(path, map[string][]Turn{"telegram:1": {{Role: RoleUser, Text: "one"}}}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteSnapshot(path, map[string][]Turn{"telegram:1": {{Role: RoleUser, Text: "two"}}}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got["telegram:1"][0].Text != "two" {
		t.Fatalf("expected latest snapshot, got %q", got["telegram:1"][0].Text)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestFlusherLoadAndFlush(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	seed := map[string][]Turn{
		"whatsapp:2010001": {{Role: RoleAssistant, Text: "أهلاً", Time: time.Now().UTC()}},
	}
	if err := WriteSnapshot(path, seed); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	store := NewStore(10)
	flusher := NewFlusher(nil, store, path, time.Minute)
	flusher.LoadInitial()

	id := Identity{Channel: "whatsapp", SubjectID: "2010001"}
	if got := store.TurnCount(id); got != 1 {
		t.Fatalf("expected loaded turn, got %d", got)
	}

	store.Append(id, Turn{Role: RoleUser, Text: "hi", Time: time.Now().UTC()})
	if err := flusher.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read after flush: %v", err)
	}
	if len(got[id.Key()]) != 2 {
		t.Fatalf("expected 2 turns flushed, got %d", len(got[id.Key()]))
	}
}
