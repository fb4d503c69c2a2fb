package replica

import "testing"

func TestSetRoomCountZeroDeletes(t *testing.T) {
	r := New()
	r.SetRoomCount("idx", "col", "room1", 3)
	if _, ok := r.Room("room1"); !ok {
		t.Fatalf("expected room1 present after insert")
	}
	r.SetRoomCount("idx", "col", "room1", 0)
	if _, ok := r.Room("room1"); ok {
		t.Fatalf("expected room1 removed after count=0")
	}
	if rooms := r.RoomsIn("idx", "col"); len(rooms) != 0 {
		t.Fatalf("expected empty tree branch pruned, got %v", rooms)
	}
}

func TestFlatTreeInvariant(t *testing.T) {
	r := New()
	r.SetRoomCount("idx", "col", "room1", 2)
	r.SetRoomCount("idx", "col", "room2", 5)

	rooms := r.RoomsIn("idx", "col")
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms in tree, got %d", len(rooms))
	}
	flat := r.Flat()
	if len(flat) != 2 {
		t.Fatalf("expected 2 rooms in flat, got %d", len(flat))
	}

	r.DeleteRoomCount("room1")
	if _, ok := r.Room("room1"); ok {
		t.Fatalf("room1 should be gone from flat")
	}
	if rooms := r.RoomsIn("idx", "col"); len(rooms) != 1 {
		t.Fatalf("expected 1 room left in tree, got %d", len(rooms))
	}
}

func TestVersionMonotonic(t *testing.T) {
	r := New()
	if v := r.GetVersion("idx", "col"); v != 0 {
		t.Fatalf("expected zero version for unknown tag, got %d", v)
	}
	if !r.SetVersion("idx", "col", 5) {
		t.Fatalf("expected first set to succeed")
	}
	if r.SetVersion("idx", "col", 3) {
		t.Fatalf("expected lower version to be rejected")
	}
	if r.GetVersion("idx", "col") != 5 {
		t.Fatalf("expected version to remain at 5")
	}
	if !r.SetVersion("idx", "col", 6) {
		t.Fatalf("expected strictly greater version to be accepted")
	}
}

func TestResetClearsEverything(t *testing.T) {
	r := New()
	r.SetRoomCount("idx", "col", "room1", 1)
	r.SetVersion("idx", "col", 4)
	r.Reset()
	if _, ok := r.Room("room1"); ok {
		t.Fatalf("expected replica cleared")
	}
	if v := r.GetVersion("idx", "col"); v != 0 {
		t.Fatalf("expected version reset to zero, got %d", v)
	}
}

func TestTagsEnumeratesKnownTags(t *testing.T) {
	r := New()
	r.SetRoomCount("idxA", "colA", "room1", 1)
	r.SetRoomCount("idxB", "colB", "room2", 1)
	tags := r.Tags()
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}
}

func TestLocksSuppressSync(t *testing.T) {
	l := NewLocks()
	if l.Locked("room1") {
		t.Fatalf("expected room1 unlocked initially")
	}
	l.AddCreate("room1")
	if !l.Locked("room1") {
		t.Fatalf("expected room1 locked after AddCreate")
	}
	l.ReleaseCreate("room1")
	if l.Locked("room1") {
		t.Fatalf("expected room1 unlocked after release")
	}

	l.AddDelete("room2")
	if !l.Locked("room2") {
		t.Fatalf("expected room2 locked after AddDelete")
	}
	l.ReleaseDelete("room2")
	if l.Locked("room2") {
		t.Fatalf("expected room2 unlocked after release")
	}
}
