package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/mumutools/mumuctl/internal/instance"
)

func snapsFixture(indices ...int) map[int]instance.Snapshot {
	out := make(map[int]instance.Snapshot, len(indices))
	for _, idx := range indices {
		out[idx] = instance.Snapshot{Index: idx, Name: "MuMu", Status: "running"}
	}
	return out
}

func TestStore_GetEmpty(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get(0, time.Minute); ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestStore_GetFreshAfterReplaceAll(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0, 1))

	snap, ok := s.Get(1, time.Minute)
	if !ok {
		t.Fatal("expected hit immediately after ReplaceAll")
	}
	if snap.Index != 1 {
		t.Errorf("Index = %d, want 1", snap.Index)
	}
}

func TestStore_GetZeroMaxAgeAlwaysStale(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0))

	if _, ok := s.Get(0, 0); ok {
		t.Fatal("maxAge 0 must report stale")
	}
	if _, ok := s.Get(0, -time.Second); ok {
		t.Fatal("negative maxAge must report stale")
	}
}

func TestStore_GetExpired(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0))

	// Age the entry past maxAge by moving the clock.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	if _, ok := s.Get(0, time.Minute); ok {
		t.Fatal("expected stale entry to miss")
	}
}

func TestStore_GetAllFreshness(t *testing.T) {
	s := NewStore()

	if _, fresh := s.GetAll(time.Minute); fresh {
		t.Fatal("never-refreshed store must not be fresh")
	}

	s.ReplaceAll(snapsFixture(0, 1, 2))
	snaps, fresh := s.GetAll(time.Minute)
	if !fresh {
		t.Fatal("store must be fresh right after ReplaceAll")
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d entries, want 3", len(snaps))
	}

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, fresh := s.GetAll(time.Minute); fresh {
		t.Fatal("aged store must not be fresh")
	}
}

func TestStore_GetAllReturnsCopy(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0))

	snaps, _ := s.GetAll(time.Minute)
	snaps[99] = instance.Snapshot{Index: 99}

	if s.Len() != 1 {
		t.Fatal("mutating the returned mapping must not affect the store")
	}
}

func TestStore_ReplaceAllDropsAbsentEntries(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0, 1, 2))
	s.ReplaceAll(snapsFixture(1))

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if _, ok := s.Get(0, time.Minute); ok {
		t.Fatal("entry 0 should have been dropped")
	}
}

func TestStore_SetOneLeavesFullRefreshAlone(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0))
	before := s.LastRefresh()

	s.SetOne(instance.Snapshot{Index: 5, Name: "New"})

	if !s.LastRefresh().Equal(before) {
		t.Error("SetOne must not stamp the full-refresh time")
	}
	if _, ok := s.Get(5, time.Minute); !ok {
		t.Fatal("expected hit for the committed entry")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestStore_ClearIdempotent(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(snapsFixture(0, 1))

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", s.Len())
	}
	if !s.LastRefresh().IsZero() {
		t.Error("Clear must zero the refresh timestamp")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatal("second Clear must leave the store empty")
	}
}

// TestStore_AtomicSwap hammers GetAll while ReplaceAll alternates
// between two disjoint mappings. A reader must never observe a mix.
func TestStore_AtomicSwap(t *testing.T) {
	s := NewStore()
	setA := snapsFixture(0, 1, 2)
	setB := snapsFixture(10, 11, 12)
	s.ReplaceAll(setA)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				s.ReplaceAll(setB)
			} else {
				s.ReplaceAll(setA)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		snaps, _ := s.GetAll(time.Minute)
		_, hasA := snaps[0]
		_, hasB := snaps[10]
		if hasA && hasB {
			t.Fatal("observed a mixed mapping during swap")
		}
		if len(snaps) != 3 {
			t.Fatalf("observed partial mapping of %d entries", len(snaps))
		}
	}

	close(done)
	wg.Wait()
}
