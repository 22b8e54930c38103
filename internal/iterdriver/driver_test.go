package iterdriver

import (
	"context"
	"sort"
	"testing"

	"github.com/wegman-software/osm2pgsql-go/internal/idtracker"
)

// fakePending is an in-memory stand-in for idtracker.Tracker's PopLowest
// that hands back ids from a fixed ascending slice, then idtracker.IDMax.
type fakePending struct {
	ids []int64
	pos int
}

func (f *fakePending) PopLowest(ctx context.Context) (int64, error) {
	if f.pos >= len(f.ids) {
		return idtracker.IDMax, nil
	}
	id := f.ids[f.pos]
	f.pos++
	return id, nil
}

func TestDriverMergeOrdering(t *testing.T) {
	pending := &fakePending{ids: []int64{2, 5, 9, 20}}
	upstream := []int64{1, 5, 10, 15}

	var processed []int64
	d := New(pending, func(ctx context.Context, id int64) error {
		processed = append(processed, id)
		return nil
	})

	ctx := context.Background()
	for _, u := range upstream {
		if err := d.Upstream(ctx, u); err != nil {
			t.Fatalf("Upstream(%d): %v", u, err)
		}
	}
	if err := d.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	want := []int64{1, 2, 5, 9, 10, 15, 20}
	if len(processed) != len(want) {
		t.Fatalf("processed = %v, want %v", processed, want)
	}
	for i, id := range want {
		if processed[i] != id {
			t.Errorf("processed[%d] = %d, want %d (full: %v)", i, processed[i], id, processed)
		}
	}
	if !sort.IsSorted(int64Slice(processed)) {
		t.Errorf("processed ids not ascending: %v", processed)
	}

	seen := map[int64]int{}
	for _, id := range processed {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("id %d processed %d times, want exactly once", id, n)
		}
	}
}

func TestDriverFinishDrainsAllPending(t *testing.T) {
	pending := &fakePending{ids: []int64{3, 7, 8}}
	var processed []int64
	d := New(pending, func(ctx context.Context, id int64) error {
		processed = append(processed, id)
		return nil
	})

	if err := d.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	want := []int64{3, 7, 8}
	if len(processed) != len(want) {
		t.Fatalf("processed = %v, want %v", processed, want)
	}
	for i := range want {
		if processed[i] != want[i] {
			t.Errorf("processed[%d] = %d, want %d", i, processed[i], want[i])
		}
	}
}

func TestDrainPendingHelper(t *testing.T) {
	pending := &fakePending{ids: []int64{4, 6}}
	var processed []int64
	err := DrainPending(context.Background(), pending, func(ctx context.Context, id int64) error {
		processed = append(processed, id)
		return nil
	})
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(processed) != 2 || processed[0] != 4 || processed[1] != 6 {
		t.Errorf("processed = %v, want [4 6]", processed)
	}
}

type int64Slice []int64

func (s int64Slice) Len() int           { return len(s) }
func (s int64Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s int64Slice) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
