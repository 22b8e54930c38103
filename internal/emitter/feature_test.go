package emitter

import (
	"context"
	"strings"
	"testing"

	"github.com/wegman-software/osm2pgsql-go/internal/geombuilder"
	"github.com/wegman-software/osm2pgsql-go/internal/proj"
	"github.com/wegman-software/osm2pgsql-go/internal/style"
	"github.com/wegman-software/osm2pgsql-go/internal/tagtransform"
)

// fakeTable is a minimal in-memory Table double: no live connection, no
// COPY stream, just enough bookkeeping to assert what the Emitter sent it.
type fakeTable struct {
	writes     []fakeWrite
	deletes    []int64
	existsIDs  map[int64]bool
	hstoreCols []string
	hasTags    bool
}

type fakeWrite struct {
	osmID int64
	ewkt  string
}

func (f *fakeTable) Write(_ context.Context, osmID int64, _ []*string, ewkt string) error {
	f.writes = append(f.writes, fakeWrite{osmID: osmID, ewkt: ewkt})
	return nil
}

func (f *fakeTable) DeleteRow(_ context.Context, osmID int64) error {
	f.deletes = append(f.deletes, osmID)
	return nil
}

func (f *fakeTable) Exists(_ context.Context, osmID int64) (bool, error) {
	return f.existsIDs[osmID], nil
}

func (f *fakeTable) HstoreColumns() []string { return f.hstoreCols }
func (f *fakeTable) HasTagsColumn() bool     { return f.hasTags }

// fakeTracker is a Tracker double backed by a plain map — no pool, so
// IsMarked can never fall through to a real query.
type fakeTracker struct {
	marked map[int64]bool
}

func newFakeTracker() *fakeTracker { return &fakeTracker{marked: map[int64]bool{}} }

func (f *fakeTracker) Mark(_ context.Context, id int64) error {
	f.marked[id] = true
	return nil
}

func (f *fakeTracker) IsMarked(_ context.Context, id int64) (bool, error) {
	return f.marked[id], nil
}

func (f *fakeTracker) PopLowest(context.Context) (int64, error) { return 0, nil }
func (f *fakeTracker) Commit(context.Context) error             { return nil }

// fakeMiddle is a Middle double serving canned ways/relations.
type fakeMiddle struct {
	ways         map[int64]WayData
	relMembers   map[int64][]RelMember
	relTags      map[int64]map[string]string
	relsUsingWay map[int64][]int64
}

func (f *fakeMiddle) GetNode(context.Context, int64) (float64, float64, bool, error) {
	return 0, 0, false, nil
}

func (f *fakeMiddle) GetWay(_ context.Context, id int64) (WayData, bool, error) {
	wd, ok := f.ways[id]
	return wd, ok, nil
}

func (f *fakeMiddle) GetWaysBulk(_ context.Context, ids []int64) (map[int64]WayData, error) {
	out := make(map[int64]WayData, len(ids))
	for _, id := range ids {
		if wd, ok := f.ways[id]; ok {
			out[id] = wd
		}
	}
	return out, nil
}

func (f *fakeMiddle) GetRelation(_ context.Context, id int64) ([]RelMember, map[string]string, bool, error) {
	members, ok := f.relMembers[id]
	if !ok {
		return nil, nil, false, nil
	}
	return members, f.relTags[id], true, nil
}

func (f *fakeMiddle) RelationsUsingWay(_ context.Context, wayID int64) ([]int64, error) {
	return f.relsUsingWay[wayID], nil
}

func (f *fakeMiddle) WaysUsingNode(context.Context, int64) ([]int64, error) { return nil, nil }

// roadsStyle is a minimal ExportList that keeps any way carrying a
// "highway" tag, unflagged for polygon, matching tagtransform's own
// highway/railway/aeroway "roads" heuristic.
func roadsStyle() *style.ExportList {
	return &style.ExportList{
		Way: []style.TagInfo{{Name: "highway", ColumnType: "text"}},
	}
}

// TestSplitAtRequiresProjectedCoordinates is a package-level regression for
// the reprojection bug the maintainer review caught: geombuilder.SplitAt's
// threshold is metric under a projected SRID, so it is only meaningful
// against already-reprojected coordinates. A 2-degree-wide way (~222km once
// projected to Web Mercator, comfortably over the 100000m split_at) never
// crosses that threshold if the raw WGS84-degree deltas (~1 each) are fed to
// it directly — this is Scenario 6's worked case (spec.md's "long line
// split ... in a metric projection with split_at=100000m").
func TestSplitAtRequiresProjectedCoordinates(t *testing.T) {
	coords := []float64{0, 0, 1, 0, 2, 0}
	splitAt := geombuilder.SplitAt(proj.SRID3857)

	unprojected := geombuilder.BuildWay(coords, false, splitAt, false)
	if len(unprojected) != 1 {
		t.Fatalf("raw-degree coords: expected no split (1 fragment), got %d", len(unprojected))
	}

	reproj, err := proj.NewTransformer(proj.SRID4326, proj.SRID3857)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	projected := make([]float64, len(coords))
	copy(projected, coords)
	reproj.TransformCoords(projected)

	got := geombuilder.BuildWay(projected, false, splitAt, false)
	if len(got) != 2 {
		t.Fatalf("projected coords: expected the way to split into 2 fragments, got %d", len(got))
	}
}

// TestEmitWayReprojectsBeforeBuilding drives the same scenario through the
// Emitter itself (WayAdd's shared emitWay path) under --projection 3857,
// asserting both that the emitted WKT carries genuinely projected
// coordinates and that the way was split — the two symptoms the missing
// e.reproj.TransformCoords call produced.
func TestEmitWayReprojectsBeforeBuilding(t *testing.T) {
	reproj, err := proj.NewTransformer(proj.SRID4326, proj.SRID3857)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}

	lineTable := &fakeTable{}
	roadsTable := &fakeTable{}
	tables := Tables{
		Point:   &fakeTable{},
		Line:    lineTable,
		Polygon: &fakeTable{},
		Roads:   roadsTable,
	}
	trackers := Trackers{
		WaysPending: newFakeTracker(),
		WaysDone:    newFakeTracker(),
		RelsPending: newFakeTracker(),
	}
	transform := tagtransform.New(roadsStyle(), nil)
	cfg := Config{SRID: proj.SRID3857}
	e := New(cfg, roadsStyle(), transform, &fakeMiddle{}, tables, trackers, nil, reproj)

	coords := []float64{0, 0, 1, 0, 2, 0}
	if err := e.emitWay(context.Background(), 1, map[string]string{"highway": "primary"}, coords, false, true); err != nil {
		t.Fatalf("emitWay: %v", err)
	}

	if len(lineTable.writes) != 2 {
		t.Fatalf("expected the way to split into 2 line rows, got %d", len(lineTable.writes))
	}
	if len(roadsTable.writes) != 2 {
		t.Fatalf("expected 2 roads rows (roads=true), got %d", len(roadsTable.writes))
	}
	for _, w := range lineTable.writes {
		if !strings.HasPrefix(w.ewkt, "SRID=3857;") {
			t.Fatalf("expected SRID=3857 prefix, got %q", w.ewkt)
		}
	}
	// 1 degree of longitude at the equator projects to ~111319.49m in Web
	// Mercator; seeing that value (rather than the raw "1") confirms the
	// coordinates were actually reprojected before being built into WKT.
	if !strings.Contains(lineTable.writes[0].ewkt, "111319.49") {
		t.Fatalf("expected projected Web Mercator coordinates in wkt, got %q", lineTable.writes[0].ewkt)
	}
}

// TestProcessPendingWayExistsGating exercises the fresh-import (exists=false)
// vs append-mode (exists=true) branch of ProcessPendingWay: only the latter
// should probe/delete prior rows and re-mark dependent relations.
func TestProcessPendingWayExistsGating(t *testing.T) {
	newEmitter := func(mid *fakeMiddle, relsPending *fakeTracker) (*Emitter, *fakeTable, *fakeTable) {
		lineTable := &fakeTable{existsIDs: map[int64]bool{42: true}}
		roadsTable := &fakeTable{}
		tables := Tables{
			Point:   &fakeTable{},
			Line:    lineTable,
			Polygon: &fakeTable{},
			Roads:   roadsTable,
		}
		trackers := Trackers{
			WaysPending: newFakeTracker(),
			WaysDone:    newFakeTracker(),
			RelsPending: relsPending,
		}
		transform := tagtransform.New(roadsStyle(), nil)
		reproj, _ := proj.NewTransformer(proj.SRID4326, proj.SRID4326)
		cfg := Config{SRID: proj.SRID4326}
		e := New(cfg, roadsStyle(), transform, mid, tables, trackers, nil, reproj)
		return e, lineTable, roadsTable
	}

	way := WayData{Tags: map[string]string{"highway": "residential"}, Coords: []float64{0, 0, 1, 1}}

	t.Run("fresh import skips delete and remark", func(t *testing.T) {
		mid := &fakeMiddle{
			ways:         map[int64]WayData{42: way},
			relsUsingWay: map[int64][]int64{42: {100}},
		}
		relsPending := newFakeTracker()
		e, lineTable, roadsTable := newEmitter(mid, relsPending)

		if err := e.ProcessPendingWay(context.Background(), 42, false); err != nil {
			t.Fatalf("ProcessPendingWay: %v", err)
		}
		if len(lineTable.deletes) != 0 {
			t.Fatalf("exists=false: expected no line deletes, got %v", lineTable.deletes)
		}
		if len(roadsTable.deletes) != 0 {
			t.Fatalf("exists=false: expected no roads deletes, got %v", roadsTable.deletes)
		}
		if relsPending.marked[100] {
			t.Fatalf("exists=false: expected relation 100 not to be re-marked pending")
		}
	})

	t.Run("append run deletes and remarks", func(t *testing.T) {
		mid := &fakeMiddle{
			ways:         map[int64]WayData{42: way},
			relsUsingWay: map[int64][]int64{42: {100}},
		}
		relsPending := newFakeTracker()
		e, lineTable, roadsTable := newEmitter(mid, relsPending)

		if err := e.ProcessPendingWay(context.Background(), 42, true); err != nil {
			t.Fatalf("ProcessPendingWay: %v", err)
		}
		if len(lineTable.deletes) != 1 || lineTable.deletes[0] != 42 {
			t.Fatalf("exists=true: expected a line delete for 42, got %v", lineTable.deletes)
		}
		if len(roadsTable.deletes) != 1 || roadsTable.deletes[0] != 42 {
			t.Fatalf("exists=true: expected a roads delete for 42 (unconditional per §10.G), got %v", roadsTable.deletes)
		}
		if !relsPending.marked[100] {
			t.Fatalf("exists=true: expected relation 100 to be re-marked pending")
		}
	})
}

// TestProcessPendingRelationExistsGating mirrors the way-side test for
// relations: exists=true must delete the relation's prior negative-id rows
// before rebuilding, exists=false must not.
func TestProcessPendingRelationExistsGating(t *testing.T) {
	members := []RelMember{{Type: "w", Ref: 1, Role: "outer"}}
	relTags := map[string]string{"type": "multipolygon"}
	wayData := map[int64]WayData{
		1: {Tags: map[string]string{}, Coords: []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}},
	}

	newEmitter := func() (*Emitter, *fakeTable, *fakeTable) {
		polyTable := &fakeTable{}
		lineTable := &fakeTable{}
		tables := Tables{
			Point:   &fakeTable{},
			Line:    lineTable,
			Polygon: polyTable,
			Roads:   &fakeTable{},
		}
		trackers := Trackers{
			WaysPending: newFakeTracker(),
			WaysDone:    newFakeTracker(),
			RelsPending: newFakeTracker(),
		}
		list := &style.ExportList{Way: []style.TagInfo{{Name: "type", ColumnType: "text"}}}
		transform := tagtransform.New(list, nil)
		reproj, _ := proj.NewTransformer(proj.SRID4326, proj.SRID4326)
		cfg := Config{SRID: proj.SRID4326}
		mid := &fakeMiddle{ways: wayData, relMembers: map[int64][]RelMember{7: members}, relTags: map[int64]map[string]string{7: relTags}}
		e := New(cfg, list, transform, mid, tables, trackers, nil, reproj)
		return e, polyTable, lineTable
	}

	t.Run("fresh import skips prior-row delete", func(t *testing.T) {
		e, polyTable, lineTable := newEmitter()
		if err := e.ProcessPendingRelation(context.Background(), 7, false); err != nil {
			t.Fatalf("ProcessPendingRelation: %v", err)
		}
		if len(polyTable.deletes) != 0 || len(lineTable.deletes) != 0 {
			t.Fatalf("exists=false: expected no prior-row deletes, got poly=%v line=%v", polyTable.deletes, lineTable.deletes)
		}
	})

	t.Run("append run deletes prior rows first", func(t *testing.T) {
		e, polyTable, _ := newEmitter()
		if err := e.ProcessPendingRelation(context.Background(), 7, true); err != nil {
			t.Fatalf("ProcessPendingRelation: %v", err)
		}
		if len(polyTable.deletes) != 1 || polyTable.deletes[0] != -7 {
			t.Fatalf("exists=true: expected a polygon delete for -7, got %v", polyTable.deletes)
		}
	})
}
