package geombuilder

import "testing"

func square(x0, y0, size float64) []float64 {
	return []float64{x0, y0, x0 + size, y0, x0 + size, y0 + size, x0, y0 + size, x0, y0}
}

func TestBuildWayClosedPolygon(t *testing.T) {
	coords := square(0, 0, 1)
	results := BuildWay(coords, true, 0, false)
	if len(results) != 1 {
		t.Fatalf("expected one polygon result, got %d", len(results))
	}
	if results[0].WKT[:7] != "POLYGON" {
		t.Fatalf("expected POLYGON prefix, got %q", results[0].WKT)
	}
	if results[0].Area != 1 {
		t.Fatalf("expected area 1, got %v", results[0].Area)
	}
}

func TestBuildWayOpenIsLine(t *testing.T) {
	coords := []float64{0, 0, 1, 0, 1, 1}
	results := BuildWay(coords, true, 0, false)
	if len(results) != 1 || results[0].IsArea {
		t.Fatalf("expected a single non-area line result, got %+v", results)
	}
}

func TestRingAssemblerTwoHalvesMakeOneRing(t *testing.T) {
	a := NewRingAssembler()
	a.Push([]float64{0, 0, 1, 0, 1, 1}, "outer")
	a.Push([]float64{1, 1, 0, 1, 0, 0}, "outer")

	polys := a.AssemblePolygons()
	if len(polys) != 1 || len(polys[0]) != 1 {
		t.Fatalf("expected one polygon with one ring, got %+v", polys)
	}
}

func TestRingAssemblerOuterAndInner(t *testing.T) {
	a := NewRingAssembler()
	a.Push(square(0, 0, 10), "outer")
	a.Push(square(2, 2, 2), "inner")

	polys := a.AssemblePolygons()
	if len(polys) != 1 || len(polys[0]) != 2 {
		t.Fatalf("expected one polygon with outer+inner rings, got %+v", polys)
	}
}

func TestBuildRelationPolygonsMultiOuter(t *testing.T) {
	members := []Member{
		{Coords: square(0, 0, 1), Role: "outer"},
		{Coords: square(10, 10, 1), Role: "outer"},
	}
	results := BuildRelationPolygons(members, true, false)
	if len(results) != 1 {
		t.Fatalf("expected one MULTIPOLYGON result, got %d", len(results))
	}
	if results[0].WKT[:12] != "MULTIPOLYGON" {
		t.Fatalf("expected MULTIPOLYGON prefix, got %q", results[0].WKT)
	}
}

func TestBuildRelationPolygonsIncompleteRingDropped(t *testing.T) {
	members := []Member{
		{Coords: []float64{0, 0, 1, 0, 1, 1}, Role: "outer"}, // never closes
	}
	results := BuildRelationPolygons(members, true, false)
	if len(results) != 0 {
		t.Fatalf("expected zero geometries for a collapsed ring, got %d", len(results))
	}
}

func TestValidateLinearRingShortRingRejected(t *testing.T) {
	ring := []float64{0, 0, 1, 1, 0, 0} // closes, but only two distinct points
	if err := ValidateLinearRing(ring); err != ENonClosedLinearRing && err != EShortLinearRing {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestBuildRelationPolygonsExcludePolyDropsCollapsedRing(t *testing.T) {
	members := []Member{
		{Coords: []float64{0, 0, 1, 1, 0, 0}, Role: "outer"}, // degenerate ring, closes trivially
	}
	results := BuildRelationPolygons(members, false, true)
	if len(results) != 0 {
		t.Fatalf("expected excludepoly to drop the collapsed ring, got %d results", len(results))
	}
}
