package geombuilder

import "github.com/wegman-software/osm2pgsql-go/internal/wkb"

// Result is one produced geometry: its WKT (without SRID prefix — the
// caller adds that, since the Output Table owns the destination SRID) and,
// for polygons, its absolute area.
type Result struct {
	WKT    string
	Area   float64
	IsArea bool
	// Coords is the flat [lon,lat,...] chain the WKT was built from
	// (the outer ring for a polygon), kept so callers can register its
	// bounding box with the expire accumulator without reparsing WKT.
	Coords []float64
}

// BuildWay builds the geometry for a single resolved way (§4.E "Way
// processing" step 3). makePolygon gates whether a polygon build is
// attempted at all; per §4.E's classification rule this is a pre-build
// hint only — whether the result actually lands in the polygon table is
// decided by the caller from the returned WKT prefix, not from
// makePolygon. splitAt <= 0 disables line splitting. excludePoly gates §7
// error-kind 5: when set, a collapsed ring yields zero results instead of
// an invalid polygon.
func BuildWay(coords []float64, makePolygon bool, splitAt float64, excludePoly bool) []Result {
	if makePolygon && closed(coords) && len(coords) >= 8 {
		if excludePoly && ValidateLinearRing(coords) != nil {
			return nil
		}
		area := Area(coords)
		return []Result{{WKT: wkb.PolygonWKT([][]float64{coords}), Area: area, IsArea: true, Coords: coords}}
	}

	fragments := wkb.SplitLineString(coords, splitAt)
	results := make([]Result, 0, len(fragments))
	for _, frag := range fragments {
		if len(frag) < 4 {
			continue
		}
		results = append(results, Result{WKT: wkb.LineStringWKT(frag), Coords: frag})
	}
	return results
}

// Member is one relation member's resolved coordinate chain (§4.E relation
// processing step 3/5): a way's node coordinates plus its member role.
type Member struct {
	Coords []float64
	Role   string // "outer", "inner", or "" (unspecified — treated as outer)
}

// BuildRelationPolygons assembles multipolygon/boundary member fragments
// into rings and groups them into polygons (§4.E step 5). When enableMulti
// is true and more than one outer ring was assembled, a single MULTIPOLYGON
// result is returned; otherwise each assembled polygon is returned as its
// own POLYGON result (mirroring excludepoly-style single-geometry output).
// Incomplete (non-closed) fragments are always dropped silently by
// AssemblePolygons. excludePoly additionally gates §7 error-kind 5's
// collapsed-ring case: each assembled polygon is run through
// ValidatePolygon, and one that fails is dropped instead of emitted as an
// invalid polygon; if every assembled polygon is dropped this way the
// builder returns zero geometries, as the caller (the Emitter) requires.
func BuildRelationPolygons(members []Member, enableMulti bool, excludePoly bool) []Result {
	assembler := NewRingAssembler()
	for _, m := range members {
		assembler.Push(m.Coords, m.Role)
	}
	polys := assembler.AssemblePolygons()
	if excludePoly {
		valid := polys[:0]
		for _, p := range polys {
			if ValidatePolygon(p) == nil {
				valid = append(valid, p)
			}
		}
		polys = valid
	}
	if len(polys) == 0 {
		return nil
	}

	if enableMulti && len(polys) > 1 {
		var area float64
		var outer []float64
		for _, p := range polys {
			area += Area(p[0])
			outer = append(outer, p[0]...)
		}
		return []Result{{WKT: wkb.MultiPolygonWKT(polys), Area: area, IsArea: true, Coords: outer}}
	}

	results := make([]Result, 0, len(polys))
	for _, p := range polys {
		results = append(results, Result{WKT: wkb.PolygonWKT(p), Area: Area(p[0]), IsArea: true, Coords: p[0]})
	}
	return results
}

// SplitAt returns the distance threshold §4.E step 5 calls for: 1 degree
// for a geographic projection, 100000 metres for a metric one.
func SplitAt(srid int) float64 {
	if srid == wkb.SRID4326 {
		return 1.0
	}
	return 100000.0
}
