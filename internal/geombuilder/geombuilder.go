// Package geombuilder is the low-level geometry builder the distilled
// specification treats as an external collaborator: it resolves ordered
// node coordinates into WKT, splits long linestrings, computes areas, and
// assembles multipolygon/boundary relations from member way fragments. The
// ring-assembly algorithm is ported from
// maxymania-osm-superinserter/geombuild/geombuilder.go, operating on the
// flat []float64 coordinate-ring representation internal/wkb already uses
// instead of that package's github.com/twpayne/go-geom types.
package geombuilder

import "math"

// near0 is the endpoint-matching epsilon, carried over unchanged from the
// ported algorithm (coordinates are lon/lat degrees, not metres).
const near0 = 1.0 / 256.0

func isEq(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < near0
}

func closed(ring []float64) bool {
	n := len(ring)
	return n >= 4 && isEq(ring[0], ring[n-2]) && isEq(ring[1], ring[n-1])
}

func endpointsMatch(a, b []float64) bool {
	an := len(a)
	return isEq(a[an-2], b[0]) && isEq(a[an-1], b[1])
}

// fragment is one ring-in-progress on the assembly stack: a coordinate
// chain plus the member role that contributed it ("outer"/"inner"/"").
type fragment struct {
	coords []float64
	role   string
	ring   bool // true once coords forms a closed ring
}

// roleCompatible mirrors the source's rule that an empty role matches
// either outer or inner, but two named roles must agree.
func roleCompatible(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a == b
}

// RingAssembler reconstructs closed rings from an ordered sequence of way
// fragments (as produced by resolving each multipolygon/boundary member's
// node coordinates), merging fragments whose endpoints touch.
type RingAssembler struct {
	stack []fragment
}

// NewRingAssembler returns an empty assembler.
func NewRingAssembler() *RingAssembler { return &RingAssembler{} }

// Reset clears the assembler for reuse across relations.
func (a *RingAssembler) Reset() { a.stack = a.stack[:0] }

// Push adds one member way's resolved coordinate chain with its role. It
// is promoted to a closed ring immediately if its own endpoints already
// match, then repeatedly merged against the top of the stack.
func (a *RingAssembler) Push(coords []float64, role string) {
	f := fragment{coords: coords, role: role, ring: closed(coords)}
	a.stack = append(a.stack, f)
	for a.merge() {
	}
}

// merge attempts to combine the top two stack fragments; it returns true
// if a merge happened (the caller loops until no further merge applies).
func (a *RingAssembler) merge() bool {
	n := len(a.stack)
	if n < 2 {
		return false
	}
	top := a.stack[n-1]
	prev := a.stack[n-2]

	if top.ring || prev.ring {
		// A completed ring cannot absorb or be absorbed by another
		// fragment; leave both on the stack distinctly.
		return false
	}
	if !roleCompatible(top.role, prev.role) {
		return false
	}

	var merged []float64
	var role string
	switch {
	case endpointsMatch(prev.coords, top.coords):
		merged = concat(prev.coords, top.coords[2:])
		role = pickRole(prev.role, top.role)
	case endpointsMatch(top.coords, prev.coords):
		merged = concat(top.coords, prev.coords[2:])
		role = pickRole(prev.role, top.role)
	default:
		return false
	}

	a.stack = a.stack[:n-2]
	a.stack = append(a.stack, fragment{coords: merged, role: role, ring: closed(merged)})
	return true
}

func pickRole(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// AssemblePolygons groups the assembled rings into polygons: the first
// ring encountered that counts as "outer" (role "outer" or unset) starts a
// new polygon; subsequent inner-role rings before the next outer become
// its holes. Incomplete (non-closed) fragments are dropped silently,
// matching §7 error-kind 5 (the builder returns zero geometries for a
// collapsed ring rather than failing the whole relation).
func (a *RingAssembler) AssemblePolygons() [][][]float64 {
	var polys [][][]float64
	for _, f := range a.stack {
		if !f.ring {
			continue
		}
		isOuter := f.role == "" || f.role == "outer"
		if isOuter || len(polys) == 0 {
			polys = append(polys, [][]float64{f.coords})
		} else {
			last := len(polys) - 1
			polys[last] = append(polys[last], f.coords)
		}
	}
	return polys
}

// EValidation is a polygon-validation failure kind, ported from
// maxymania-osm-superinserter/geombuild/validator.go onto this package's
// flat []float64 ring representation in place of that package's
// github.com/twpayne/go-geom types.
type EValidation uint

const (
	EShortLinearRing EValidation = iota
	ENonClosedLinearRing
	EEmptyPolygon
)

var validationReasons = [...]string{
	"ring must have at least four points",
	"ring is not closed",
	"polygon must have at least one ring",
}

func (e EValidation) Error() string {
	if int(e) >= len(validationReasons) {
		return "???"
	}
	return validationReasons[e]
}

// ValidateLinearRing reports a collapsed ring (§7 error-kind 5): fewer than
// four points, or endpoints that don't match. closed() already guards the
// latter for rings the assembler emits, but a ring assembled from exactly
// one degenerate two-point fragment can still pass it; this catches that.
func ValidateLinearRing(ring []float64) error {
	if len(ring) < 8 {
		return EShortLinearRing
	}
	n := len(ring)
	if !isEq(ring[0], ring[n-2]) || !isEq(ring[1], ring[n-1]) {
		return ENonClosedLinearRing
	}
	return nil
}

// ValidatePolygon validates an assembled polygon's outer ring and holes
// (rings[0] is the outer ring, rings[1:] are holes).
func ValidatePolygon(rings [][]float64) error {
	if len(rings) == 0 {
		return EEmptyPolygon
	}
	for _, r := range rings {
		if err := ValidateLinearRing(r); err != nil {
			return err
		}
	}
	return nil
}

// Area computes the absolute area of a closed ring (shoelace formula),
// delegated identically to internal/wkb.Area so callers needn't import
// both packages for the same computation; kept here too since the build
// request struct (below) carries it as a step of the pipeline.
func Area(ring []float64) float64 {
	n := len(ring) / 2
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := ring[i*2], ring[i*2+1]
		x2, y2 := ring[j*2], ring[j*2+1]
		sum += x1*y2 - x2*y1
	}
	return math.Abs(sum / 2)
}
