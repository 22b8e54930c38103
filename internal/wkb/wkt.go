package wkb

import (
	"strconv"
	"strings"
)

// PointWKT renders a single point as well-known text: "POINT(lon lat)".
func PointWKT(lon, lat float64) string {
	var b strings.Builder
	b.WriteString("POINT(")
	writeCoord(&b, lon, lat)
	b.WriteByte(')')
	return b.String()
}

// LineStringWKT renders a flat [lon,lat,lon,lat,...] coordinate slice as
// "LINESTRING(lon lat, lon lat, ...)".
func LineStringWKT(coords []float64) string {
	var b strings.Builder
	b.WriteString("LINESTRING")
	writeRing(&b, coords)
	return b.String()
}

// PolygonWKT renders outer ring plus optional inner rings (holes) as
// "POLYGON((outer ring), (hole ring), ...)". Each ring is a flat
// [lon,lat,...] slice; rings must already be closed (first == last coord).
func PolygonWKT(rings [][]float64) string {
	var b strings.Builder
	b.WriteString("POLYGON(")
	for i, ring := range rings {
		if i > 0 {
			b.WriteByte(',')
		}
		writeRing(&b, ring)
	}
	b.WriteByte(')')
	return b.String()
}

// MultiPolygonWKT renders several polygons (each a slice of rings) as
// "MULTIPOLYGON(((...)), ((...)))".
func MultiPolygonWKT(polygons [][][]float64) string {
	var b strings.Builder
	b.WriteString("MULTIPOLYGON(")
	for i, poly := range polygons {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, ring := range poly {
			if j > 0 {
				b.WriteByte(',')
			}
			writeRing(&b, ring)
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// EWKT prefixes wkt with its SRID, e.g. "SRID=4326;POINT(-0.1 51.5)" — the
// extended-WKT form the destination database's geometry column accepts.
func EWKT(srid int, wkt string) string {
	var b strings.Builder
	b.WriteString("SRID=")
	b.WriteString(strconv.Itoa(srid))
	b.WriteByte(';')
	b.WriteString(wkt)
	return b.String()
}

// Prefix returns the leading WKT geometry-type keyword of wkt, used for
// post-build classification (§4.E: table choice follows the WKT prefix, not
// the pre-build polygon flag).
func Prefix(wkt string) string {
	for i, r := range wkt {
		if r == '(' {
			return wkt[:i]
		}
	}
	return wkt
}

func writeRing(b *strings.Builder, coords []float64) {
	b.WriteByte('(')
	for i := 0; i < len(coords); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCoord(b, coords[i], coords[i+1])
	}
	b.WriteByte(')')
}

func writeCoord(b *strings.Builder, lon, lat float64) {
	b.WriteString(strconv.FormatFloat(lon, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(lat, 'f', -1, 64))
}
