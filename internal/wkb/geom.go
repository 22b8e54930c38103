package wkb

import "math"

// Area computes the signed area of a closed ring given as a flat
// [lon,lat,lon,lat,...] coordinate slice, via the shoelace formula. The
// caller takes the absolute value; sign indicates winding direction.
func Area(coords []float64) float64 {
	n := len(coords) / 2
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := coords[i*2], coords[i*2+1]
		x2, y2 := coords[j*2], coords[j*2+1]
		sum += x1*y2 - x2*y1
	}
	area := sum / 2
	if area < 0 {
		return -area
	}
	return area
}

// SplitLineString breaks a flat [lon,lat,...] coordinate slice into
// consecutive fragments, each no longer than splitAt measured in the
// projection's native length unit (degrees or metres — the caller picks
// the unit by choosing splitAt). splitAt <= 0 disables splitting. Every
// fragment shares its boundary point with the next, matching the source's
// behaviour of segmenting without introducing gaps.
func SplitLineString(coords []float64, splitAt float64) [][]float64 {
	if splitAt <= 0 || len(coords) < 4 {
		return [][]float64{coords}
	}

	var out [][]float64
	current := []float64{coords[0], coords[1]}
	var length float64

	for i := 2; i < len(coords); i += 2 {
		x1, y1 := coords[i-2], coords[i-1]
		x2, y2 := coords[i], coords[i+1]
		seg := segmentLength(x1, y1, x2, y2)

		if length+seg > splitAt && len(current) >= 4 {
			out = append(out, current)
			current = []float64{x1, y1}
			length = 0
		}

		current = append(current, x2, y2)
		length += seg
	}

	if len(current) >= 4 {
		out = append(out, current)
	} else if len(out) == 0 {
		out = append(out, current)
	}
	return out
}

func segmentLength(x1, y1, x2, y2 float64) float64 {
	dx, dy := x2-x1, y2-y1
	return math.Sqrt(dx*dx + dy*dy)
}
