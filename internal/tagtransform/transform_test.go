package tagtransform

import (
	"strings"
	"testing"

	"github.com/wegman-software/osm2pgsql-go/internal/style"
)

func mustLoad(t *testing.T, src string) *style.ExportList {
	t.Helper()
	list, err := style.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("style.Load: %v", err)
	}
	return list
}

func TestFilterNodeTags(t *testing.T) {
	list := mustLoad(t, "node highway text linear\n")
	tr := New(list, nil)

	if drop := tr.FilterNodeTags(map[string]string{"highway": "bus_stop"}); drop {
		t.Fatalf("expected node with recognised tag to be kept")
	}
	if drop := tr.FilterNodeTags(map[string]string{"source": "survey"}); !drop {
		t.Fatalf("expected node with no recognised tag to be dropped")
	}
}

func TestFilterWayTagsPolygonAndRoads(t *testing.T) {
	list := mustLoad(t, "way building text polygon\nway highway text linear\n")
	tr := New(list, nil)

	drop, polygon, roads := tr.FilterWayTags(map[string]string{"building": "yes"})
	if drop || !polygon || roads {
		t.Fatalf("got drop=%v polygon=%v roads=%v, want false/true/false", drop, polygon, roads)
	}

	drop, polygon, roads = tr.FilterWayTags(map[string]string{"highway": "primary"})
	if drop || polygon || !roads {
		t.Fatalf("got drop=%v polygon=%v roads=%v, want false/false/true", drop, polygon, roads)
	}
}

func TestFilterRelMemberTagsSupersession(t *testing.T) {
	list := mustLoad(t, "way natural text polygon\n")
	tr := New(list, nil)

	relTags := map[string]string{"type": "multipolygon", "natural": "water"}
	memberTags := []map[string]string{
		{"natural": "water"},
		{"natural": "water", "name": "Inner Lake"},
	}

	drop, result := tr.FilterRelMemberTags(relTags, memberTags)
	if drop {
		t.Fatalf("expected relation to be kept")
	}
	if !result.IsPolygon || result.IsBoundary {
		t.Fatalf("expected is_polygon=true is_boundary=false, got %+v", result)
	}
	if !result.Superseded[0] {
		t.Fatalf("expected member 0 (subset of relation tags) to be superseded")
	}
	if result.Superseded[1] {
		t.Fatalf("expected member 1 (extra tag not on relation) to not be superseded")
	}
}
