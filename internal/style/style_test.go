package style

import (
	"strings"
	"testing"
)

func TestLoadMinimal(t *testing.T) {
	list, err := Load(strings.NewReader("node,way highway text linear\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(list.Node) != 1 || len(list.Way) != 1 {
		t.Fatalf("expected one node rule and one way rule, got %d/%d", len(list.Node), len(list.Way))
	}
	if !list.Node[0].Has(Linear) || !list.Way[0].Has(Linear) {
		t.Fatalf("expected linear flag on both rules")
	}
	if !list.EnableWayArea {
		t.Fatalf("expected enable_way_area=true by default")
	}
}

func TestLoadWildcardOutsideDeleteIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("way na*me text linear\n"))
	if err == nil {
		t.Fatalf("expected fatal error for wildcard in non-delete entry")
	}
}

func TestLoadWildcardInDeleteOK(t *testing.T) {
	list, err := Load(strings.NewReader("way na* text delete\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(list.Way) != 1 {
		t.Fatalf("expected one way rule")
	}
}

func TestWayAreaDeleteDisablesEnableWayArea(t *testing.T) {
	list, err := Load(strings.NewReader("way building text polygon\nway way_area real delete\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if list.EnableWayArea {
		t.Fatalf("expected enable_way_area=false when way_area is DELETE-flagged")
	}
}

func TestLoadZeroRulesIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader("# just a comment\n\n"))
	if err == nil {
		t.Fatalf("expected fatal error for zero valid rules")
	}
}

func TestLoadIdempotent(t *testing.T) {
	src := "node,way highway text linear\nway building text polygon\n"
	a, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(a.Node) != len(b.Node) || len(a.Way) != len(b.Way) || a.EnableWayArea != b.EnableWayArea {
		t.Fatalf("expected identical ExportLists from repeated parses")
	}
}

func TestLoadTooFewFields(t *testing.T) {
	_, err := Load(strings.NewReader("way building\n"))
	if err == nil {
		t.Fatalf("expected fatal error for too few fields")
	}
}
