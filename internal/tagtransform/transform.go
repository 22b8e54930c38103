// Package tagtransform implements the style-bound tag classification
// functions (§4.B): given a feature's tags, decide keep/drop, polygon vs
// linear, road membership, and relation-member supersession. Every function
// here is pure with respect to its inputs except through explicit out
// parameters — it never mutates the maps it is given.
package tagtransform

import "github.com/wegman-software/osm2pgsql-go/internal/style"

// roadKeys are the tag keys that make a kept way a "roads" member in
// addition to its line/polygon table row. osm2pgsql's own default style
// singles out highway/railway/aeroway; this mirrors that default rather
// than inventing a new heuristic.
var roadKeys = map[string]bool{
	"highway": true,
	"railway": true,
	"aeroway": true,
}

// Transform binds the classification functions to one loaded style.
// Relations have no OSM-type entry of their own in the style grammar
// (§4.A only names NODE/WAY); relation and relation-member tags are
// matched against the WAY rule set, mirroring how multipolygon/boundary
// relations are rendered as ways by the original style file.
type Transform struct {
	exportList *style.ExportList
	script     *Script // optional user override, nil if not configured
}

// New binds a loaded ExportList. script may be nil.
func New(exportList *style.ExportList, script *Script) *Transform {
	return &Transform{exportList: exportList, script: script}
}

// FilterNodeTags implements filter_node_tags: drop is true when no
// NODE-applicable style rule matches any tag.
func (t *Transform) FilterNodeTags(tags map[string]string) (drop bool) {
	if t.script != nil {
		if d, ok := t.script.FilterNode(tags); ok {
			return d
		}
	}
	return len(style.Match(t.exportList.Node, tags)) == 0
}

// FilterWayTags implements filter_way_tags: drop is true when no
// WAY-applicable rule matches; polygon is true when at least one matching
// rule carries the POLYGON flag; roads is true when the way carries one of
// the well-known road-like keys and that key survived the style filter.
func (t *Transform) FilterWayTags(tags map[string]string) (drop, polygon, roads bool) {
	matched := style.Match(t.exportList.Way, tags)
	if len(matched) == 0 {
		return true, false, false
	}
	for _, rule := range matched {
		if rule.Has(style.Polygon) {
			polygon = true
		}
		if roadKeys[rule.Name] {
			roads = true
		}
	}
	return false, polygon, roads
}

// FilterRelTags implements filter_rel_tags: the relation-level filter,
// applied to the relation's own tags using the WAY rule set.
func (t *Transform) FilterRelTags(tags map[string]string) (drop bool) {
	return len(style.Match(t.exportList.Way, tags)) == 0
}

// MemberFilterResult is the aggregate out-parameter set of
// filter_rel_member_tags.
type MemberFilterResult struct {
	Superseded []bool
	IsBoundary bool
	IsPolygon  bool
	Roads      bool
}

// FilterRelMemberTags implements filter_rel_member_tags (§4.B.4). It
// assumes the caller has already gated on tags["type"] being one of
// route/multipolygon/boundary (§4.E way_add/relation_add); this function
// only computes the per-member verdicts.
func (t *Transform) FilterRelMemberTags(relTags map[string]string, memberTags []map[string]string) (drop bool, result MemberFilterResult) {
	if drop = t.FilterRelTags(relTags); drop {
		return true, MemberFilterResult{}
	}

	typ := relTags["type"]
	result.IsBoundary = typ == "boundary"
	result.IsPolygon = typ == "multipolygon" || result.IsBoundary

	for _, rule := range style.Match(t.exportList.Way, relTags) {
		if roadKeys[rule.Name] {
			result.Roads = true
		}
	}

	result.Superseded = make([]bool, len(memberTags))
	for i, mt := range memberTags {
		result.Superseded[i] = subsetOf(mt, relTags)
	}
	return false, result
}

// subsetOf reports whether every key in a also appears in b with the same
// value — the "fully subsumed by the assembled relation" test that decides
// whether a member way's standalone row is superseded.
func subsetOf(a, b map[string]string) bool {
	if len(a) == 0 {
		return true
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
