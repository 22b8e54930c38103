// Package emitter implements the Feature Emitter (§4.E): it orchestrates
// per-feature processing — node/way/relation add/modify/delete, pending
// deferral, geometry classification, and row emission — consuming the
// style/tag-transform/output-table/id-tracker/geombuilder/proj/expire
// collaborators.
package emitter

import "context"

// WayData is a way's tags plus its member nodes already resolved to flat
// [lon,lat,lon,lat,...] WGS84 coordinates, matching §6's
// "get_way(id) -> (tags, node_coords[])".
type WayData struct {
	Tags   map[string]string
	Coords []float64
}

// RelMember is one relation member reference.
type RelMember struct {
	Type string // "n", "w", or "r"
	Ref  int64
	Role string
}

// Middle is the upstream raw-primitive store contract (§6). The concrete
// implementation lives in internal/middle; this interface is the Emitter's
// own narrow view of it, matching the distilled spec's external-collaborator
// boundary.
type Middle interface {
	GetNode(ctx context.Context, id int64) (lon, lat float64, ok bool, err error)
	GetWay(ctx context.Context, id int64) (WayData, bool, error)
	GetWaysBulk(ctx context.Context, ids []int64) (map[int64]WayData, error)
	GetRelation(ctx context.Context, id int64) (members []RelMember, tags map[string]string, ok bool, err error)
	RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error)
	WaysUsingNode(ctx context.Context, nodeID int64) ([]int64, error)
}
