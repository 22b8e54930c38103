package emitter

import (
	"context"

	"github.com/wegman-software/osm2pgsql-go/internal/middle"
)

// MiddleAdapter satisfies the Middle interface (§6's upstream contract) by
// wrapping the durable internal/middle.MiddleStore, which stores raw ways
// as a node-id array rather than resolved coordinates. Resolving a way's
// coordinates is therefore this adapter's job: it bulk-fetches every
// referenced node and reassembles each way's coordinate chain in the
// original node-ref order, dropping any node the middle can't find (§7
// error-kind 2 — an upstream miss is absorbed here rather than failing the
// whole way).
type MiddleAdapter struct {
	store *middle.MiddleStore
}

// NewMiddleAdapter binds an adapter to an already-open middle store.
func NewMiddleAdapter(store *middle.MiddleStore) *MiddleAdapter {
	return &MiddleAdapter{store: store}
}

var _ Middle = (*MiddleAdapter)(nil)

func (a *MiddleAdapter) GetNode(ctx context.Context, id int64) (lon, lat float64, ok bool, err error) {
	n, err := a.store.GetNode(ctx, id)
	if err != nil {
		return 0, 0, false, err
	}
	if n == nil {
		return 0, 0, false, nil
	}
	return middle.UnscaleCoord(n.Lon), middle.UnscaleCoord(n.Lat), true, nil
}

func (a *MiddleAdapter) GetWay(ctx context.Context, id int64) (WayData, bool, error) {
	w, err := a.store.GetWay(ctx, id)
	if err != nil {
		return WayData{}, false, err
	}
	if w == nil {
		return WayData{}, false, nil
	}
	nodes, err := a.store.GetNodesBulk(ctx, w.Nodes)
	if err != nil {
		return WayData{}, false, err
	}
	return WayData{Tags: w.Tags, Coords: resolveCoords(w.Nodes, nodes)}, true, nil
}

func (a *MiddleAdapter) GetWaysBulk(ctx context.Context, ids []int64) (map[int64]WayData, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ways, err := a.store.GetWaysBulk(ctx, ids)
	if err != nil {
		return nil, err
	}

	var allNodeIDs []int64
	for _, w := range ways {
		allNodeIDs = append(allNodeIDs, w.Nodes...)
	}
	nodes, err := a.store.GetNodesBulk(ctx, allNodeIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]WayData, len(ways))
	for _, w := range ways {
		out[w.ID] = WayData{Tags: w.Tags, Coords: resolveCoords(w.Nodes, nodes)}
	}
	return out, nil
}

func (a *MiddleAdapter) GetRelation(ctx context.Context, id int64) ([]RelMember, map[string]string, bool, error) {
	r, err := a.store.GetRelation(ctx, id)
	if err != nil {
		return nil, nil, false, err
	}
	if r == nil {
		return nil, nil, false, nil
	}
	members := make([]RelMember, len(r.Members))
	for i, m := range r.Members {
		members[i] = RelMember{Type: m.Type, Ref: m.Ref, Role: m.Role}
	}
	return members, r.Tags, true, nil
}

func (a *MiddleAdapter) RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error) {
	return a.store.RelationsUsingWay(ctx, wayID)
}

func (a *MiddleAdapter) WaysUsingNode(ctx context.Context, nodeID int64) ([]int64, error) {
	return a.store.WaysUsingNode(ctx, nodeID)
}

// resolveCoords reassembles a flat [lon,lat,lon,lat,...] chain from an
// ordered node-id reference list and a (possibly partial) id->node lookup.
func resolveCoords(nodeIDs []int64, nodes map[int64]*middle.RawNode) []float64 {
	coords := make([]float64, 0, len(nodeIDs)*2)
	for _, id := range nodeIDs {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		coords = append(coords, middle.UnscaleCoord(n.Lon), middle.UnscaleCoord(n.Lat))
	}
	return coords
}
