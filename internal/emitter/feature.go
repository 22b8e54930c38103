package emitter

import (
	"context"

	"github.com/wegman-software/osm2pgsql-go/internal/geombuilder"
	"github.com/wegman-software/osm2pgsql-go/internal/wkb"
)

// NodeAdd implements §4.E node_add: emits a point row iff the tag filter
// keeps it, and registers the point's bbox with the expire accumulator.
func (e *Emitter) NodeAdd(ctx context.Context, id int64, lon, lat float64, tags map[string]string) error {
	if e.transform.FilterNodeTags(tags) {
		return nil
	}

	x, y := lon, lat
	if e.reproj.NeedsTransform() {
		x, y = e.reproj.Transform(lon, lat)
	}

	values := rowValues(e.tables.Point, e.exportCol.NodeColumns, tags)
	ewkt := wkb.EWKT(e.cfg.SRID, wkb.PointWKT(x, y))
	if err := e.tables.Point.Write(ctx, id, values, ewkt); err != nil {
		return err
	}
	if e.expire != nil {
		e.expire.ExpirePoint(lat, lon)
	}
	return nil
}

// NodeModify is node_delete then node_add (§4.E *_modify).
func (e *Emitter) NodeModify(ctx context.Context, id int64, lon, lat float64, tags map[string]string) error {
	if err := e.NodeDelete(ctx, id); err != nil {
		return err
	}
	return e.NodeAdd(ctx, id, lon, lat, tags)
}

// NodeDelete removes the node's point row and re-marks any ways using this
// node as pending, since their geometry may now be stale.
func (e *Emitter) NodeDelete(ctx context.Context, id int64) error {
	if err := e.requireSlim("node_delete"); err != nil {
		return err
	}
	if err := e.tables.Point.DeleteRow(ctx, id); err != nil {
		return err
	}
	ways, err := e.middle.WaysUsingNode(ctx, id)
	if err != nil {
		return err
	}
	for _, wayID := range ways {
		if err := e.trackers.WaysPending.Mark(ctx, wayID); err != nil {
			return err
		}
	}
	return nil
}

// WayAdd implements §4.E way_add: polygon-flagged ways are deferred
// (pending_ways.mark); otherwise kept-linear ways are built and emitted
// immediately from the already-resolved coordinate chain.
func (e *Emitter) WayAdd(ctx context.Context, id int64, coords []float64, tags map[string]string) error {
	drop, polygon, roads := e.transform.FilterWayTags(tags)
	if drop {
		return nil
	}
	if polygon {
		return e.trackers.WaysPending.Mark(ctx, id)
	}
	return e.emitWay(ctx, id, tags, coords, false, roads)
}

// WayModify is way_delete then way_add.
func (e *Emitter) WayModify(ctx context.Context, id int64, coords []float64, tags map[string]string) error {
	if err := e.requireSlim("way_modify"); err != nil {
		return err
	}
	if err := e.wayDeleteRows(ctx, id); err != nil {
		return err
	}
	if err := e.remarkRelationsUsingWay(ctx, id); err != nil {
		return err
	}
	return e.WayAdd(ctx, id, coords, tags)
}

// WayDelete implements §4.E *_delete for ways: delete positive-id rows on
// every table, then re-mark dependent relations as pending. The roads
// table delete is unconditional (no existence probe), matching the
// original's asymmetry (§10.G); line/polygon deletes probe first.
func (e *Emitter) WayDelete(ctx context.Context, id int64) error {
	if err := e.requireSlim("way_delete"); err != nil {
		return err
	}
	if e.cfg.DropTemp {
		// droptemp-mode no-op short-circuit, preserved from the
		// original pgsql_delete_way_from_output.
		return nil
	}
	if err := e.wayDeleteRows(ctx, id); err != nil {
		return err
	}
	return e.remarkRelationsUsingWay(ctx, id)
}

func (e *Emitter) wayDeleteRows(ctx context.Context, id int64) error {
	if exists, err := e.tables.Line.Exists(ctx, id); err != nil {
		return err
	} else if exists {
		if err := e.tables.Line.DeleteRow(ctx, id); err != nil {
			return err
		}
	}
	if exists, err := e.tables.Polygon.Exists(ctx, id); err != nil {
		return err
	} else if exists {
		if err := e.tables.Polygon.DeleteRow(ctx, id); err != nil {
			return err
		}
	}
	return e.tables.Roads.DeleteRow(ctx, id)
}

func (e *Emitter) remarkRelationsUsingWay(ctx context.Context, wayID int64) error {
	relIDs, err := e.middle.RelationsUsingWay(ctx, wayID)
	if err != nil {
		return err
	}
	for _, relID := range relIDs {
		if err := e.trackers.RelsPending.Mark(ctx, relID); err != nil {
			return err
		}
	}
	return nil
}

// reprojectCoords returns coords transformed into the output SRID (§4.E
// step 3's "resolve node coordinates" feeds the builder in the working
// projection, mirroring NodeAdd's per-point Transform), or coords itself
// unmodified when no transform is configured. The source array is never
// mutated: expire accumulation still needs the original lon/lat degrees.
func (e *Emitter) reprojectCoords(coords []float64) []float64 {
	if !e.reproj.NeedsTransform() {
		return coords
	}
	out := make([]float64, len(coords))
	copy(out, coords)
	e.reproj.TransformCoords(out)
	return out
}

// emitWay runs the shared "Way processing" build/classify/emit steps
// (§4.E), used both by the way_add linear path and the deferred replay.
// Expiry is registered once against the untransformed way, ahead of the
// build/split step, rather than per emitted fragment: a fragment's bbox is
// always contained in the whole way's, so this only ever expires a
// superset of the tiles a per-fragment scheme would touch.
func (e *Emitter) emitWay(ctx context.Context, id int64, tags map[string]string, coords []float64, makePolygon, roads bool) error {
	if e.expire != nil && len(coords) >= 2 {
		e.expire.ExpireCoords(coords)
	}
	results := geombuilder.BuildWay(e.reprojectCoords(coords), makePolygon, e.splitAt, e.cfg.ExcludePoly)
	for _, r := range results {
		if err := e.emitBuiltGeometry(ctx, id, tags, r, roads); err != nil {
			return err
		}
	}
	return nil
}

// emitBuiltGeometry implements the post-build classification rule (§4.E
// "Classification rule"): table choice follows the WKT prefix of the
// result, not the pre-build makePolygon hint.
func (e *Emitter) emitBuiltGeometry(ctx context.Context, id int64, tags map[string]string, r geombuilder.Result, roads bool) error {
	prefix := wkb.Prefix(r.WKT)
	ewkt := wkb.EWKT(e.cfg.SRID, r.WKT)

	switch prefix {
	case "POLYGON", "MULTIPOLYGON":
		values := rowValues(e.tables.Polygon, e.exportCol.WayColumns, tags)
		if e.cfg.EnableWayArea && r.Area > 0 && hasWayAreaColumn(e.exportCol.WayColumns) {
			setColumnValue(e.exportCol.WayColumns, values, "way_area", wayAreaValue(r.Area))
		}
		return e.tables.Polygon.Write(ctx, id, values, ewkt)
	default:
		values := rowValues(e.tables.Line, e.exportCol.WayColumns, tags)
		if err := e.tables.Line.Write(ctx, id, values, ewkt); err != nil {
			return err
		}
		if roads {
			roadValues := rowValues(e.tables.Roads, e.exportCol.WayColumns, tags)
			return e.tables.Roads.Write(ctx, id, roadValues, ewkt)
		}
		return nil
	}
}

// RelationAdd implements §4.E relation_add: gated on tags["type"] being
// route/multipolygon/boundary, then runs full relation processing with
// exists=false.
func (e *Emitter) RelationAdd(ctx context.Context, id int64, members []RelMember, tags map[string]string) error {
	typ := tags["type"]
	if typ != "route" && typ != "multipolygon" && typ != "boundary" {
		return nil
	}
	return e.processRelation(ctx, id, members, tags, false)
}

// RelationModify is relation_delete then relation_add.
func (e *Emitter) RelationModify(ctx context.Context, id int64, members []RelMember, tags map[string]string) error {
	if err := e.requireSlim("relation_modify"); err != nil {
		return err
	}
	return e.RelationAdd(ctx, id, members, tags)
}

// RelationDelete implements §4.E *_delete for relations: deletes the
// negative-id polygon row (no droptemp short-circuit here — that
// asymmetry, per §10.G, is way-delete only).
func (e *Emitter) RelationDelete(ctx context.Context, id int64) error {
	if err := e.requireSlim("relation_delete"); err != nil {
		return err
	}
	negID := -id
	if exists, err := e.tables.Polygon.Exists(ctx, negID); err != nil {
		return err
	} else if exists {
		return e.tables.Polygon.DeleteRow(ctx, negID)
	}
	return nil
}

// processRelation implements the full "Relation processing" algorithm of
// §4.E.
func (e *Emitter) processRelation(ctx context.Context, id int64, members []RelMember, tags map[string]string, exists bool) error {
	negID := -id
	if exists {
		if err := e.deleteSignedRows(ctx, e.tables.Polygon, negID); err != nil {
			return err
		}
		if err := e.deleteSignedRows(ctx, e.tables.Line, negID); err != nil {
			return err
		}
	}

	var wayIDs []int64
	for _, m := range members {
		if m.Type == "w" {
			wayIDs = append(wayIDs, m.Ref)
		}
	}
	ways, err := e.middle.GetWaysBulk(ctx, wayIDs)
	if err != nil {
		return err
	}

	// Preserve member order and role alongside each bulk-fetched way;
	// roles are matched by scanning the caller's member array (§9's
	// preserved O(n·m) lookup, since relation member counts are small).
	var memberTags []map[string]string
	var fragments []geombuilder.Member
	var wayMemberIDs []int64
	for _, wid := range wayIDs {
		wd, ok := ways[wid]
		if !ok {
			continue // upstream miss (§7 error-kind 2): drop silently
		}
		role := ""
		for _, m := range members {
			if m.Type == "w" && m.Ref == wid {
				role = m.Role
				break
			}
		}
		memberTags = append(memberTags, wd.Tags)
		fragments = append(fragments, geombuilder.Member{Coords: wd.Coords, Role: role})
		wayMemberIDs = append(wayMemberIDs, wid)
	}

	drop, result := e.transform.FilterRelMemberTags(tags, memberTags)
	if drop {
		return nil
	}

	if e.expire != nil {
		for _, f := range fragments {
			if len(f.Coords) >= 2 {
				e.expire.ExpireCoords(f.Coords)
			}
		}
	}
	projFragments := e.reprojectMembers(fragments)

	geoms := geombuilder.BuildRelationPolygons(projFragments, e.cfg.EnableMulti, e.cfg.ExcludePoly)
	for _, g := range geoms {
		if err := e.emitRelationGeometry(ctx, negID, tags, g, result.Roads); err != nil {
			return err
		}
	}

	if result.IsPolygon {
		for i, superseded := range result.Superseded {
			if !superseded {
				continue
			}
			wayID := wayMemberIDs[i]
			if err := e.trackers.WaysDone.Mark(ctx, wayID); err != nil {
				return err
			}
			if err := e.wayDeleteRows(ctx, wayID); err != nil {
				return err
			}
		}
	}

	if result.IsBoundary {
		return e.buildBoundarySecondPass(ctx, negID, tags, projFragments)
	}
	return nil
}

// reprojectMembers returns members with their coordinate chains transformed
// into the output SRID, mirroring reprojectCoords for the way path; expiry
// for these members must be registered against the caller's original,
// untransformed fragments before calling this.
func (e *Emitter) reprojectMembers(members []geombuilder.Member) []geombuilder.Member {
	if !e.reproj.NeedsTransform() {
		return members
	}
	out := make([]geombuilder.Member, len(members))
	for i, m := range members {
		out[i] = geombuilder.Member{Coords: e.reprojectCoords(m.Coords), Role: m.Role}
	}
	return out
}

// buildBoundarySecondPass implements §4.E step 8 / §9's preserved anomaly:
// the source re-runs the builder with make_polygon=1 regardless of the
// first pass's is_polygon value, and this implementation does the same.
// fragments is already reprojected and already expired by the caller.
func (e *Emitter) buildBoundarySecondPass(ctx context.Context, negID int64, tags map[string]string, fragments []geombuilder.Member) error {
	geoms := geombuilder.BuildRelationPolygons(fragments, e.cfg.EnableMulti, e.cfg.ExcludePoly)
	for _, g := range geoms {
		if err := e.emitRelationGeometry(ctx, negID, tags, g, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) emitRelationGeometry(ctx context.Context, negID int64, tags map[string]string, r geombuilder.Result, roads bool) error {
	prefix := wkb.Prefix(r.WKT)
	ewkt := wkb.EWKT(e.cfg.SRID, r.WKT)

	switch prefix {
	case "POLYGON", "MULTIPOLYGON":
		values := rowValues(e.tables.Polygon, e.exportCol.WayColumns, tags)
		if e.cfg.EnableWayArea && r.Area > 0 && hasWayAreaColumn(e.exportCol.WayColumns) {
			setColumnValue(e.exportCol.WayColumns, values, "way_area", wayAreaValue(r.Area))
		}
		return e.tables.Polygon.Write(ctx, negID, values, ewkt)
	default:
		values := rowValues(e.tables.Line, e.exportCol.WayColumns, tags)
		if err := e.tables.Line.Write(ctx, negID, values, ewkt); err != nil {
			return err
		}
		if roads {
			roadValues := rowValues(e.tables.Roads, e.exportCol.WayColumns, tags)
			return e.tables.Roads.Write(ctx, negID, roadValues, ewkt)
		}
		return nil
	}
}

// ProcessPendingWay re-enters way processing for a deferred/replayed way
// (§4.F). exists tells it whether this way could already have live output
// rows to retire first: a fresh import's deferred polygon way never emitted
// anything at way_add time (spec.md §4.E step 2, "polygon-flagged ways are
// deferred"), so Run()'s drain passes exists=false and skips the
// delete/remark step entirely; RunAppend()'s drain passes exists=true,
// since there a deferred way may be replaying over a prior run's rows.
func (e *Emitter) ProcessPendingWay(ctx context.Context, id int64, exists bool) error {
	wd, ok, err := e.middle.GetWay(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil // upstream miss (§7 error-kind 2)
	}
	if done, err := e.trackers.WaysDone.IsMarked(ctx, id); err != nil {
		return err
	} else if done {
		return nil
	}

	if exists {
		if err := e.wayDeleteRows(ctx, id); err != nil {
			return err
		}
		if err := e.remarkRelationsUsingWay(ctx, id); err != nil {
			return err
		}
	}

	drop, polygon, roads := e.transform.FilterWayTags(wd.Tags)
	if drop {
		return nil
	}
	return e.emitWay(ctx, id, wd.Tags, wd.Coords, polygon, roads)
}

// ProcessPendingRelation re-enters relation processing for a
// deferred/replayed relation id (§4.F). exists is forwarded to
// processRelation unchanged, with the same fresh-import-vs-append rationale
// as ProcessPendingWay's.
func (e *Emitter) ProcessPendingRelation(ctx context.Context, id int64, exists bool) error {
	members, tags, ok, err := e.middle.GetRelation(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return e.processRelation(ctx, id, members, tags, exists)
}
