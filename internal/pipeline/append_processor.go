package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/emitter"
	"github.com/wegman-software/osm2pgsql-go/internal/logger"
	"github.com/wegman-software/osm2pgsql-go/internal/middle"
	"github.com/wegman-software/osm2pgsql-go/internal/osc"
)

// AppendStats tracks append-mode processing counts.
type AppendStats struct {
	NodesProcessed     int64
	WaysProcessed      int64
	RelationsProcessed int64
	Duration           time.Duration
}

// AppendProcessor applies a parsed .osc changeset via §4.E's *_modify and
// *_delete operations: it keeps the middle store's raw primitives current
// and lets the Feature Emitter itself work out geometry rebuilding, row
// deletion, and pending-way/relation cascades (ways_pending, rels_pending)
// — this package no longer re-derives cascades or rebuilds rings by hand,
// since the emitter (§4.E) and the middle store already do that correctly.
type AppendProcessor struct {
	mid *middle.MiddleStore
	em  *emitter.Emitter
	adp *emitter.MiddleAdapter
}

// NewAppendProcessor binds a processor to an already-open middle store and
// emitter (the emitter's own Middle collaborator should wrap the same
// store, via emitter.NewMiddleAdapter).
func NewAppendProcessor(mid *middle.MiddleStore, em *emitter.Emitter) *AppendProcessor {
	return &AppendProcessor{mid: mid, em: em, adp: emitter.NewMiddleAdapter(mid)}
}

// ProcessChanges applies every parsed change in order, then reports counts.
// The caller is responsible for draining the emitter's ways_pending and
// rels_pending trackers afterward (internal/iterdriver.DrainPending) so
// cascading rebuilds from this changeset actually land.
func (p *AppendProcessor) ProcessChanges(ctx context.Context, changes <-chan osc.Change) (*AppendStats, error) {
	log := logger.Get()
	stats := &AppendStats{}
	start := time.Now()

	for change := range changes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var err error
		switch change.Type {
		case "node":
			err = p.processNode(ctx, change, stats)
		case "way":
			err = p.processWay(ctx, change, stats)
		case "relation":
			err = p.processRelation(ctx, change, stats)
		}
		if err != nil {
			return nil, fmt.Errorf("processing %s change: %w", change.Type, err)
		}
	}

	stats.Duration = time.Since(start)
	log.Info("append processing complete",
		zap.Int64("nodes", stats.NodesProcessed),
		zap.Int64("ways", stats.WaysProcessed),
		zap.Int64("relations", stats.RelationsProcessed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (p *AppendProcessor) processNode(ctx context.Context, change osc.Change, stats *AppendStats) error {
	n := change.Node
	if n == nil {
		return nil
	}
	stats.NodesProcessed++
	lon, lat := middle.UnscaleCoord(n.Lon), middle.UnscaleCoord(n.Lat)

	switch change.Action {
	case osc.ActionCreate:
		if err := p.mid.UpdateNode(ctx, n); err != nil {
			return err
		}
		return p.em.NodeAdd(ctx, n.ID, lon, lat, n.Tags)
	case osc.ActionModify:
		if err := p.mid.UpdateNode(ctx, n); err != nil {
			return err
		}
		return p.em.NodeModify(ctx, n.ID, lon, lat, n.Tags)
	case osc.ActionDelete:
		if err := p.mid.DeleteNode(ctx, n.ID); err != nil {
			return err
		}
		return p.em.NodeDelete(ctx, n.ID)
	}
	return nil
}

func (p *AppendProcessor) processWay(ctx context.Context, change osc.Change, stats *AppendStats) error {
	w := change.Way
	if w == nil {
		return nil
	}
	stats.WaysProcessed++

	switch change.Action {
	case osc.ActionCreate:
		if err := p.mid.UpdateWay(ctx, w); err != nil {
			return err
		}
		coords, err := p.resolveWayCoords(ctx, w.ID)
		if err != nil {
			return err
		}
		return p.em.WayAdd(ctx, w.ID, coords, w.Tags)
	case osc.ActionModify:
		if err := p.mid.UpdateWay(ctx, w); err != nil {
			return err
		}
		coords, err := p.resolveWayCoords(ctx, w.ID)
		if err != nil {
			return err
		}
		return p.em.WayModify(ctx, w.ID, coords, w.Tags)
	case osc.ActionDelete:
		if err := p.mid.DeleteWay(ctx, w.ID); err != nil {
			return err
		}
		return p.em.WayDelete(ctx, w.ID)
	}
	return nil
}

// resolveWayCoords reads the just-updated way back through the same
// middle-adapter path the emitter itself uses (§6's get_way), so a way
// changed in the same changeset as one of its nodes sees the new
// coordinates.
func (p *AppendProcessor) resolveWayCoords(ctx context.Context, wayID int64) ([]float64, error) {
	data, ok, err := p.adp.GetWay(ctx, wayID)
	if err != nil || !ok {
		return nil, err
	}
	return data.Coords, nil
}

func (p *AppendProcessor) processRelation(ctx context.Context, change osc.Change, stats *AppendStats) error {
	r := change.Relation
	if r == nil {
		return nil
	}
	stats.RelationsProcessed++

	members := make([]emitter.RelMember, len(r.Members))
	for i, m := range r.Members {
		members[i] = emitter.RelMember{Type: m.Type, Ref: m.Ref, Role: m.Role}
	}

	switch change.Action {
	case osc.ActionCreate:
		if err := p.mid.UpdateRelation(ctx, r); err != nil {
			return err
		}
		return p.em.RelationAdd(ctx, r.ID, members, r.Tags)
	case osc.ActionModify:
		if err := p.mid.UpdateRelation(ctx, r); err != nil {
			return err
		}
		return p.em.RelationModify(ctx, r.ID, members, r.Tags)
	case osc.ActionDelete:
		if err := p.mid.DeleteRelation(ctx, r.ID); err != nil {
			return err
		}
		return p.em.RelationDelete(ctx, r.ID)
	}
	return nil
}
