// Package pbf drives the ingest side of an import: a two-pass scan over an
// .osm.pbf file that feeds every primitive to the Feature Emitter (§4.E) and
// the middle store in the order §4.E's add operations expect.
package pbf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/wegman-software/osm2pgsql-go/internal/config"
	"github.com/wegman-software/osm2pgsql-go/internal/emitter"
	"github.com/wegman-software/osm2pgsql-go/internal/logger"
	"github.com/wegman-software/osm2pgsql-go/internal/middle"
	"github.com/wegman-software/osm2pgsql-go/internal/nodeindex"
)

// Stats holds ingest counters for one import run.
type Stats struct {
	Nodes     int64
	Ways      int64
	Relations int64
}

// Extractor drives the PBF scan. Pass one builds an mmap coordinate index
// over every node and feeds nodes to the middle store and the emitter;
// pass two resolves way coordinates from that index, feeds ways to the
// middle store and the emitter, then — since a PBF file's relations
// section always follows its ways section — continues the same scan into
// relations, which the emitter resolves through the middle store's bulk
// way/node lookups (internal/emitter.MiddleAdapter).
type Extractor struct {
	cfg *config.Config
	em  *emitter.Emitter
	mid *middle.MiddleStore

	nodeIndex     *nodeindex.MmapIndex
	nodeIndexPath string

	stats Stats
}

// NewExtractor binds an extractor to an already-constructed emitter and
// middle store; both must be open before Run is called.
func NewExtractor(cfg *config.Config, em *emitter.Emitter, mid *middle.MiddleStore) (*Extractor, error) {
	dir := cfg.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating node index directory: %w", err)
	}
	return &Extractor{
		cfg:           cfg,
		em:            em,
		mid:           mid,
		nodeIndexPath: filepath.Join(dir, "node_index.bin"),
	}, nil
}

// Close releases the node index and removes its backing file.
func (e *Extractor) Close() error {
	if e.nodeIndex != nil {
		e.nodeIndex.Close()
		e.nodeIndex = nil
	}
	os.Remove(e.nodeIndexPath)
	return nil
}

// Run executes the two-pass ingest and returns primitive counts.
func (e *Extractor) Run(ctx context.Context) (*Stats, error) {
	log := logger.Get()

	f, err := os.Open(e.cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", e.cfg.InputFile, err)
	}
	defer f.Close()

	log.Info("pass 1: indexing node coordinates")
	start := time.Now()
	if err := e.pass1Nodes(ctx, f); err != nil {
		return nil, err
	}
	log.Info("pass 1 complete", zap.Int64("nodes", e.stats.Nodes), zap.Duration("duration", time.Since(start).Round(time.Second)))

	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	e.nodeIndex, err = nodeindex.OpenMmapIndex(e.nodeIndexPath)
	if err != nil {
		return nil, err
	}

	log.Info("pass 2: emitting ways and relations")
	start = time.Now()
	if err := e.pass2WaysAndRelations(ctx, f); err != nil {
		return nil, err
	}
	log.Info("pass 2 complete",
		zap.Int64("ways", e.stats.Ways),
		zap.Int64("relations", e.stats.Relations),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	return &e.stats, nil
}

// pass1Nodes scans every node, indexing its coordinates for pass two and
// streaming it through the middle store (always populated — §4.E relation
// processing reads resolved ways from it regardless of slim mode) and the
// emitter's node_add (§4.E).
func (e *Extractor) pass1Nodes(ctx context.Context, f *os.File) error {
	idx, err := nodeindex.NewMmapIndex(e.nodeIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	scanner := osmpbf.New(ctx, f, runtime.NumCPU())
	defer scanner.Close()

	nodeCh := make(chan middle.RawNode, 10000)
	loadErr := make(chan error, 1)
	go func() {
		_, err := e.mid.LoadNodes(ctx, nodeCh)
		loadErr <- err
	}()

	var scanErr error
scan:
	for scanner.Scan() {
		obj := scanner.Object()
		n, ok := obj.(*osm.Node)
		if !ok {
			break scan // ways section reached: pass one is nodes-only
		}

		idx.Put(int64(n.ID), n.Lat, n.Lon)
		tags := tagsToMap(n.Tags)
		if err := e.em.NodeAdd(ctx, int64(n.ID), n.Lon, n.Lat, tags); err != nil {
			scanErr = fmt.Errorf("node %d: %w", n.ID, err)
			break scan
		}

		nodeCh <- middle.RawNode{
			ID:        int64(n.ID),
			Lat:       middle.ScaleCoord(n.Lat),
			Lon:       middle.ScaleCoord(n.Lon),
			Tags:      tags,
			Version:   int32(n.Version),
			Changeset: int64(n.ChangesetID),
			Timestamp: n.Timestamp,
			User:      n.User,
			UID:       int32(n.UserID),
		}
		e.stats.Nodes++
	}
	close(nodeCh)

	if scanErr != nil {
		<-loadErr
		return scanErr
	}
	if err := scanner.Err(); err != nil {
		<-loadErr
		return err
	}
	return <-loadErr
}

// pass2WaysAndRelations resolves way coordinates from the node index built
// in pass one, feeds ways to the middle store and emitter.WayAdd, then
// continues the same scan into relations (always found after every way in
// a well-formed PBF file), feeding each to emitter.RelationAdd.
func (e *Extractor) pass2WaysAndRelations(ctx context.Context, f *os.File) error {
	scanner := osmpbf.New(ctx, f, runtime.NumCPU())
	defer scanner.Close()

	wayCh := make(chan middle.RawWay, 10000)
	wayLoadErr := make(chan error, 1)
	go func() {
		_, err := e.mid.LoadWays(ctx, wayCh)
		wayLoadErr <- err
	}()

	var pendingRelation *osm.Relation
	for scanner.Scan() {
		obj := scanner.Object()
		way, ok := obj.(*osm.Way)
		if !ok {
			if rel, ok := obj.(*osm.Relation); ok {
				pendingRelation = rel
			}
			break // relations section reached
		}

		nodeIDs := make([]int64, len(way.Nodes))
		coords := make([]float64, 0, len(way.Nodes)*2)
		for i, ref := range way.Nodes {
			nodeIDs[i] = int64(ref.ID)
			if lat, lon, found := e.nodeIndex.Get(int64(ref.ID)); found {
				coords = append(coords, lon, lat)
			}
		}

		tags := tagsToMap(way.Tags)
		if err := e.em.WayAdd(ctx, int64(way.ID), coords, tags); err != nil {
			close(wayCh)
			<-wayLoadErr
			return fmt.Errorf("way %d: %w", way.ID, err)
		}

		wayCh <- middle.RawWay{
			ID:        int64(way.ID),
			Nodes:     nodeIDs,
			Tags:      tags,
			Version:   int32(way.Version),
			Changeset: int64(way.ChangesetID),
			Timestamp: way.Timestamp,
			User:      way.User,
			UID:       int32(way.UserID),
		}
		e.stats.Ways++
	}
	close(wayCh)
	if err := <-wayLoadErr; err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// The ways loop already consumed the first relation (or whatever
	// non-way object ended it) via Scan/Object; process it before resuming
	// the scan so it isn't silently dropped.
	if pendingRelation != nil {
		if err := e.emitRelation(ctx, pendingRelation); err != nil {
			return err
		}
	}

	for scanner.Scan() {
		rel, ok := scanner.Object().(*osm.Relation)
		if !ok {
			continue
		}
		if err := e.emitRelation(ctx, rel); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (e *Extractor) emitRelation(ctx context.Context, rel *osm.Relation) error {
	members := make([]emitter.RelMember, len(rel.Members))
	for i, m := range rel.Members {
		var memberType string
		switch m.Type {
		case osm.TypeNode:
			memberType = "n"
		case osm.TypeWay:
			memberType = "w"
		case osm.TypeRelation:
			memberType = "r"
		}
		members[i] = emitter.RelMember{Type: memberType, Ref: int64(m.Ref), Role: m.Role}
	}
	tags := tagsToMap(rel.Tags)
	if err := e.em.RelationAdd(ctx, int64(rel.ID), members, tags); err != nil {
		return fmt.Errorf("relation %d: %w", rel.ID, err)
	}
	e.stats.Relations++
	return nil
}

func tagsToMap(tags osm.Tags) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[tag.Key] = tag.Value
	}
	return m
}
