package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/config"
	"github.com/wegman-software/osm2pgsql-go/internal/finalizer"
	"github.com/wegman-software/osm2pgsql-go/internal/flex"
	"github.com/wegman-software/osm2pgsql-go/internal/iterdriver"
	"github.com/wegman-software/osm2pgsql-go/internal/logger"
	"github.com/wegman-software/osm2pgsql-go/internal/metrics"
	"github.com/wegman-software/osm2pgsql-go/internal/middle"
	"github.com/wegman-software/osm2pgsql-go/internal/osc"
	"github.com/wegman-software/osm2pgsql-go/internal/pbf"
)

// CoordinatorConfig holds pipeline-specific configuration.
type CoordinatorConfig struct {
	ChannelBuffer int
	DropExisting  bool
	CreateIndexes bool
}

// Coordinator orchestrates one import run: the style-driven pgsql path
// (§4.A-G, Run/RunAppend) or the independent Lua Flex path (RunFlex).
type Coordinator struct {
	cfg     *config.Config
	pipeCfg CoordinatorConfig
	db      *DB

	// middleStore is set only after Run/RunAppend has opened a StyleImport,
	// so RunAppend's slim-mode check and Close's cleanup can see it.
	middleStore *middle.MiddleStore
}

// NewCoordinator opens the shared connection pool.
func NewCoordinator(cfg *config.Config, pipeCfg CoordinatorConfig) (*Coordinator, error) {
	if pipeCfg.ChannelBuffer <= 0 {
		pipeCfg.ChannelBuffer = 50000
	}

	db, err := NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Coordinator{cfg: cfg, pipeCfg: pipeCfg, db: db}, nil
}

// Close releases the shared connection pool.
func (c *Coordinator) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Coordinator) startMetrics(ctx context.Context) context.CancelFunc {
	if c.cfg.MetricsInterval <= 0 {
		return func() {}
	}
	metricsCtx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(c.cfg.MetricsInterval, logger.Get())
	go collector.Start(metricsCtx)
	logger.Get().Info("System metrics collection started", zap.Duration("interval", c.cfg.MetricsInterval))
	return cancel
}

// Run executes a full style-driven import (§2's data flow end to end):
// load the style, open the four output tables and three id trackers, run
// the two-pass PBF extractor (§4.E's node/way/relation add operations),
// drain the ways_pending and rels_pending cascades (§4.F), finalise every
// table (§4.G), and optionally drop the middle tables.
func (c *Coordinator) Run(ctx context.Context) (*ImportStats, error) {
	log := logger.Get()
	cancelMetrics := c.startMetrics(ctx)
	defer cancelMetrics()

	if err := c.db.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	si, err := setupStyleImport(ctx, c.cfg, c.db.Pool(), false)
	if err != nil {
		return nil, fmt.Errorf("preparing style import: %w", err)
	}
	c.middleStore = si.Middle

	extractor, err := pbf.NewExtractor(c.cfg, si.Emitter, si.Middle)
	if err != nil {
		return nil, fmt.Errorf("creating extractor: %w", err)
	}
	defer extractor.Close()

	ingestStart := time.Now()
	extractStats, err := extractor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	log.Info("ingest complete",
		zap.Int64("nodes", extractStats.Nodes),
		zap.Int64("ways", extractStats.Ways),
		zap.Int64("relations", extractStats.Relations),
		zap.Duration("duration", time.Since(ingestStart).Round(time.Second)))

	// A fresh import's deferred ways never had output rows to begin with
	// (§4.E step 2 defers polygon ways before any row is written), so
	// exists=false here skips ProcessPendingWay/ProcessPendingRelation's
	// delete/remark step entirely — see their doc comments.
	processWay := func(ctx context.Context, id int64) error {
		return si.Emitter.ProcessPendingWay(ctx, id, false)
	}
	processRelation := func(ctx context.Context, id int64) error {
		return si.Emitter.ProcessPendingRelation(ctx, id, false)
	}

	deferStart := time.Now()
	if err := iterdriver.DrainPending(ctx, si.Trackers.WaysPending, processWay); err != nil {
		return nil, fmt.Errorf("draining pending ways: %w", err)
	}
	if err := iterdriver.DrainPending(ctx, si.Trackers.RelsPending, processRelation); err != nil {
		return nil, fmt.Errorf("draining pending relations: %w", err)
	}
	log.Info("deferred cascade complete", zap.Duration("duration", time.Since(deferStart).Round(time.Second)))

	stats := &ImportStats{
		Extract:    *extractStats,
		PointsLoad: LoadStats{Table: si.OutTables.Point.Name, RowsLoaded: si.OutTables.Point.Rows()},
		LinesLoad:  LoadStats{Table: si.OutTables.Line.Name, RowsLoaded: si.OutTables.Line.Rows()},
		PolysLoad:  LoadStats{Table: si.OutTables.Polygon.Name, RowsLoaded: si.OutTables.Polygon.Rows()},
		RoadsLoad:  LoadStats{Table: si.OutTables.Roads.Name, RowsLoaded: si.OutTables.Roads.Rows()},
	}

	// Release each table's dedicated COPY connection before the finaliser
	// acquires its own connections for DDL (finalizer.Table.Commit already
	// flushed the stream; Teardown here only frees the connection back to
	// the pool so finalisation, which needs one connection per table when
	// run in parallel, doesn't starve the pool).
	if err := si.Teardown(); err != nil {
		return nil, fmt.Errorf("tearing down output tables: %w", err)
	}

	finalizeStart := time.Now()
	opts := finalizer.Options{
		SlimMode:     c.cfg.SlimMode,
		DropTemp:     emitCfgDropTemp(c.cfg),
		Parallel:     c.cfg.ParallelFinalize,
		TablespaceDB: c.cfg.TablespaceIndex,
	}
	if err := finalizer.RunAll(ctx, c.db.Pool(), si.finalizerTables(), opts); err != nil {
		return nil, fmt.Errorf("finalisation failed: %w", err)
	}
	log.Info("finalisation complete", zap.Duration("duration", time.Since(finalizeStart).Round(time.Second)))

	if c.cfg.ExpireOutput != "" {
		if err := si.Expire.WriteToFile(c.cfg.ExpireOutput); err != nil {
			return nil, fmt.Errorf("writing expire tiles: %w", err)
		}
	}

	if c.cfg.DropMiddle {
		log.Info("dropping middle tables (--drop)")
		if err := si.Middle.DropTables(ctx); err != nil {
			return nil, fmt.Errorf("dropping middle tables: %w", err)
		}
		if err := si.IDTrackers.WaysPending.Drop(ctx); err != nil {
			return nil, fmt.Errorf("dropping ways_pending tracker: %w", err)
		}
		if err := si.IDTrackers.WaysDone.Drop(ctx); err != nil {
			return nil, fmt.Errorf("dropping ways_done tracker: %w", err)
		}
		if err := si.IDTrackers.RelsPending.Drop(ctx); err != nil {
			return nil, fmt.Errorf("dropping rels_pending tracker: %w", err)
		}
	}

	return stats, nil
}

// emitCfgDropTemp mirrors the emitter's own droptemp derivation (§10.G):
// true only when the middle store is not being kept for future updates.
func emitCfgDropTemp(cfg *config.Config) bool {
	return !cfg.SlimMode && cfg.DropMiddle
}

// RunAppend applies changes from an OSC file against a previously
// slim-mode-imported dataset (§4.E's *_modify/*_delete operations),
// draining the resulting ways_pending/rels_pending cascades before
// finalising in append mode (§4.G: flush only, no reindex).
func (c *Coordinator) RunAppend(ctx context.Context, oscFile string) (*AppendStats, error) {
	log := logger.Get()
	if !c.cfg.SlimMode {
		c.cfg.SlimMode = true // append implies the middle store must be slim
	}

	si, err := setupStyleImport(ctx, c.cfg, c.db.Pool(), true)
	if err != nil {
		return nil, fmt.Errorf("preparing style import: %w", err)
	}
	c.middleStore = si.Middle

	log.Info("starting append", zap.String("osc_file", oscFile))

	parser := osc.NewParser()
	changes, errChan := parser.ParseFile(ctx, oscFile)

	processor := NewAppendProcessor(si.Middle, si.Emitter)

	var parseErr error
	parseDone := make(chan struct{})
	go func() {
		defer close(parseDone)
		for err := range errChan {
			if err != nil {
				parseErr = err
			}
		}
	}()

	stats, err := processor.ProcessChanges(ctx, changes)
	<-parseDone
	if err != nil {
		return nil, fmt.Errorf("append processing failed: %w", err)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("OSC parsing failed: %w", parseErr)
	}

	// An append run's deferred ways/relations may be replaying over a
	// prior run's already-loaded rows, so exists=true here runs the
	// delete/remark step ProcessPendingWay/ProcessPendingRelation gate on
	// it.
	appendProcessWay := func(ctx context.Context, id int64) error {
		return si.Emitter.ProcessPendingWay(ctx, id, true)
	}
	appendProcessRelation := func(ctx context.Context, id int64) error {
		return si.Emitter.ProcessPendingRelation(ctx, id, true)
	}

	if err := iterdriver.DrainPending(ctx, si.Trackers.WaysPending, appendProcessWay); err != nil {
		return nil, fmt.Errorf("draining pending ways: %w", err)
	}
	if err := iterdriver.DrainPending(ctx, si.Trackers.RelsPending, appendProcessRelation); err != nil {
		return nil, fmt.Errorf("draining pending relations: %w", err)
	}

	if err := si.Teardown(); err != nil {
		return nil, fmt.Errorf("tearing down output tables: %w", err)
	}
	appendOpts := finalizer.Options{AppendMode: true, SlimMode: true}
	if err := finalizer.RunAll(ctx, c.db.Pool(), si.finalizerTables(), appendOpts); err != nil {
		return nil, fmt.Errorf("finalisation failed: %w", err)
	}

	if c.cfg.ExpireOutput != "" {
		if err := si.Expire.AppendToFile(c.cfg.ExpireOutput); err != nil {
			return nil, fmt.Errorf("writing expire tiles: %w", err)
		}
	}

	parserStats := parser.Stats()
	log.Info("OSC file parsed",
		zap.Int64("nodes_created", parserStats.NodesCreated),
		zap.Int64("nodes_modified", parserStats.NodesModified),
		zap.Int64("nodes_deleted", parserStats.NodesDeleted),
		zap.Int64("ways_created", parserStats.WaysCreated),
		zap.Int64("ways_modified", parserStats.WaysModified),
		zap.Int64("ways_deleted", parserStats.WaysDeleted),
		zap.Int64("relations_created", parserStats.RelationsCreated),
		zap.Int64("relations_modified", parserStats.RelationsModified),
		zap.Int64("relations_deleted", parserStats.RelationsDeleted),
		zap.Int64("total", parserStats.Total()))

	return stats, nil
}

// FlexStats holds statistics from Flex mode import.
type FlexStats struct {
	BytesRead          int64
	NodesProcessed     int64
	WaysProcessed      int64
	RelationsProcessed int64
	RowsInserted       int64
	Tables             []string
}

// RunFlex executes a Lua Flex style import with parallel processing. This
// is a separate feature from the style-driven §4.A-G pipeline: the Lua
// script defines its own output tables and geometry mapping directly, so
// none of style/tagtransform/outtable/idtracker/emitter apply here.
func (c *Coordinator) RunFlex(ctx context.Context, luaFile string) (*FlexStats, error) {
	log := logger.Get()
	cancelMetrics := c.startMetrics(ctx)
	defer cancelMetrics()

	numWorkers := c.cfg.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	processor, err := flex.NewParallelProcessor(c.cfg, c.db.Pool(), luaFile, numWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create flex processor: %w", err)
	}

	tables := processor.Tables()
	tableNames := make([]string, len(tables))
	for i, t := range tables {
		tableNames[i] = t.Name
		log.Info("Flex table defined",
			zap.String("table", t.Name),
			zap.Int("columns", len(t.Columns)),
			zap.String("geom_column", t.GeomColumn))
	}

	if err := c.db.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	if err := processor.EnsureTables(ctx, c.pipeCfg.DropExisting); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := processor.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start processor: %w", err)
	}

	extractor, err := flex.NewFlexExtractor(c.cfg, luaFile, c.pipeCfg.ChannelBuffer)
	if err != nil {
		processor.Close(ctx)
		return nil, fmt.Errorf("failed to create flex extractor: %w", err)
	}
	defer extractor.Close()

	extractStart := time.Now()
	streams, err := extractor.Run(ctx)
	if err != nil {
		processor.Close(ctx)
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	log.Info("Processing OSM objects through parallel Lua workers", zap.Int("workers", numWorkers))

	done := make(chan error, 2)
	go func() {
		for obj := range streams.Objects {
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			default:
				processor.Submit(obj)
			}
		}
		done <- nil
	}()
	go func() {
		for err := range streams.Errors {
			if err != nil {
				done <- fmt.Errorf("extraction error: %w", err)
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			processor.Close(ctx)
			return nil, err
		}
	}

	processor.Close(ctx)

	extractElapsed := time.Since(extractStart)
	procStats := processor.Stats()

	log.Info("Flex processing complete",
		zap.Int64("nodes_processed", procStats.NodesProcessed),
		zap.Int64("ways_processed", procStats.WaysProcessed),
		zap.Int64("relations_processed", procStats.RelationsProcessed),
		zap.Int64("rows_inserted", procStats.RowsInserted),
		zap.Duration("duration", extractElapsed.Round(time.Second)))

	if c.pipeCfg.CreateIndexes {
		indexStart := time.Now()
		log.Info("Creating indexes")
		if err := processor.CreateIndexes(ctx); err != nil {
			return nil, fmt.Errorf("index creation failed: %w", err)
		}
		log.Info("Indexes created", zap.Duration("duration", time.Since(indexStart).Round(time.Second)))
	}

	return &FlexStats{
		BytesRead:          extractor.Stats().BytesRead,
		NodesProcessed:     procStats.NodesProcessed,
		WaysProcessed:      procStats.WaysProcessed,
		RelationsProcessed: procStats.RelationsProcessed,
		RowsInserted:       procStats.RowsInserted,
		Tables:             tableNames,
	}, nil
}
