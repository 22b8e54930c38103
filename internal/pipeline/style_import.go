package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wegman-software/osm2pgsql-go/internal/config"
	"github.com/wegman-software/osm2pgsql-go/internal/emitter"
	"github.com/wegman-software/osm2pgsql-go/internal/expire"
	"github.com/wegman-software/osm2pgsql-go/internal/finalizer"
	"github.com/wegman-software/osm2pgsql-go/internal/idtracker"
	"github.com/wegman-software/osm2pgsql-go/internal/middle"
	"github.com/wegman-software/osm2pgsql-go/internal/outtable"
	"github.com/wegman-software/osm2pgsql-go/internal/proj"
	"github.com/wegman-software/osm2pgsql-go/internal/style"
	"github.com/wegman-software/osm2pgsql-go/internal/tagtransform"
)

// StyleImport bundles every §4.A-G collaborator a style-driven run needs:
// the loaded style, its tag transform, the four output tables, the three
// durable id trackers, the middle store, the tile-expiry tracker and the
// feature emitter wired across all of them. A full import (Run) builds one
// fresh; an append (RunAppend) builds one against the tables and middle
// store a prior import already created.
type StyleImport struct {
	List       *style.ExportList
	Transform  *tagtransform.Transform
	Tables     emitter.Tables // interface view wired into Emitter
	OutTables  OutTables      // concrete handles for setup/teardown/stats
	Trackers   emitter.Trackers
	IDTrackers IDTrackers // concrete handles for Drop
	Middle     *middle.MiddleStore
	Expire     *expire.Tracker
	Reproj     *proj.Transformer
	Emitter    *emitter.Emitter
}

// OutTables holds the four output tables' concrete *outtable.Table handles
// — the operations emitter.Table's narrower interface doesn't cover
// (Setup, Teardown, ToFinalizerTable, Name, Rows) still need these.
type OutTables struct {
	Point, Line, Polygon, Roads *outtable.Table
}

func (o OutTables) all() []*outtable.Table {
	return []*outtable.Table{o.Point, o.Line, o.Polygon, o.Roads}
}

// IDTrackers holds the three durable id trackers' concrete *idtracker.Tracker
// handles — EnsureTable/Drop aren't part of emitter.Tracker's narrower
// interface, which only covers what the Emitter itself needs.
type IDTrackers struct {
	WaysPending, WaysDone, RelsPending *idtracker.Tracker
}

func (t IDTrackers) all() []*idtracker.Tracker {
	return []*idtracker.Tracker{t.WaysPending, t.WaysDone, t.RelsPending}
}

func loadExportList(cfg *config.Config) (*style.ExportList, error) {
	if cfg.StyleFile == "" || strings.HasSuffix(strings.ToLower(cfg.StyleFile), ".lua") {
		return style.Load(strings.NewReader(style.DefaultStyle))
	}
	f, err := os.Open(cfg.StyleFile)
	if err != nil {
		return nil, fmt.Errorf("opening style file: %w", err)
	}
	defer f.Close()
	return style.Load(f)
}

// setupStyleImport constructs every collaborator. Table/tracker DDL runs
// unless appendMode is set, matching outtable.Setup and idtracker's own
// append convention of reusing what a prior import already created.
func setupStyleImport(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, appendMode bool) (*StyleImport, error) {
	list, err := loadExportList(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading style: %w", err)
	}

	// A dedicated Lua tag-transform veto script is not exposed as its own
	// import flag: the Lua Flex mode (internal/flex, coordinator.RunFlex)
	// already covers full custom scripting, so this hook stays nil for the
	// style-driven path.
	transform := tagtransform.New(list, nil)

	reproj, err := proj.NewTransformer(4326, cfg.Projection)
	if err != nil {
		return nil, fmt.Errorf("building projection transformer: %w", err)
	}

	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "planet_osm"
	}

	pointCols, pointHstore := outtable.ColumnsFromStyle(style.DirectColumns(list.Node))
	wayCols, wayHstore := outtable.ColumnsFromStyle(style.DirectColumns(list.Way))

	outTables := OutTables{
		Point:   outtable.New(pool, prefix+"_point", pointCols, pointHstore, cfg.Hstore, outtable.GeomPoint, cfg.Projection, cfg.TablespaceMain),
		Line:    outtable.New(pool, prefix+"_line", wayCols, wayHstore, cfg.Hstore, outtable.GeomLineString, cfg.Projection, cfg.TablespaceMain),
		Polygon: outtable.New(pool, prefix+"_polygon", wayCols, wayHstore, cfg.Hstore, outtable.GeomGeometry, cfg.Projection, cfg.TablespaceMain),
		Roads:   outtable.New(pool, prefix+"_roads", wayCols, wayHstore, cfg.Hstore, outtable.GeomLineString, cfg.Projection, cfg.TablespaceMain),
	}
	for _, t := range outTables.all() {
		if err := t.Setup(ctx, appendMode); err != nil {
			return nil, fmt.Errorf("setting up %s: %w", t.Name, err)
		}
	}
	tables := emitter.Tables{
		Point:   outTables.Point,
		Line:    outTables.Line,
		Polygon: outTables.Polygon,
		Roads:   outTables.Roads,
	}

	idTrackers := IDTrackers{
		WaysPending: idtracker.New(pool, prefix, "ways_pending"),
		WaysDone:    idtracker.New(pool, prefix, "ways_done"),
		RelsPending: idtracker.New(pool, prefix, "rels_pending"),
	}
	if !appendMode {
		for _, tr := range idTrackers.all() {
			if err := tr.EnsureTable(ctx); err != nil {
				return nil, fmt.Errorf("preparing id tracker: %w", err)
			}
		}
	}
	trackers := emitter.Trackers{
		WaysPending: idTrackers.WaysPending,
		WaysDone:    idTrackers.WaysDone,
		RelsPending: idTrackers.RelsPending,
	}

	mid := middle.NewMiddleStore(cfg, pool)
	if err := mid.EnsureTables(ctx, !appendMode); err != nil {
		return nil, fmt.Errorf("preparing middle tables: %w", err)
	}

	expireTracker := expire.NewTracker(cfg.ExpireMinZoom, cfg.ExpireMaxZoom)
	if cfg.ExpireOutput == "" {
		expireTracker.Disable()
	}

	emitCfg := emitter.Config{
		SRID:          cfg.Projection,
		EnableWayArea: list.EnableWayArea,
		EnableMulti:   cfg.EnableMulti,
		ExcludePoly:   cfg.ExcludePoly,
		SlimMode:      cfg.SlimMode || appendMode,
		DropTemp:      !cfg.SlimMode && cfg.DropMiddle,
	}
	em := emitter.New(emitCfg, list, transform, emitter.NewMiddleAdapter(mid), tables, trackers, expireTracker, reproj)

	return &StyleImport{
		List:       list,
		Transform:  transform,
		Tables:     tables,
		OutTables:  outTables,
		Trackers:   trackers,
		IDTrackers: idTrackers,
		Middle:     mid,
		Expire:     expireTracker,
		Reproj:     reproj,
		Emitter:    em,
	}, nil
}

// finalizerTables lists the four output tables in the fixed order the
// finaliser (§4.G) consumes.
func (s *StyleImport) finalizerTables() []finalizer.Table {
	return []finalizer.Table{
		s.OutTables.Point.ToFinalizerTable(),
		s.OutTables.Line.ToFinalizerTable(),
		s.OutTables.Polygon.ToFinalizerTable(),
		s.OutTables.Roads.ToFinalizerTable(),
	}
}

// Teardown flushes and releases every output table's dedicated connection.
func (s *StyleImport) Teardown() error {
	var firstErr error
	for _, t := range s.OutTables.all() {
		if err := t.Teardown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
