package emitter

import (
	"context"
	"fmt"

	"github.com/wegman-software/osm2pgsql-go/internal/expire"
	"github.com/wegman-software/osm2pgsql-go/internal/geombuilder"
	"github.com/wegman-software/osm2pgsql-go/internal/proj"
	"github.com/wegman-software/osm2pgsql-go/internal/style"
	"github.com/wegman-software/osm2pgsql-go/internal/tagtransform"
)

// Table is the subset of *outtable.Table the Emitter needs to write and
// retire rows and to project tags onto a row (rowValues), narrowed to an
// interface so this package's processing logic can be tested with a fake
// table instead of a live database connection. *outtable.Table satisfies
// this implicitly.
type Table interface {
	Write(ctx context.Context, osmID int64, values []*string, ewkt string) error
	DeleteRow(ctx context.Context, osmID int64) error
	Exists(ctx context.Context, osmID int64) (bool, error)
	HstoreColumns() []string
	HasTagsColumn() bool
}

// Config carries the run-time switches §4.E's processing steps consult.
type Config struct {
	SRID          int
	EnableWayArea bool
	EnableMulti   bool  // enable_multi, §4.E step 5
	ExcludePoly   bool  // excludepoly, §7 error-kind 5
	SlimMode      bool  // modify/delete operations require this (§4.E)
	DropTemp      bool  // droptemp: way-delete no-op short-circuit (§10.G)
}

// Tables bundles the four output tables.
type Tables struct {
	Point   Table
	Line    Table
	Polygon Table
	Roads   Table
}

// Tracker is the subset of *idtracker.Tracker the Emitter needs: marking an
// id pending/done and checking or consuming that state. Narrowed to an
// interface, like Table, so ProcessPendingWay/Relation's exists-gating logic
// can be tested against a fake tracker instead of a live tracker table.
// *idtracker.Tracker satisfies this implicitly.
type Tracker interface {
	Mark(ctx context.Context, id int64) error
	IsMarked(ctx context.Context, id int64) (bool, error)
	PopLowest(ctx context.Context) (int64, error)
	Commit(ctx context.Context) error
}

// Trackers bundles the three durable ID trackers the source actually has:
// ways_pending, ways_done, rels_pending. There is deliberately no
// rels_done tracker (§10.G) — relation supersession works purely through
// ways_done.
type Trackers struct {
	WaysPending Tracker
	WaysDone    Tracker
	RelsPending Tracker
}

// Emitter is the Feature Emitter (§4.E).
type Emitter struct {
	cfg       Config
	exportCol ColumnPlan
	transform *tagtransform.Transform
	middle    Middle
	tables    Tables
	trackers  Trackers
	expire    *expire.Tracker
	reproj    *proj.Transformer
	splitAt   float64
}

// ColumnPlan is the retained style column order and type for each table's
// tag-projection, derived once from the loaded ExportList (§4.A "rule
// order ... becomes the column order of the output table"), already
// filtered down to style.DirectColumns so it lines up 1:1 with the plain
// style columns outtable.ColumnsFromStyle gave the table — DELETE rules
// consume no column and PHSTORE rules live in the table's separate named
// hstore columns, not here.
type ColumnPlan struct {
	NodeColumns []style.TagInfo
	WayColumns  []style.TagInfo
}

// New builds an Emitter bound to one already-loaded style and already-open
// set of output tables/trackers.
func New(cfg Config, list *style.ExportList, transform *tagtransform.Transform, middle Middle, tables Tables, trackers Trackers, expireTracker *expire.Tracker, reproj *proj.Transformer) *Emitter {
	return &Emitter{
		cfg:       cfg,
		exportCol: ColumnPlan{NodeColumns: style.DirectColumns(list.Node), WayColumns: style.DirectColumns(list.Way)},
		transform: transform,
		middle:    middle,
		tables:    tables,
		trackers:  trackers,
		expire:    expireTracker,
		reproj:    reproj,
		splitAt:   geombuilder.SplitAt(cfg.SRID),
	}
}

func (e *Emitter) requireSlim(op string) error {
	if !e.cfg.SlimMode {
		return fmt.Errorf("emitter: %s requires slim mode", op)
	}
	return nil
}

// deleteSignedRows removes both the positive-id (way) and negative-id
// (relation) rows an osm id could have produced, used by relation
// reprocessing's "if exists, delete prior rows" step.
func (e *Emitter) deleteSignedRows(ctx context.Context, table Table, signedID int64) error {
	return table.DeleteRow(ctx, signedID)
}
