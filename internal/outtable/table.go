// Package outtable implements the Output Table (§4.C): one of the four
// destination tables (point/line/polygon/roads). It owns schema setup, a
// bulk-copy streaming buffer, row delete with pause/resume of the active
// COPY, and the final flush/teardown that hands off to the finaliser.
package outtable

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wegman-software/osm2pgsql-go/internal/finalizer"
)

// Column is one retained style column.
type Column struct {
	Name    string
	SQLType string
}

// GeomType is the declared type of the "way" geometry column.
type GeomType string

const (
	GeomPoint      GeomType = "POINT"
	GeomLineString GeomType = "LINESTRING"
	GeomGeometry   GeomType = "GEOMETRY" // polygon table: POLYGON or MULTIPOLYGON
)

// Table is one output table and its live COPY stream.
type Table struct {
	pool       *pgxpool.Pool
	conn       *pgxpool.Conn
	Name       string
	Columns    []Column
	HstoreCols []string
	Tags       bool // residual-tags hstore column
	Geom       GeomType
	SRID       int
	Tablespace string

	pw        *io.PipeWriter
	copyErrCh chan error
	copying   bool

	rows atomic.Int64
}

// Rows reports how many rows Write has streamed so far, for progress
// logging; it is not decremented by DeleteRow.
func (t *Table) Rows() int64 { return t.rows.Load() }

// HstoreColumns reports the table's declared named hstore columns
// (PHSTORE-flagged style rules). Exposed as a method, alongside the
// HstoreCols field, so *Table satisfies internal/emitter's narrow Table
// interface.
func (t *Table) HstoreColumns() []string { return t.HstoreCols }

// HasTagsColumn reports whether the table carries a residual "tags" hstore
// column.
func (t *Table) HasTagsColumn() bool { return t.Tags }

// New describes (but does not yet open) one output table.
func New(pool *pgxpool.Pool, name string, columns []Column, hstoreCols []string, tags bool, geom GeomType, srid int, tablespace string) *Table {
	return &Table{
		pool:       pool,
		Name:       name,
		Columns:    columns,
		HstoreCols: hstoreCols,
		Tags:       tags,
		Geom:       geom,
		SRID:       srid,
		Tablespace: tablespace,
	}
}

// Setup acquires a dedicated connection (every write and delete on this
// table runs on it, per §5's single-writer-per-table invariant) and, unless
// appendMode is set, creates the table fresh.
func (t *Table) Setup(ctx context.Context, appendMode bool) error {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("outtable %s: acquire: %w", t.Name, err)
	}
	t.conn = conn

	if appendMode {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s;\nCREATE TABLE %s (\n  osm_id BIGINT", t.Name, t.Name)
	for _, c := range t.Columns {
		fmt.Fprintf(&b, ",\n  %s %s", quoteIdent(c.Name), c.SQLType)
	}
	for _, h := range t.HstoreCols {
		fmt.Fprintf(&b, ",\n  %s hstore", quoteIdent(h))
	}
	if t.Tags {
		b.WriteString(",\n  tags hstore")
	}
	fmt.Fprintf(&b, ",\n  way geometry(%s, %d)\n)", t.Geom, t.SRID)
	if t.Tablespace != "" {
		fmt.Fprintf(&b, " TABLESPACE %s", t.Tablespace)
	}
	b.WriteByte(';')

	if _, err := t.conn.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("outtable %s: create table: %w", t.Name, err)
	}
	return nil
}

func (t *Table) columnList() string {
	names := make([]string, 0, len(t.Columns)+len(t.HstoreCols)+2)
	names = append(names, "osm_id")
	for _, c := range t.Columns {
		names = append(names, quoteIdent(c.Name))
	}
	for _, h := range t.HstoreCols {
		names = append(names, quoteIdent(h))
	}
	if t.Tags {
		names = append(names, "tags")
	}
	names = append(names, "way")
	return strings.Join(names, ", ")
}

// startCopy opens a fresh "COPY table (cols) FROM STDIN" stream backed by
// an io.Pipe: Write feeds the pipe directly, and the pipe's own blocking
// semantics provide the "bounded buffer, flush when full" behaviour §4.C
// calls for without a separate manual flush step.
func (t *Table) startCopy(ctx context.Context) {
	pr, pw := io.Pipe()
	t.pw = pw
	t.copyErrCh = make(chan error, 1)
	t.copying = true

	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", t.Name, t.columnList())
	go func() {
		_, err := t.conn.Conn().PgConn().CopyFrom(ctx, pr, sql)
		t.copyErrCh <- err
	}()
}

// Write assembles one tab-separated COPY line (§4.C write) and streams it.
// values must align with Columns/HstoreCols/Tags order; nil means SQL NULL.
// ewkt is the already-formatted "SRID=n;WKT" geometry text.
func (t *Table) Write(ctx context.Context, osmID int64, values []*string, ewkt string) error {
	if !t.copying {
		t.startCopy(ctx)
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(osmID, 10))
	for _, v := range values {
		b.WriteByte('\t')
		if v == nil {
			b.WriteString(`\N`)
		} else {
			b.WriteString(escapeCopyValue(*v))
		}
	}
	b.WriteByte('\t')
	b.WriteString(escapeCopyValue(ewkt))
	b.WriteByte('\n')

	if _, err := t.pw.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("outtable %s: write: %w", t.Name, err)
	}
	t.rows.Add(1)
	return nil
}

// PauseCopy ends the active COPY so interleaved DML is legal; a subsequent
// Write transparently restarts it.
func (t *Table) PauseCopy() error {
	if !t.copying {
		return nil
	}
	if err := t.pw.Close(); err != nil {
		return err
	}
	err := <-t.copyErrCh
	t.copying = false
	if err != nil && err != io.EOF {
		return fmt.Errorf("outtable %s: copy: %w", t.Name, err)
	}
	return nil
}

// DeleteRow pauses the active COPY (invariant: every delete_row is
// preceded by pause_copy) and issues the parameterised delete.
func (t *Table) DeleteRow(ctx context.Context, osmID int64) error {
	if err := t.PauseCopy(); err != nil {
		return err
	}
	_, err := t.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE osm_id = $1", t.Name), osmID)
	if err != nil {
		return fmt.Errorf("outtable %s: delete_row: %w", t.Name, err)
	}
	return nil
}

// Exists is the existence-probe contract assumed by §3/§4.E's incremental
// delete path: it queries this output table's own connection directly,
// matching the original's expire->from_db(conn, id) semantics rather than
// consulting the tile-expiry tracker. Like DeleteRow, it pauses any active
// COPY first since it shares the table's single dedicated connection.
func (t *Table) Exists(ctx context.Context, osmID int64) (bool, error) {
	if err := t.PauseCopy(); err != nil {
		return false, err
	}
	var exists bool
	err := t.conn.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE osm_id = $1)", t.Name), osmID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("outtable %s: exists: %w", t.Name, err)
	}
	return exists, nil
}

// Commit flushes any buffered COPY data (§4.C commit).
func (t *Table) Commit() error {
	return t.PauseCopy()
}

// Teardown flushes and releases the table's dedicated connection. Category
// 6 of §7 (COPY buffer nonempty at end) cannot occur with the io.Pipe
// design: PauseCopy always drains to EOF before returning.
func (t *Table) Teardown() error {
	err := t.PauseCopy()
	if t.conn != nil {
		t.conn.Release()
		t.conn = nil
	}
	return err
}

func escapeCopyValue(s string) string {
	if !strings.ContainsAny(s, "\t\\\r\n") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToFinalizerTable adapts this table for internal/finalizer's §4.G
// pipeline: its identity plus a bound Commit closure, without that package
// needing to import outtable's writer internals.
func (t *Table) ToFinalizerTable() finalizer.Table {
	return finalizer.Table{
		Name:       t.Name,
		HstoreCols: t.HstoreCols,
		Tags:       t.Tags,
		Tablespace: t.Tablespace,
		Commit:     t.Commit,
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
