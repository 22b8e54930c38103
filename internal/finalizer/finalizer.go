// Package finalizer implements the Finaliser (§4.G): per output table, it
// flushes the active COPY, clusters the table by geometry, builds the
// GIST/BTREE/GIN indexes the table's mode calls for, grants SELECT, and
// re-ANALYZEs. The four tables finalise in parallel worker goroutines when
// configured, each holding its own connection, matching §5's "one worker
// per output table, workers share no mutable memory" concurrency model.
package finalizer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Table is the subset of outtable.Table the finalizer needs: its identity
// plus the ability to stop the active COPY stream before DDL runs. Taking
// an interface here (rather than importing internal/outtable directly)
// keeps the finalizer decoupled from the writer's buffering internals.
type Table struct {
	Name       string
	HstoreCols []string
	Tags       bool // residual tags hstore column present
	Tablespace string

	// Commit flushes and ends any active COPY on this table (outtable.Table.Commit).
	Commit func() error
}

// Options carries the run-time switches §4.G's conditional matrix consults.
type Options struct {
	AppendMode   bool // append mode: table already indexed upstream, stop after flush
	SlimMode     bool // slim mode: BTREE pkey index required for diff application
	DropTemp     bool // droptemp: table will not be updated again after this run
	Parallel     bool // run all tables' finalisation concurrently
	TablespaceDB string
}

// Run finalises one table per §4.G's numbered steps, using conn for every
// DDL statement (the caller is expected to hand it a dedicated connection,
// per §5's "each holds its own database connection").
func Run(ctx context.Context, conn *pgxpool.Conn, t Table, opts Options) error {
	if t.Commit != nil {
		if err := t.Commit(); err != nil {
			return fmt.Errorf("finalizer %s: flush copy: %w", t.Name, err)
		}
	}

	if opts.AppendMode {
		return nil
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ANALYZE %s", t.Name)); err != nil {
		return fmt.Errorf("finalizer %s: analyze: %w", t.Name, err)
	}

	tmp := t.Name + "_tmp"
	tsClause := ""
	if t.Tablespace != "" {
		tsClause = fmt.Sprintf(" TABLESPACE %s", t.Tablespace)
	}
	clusterSQL := fmt.Sprintf("CREATE TABLE %s%s AS SELECT * FROM %s ORDER BY way", tmp, tsClause, t.Name)
	if _, err := conn.Exec(ctx, clusterSQL); err != nil {
		return fmt.Errorf("finalizer %s: cluster: %w", t.Name, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE %s", t.Name)); err != nil {
		return fmt.Errorf("finalizer %s: drop original: %w", t.Name, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, t.Name)); err != nil {
		return fmt.Errorf("finalizer %s: rename clustered: %w", t.Name, err)
	}

	// Step 6: GIST spatial index. FILLFACTOR=100 only when the table will
	// not see further updates — i.e. not slim, or droptemp.
	indexTsClause := ""
	if opts.TablespaceDB != "" {
		indexTsClause = fmt.Sprintf(" TABLESPACE %s", opts.TablespaceDB)
	}
	fillfactor := ""
	if !opts.SlimMode || opts.DropTemp {
		fillfactor = " WITH (FILLFACTOR=100)"
	}
	gistSQL := fmt.Sprintf("CREATE INDEX %s_index ON %s USING GIST (way)%s%s", t.Name, t.Name, fillfactor, indexTsClause)
	if _, err := conn.Exec(ctx, gistSQL); err != nil {
		return fmt.Errorf("finalizer %s: gist index: %w", t.Name, err)
	}

	// Step 7: BTREE pkey index, required for diff application, only when
	// slim and not droptemp (droptemp discards the middle state the
	// pkey index exists to support).
	if opts.SlimMode && !opts.DropTemp {
		pkeySQL := fmt.Sprintf("CREATE INDEX %s_pkey ON %s USING BTREE (osm_id)%s", t.Name, t.Name, indexTsClause)
		if _, err := conn.Exec(ctx, pkeySQL); err != nil {
			return fmt.Errorf("finalizer %s: pkey index: %w", t.Name, err)
		}
	}

	// Step 8: hstore GIN indexes.
	if t.Tags {
		ginSQL := fmt.Sprintf("CREATE INDEX %s_tags_index ON %s USING GIN (tags)%s", t.Name, t.Name, indexTsClause)
		if _, err := conn.Exec(ctx, ginSQL); err != nil {
			return fmt.Errorf("finalizer %s: tags gin index: %w", t.Name, err)
		}
	}
	for _, col := range t.HstoreCols {
		ginSQL := fmt.Sprintf("CREATE INDEX %s_%s_index ON %s USING GIN (%s)%s", t.Name, col, t.Name, quoteIdent(col), indexTsClause)
		if _, err := conn.Exec(ctx, ginSQL); err != nil {
			return fmt.Errorf("finalizer %s: %s gin index: %w", t.Name, col, err)
		}
	}

	// Step 9: grant and final analyze.
	if _, err := conn.Exec(ctx, fmt.Sprintf("GRANT SELECT ON %s TO PUBLIC", t.Name)); err != nil {
		return fmt.Errorf("finalizer %s: grant: %w", t.Name, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("ANALYZE %s", t.Name)); err != nil {
		return fmt.Errorf("finalizer %s: final analyze: %w", t.Name, err)
	}

	return nil
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

// RunAll finalises point/line/polygon/roads together. When opts.Parallel is
// set each table gets its own connection and worker goroutine (§5
// "Finalisation phase: parallel... Workers share no mutable memory; each
// owns its table's connection"); errors from every worker are joined into
// one multi-error via golang.org/x/sync/errgroup rather than stopping at
// the first failure, so a caller can see every table's diagnostic. When
// unset, tables finalise sequentially on a single acquired connection at a
// time, the same DDL sequence either way.
func RunAll(ctx context.Context, pool *pgxpool.Pool, tables []Table, opts Options) error {
	if !opts.Parallel {
		for _, t := range tables {
			if err := runOne(ctx, pool, t, opts); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tables {
		t := t
		g.Go(func() error {
			return runOne(gctx, pool, t, opts)
		})
	}
	return g.Wait()
}

func runOne(ctx context.Context, pool *pgxpool.Pool, t Table, opts Options) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("finalizer %s: acquire: %w", t.Name, err)
	}
	defer conn.Release()
	return Run(ctx, conn, t, opts)
}
