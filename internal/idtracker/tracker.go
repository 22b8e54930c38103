// Package idtracker implements the durable, database-backed ordered ID
// sets (§3 "ID Tracker", §4.D): a sorted table of BIGINT ids supporting
// mark (upsert), pop_lowest (atomic delete-and-return-minimum), is_marked
// (point lookup) and commit (batch flush). Two trackers exist per import —
// pending (work to resume) and done (work to suppress) — each backed by
// its own table, following the original's three concrete
// pgsql_id_tracker instances (ways_pending, ways_done, rels_pending; see
// SPEC_FULL.md §10.G — there is no rels_done tracker).
package idtracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IDMax is the sentinel PopLowest returns when the tracker is empty,
// matching §3's "or a sentinel 'max' when empty".
const IDMax int64 = 1<<63 - 1

// batchSize bounds how many marks accumulate in memory before an
// automatic flush; Commit forces a flush regardless of pending count.
const batchSize = 2000

// Tracker is one ordered, durable ID set.
type Tracker struct {
	pool  *pgxpool.Pool
	table string

	mu      sync.Mutex
	pending map[int64]struct{}
}

// New returns a tracker backed by {prefix}_{name} — callers pass e.g.
// "ways_pending", "ways_done", "rels_pending".
func New(pool *pgxpool.Pool, prefix, name string) *Tracker {
	return &Tracker{
		pool:    pool,
		table:   fmt.Sprintf("%s_%s", prefix, name),
		pending: make(map[int64]struct{}),
	}
}

// EnsureTable creates the backing table if it does not already exist.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY)`, t.table))
	return err
}

// Drop removes the backing table entirely (used when tearing down a slim
// or non-append import's bookkeeping state).
func (t *Tracker) Drop(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.table))
	return err
}

// Mark transitions id from unseen to pending. Marking an already-marked id
// is a no-op (tolerated, per §4.D). Marks are buffered and flushed in
// batches for throughput; Commit (or an automatic batchSize threshold)
// makes a mark durable and visible to IsMarked/PopLowest from other
// connections.
func (t *Tracker) Mark(ctx context.Context, id int64) error {
	t.mu.Lock()
	t.pending[id] = struct{}{}
	shouldFlush := len(t.pending) >= batchSize
	t.mu.Unlock()

	if shouldFlush {
		return t.Commit(ctx)
	}
	return nil
}

// Commit flushes any batched marks to the backing table.
func (t *Tracker) Commit(ctx context.Context) error {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	ids := make([]int64, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.pending = make(map[int64]struct{})
	t.mu.Unlock()

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(fmt.Sprintf(`INSERT INTO %s (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, t.table), id)
	}
	br := t.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ids {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("idtracker: commit %s: %w", t.table, err)
		}
	}
	return nil
}

// IsMarked reports whether id is currently pending — either buffered
// in-process or already flushed to the table.
func (t *Tracker) IsMarked(ctx context.Context, id int64) (bool, error) {
	t.mu.Lock()
	_, inBuffer := t.pending[id]
	t.mu.Unlock()
	if inBuffer {
		return true, nil
	}

	var exists bool
	err := t.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, t.table), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idtracker: is_marked %s: %w", t.table, err)
	}
	return exists, nil
}

// PopLowest atomically removes and returns the smallest pending id, or
// IDMax if the tracker (buffer and table alike) is empty. Successive
// PopLowest calls on the same tracker produce a strictly increasing
// sequence (§8 deferred-set monotonicity).
func (t *Tracker) PopLowest(ctx context.Context) (int64, error) {
	if err := t.Commit(ctx); err != nil {
		return IDMax, err
	}

	row := t.pool.QueryRow(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = (SELECT id FROM %s ORDER BY id LIMIT 1) RETURNING id`,
		t.table, t.table))
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return IDMax, nil
		}
		return IDMax, fmt.Errorf("idtracker: pop_lowest %s: %w", t.table, err)
	}
	return id, nil
}
