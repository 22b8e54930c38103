// Package iterdriver implements the Iteration Driver (§4.F): after the
// parser has delivered all primitives, it drives the "emit all deferred
// ways, then all deferred relations" passes, merging an ascending upstream
// id sequence with the locally-pending id tracker so that every id in
// either sequence is processed exactly once, in ascending order.
package iterdriver

import (
	"context"

	"github.com/wegman-software/osm2pgsql-go/internal/idtracker"
)

// Pending is the subset of idtracker.Tracker the driver needs: the
// strictly-increasing pop_lowest cursor.
type Pending interface {
	PopLowest(ctx context.Context) (int64, error)
}

// Process is invoked once per id that needs (re)processing — a deferred id
// fetched from the pending tracker, or an id observed in the upstream
// sequence. The driver does not interpret the id; "process" is whatever the
// caller's way/relation pipeline does. Callers typically bind this to a
// closure over Emitter.ProcessPendingWay/ProcessPendingRelation with the
// exists flag fixed for the run (false for a fresh import's drain, true for
// an append run's, since only the latter can have prior live rows to
// retire).
type Process func(ctx context.Context, id int64) error

// Driver merges the pending tracker's ascending pop_lowest sequence with an
// ascending upstream id sequence (§4.F). Zero value is not usable; use New.
type Driver struct {
	pending      Pending
	process      Process
	nextDeferred int64
	started      bool
}

// New constructs a driver bound to one pending tracker and one process
// callback. The first call to Next/Upstream/Finish primes the cursor via
// pending.PopLowest.
func New(pending Pending, process Process) *Driver {
	return &Driver{pending: pending, process: process}
}

func (d *Driver) prime(ctx context.Context) error {
	if d.started {
		return nil
	}
	id, err := d.pending.PopLowest(ctx)
	if err != nil {
		return err
	}
	d.nextDeferred = id
	d.started = true
	return nil
}

// Upstream is the callback the host invokes once per upstream id, in
// strictly ascending order (§4.F). It first drains every deferred id
// strictly less than u (processing each), then — if the deferred cursor
// equals u — advances past it (the upstream id itself will be processed by
// the caller, not by the driver, avoiding a double-process), and finally
// always processes u itself.
//
// This merge guarantees each id in either sequence is processed exactly
// once, and never before its predecessors in sorted order (§8 "Merge
// ordering").
func (d *Driver) Upstream(ctx context.Context, u int64) error {
	if err := d.prime(ctx); err != nil {
		return err
	}

	for d.nextDeferred < u {
		if err := d.process(ctx, d.nextDeferred); err != nil {
			return err
		}
		id, err := d.pending.PopLowest(ctx)
		if err != nil {
			return err
		}
		d.nextDeferred = id
	}

	if d.nextDeferred == u {
		id, err := d.pending.PopLowest(ctx)
		if err != nil {
			return err
		}
		d.nextDeferred = id
	}

	return d.process(ctx, u)
}

// Finish drains all remaining deferred ids using the sentinel idtracker.IDMax
// as the terminal upstream id (§4.F "a terminal finish() call drains all
// remaining deferred IDs using sentinel MAX"). Unlike Upstream, Finish does
// not itself process the sentinel — there is no real id there.
func (d *Driver) Finish(ctx context.Context) error {
	if err := d.prime(ctx); err != nil {
		return err
	}

	for d.nextDeferred < idtracker.IDMax {
		if err := d.process(ctx, d.nextDeferred); err != nil {
			return err
		}
		id, err := d.pending.PopLowest(ctx)
		if err != nil {
			return err
		}
		d.nextDeferred = id
	}
	return nil
}

// DrainPending is the degenerate case of the merge where the host has no
// live upstream sequence of its own to merge against (this implementation's
// middle store offers O(1) random access by id, so the second "re-read the
// whole ways/relations table" pass the original performs to generate its
// upstream sequence is unnecessary here — draining the pending set to
// completion reaches every id the original's merged pass would have
// touched). It is equivalent to calling Finish with no prior Upstream calls.
func DrainPending(ctx context.Context, pending Pending, process Process) error {
	return New(pending, process).Finish(ctx)
}
