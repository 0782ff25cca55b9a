package account

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Operation is the ChangeLog mutation kind.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Table names carried by ChangeLog rows.
const (
	TablePlans    = "Plans"
	TableAccounts = "Accounts"
	TableAPIKeys  = "APIKeys"
)

// ChangeLogEntry is one row of the append-only audit log.
type ChangeLogEntry struct {
	ChangeID  int64
	Table     string
	RecordID  int64
	Operation Operation
}

// SourceReader is everything the replicator needs from the external
// relational store. A concrete implementation talks to Postgres through pgx;
// tests substitute an in-memory stub.
type SourceReader interface {
	AllPlans(ctx context.Context) ([]Plan, error)
	AllAccounts(ctx context.Context) ([]Account, error)
	AllAPIKeys(ctx context.Context) ([]APIKey, error)
	MaxChangeID(ctx context.Context) (int64, error)

	ChangesSince(ctx context.Context, cursor int64) ([]ChangeLogEntry, error)
	PlanByID(ctx context.Context, id int64) (Plan, bool, error)
	AccountByID(ctx context.Context, id int64) (Account, bool, error)
	APIKeyByID(ctx context.Context, id int64) (APIKey, bool, error)
}

// Replicator keeps a Store in eventual consistency with a SourceReader using
// the bootstrap-then-delta protocol: a full snapshot on startup, then
// periodic batches applied in change_id order with the cursor only advancing
// after the whole batch succeeds.
type Replicator struct {
	store    *Store
	source   SourceReader
	interval time.Duration
	log      zerolog.Logger

	stopped uint32
	stop    chan struct{}
	wg      sync.WaitGroup

	onBatchApplied func(cursor int64) // optional telemetry hooks
	onBatchFailed  func(err error)
}

// NewReplicator wires a Replicator against store and source, ticking every
// interval.
func NewReplicator(store *Store, source SourceReader, interval time.Duration, log zerolog.Logger) *Replicator {
	return &Replicator{
		store:    store,
		source:   source,
		interval: interval,
		log:      log.With().Str("component", "account_replicator").Logger(),
		stop:     make(chan struct{}),
	}
}

// OnBatchApplied registers a telemetry hook invoked after every successfully
// applied delta batch (even an empty one), with the new cursor value.
func (r *Replicator) OnBatchApplied(fn func(cursor int64)) {
	r.onBatchApplied = fn
}

// OnBatchFailed registers a telemetry hook invoked whenever a delta batch
// aborts and will be retried.
func (r *Replicator) OnBatchFailed(fn func(err error)) {
	r.onBatchFailed = fn
}

// Bootstrap loads the full Plans/Accounts/APIKeys snapshot and records
// max_change_id. Any change produced strictly after this read is guaranteed
// observable by the subsequent delta loop.
func (r *Replicator) Bootstrap(ctx context.Context) error {
	plans, err := r.source.AllPlans(ctx)
	if err != nil {
		return err
	}
	accounts, err := r.source.AllAccounts(ctx)
	if err != nil {
		return err
	}
	keys, err := r.source.AllAPIKeys(ctx)
	if err != nil {
		return err
	}
	maxID, err := r.source.MaxChangeID(ctx)
	if err != nil {
		return err
	}

	for _, p := range plans {
		r.store.UpsertPlan(p)
	}
	for _, a := range accounts {
		r.store.UpsertAccount(a)
	}
	for _, k := range keys {
		r.store.UpsertAPIKey(k)
	}
	r.store.AdvanceCursor(maxID)

	r.log.Info().
		Int("plans", len(plans)).
		Int("accounts", len(accounts)).
		Int("api_keys", len(keys)).
		Int64("cursor", maxID).
		Msg("bootstrap snapshot applied")
	return nil
}

// Start launches the background delta loop. Call Bootstrap first.
func (r *Replicator) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the loop to exit at its next wake and waits for it to finish.
func (r *Replicator) Stop() {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return
	}
	close(r.stop)
	r.wg.Wait()
}

func (r *Replicator) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runDeltaCycle(ctx)
		}
	}
}

// runDeltaCycle fetches one batch of ChangeLog rows and applies them in
// order. Any fetch or read failure aborts the batch without advancing the
// cursor, so it is retried on the next tick.
func (r *Replicator) runDeltaCycle(ctx context.Context) {
	cursor := r.store.Cursor()
	entries, err := r.source.ChangesSince(ctx, cursor)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to fetch changelog batch; retrying next tick")
		if r.onBatchFailed != nil {
			r.onBatchFailed(err)
		}
		return
	}

	highest := cursor
	for _, e := range entries {
		if err := r.applyEntry(ctx, e); err != nil {
			r.log.Warn().Err(err).Int64("change_id", e.ChangeID).Msg("failed to apply changelog entry; aborting batch")
			if r.onBatchFailed != nil {
				r.onBatchFailed(err)
			}
			return
		}
		highest = e.ChangeID
	}

	r.store.AdvanceCursor(highest)
	if r.onBatchApplied != nil {
		r.onBatchApplied(highest)
	}
}

func (r *Replicator) applyEntry(ctx context.Context, e ChangeLogEntry) error {
	switch e.Table {
	case TablePlans:
		if e.Operation == OpDelete {
			r.store.DeletePlan(e.RecordID)
			return nil
		}
		p, ok, err := r.source.PlanByID(ctx, e.RecordID)
		if err != nil {
			return err
		}
		if ok {
			r.store.UpsertPlan(p)
		}
		return nil

	case TableAccounts:
		if e.Operation == OpDelete {
			r.store.DeleteAccount(e.RecordID)
			return nil
		}
		a, ok, err := r.source.AccountByID(ctx, e.RecordID)
		if err != nil {
			return err
		}
		if ok {
			r.store.UpsertAccount(a)
		}
		return nil

	case TableAPIKeys:
		if e.Operation == OpDelete {
			r.store.DeleteAPIKey(e.RecordID)
			return nil
		}
		k, ok, err := r.source.APIKeyByID(ctx, e.RecordID)
		if err != nil {
			return err
		}
		if ok {
			r.store.UpsertAPIKey(k)
		}
		return nil

	default:
		r.log.Warn().Str("table", e.Table).Int64("change_id", e.ChangeID).Msg("unknown changelog table; skipping")
		return nil
	}
}
