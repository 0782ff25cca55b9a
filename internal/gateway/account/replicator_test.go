package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	plans    map[int64]Plan
	accounts map[int64]Account
	keys     map[int64]APIKey
	changes  []ChangeLogEntry
	failNext bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		plans:    make(map[int64]Plan),
		accounts: make(map[int64]Account),
		keys:     make(map[int64]APIKey),
	}
}

func (f *fakeSource) AllPlans(ctx context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(f.plans))
	for _, p := range f.plans {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSource) AllAccounts(ctx context.Context) ([]Account, error) {
	out := make([]Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeSource) AllAPIKeys(ctx context.Context) ([]APIKey, error) {
	out := make([]APIKey, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeSource) MaxChangeID(ctx context.Context) (int64, error) {
	var max int64
	for _, c := range f.changes {
		if c.ChangeID > max {
			max = c.ChangeID
		}
	}
	return max, nil
}

func (f *fakeSource) ChangesSince(ctx context.Context, cursor int64) ([]ChangeLogEntry, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("transient fetch error")
	}
	var out []ChangeLogEntry
	for _, c := range f.changes {
		if c.ChangeID > cursor {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) PlanByID(ctx context.Context, id int64) (Plan, bool, error) {
	p, ok := f.plans[id]
	return p, ok, nil
}

func (f *fakeSource) AccountByID(ctx context.Context, id int64) (Account, bool, error) {
	a, ok := f.accounts[id]
	return a, ok, nil
}

func (f *fakeSource) APIKeyByID(ctx context.Context, id int64) (APIKey, bool, error) {
	k, ok := f.keys[id]
	return k, ok, nil
}

func TestBootstrapAppliesFullSnapshotAndCursor(t *testing.T) {
	src := newFakeSource()
	src.plans[1] = Plan{PlanID: 1, RPSLimit: 5}
	src.accounts[10] = Account{AccountID: 10, PlanID: 1}
	src.keys[100] = APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true}
	src.changes = []ChangeLogEntry{{ChangeID: 3, Table: TableAPIKeys, RecordID: 100, Operation: OpInsert}}

	store := NewStore()
	r := NewReplicator(store, src, time.Second, zerolog.Nop())

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if store.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", store.Cursor())
	}
	if _, ok := store.GetPlanForKey("hash-a"); !ok {
		t.Fatalf("expected bootstrapped key to resolve")
	}
}

func TestDeltaCycleAppliesInsertsAndDeletesInOrder(t *testing.T) {
	src := newFakeSource()
	store := NewStore()
	r := NewReplicator(store, src, time.Second, zerolog.Nop())

	src.plans[1] = Plan{PlanID: 1, RPSLimit: 5}
	src.accounts[10] = Account{AccountID: 10, PlanID: 1}
	src.keys[100] = APIKey{KeyID: 100, AccountID: 10, HashHex: "hash-a", IsActive: true}
	src.changes = []ChangeLogEntry{
		{ChangeID: 1, Table: TablePlans, RecordID: 1, Operation: OpInsert},
		{ChangeID: 2, Table: TableAccounts, RecordID: 10, Operation: OpInsert},
		{ChangeID: 3, Table: TableAPIKeys, RecordID: 100, Operation: OpInsert},
	}

	r.runDeltaCycle(context.Background())

	if _, ok := store.GetPlanForKey("hash-a"); !ok {
		t.Fatalf("expected key to resolve after delta cycle")
	}
	if store.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", store.Cursor())
	}

	src.changes = append(src.changes, ChangeLogEntry{ChangeID: 4, Table: TableAPIKeys, RecordID: 100, Operation: OpDelete})
	r.runDeltaCycle(context.Background())

	if _, ok := store.GetPlanForKey("hash-a"); ok {
		t.Fatalf("expected key to no longer resolve after delete")
	}
	if store.Cursor() != 4 {
		t.Fatalf("cursor = %d, want 4", store.Cursor())
	}
}

func TestDeltaCycleDoesNotAdvanceCursorOnFetchError(t *testing.T) {
	src := newFakeSource()
	store := NewStore()
	r := NewReplicator(store, src, time.Second, zerolog.Nop())

	src.changes = []ChangeLogEntry{{ChangeID: 1, Table: TablePlans, RecordID: 1, Operation: OpInsert}}
	src.failNext = true

	r.runDeltaCycle(context.Background())

	if store.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0 after failed fetch", store.Cursor())
	}
}

func TestDeltaCycleSkipsUnknownTable(t *testing.T) {
	src := newFakeSource()
	store := NewStore()
	r := NewReplicator(store, src, time.Second, zerolog.Nop())

	src.changes = []ChangeLogEntry{{ChangeID: 1, Table: "Widgets", RecordID: 1, Operation: OpInsert}}

	r.runDeltaCycle(context.Background())

	if store.Cursor() != 1 {
		t.Fatalf("cursor = %d, want 1 (unknown table still advances cursor)", store.Cursor())
	}
}
