package account

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSource reads the Plans/Accounts/APIKeys/ChangeLog tables from Postgres
// through a pooled connection. It implements SourceReader.
type PgSource struct {
	pool *pgxpool.Pool
}

// NewPgSource wraps an already-opened pool.
func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func scanPlanRow(row pgx.CollectableRow) (Plan, error) {
	var p Plan
	if err := row.Scan(&p.PlanID, &p.Name, &p.MonthlyQuota, &p.RPSLimit, &p.PricePer1kReq); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func scanAccountRow(row pgx.CollectableRow) (Account, error) {
	var a Account
	if err := row.Scan(&a.AccountID, &a.Email, &a.PlanID, &a.BillingStatus); err != nil {
		return Account{}, err
	}
	return a, nil
}

func scanAPIKeyRow(row pgx.CollectableRow) (APIKey, error) {
	var k APIKey
	if err := row.Scan(&k.KeyID, &k.AccountID, &k.HashHex, &k.IsActive); err != nil {
		return APIKey{}, err
	}
	return k, nil
}

func scanChangeLogRow(row pgx.CollectableRow) (ChangeLogEntry, error) {
	var e ChangeLogEntry
	var op string
	if err := row.Scan(&e.ChangeID, &e.Table, &e.RecordID, &op); err != nil {
		return ChangeLogEntry{}, err
	}
	e.Operation = Operation(op)
	return e, nil
}

// AllPlans reads every row of Plans.
func (s *PgSource) AllPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.pool.Query(ctx, `SELECT plan_id, name, monthly_quota, rps_limit, price_per_1k_req FROM plans`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPlanRow)
}

// AllAccounts reads every row of Accounts.
func (s *PgSource) AllAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id, email, plan_id, billing_status FROM accounts`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAccountRow)
}

// AllAPIKeys reads every row of APIKeys.
func (s *PgSource) AllAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT key_id, account_id, api_key_hash, is_active FROM api_keys`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAPIKeyRow)
}

// MaxChangeID returns COALESCE(MAX(change_id), 0) from ChangeLog.
func (s *PgSource) MaxChangeID(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(change_id), 0) FROM change_log`).Scan(&max)
	return max, err
}

// ChangesSince returns ChangeLog rows strictly after cursor, in change_id
// order.
func (s *PgSource) ChangesSince(ctx context.Context, cursor int64) ([]ChangeLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT change_id, table_name, record_id, operation FROM change_log WHERE change_id > $1 ORDER BY change_id ASC`,
		cursor)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanChangeLogRow)
}

// PlanByID fetches a single Plans row by primary key.
func (s *PgSource) PlanByID(ctx context.Context, id int64) (Plan, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT plan_id, name, monthly_quota, rps_limit, price_per_1k_req FROM plans WHERE plan_id = $1`, id)
	if err != nil {
		return Plan{}, false, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPlanRow)
	if err == pgx.ErrNoRows {
		return Plan{}, false, nil
	}
	if err != nil {
		return Plan{}, false, err
	}
	return p, true, nil
}

// AccountByID fetches a single Accounts row by primary key.
func (s *PgSource) AccountByID(ctx context.Context, id int64) (Account, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, email, plan_id, billing_status FROM accounts WHERE account_id = $1`, id)
	if err != nil {
		return Account{}, false, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccountRow)
	if err == pgx.ErrNoRows {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

// APIKeyByID fetches a single APIKeys row by primary key.
func (s *PgSource) APIKeyByID(ctx context.Context, id int64) (APIKey, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key_id, account_id, api_key_hash, is_active FROM api_keys WHERE key_id = $1`, id)
	if err != nil {
		return APIKey{}, false, err
	}
	k, err := pgx.CollectExactlyOneRow(rows, scanAPIKeyRow)
	if err == pgx.ErrNoRows {
		return APIKey{}, false, nil
	}
	if err != nil {
		return APIKey{}, false, err
	}
	return k, true, nil
}
