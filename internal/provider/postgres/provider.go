// Package postgres reads profit records straight from the transactions and
// all_costs tables of the legacy sales database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/salpa/profits/internal/profits"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the provider needs.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Provider implements profits.Provider over PostgreSQL.
type Provider struct {
	db  DBTX
	now func() time.Time
}

// New constructs a provider on top of db.
func New(db DBTX) *Provider {
	return &Provider{db: db, now: time.Now}
}

// WithClock overrides the clock used when no reference date is configured.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	if now != nil {
		p.now = now
	}
	return p
}

const listYearsQuery = `SELECT DISTINCT year FROM transactions WHERE year IS NOT NULL ORDER BY year DESC`

// ListYears returns the years with at least one transaction, newest first.
func (p *Provider) ListYears(ctx context.Context) (profits.YearCatalogue, error) {
	if err := p.ready(); err != nil {
		return profits.YearCatalogue{}, err
	}
	rows, err := p.db.Query(ctx, listYearsQuery)
	if err != nil {
		return profits.YearCatalogue{}, wrap("list years", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var year int
		if err := rows.Scan(&year); err != nil {
			return profits.YearCatalogue{}, wrap("scan year", err)
		}
		years = append(years, year)
	}
	if err := rows.Err(); err != nil {
		return profits.YearCatalogue{}, wrap("list years", err)
	}

	today, err := p.Today(ctx)
	if err != nil {
		return profits.YearCatalogue{}, err
	}
	return profits.YearCatalogue{Years: years, CurrentYear: today.Year}, nil
}

const todayQuery = `SELECT year_value, month_value, day_value FROM config_current_date WHERE id = 1`

// Today returns the configured reference date, falling back to the clock
// when the configuration row is absent.
func (p *Provider) Today(ctx context.Context) (profits.Today, error) {
	if err := p.ready(); err != nil {
		return profits.Today{}, err
	}
	var year, month, day int
	if err := p.db.QueryRow(ctx, todayQuery).Scan(&year, &month, &day); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			now := p.now()
			return profits.Today{Year: now.Year(), Month: int(now.Month()), Day: now.Day()}, nil
		}
		return profits.Today{}, wrap("load reference date", err)
	}
	today := profits.Today{Year: year, Month: month, Day: day}
	if err := today.Validate(); err != nil {
		return profits.Today{}, wrap("load reference date", err)
	}
	return today, nil
}

const salesQuery = `
SELECT year, month, branch_name, COALESCE(representative_name, '') AS representative,
       COALESCE(SUM(net_value), 0),
       COALESCE(SUM(net_value) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0),
       COALESCE(SUM(profit), 0),
       COALESCE(SUM(profit) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0),
       COALESCE(SUM(hq_profit), 0),
       COALESCE(SUM(hq_profit) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0),
       COALESCE(SUM(branch_profit), 0),
       COALESCE(SUM(branch_profit) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0),
       COALESCE(SUM(rep_profit), 0),
       COALESCE(SUM(rep_profit) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0),
       COALESCE(SUM(found), 0),
       COALESCE(SUM(found) FILTER (WHERE to_pay IS NULL OR to_pay = 0), 0)
FROM transactions
WHERE year = $1
  AND ($2::int IS NULL OR month = $2)
  AND ($3::text IS NULL OR branch_name = $3)
  AND ($4::text IS NULL OR representative_name = $4)
GROUP BY year, month, branch_name, representative
ORDER BY year, month, branch_name, representative`

// SalesRecords returns per-month sales grouped by branch and representative.
// Paid figures only count documents without an outstanding balance.
func (p *Provider) SalesRecords(ctx context.Context, q profits.Query) ([]profits.SalesRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, salesQuery, filterArgs(q)...)
	if err != nil {
		return nil, wrap("query sales", err)
	}
	defer rows.Close()

	var out []profits.SalesRecord
	for rows.Next() {
		var r profits.SalesRecord
		if err := rows.Scan(
			&r.Year, &r.Month, &r.Branch, &r.Representative,
			&r.Sales.Accrued, &r.Sales.Paid,
			&r.Profit.Accrued, &r.Profit.Paid,
			&r.Shares.HQ.Accrued, &r.Shares.HQ.Paid,
			&r.Shares.Branch.Accrued, &r.Shares.Branch.Paid,
			&r.Shares.Rep.Accrued, &r.Shares.Rep.Paid,
			&r.Shares.Fund.Accrued, &r.Shares.Fund.Paid,
		); err != nil {
			return nil, wrap("scan sales", err)
		}
		r.Branch = canonical(r.Branch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query sales", err)
	}
	return out, nil
}

const costsQuery = `
SELECT cost_year, cost_mo, cost_branch, COALESCE(cost_ph, '') AS representative,
       COALESCE(SUM(cost_hq_value), 0),
       COALESCE(SUM(cost_branch_value), 0),
       COALESCE(SUM(cost_ph_value), 0)
FROM all_costs
WHERE cost_year = $1
  AND ($2::int IS NULL OR cost_mo = $2)
  AND ($3::text IS NULL OR cost_branch = $3)
  AND ($4::text IS NULL OR cost_ph = $4)
GROUP BY cost_year, cost_mo, cost_branch, representative
ORDER BY cost_year, cost_mo, cost_branch, representative`

// CostRecords returns per-month cost shares grouped by branch and representative.
func (p *Provider) CostRecords(ctx context.Context, q profits.Query) ([]profits.CostRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, costsQuery, filterArgs(q)...)
	if err != nil {
		return nil, wrap("query costs", err)
	}
	defer rows.Close()

	var out []profits.CostRecord
	for rows.Next() {
		var r profits.CostRecord
		if err := rows.Scan(
			&r.Year, &r.Month, &r.Branch, &r.Representative,
			&r.Shares.HQ, &r.Shares.Branch, &r.Shares.Rep,
		); err != nil {
			return nil, wrap("scan costs", err)
		}
		r.Branch = canonical(r.Branch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query costs", err)
	}
	return out, nil
}

// Branch payouts carry no representative; representative payouts do.
const payoutsQuery = `
SELECT year, month, branch, representative, SUM(amount)
FROM (
    SELECT cost_year AS year, cost_mo AS month, cost_branch AS branch, '' AS representative, branch_payout AS amount
    FROM all_costs
    WHERE COALESCE(branch_payout, 0) <> 0
    UNION ALL
    SELECT cost_year, cost_mo, cost_branch, cost_ph, rep_payout
    FROM all_costs
    WHERE COALESCE(rep_payout, 0) <> 0 AND COALESCE(cost_ph, '') <> ''
) payouts
WHERE year = $1
  AND ($2::int IS NULL OR month = $2)
  AND ($3::text IS NULL OR branch = $3)
  AND ($4::text IS NULL OR representative = $4)
GROUP BY year, month, branch, representative
ORDER BY year, month, branch, representative`

// Payouts returns branch and representative payouts as separate records.
func (p *Provider) Payouts(ctx context.Context, q profits.Query) ([]profits.PayoutRecord, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, payoutsQuery, filterArgs(q)...)
	if err != nil {
		return nil, wrap("query payouts", err)
	}
	defer rows.Close()

	var out []profits.PayoutRecord
	for rows.Next() {
		var r profits.PayoutRecord
		if err := rows.Scan(&r.Year, &r.Month, &r.Branch, &r.Representative, &r.Amount); err != nil {
			return nil, wrap("scan payouts", err)
		}
		r.Branch = canonical(r.Branch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query payouts", err)
	}
	return out, nil
}

const rawCostsQuery = `
SELECT cost_year, cost_mo, cost_branch, COALESCE(cost_ph, ''),
       COALESCE(cost_kind, ''), COALESCE(cost_4what, ''),
       COALESCE(cost_contrahent, ''), COALESCE(cost_doc_no, ''),
       COALESCE(cost_value, 0)
FROM all_costs
WHERE cost_year = $1
  AND ($2::int IS NULL OR cost_mo = $2)
  AND ($3::text IS NULL OR cost_branch = $3)
  AND ($4::text IS NULL OR cost_ph = $4)
ORDER BY cost_year, cost_mo, cost_doc_no
LIMIT $5`

// RawCosts returns individual cost lines. A non-positive limit is unbounded.
func (p *Provider) RawCosts(ctx context.Context, q profits.Query, limit int) ([]profits.CostLineItem, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	args := append(filterArgs(q), optionalInt(limit))
	rows, err := p.db.Query(ctx, rawCostsQuery, args...)
	if err != nil {
		return nil, wrap("query raw costs", err)
	}
	defer rows.Close()

	var out []profits.CostLineItem
	for rows.Next() {
		var it profits.CostLineItem
		if err := rows.Scan(
			&it.Year, &it.Month, &it.Branch, &it.Representative,
			&it.Kind, &it.Purpose, &it.Contractor, &it.DocumentNo, &it.Value,
		); err != nil {
			return nil, wrap("scan raw costs", err)
		}
		it.Branch = canonical(it.Branch)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query raw costs", err)
	}
	return out, nil
}

func (p *Provider) ready() error {
	if p == nil || p.db == nil {
		return fmt.Errorf("provider/postgres: %w", profits.ErrNotInitialised)
	}
	return nil
}

func filterArgs(q profits.Query) []any {
	return []any{q.Year, optionalInt(q.Month), optionalText(q.Branch), optionalText(q.Representative)}
}

func optionalInt(v int) pgtype.Int4 {
	if v <= 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(v), Valid: true}
}

func optionalText(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func canonical(branch string) string {
	if name, err := profits.Canonical(branch); err == nil {
		return name
	}
	return branch
}

func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("provider/postgres: %s: %s (SQLSTATE %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("provider/postgres: %s: %w", op, err)
}
