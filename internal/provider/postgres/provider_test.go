package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/profits"
)

type call struct {
	sql  string
	args []any
}

type result struct {
	marker string
	rows   [][]any
}

type fakeDB struct {
	results []result
	row     []any
	rowErr  error
	err     error
	calls   []call
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql: sql, args: args})
	if f.err != nil {
		return nil, f.err
	}
	for _, res := range f.results {
		if strings.Contains(sql, res.marker) {
			return &fakeRows{data: res.rows, index: -1}, nil
		}
	}
	return &fakeRows{index: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql: sql, args: args})
	return fakeRow{values: f.row, err: f.rowErr}
}

type fakeRows struct {
	data  [][]any
	index int
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *fakeRows) RawValues() [][]byte { return nil }

func (r *fakeRows) Conn() *pgx.Conn { return nil }

func (r *fakeRows) Next() bool {
	if r.index+1 >= len(r.data) {
		return false
	}
	r.index++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.index], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.index], nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *int:
			*ptr = values[i].(int)
		case *float64:
			*ptr = values[i].(float64)
		case *string:
			*ptr = values[i].(string)
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

func TestSalesRecordsFiltersAndCanonicalisesBranch(t *testing.T) {
	db := &fakeDB{results: []result{{
		marker: "FROM transactions",
		rows: [][]any{
			{2024, 3, "Lomza", "Jan Kowalski", 1000.0, 800.0, 200.0, 150.0, 50.0, 40.0, 60.0, 45.0, 80.0, 60.0, 10.0, 5.0},
		},
	}}}
	p := New(db)

	got, err := p.SalesRecords(context.Background(), profits.Query{Year: 2024, Branch: "Łomża"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Łomża", got[0].Branch)
	require.Equal(t, profits.Dual{Accrued: 200, Paid: 150}, got[0].Profit)
	require.Equal(t, profits.Dual{Accrued: 10, Paid: 5}, got[0].Shares.Fund)

	require.Len(t, db.calls, 1)
	require.Equal(t, []any{
		2024,
		pgtype.Int4{},
		pgtype.Text{String: "Łomża", Valid: true},
		pgtype.Text{},
	}, db.calls[0].args)
}

func TestPayoutsAndCostsScan(t *testing.T) {
	db := &fakeDB{results: []result{
		{marker: ") payouts", rows: [][]any{
			{2024, 1, "MG", "", 300.0},
			{2024, 1, "MG", "Anna Nowak", 120.0},
		}},
		{marker: "FROM all_costs", rows: [][]any{
			{2024, 1, "MG", "Anna Nowak", 10.0, 20.0, 30.0},
		}},
	}}
	p := New(db)
	ctx := context.Background()

	payouts, err := p.Payouts(ctx, profits.Query{Year: 2024, Month: 1})
	require.NoError(t, err)
	require.Equal(t, []profits.PayoutRecord{
		{Year: 2024, Month: 1, Branch: "MG", Amount: 300},
		{Year: 2024, Month: 1, Branch: "MG", Representative: "Anna Nowak", Amount: 120},
	}, payouts)
	require.Equal(t, pgtype.Int4{Int32: 1, Valid: true}, db.calls[0].args[1])

	costs, err := p.CostRecords(ctx, profits.Query{Year: 2024})
	require.NoError(t, err)
	require.Equal(t, profits.CostShares{HQ: 10, Branch: 20, Rep: 30}, costs[0].Shares)
}

func TestRawCostsPassesLimit(t *testing.T) {
	db := &fakeDB{results: []result{{
		marker: "FROM all_costs",
		rows: [][]any{
			{2024, 2, "HQ", "", "rent", "office", "Landlord", "FV/1", 1500.0},
		},
	}}}
	p := New(db)

	items, err := p.RawCosts(context.Background(), profits.Query{Year: 2024, Branch: profits.CostCentreHQ}, 50)
	require.NoError(t, err)
	require.Equal(t, []profits.CostLineItem{{
		Year: 2024, Month: 2, Branch: "HQ", Kind: "rent", Purpose: "office",
		Contractor: "Landlord", DocumentNo: "FV/1", Value: 1500,
	}}, items)
	require.Equal(t, pgtype.Int4{Int32: 50, Valid: true}, db.calls[0].args[4])

	_, err = p.RawCosts(context.Background(), profits.Query{Year: 2024}, 0)
	require.NoError(t, err)
	require.Equal(t, pgtype.Int4{}, db.calls[1].args[4])
}

func TestTodayFallsBackToClock(t *testing.T) {
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	p := New(db).WithClock(func() time.Time {
		return time.Date(2025, time.February, 3, 12, 0, 0, 0, time.UTC)
	})

	today, err := p.Today(context.Background())
	require.NoError(t, err)
	require.Equal(t, profits.Today{Year: 2025, Month: 2, Day: 3}, today)

	db.rowErr = nil
	db.row = []any{2024, 6, 15}
	today, err = p.Today(context.Background())
	require.NoError(t, err)
	require.Equal(t, profits.Today{Year: 2024, Month: 6, Day: 15}, today)
}

func TestListYearsUsesReferenceDate(t *testing.T) {
	db := &fakeDB{
		results: []result{{marker: "DISTINCT year", rows: [][]any{{2024}, {2023}, {2021}}}},
		row:     []any{2024, 6, 15},
	}
	cat, err := New(db).ListYears(context.Background())
	require.NoError(t, err)
	require.Equal(t, profits.YearCatalogue{Years: []int{2024, 2023, 2021}, CurrentYear: 2024}, cat)
}

func TestErrorsCarrySQLState(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42P01", Message: `relation "all_costs" does not exist`}
	p := New(&fakeDB{err: pgErr})

	_, err := p.CostRecords(context.Background(), profits.Query{Year: 2024})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SQLSTATE 42P01")
	var target *pgconn.PgError
	require.True(t, errors.As(err, &target))

	var nilProvider *Provider
	_, err = nilProvider.SalesRecords(context.Background(), profits.Query{Year: 2024})
	require.ErrorIs(t, err, profits.ErrNotInitialised)
}
