package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/profits"
)

type legacyAPI struct {
	mu      sync.Mutex
	queries map[string][]string
	costs   []costRow
}

func (a *legacyAPI) record(r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries[r.URL.Path] = append(a.queries[r.URL.Path], r.URL.RawQuery)
}

func (a *legacyAPI) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/api/years", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		write(w, map[string]any{"years": []int{2024, 2023}, "currentYear": 2024})
	})
	mux.HandleFunc("/api/date", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		write(w, map[string]any{"date": "2024-06-15", "year": 2024, "month": 6, "day": 15})
	})
	mux.HandleFunc("/api/aggregated_profits", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		write(w, map[string]any{"data": []map[string]any{
			{"year": 2024, "month": 1, "branch": "Lomza", "profit": 100.0, "profit_paid": 80.0, "hq_profit": 30.0, "hq_profit_paid": 20.0, "branch_profit": 40.0, "branch_profit_paid": 35.0, "rep_profit": 25.0, "rep_profit_paid": 20.0, "found": 5.0, "found_paid": 5.0},
			{"year": 2023, "month": 12, "branch": "Lomza", "profit": 999.0},
		}})
	})
	mux.HandleFunc("/api/costs", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(a.costs) {
			end = len(a.costs)
		}
		page := []costRow{}
		if offset < len(a.costs) {
			page = a.costs[offset:end]
		}
		write(w, map[string]any{"total": len(a.costs), "costs": page, "offset": offset, "limit": limit})
	})
	mux.HandleFunc("/api/costs/branch_payouts", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		if r.URL.Query().Get("month") != "2" {
			write(w, []branchPayoutRow{})
			return
		}
		write(w, []branchPayoutRow{{Branch: "MG", Total: 300}, {Branch: "Pcim", Total: 0}})
	})
	mux.HandleFunc("/api/costs/representative_payouts", func(w http.ResponseWriter, r *http.Request) {
		a.record(r)
		write(w, []repPayoutRow{{Representative: "Anna Nowak", Branch: "MG", Year: 2024, Month: 1, Total: 120}})
	})
	return mux
}

func newTestProvider(t *testing.T, api *legacyAPI) *Provider {
	t.Helper()
	api.queries = make(map[string][]string)
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	p, err := New(srv.URL+"/", time.Second)
	require.NoError(t, err)
	return p
}

func TestCatalogueAndToday(t *testing.T) {
	p := newTestProvider(t, &legacyAPI{})
	ctx := context.Background()

	cat, err := p.ListYears(ctx)
	require.NoError(t, err)
	require.Equal(t, profits.YearCatalogue{Years: []int{2024, 2023}, CurrentYear: 2024}, cat)

	today, err := p.Today(ctx)
	require.NoError(t, err)
	require.Equal(t, profits.Today{Year: 2024, Month: 6, Day: 15}, today)
}

func TestSalesRecordsFilterYearLocally(t *testing.T) {
	api := &legacyAPI{}
	p := newTestProvider(t, api)

	got, err := p.SalesRecords(context.Background(), profits.Query{Year: 2024, Branch: "Łomża"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Łomża", got[0].Branch)
	require.Equal(t, profits.Dual{Accrued: 40, Paid: 35}, got[0].Shares.Branch)
	require.Equal(t, profits.Dual{Accrued: 5, Paid: 5}, got[0].Shares.Fund)
	require.NotContains(t, api.queries["/api/aggregated_profits"][0], "year=")

	_, err = p.SalesRecords(context.Background(), profits.Query{Year: 2024, Representative: "Anna Nowak"})
	require.ErrorIs(t, err, ErrRepresentativeSales)
}

func TestCostRecordsPageAndSum(t *testing.T) {
	api := &legacyAPI{}
	for i := 0; i < pageSize+2; i++ {
		api.costs = append(api.costs, costRow{Year: 2024, Month: 3, Branch: "Pcim", HQValue: 1, BranchValue: 2, RepValue: 0})
	}
	api.costs = append(api.costs, costRow{Year: 2024, Month: 3, Branch: "MG", Representative: "Anna Nowak", RepValue: 7})
	p := newTestProvider(t, api)

	got, err := p.CostRecords(context.Background(), profits.Query{Year: 2024})
	require.NoError(t, err)
	require.Equal(t, []profits.CostRecord{
		{Year: 2024, Month: 3, Branch: "MG", Representative: "Anna Nowak", Shares: profits.CostShares{Rep: 7}},
		{Year: 2024, Month: 3, Branch: "Pcim", Shares: profits.CostShares{HQ: pageSize + 2, Branch: 2 * (pageSize + 2)}},
	}, got)
	require.Len(t, api.queries["/api/costs"], 2)
}

func TestRawCostsStopsAtLimit(t *testing.T) {
	api := &legacyAPI{costs: []costRow{
		{Year: 2024, Month: 1, Branch: "HQ", Kind: "rent", Value: 100, DocumentNo: "FV/1"},
		{Year: 2024, Month: 2, Branch: "HQ", Kind: "rent", Value: 100, DocumentNo: "FV/2"},
		{Year: 2024, Month: 3, Branch: "HQ", Kind: "rent", Value: 100, DocumentNo: "FV/3"},
	}}
	p := newTestProvider(t, api)

	got, err := p.RawCosts(context.Background(), profits.Query{Year: 2024, Branch: profits.CostCentreHQ}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "FV/2", got[1].DocumentNo)
	require.Contains(t, api.queries["/api/costs"][0], "branch=HQ")
}

func TestPayoutsMergeBranchAndRepresentative(t *testing.T) {
	api := &legacyAPI{}
	p := newTestProvider(t, api)

	got, err := p.Payouts(context.Background(), profits.Query{Year: 2024})
	require.NoError(t, err)
	require.Equal(t, []profits.PayoutRecord{
		{Year: 2024, Month: 1, Branch: "MG", Representative: "Anna Nowak", Amount: 120},
		{Year: 2024, Month: 2, Branch: "MG", Amount: 300},
	}, got)
	require.Len(t, api.queries["/api/costs/branch_payouts"], 12)

	api.queries = make(map[string][]string)
	_, err = p.Payouts(context.Background(), profits.Query{Year: 2024, Representative: "Anna Nowak"})
	require.NoError(t, err)
	require.Empty(t, api.queries["/api/costs/branch_payouts"])
	require.Contains(t, api.queries["/api/costs/representative_payouts"][0], "rep=Anna+Nowak")
}

func TestUpstreamErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	p, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = p.ListYears(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "returned 500")

	_, err = New("not a url", time.Second)
	require.Error(t, err)
}
