// Package rest reads profit records through the legacy reporting API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salpa/profits/internal/profits"
)

// pageSize is the largest page /api/costs accepts.
const pageSize = 1000

// ErrRepresentativeSales is returned for representative-filtered sales
// queries; the legacy API only aggregates sales per branch.
var ErrRepresentativeSales = errors.New("provider/rest: representative sales not exposed by the legacy api")

// Provider implements profits.Provider over HTTP.
type Provider struct {
	base   *url.URL
	client *http.Client
}

// New returns a provider rooted at baseURL. The timeout bounds every call.
func New(baseURL string, timeout time.Duration) (*Provider, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("provider/rest: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider/rest: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{base: u, client: &http.Client{Timeout: timeout}}, nil
}

// WithHTTPClient swaps the underlying client.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	if c != nil {
		p.client = c
	}
	return p
}

type yearsResponse struct {
	Years       []int `json:"years"`
	CurrentYear *int  `json:"currentYear"`
}

// ListYears calls /api/years.
func (p *Provider) ListYears(ctx context.Context) (profits.YearCatalogue, error) {
	var resp yearsResponse
	if err := p.get(ctx, "/api/years", nil, &resp); err != nil {
		return profits.YearCatalogue{}, err
	}
	cat := profits.YearCatalogue{Years: resp.Years}
	if resp.CurrentYear != nil {
		cat.CurrentYear = *resp.CurrentYear
	}
	return cat, nil
}

type dateResponse struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// Today calls /api/date.
func (p *Provider) Today(ctx context.Context) (profits.Today, error) {
	var resp dateResponse
	if err := p.get(ctx, "/api/date", nil, &resp); err != nil {
		return profits.Today{}, err
	}
	today := profits.Today{Year: resp.Year, Month: resp.Month, Day: resp.Day}
	if err := today.Validate(); err != nil {
		return profits.Today{}, fmt.Errorf("provider/rest: /api/date: %w", err)
	}
	return today, nil
}

type aggregatedRow struct {
	Year             int     `json:"year"`
	Month            int     `json:"month"`
	Branch           string  `json:"branch"`
	HQProfit         float64 `json:"hq_profit"`
	HQProfitPaid     float64 `json:"hq_profit_paid"`
	BranchProfit     float64 `json:"branch_profit"`
	BranchProfitPaid float64 `json:"branch_profit_paid"`
	RepProfit        float64 `json:"rep_profit"`
	RepProfitPaid    float64 `json:"rep_profit_paid"`
	Found            float64 `json:"found"`
	FoundPaid        float64 `json:"found_paid"`
	Profit           float64 `json:"profit"`
	ProfitPaid       float64 `json:"profit_paid"`
}

// SalesRecords calls /api/aggregated_profits. The endpoint collapses a
// year-only filter into one yearly row, so the year is filtered locally.
func (p *Provider) SalesRecords(ctx context.Context, q profits.Query) ([]profits.SalesRecord, error) {
	if q.Representative != "" {
		return nil, ErrRepresentativeSales
	}
	params := url.Values{}
	setText(params, "branch", q.Branch)
	setInt(params, "month", q.Month)

	var resp struct {
		Data []aggregatedRow `json:"data"`
	}
	if err := p.get(ctx, "/api/aggregated_profits", params, &resp); err != nil {
		return nil, err
	}
	out := make([]profits.SalesRecord, 0, len(resp.Data))
	for _, row := range resp.Data {
		if row.Year != q.Year || row.Month == 0 {
			continue
		}
		out = append(out, profits.SalesRecord{
			Year:   row.Year,
			Month:  row.Month,
			Branch: canonical(row.Branch),
			Profit: profits.Dual{Accrued: row.Profit, Paid: row.ProfitPaid},
			Shares: profits.ProfitShares{
				HQ:     profits.Dual{Accrued: row.HQProfit, Paid: row.HQProfitPaid},
				Branch: profits.Dual{Accrued: row.BranchProfit, Paid: row.BranchProfitPaid},
				Rep:    profits.Dual{Accrued: row.RepProfit, Paid: row.RepProfitPaid},
				Fund:   profits.Dual{Accrued: row.Found, Paid: row.FoundPaid},
			},
		})
	}
	return out, nil
}

type costRow struct {
	Year           int     `json:"cost_year"`
	Month          int     `json:"cost_mo"`
	Branch         string  `json:"cost_branch"`
	Representative string  `json:"cost_ph"`
	Value          float64 `json:"cost_value"`
	HQValue        float64 `json:"cost_hq_value"`
	BranchValue    float64 `json:"cost_branch_value"`
	RepValue       float64 `json:"cost_ph_value"`
	Kind           string  `json:"cost_kind"`
	Purpose        string  `json:"cost_4what"`
	Contractor     string  `json:"cost_contrahent"`
	DocumentNo     string  `json:"cost_doc_no"`
}

type costsPage struct {
	Total int       `json:"total"`
	Costs []costRow `json:"costs"`
}

// costRows pages through /api/costs until limit rows or the end.
func (p *Provider) costRows(ctx context.Context, q profits.Query, limit int) ([]costRow, error) {
	var out []costRow
	for offset := 0; ; offset += pageSize {
		params := filterParams(q, "cost_ph")
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page costsPage
		if err := p.get(ctx, "/api/costs", params, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Costs...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(page.Costs) < pageSize || offset+pageSize >= page.Total {
			return out, nil
		}
	}
}

// CostRecords sums /api/costs line items per year, month, branch and
// representative.
func (p *Provider) CostRecords(ctx context.Context, q profits.Query) ([]profits.CostRecord, error) {
	rows, err := p.costRows(ctx, q, 0)
	if err != nil {
		return nil, err
	}
	sums := make(map[profits.Key]profits.CostShares)
	for _, row := range rows {
		key := profits.Key{Year: row.Year, Month: row.Month, Branch: canonical(row.Branch), Representative: row.Representative}
		sums[key] = sums[key].Add(profits.CostShares{HQ: row.HQValue, Branch: row.BranchValue, Rep: row.RepValue})
	}
	keys := make([]profits.Key, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := make([]profits.CostRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, profits.CostRecord{
			Year: k.Year, Month: k.Month, Branch: k.Branch, Representative: k.Representative,
			Shares: sums[k],
		})
	}
	return out, nil
}

// RawCosts returns /api/costs line items, at most limit when positive.
func (p *Provider) RawCosts(ctx context.Context, q profits.Query, limit int) ([]profits.CostLineItem, error) {
	rows, err := p.costRows(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]profits.CostLineItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, profits.CostLineItem{
			Year:           row.Year,
			Month:          row.Month,
			Branch:         canonical(row.Branch),
			Representative: row.Representative,
			Kind:           row.Kind,
			Purpose:        row.Purpose,
			Contractor:     row.Contractor,
			DocumentNo:     row.DocumentNo,
			Value:          row.Value,
		})
	}
	return out, nil
}

type branchPayoutRow struct {
	Branch string  `json:"branch"`
	Total  float64 `json:"total_payout"`
}

type repPayoutRow struct {
	Representative string  `json:"representative"`
	Branch         string  `json:"branch"`
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	Total          float64 `json:"total_payout"`
}

// Payouts merges /api/costs/representative_payouts with branch payouts.
// The branch endpoint has no month dimension, so it is called per month.
func (p *Provider) Payouts(ctx context.Context, q profits.Query) ([]profits.PayoutRecord, error) {
	var (
		mu  sync.Mutex
		out []profits.PayoutRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	g.Go(func() error {
		var rows []repPayoutRow
		if err := p.get(gctx, "/api/costs/representative_payouts", filterParams(q, "rep"), &rows); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for _, row := range rows {
			if row.Total == 0 {
				continue
			}
			out = append(out, profits.PayoutRecord{
				Year: row.Year, Month: row.Month, Branch: canonical(row.Branch),
				Representative: row.Representative, Amount: row.Total,
			})
		}
		return nil
	})

	if q.Representative == "" {
		months := []int{q.Month}
		if q.Month == 0 {
			months = months[:0]
			for m := 1; m <= 12; m++ {
				months = append(months, m)
			}
		}
		for _, month := range months {
			g.Go(func() error {
				mq := q
				mq.Month = month
				var rows []branchPayoutRow
				if err := p.get(gctx, "/api/costs/branch_payouts", filterParams(mq, ""), &rows); err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for _, row := range rows {
					if row.Total == 0 {
						continue
					}
					out = append(out, profits.PayoutRecord{
						Year: q.Year, Month: month, Branch: canonical(row.Branch), Amount: row.Total,
					})
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a := profits.Key{Year: out[i].Year, Month: out[i].Month, Branch: out[i].Branch, Representative: out[i].Representative}
		b := profits.Key{Year: out[j].Year, Month: out[j].Month, Branch: out[j].Branch, Representative: out[j].Representative}
		return a.Less(b)
	})
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string, params url.Values, out any) error {
	if p == nil || p.base == nil {
		return fmt.Errorf("provider/rest: %w", profits.ErrNotInitialised)
	}
	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("provider/rest: build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider/rest: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider/rest: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider/rest: decode %s: %w", path, err)
	}
	return nil
}

// filterParams renders q; repParam names the representative filter, which
// differs per endpoint.
func filterParams(q profits.Query, repParam string) url.Values {
	params := url.Values{}
	setInt(params, "year", q.Year)
	setInt(params, "month", q.Month)
	setText(params, "branch", q.Branch)
	if repParam != "" {
		setText(params, repParam, q.Representative)
	}
	return params
}

func setInt(params url.Values, key string, v int) {
	if v > 0 {
		params.Set(key, strconv.Itoa(v))
	}
}

func setText(params url.Values, key, v string) {
	if v != "" {
		params.Set(key, v)
	}
}

func canonical(branch string) string {
	if name, err := profits.Canonical(branch); err == nil {
		return name
	}
	return branch
}
