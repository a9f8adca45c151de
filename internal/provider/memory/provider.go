// Package memory serves profit records from an in-process snapshot. It backs
// tests and demo runs and can inject provider failures per source and branch.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/salpa/profits/internal/profits"
)

// Source names accepted by FailOn.
const (
	SourceYears    = "years"
	SourceToday    = "today"
	SourceSales    = "sales"
	SourceCosts    = "costs"
	SourcePayouts  = "payouts"
	SourceRawCosts = "raw_costs"
)

// Snapshot is the full record set served by the provider.
type Snapshot struct {
	Today     profits.Today
	Years     []int
	Sales     []profits.SalesRecord
	Costs     []profits.CostRecord
	Payouts   []profits.PayoutRecord
	LineItems []profits.CostLineItem
}

type failure struct {
	source string
	branch string
}

// Provider implements profits.Provider over a Snapshot.
type Provider struct {
	mu       sync.RWMutex
	snap     Snapshot
	failures map[failure]error
	calls    atomic.Int64
}

// New returns a provider serving snap.
func New(snap Snapshot) *Provider {
	return &Provider{snap: snap, failures: make(map[failure]error)}
}

// Replace swaps the served snapshot.
func (p *Provider) Replace(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
}

// FailOn makes calls for source return err. An empty branch fails every
// branch of that source.
func (p *Provider) FailOn(source, branch string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[failure{source: source, branch: branch}] = err
}

// Reset clears injected failures.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = make(map[failure]error)
}

// Calls returns how many provider calls were served.
func (p *Provider) Calls() int64 {
	return p.calls.Load()
}

func (p *Provider) begin(ctx context.Context, source, branch string) (Snapshot, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err, ok := p.failures[failure{source: source, branch: branch}]; ok {
		return Snapshot{}, err
	}
	if err, ok := p.failures[failure{source: source}]; ok {
		return Snapshot{}, err
	}
	return p.snap, nil
}

// ListYears returns the catalogued years newest first. Without an explicit
// list the years present in the records are used.
func (p *Provider) ListYears(ctx context.Context) (profits.YearCatalogue, error) {
	snap, err := p.begin(ctx, SourceYears, "")
	if err != nil {
		return profits.YearCatalogue{}, err
	}
	years := snap.Years
	if len(years) == 0 {
		seen := make(map[int]struct{})
		for _, r := range snap.Sales {
			seen[r.Year] = struct{}{}
		}
		for _, r := range snap.Costs {
			seen[r.Year] = struct{}{}
		}
		for _, r := range snap.Payouts {
			seen[r.Year] = struct{}{}
		}
		for y := range seen {
			years = append(years, y)
		}
	}
	out := append([]int(nil), years...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return profits.YearCatalogue{Years: out, CurrentYear: snap.Today.Year}, nil
}

// Today returns the snapshot's reference date.
func (p *Provider) Today(ctx context.Context) (profits.Today, error) {
	snap, err := p.begin(ctx, SourceToday, "")
	if err != nil {
		return profits.Today{}, err
	}
	return snap.Today, nil
}

// SalesRecords returns the sales records matching q.
func (p *Provider) SalesRecords(ctx context.Context, q profits.Query) ([]profits.SalesRecord, error) {
	snap, err := p.begin(ctx, SourceSales, q.Branch)
	if err != nil {
		return nil, err
	}
	var out []profits.SalesRecord
	for _, r := range snap.Sales {
		if matches(q, r.Key()) {
			out = append(out, r)
		}
	}
	return out, nil
}

// CostRecords returns the cost records matching q.
func (p *Provider) CostRecords(ctx context.Context, q profits.Query) ([]profits.CostRecord, error) {
	snap, err := p.begin(ctx, SourceCosts, q.Branch)
	if err != nil {
		return nil, err
	}
	var out []profits.CostRecord
	for _, r := range snap.Costs {
		if matches(q, r.Key()) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Payouts returns the payout records matching q.
func (p *Provider) Payouts(ctx context.Context, q profits.Query) ([]profits.PayoutRecord, error) {
	snap, err := p.begin(ctx, SourcePayouts, q.Branch)
	if err != nil {
		return nil, err
	}
	var out []profits.PayoutRecord
	for _, r := range snap.Payouts {
		if matches(q, r.Key()) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RawCosts returns at most limit line items matching q.
func (p *Provider) RawCosts(ctx context.Context, q profits.Query, limit int) ([]profits.CostLineItem, error) {
	snap, err := p.begin(ctx, SourceRawCosts, q.Branch)
	if err != nil {
		return nil, err
	}
	var out []profits.CostLineItem
	for _, it := range snap.LineItems {
		key := profits.Key{Year: it.Year, Month: it.Month, Branch: it.Branch, Representative: it.Representative}
		if !matches(q, key) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, it)
	}
	return out, nil
}

func matches(q profits.Query, k profits.Key) bool {
	if name, err := profits.Canonical(k.Branch); err == nil {
		k.Branch = name
	}
	return q.Matches(k)
}
