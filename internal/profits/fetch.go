package profits

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	sourceSales   = "sales"
	sourceCosts   = "costs"
	sourcePayouts = "payouts"
	sourceHQ      = "raw_costs:" + CostCentreHQ
	sourcePrivate = "raw_costs:" + CostCentrePrivate
)

// snapshot is every record fetched for one build, merged after the barrier.
type snapshot struct {
	sales     []SalesRecord
	costs     []CostRecord
	payouts   []PayoutRecord
	hqItems   []CostLineItem
	privItems []CostLineItem
	degraded  []DegradedKey
}

// headquarters sums headquarters line items matching q's year and month.
func (s snapshot) headquarters(q Query) float64 {
	return sumItems(s.hqItems, q)
}

func (s snapshot) private(q Query) float64 {
	return sumItems(s.privItems, q)
}

func sumItems(items []CostLineItem, q Query) float64 {
	var total float64
	for _, it := range items {
		if it.Year != q.Year || (q.Month != 0 && it.Month != q.Month) {
			continue
		}
		total += it.Value
	}
	return total
}

// fetchPlan lists what a build needs from the provider.
type fetchPlan struct {
	scope     Scope
	years     []int
	lineItems bool
}

// queries expands the plan into one query per branch and year for the
// company, or one per year for a narrower scope.
func (p fetchPlan) queries() []Query {
	var out []Query
	for _, y := range p.years {
		switch p.scope.Kind() {
		case ScopeCompany:
			for _, b := range Branches() {
				out = append(out, Query{Year: y, Branch: b})
			}
		default:
			out = append(out, Query{Year: y, Branch: p.scope.Branch, Representative: p.scope.Representative})
		}
	}
	return out
}

// fetch runs every provider call of the plan concurrently and waits for all
// of them. A failed call contributes no records and is reported as degraded.
// Only cancellation of ctx aborts the whole fetch.
func (s *Service) fetch(ctx context.Context, plan fetchPlan) (snapshot, error) {
	queries := plan.queries()
	n := len(queries)
	sales := make([][]SalesRecord, n)
	costs := make([][]CostRecord, n)
	payouts := make([][]PayoutRecord, n)
	failures := make([][]DegradedKey, n)

	// Line items are fetched per month so the row limit applies to one
	// month, as the cost ledger is paged.
	var itemQueries []Query
	if plan.lineItems {
		for _, y := range plan.years {
			for m := 1; m <= 12; m++ {
				itemQueries = append(itemQueries, Query{Year: y, Month: m})
			}
		}
	}
	hq := make([][]CostLineItem, len(itemQueries))
	priv := make([][]CostLineItem, len(itemQueries))
	itemFailures := make([][]DegradedKey, len(itemQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		failures[i] = make([]DegradedKey, 3)
		g.Go(func() error {
			recs, err := s.provider.SalesRecords(gctx, q)
			if err != nil {
				failures[i][0] = degrade(sourceSales, q, err)
				return nil
			}
			sales[i] = recs
			return nil
		})
		g.Go(func() error {
			recs, err := s.provider.CostRecords(gctx, q)
			if err != nil {
				failures[i][1] = degrade(sourceCosts, q, err)
				return nil
			}
			costs[i] = recs
			return nil
		})
		g.Go(func() error {
			recs, err := s.provider.Payouts(gctx, q)
			if err != nil {
				failures[i][2] = degrade(sourcePayouts, q, err)
				return nil
			}
			payouts[i] = recs
			return nil
		})
	}
	for i, q := range itemQueries {
		itemFailures[i] = make([]DegradedKey, 2)
		hqQuery := Query{Year: q.Year, Month: q.Month, Branch: CostCentreHQ}
		privQuery := Query{Year: q.Year, Month: q.Month, Branch: CostCentrePrivate}
		g.Go(func() error {
			hq[i], itemFailures[i][0] = s.fetchLineItems(gctx, sourceHQ, hqQuery)
			return nil
		})
		g.Go(func() error {
			priv[i], itemFailures[i][1] = s.fetchLineItems(gctx, sourcePrivate, privQuery)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return snapshot{}, err
	}

	var snap snapshot
	for i := range queries {
		snap.sales = append(snap.sales, sales[i]...)
		snap.costs = append(snap.costs, costs[i]...)
		snap.payouts = append(snap.payouts, payouts[i]...)
		snap.degraded = appendFailures(snap.degraded, failures[i])
	}
	for i := range itemQueries {
		snap.hqItems = append(snap.hqItems, hq[i]...)
		snap.privItems = append(snap.privItems, priv[i]...)
		snap.degraded = appendFailures(snap.degraded, itemFailures[i])
	}
	return snap, nil
}

// fetchLineItems reads one month of a cost centre. One row past the limit is
// requested; receiving it means the month was cut short and its key is
// reported as degraded.
func (s *Service) fetchLineItems(ctx context.Context, source string, q Query) ([]CostLineItem, DegradedKey) {
	limit := s.rawCostLimit
	if limit > 0 {
		limit++
	}
	items, err := s.provider.RawCosts(ctx, q, limit)
	if err != nil {
		return nil, degrade(source, q, err)
	}
	if s.rawCostLimit > 0 && len(items) > s.rawCostLimit {
		return items, DegradedKey{
			Source: source,
			Year:   q.Year,
			Month:  q.Month,
			Branch: q.Branch,
			Reason: fmt.Sprintf("line items truncated at %d rows", s.rawCostLimit),
		}
	}
	return items, DegradedKey{}
}

func degrade(source string, q Query, err error) DegradedKey {
	return DegradedKey{
		Source:         source,
		Year:           q.Year,
		Month:          q.Month,
		Branch:         q.Branch,
		Representative: q.Representative,
		Reason:         fmt.Errorf("%w: %v", ErrProviderFetchFailed, err).Error(),
	}
}

func appendFailures(dst []DegradedKey, src []DegradedKey) []DegradedKey {
	for _, k := range src {
		if k.Source != "" {
			dst = append(dst, k)
		}
	}
	return dst
}
