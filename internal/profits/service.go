package profits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency  = 8
	defaultRawCostLimit = 1000
)

// ReportRequest selects the report to build. Month zero means the whole year.
type ReportRequest struct {
	Scope Scope `json:"scope"`
	Year  int   `json:"year"`
	Month int   `json:"month,omitempty"`
}

// Service orchestrates period resolution, provider fetches, aggregation and
// carry-forward.
type Service struct {
	provider     Provider
	cache        *Cache
	logger       *slog.Logger
	metrics      *Metrics
	sessions     *ViewSessions
	concurrency  int
	rawCostLimit int
}

// NewService constructs the service. cache may be nil to disable memoisation.
func NewService(provider Provider, cache *Cache) *Service {
	return &Service{
		provider:     provider,
		cache:        cache,
		logger:       slog.Default(),
		sessions:     NewViewSessions(),
		concurrency:  defaultConcurrency,
		rawCostLimit: defaultRawCostLimit,
	}
}

// WithLogger overrides the logger.
func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(m *Metrics) {
	s.metrics = m
}

// WithLimits sets the fetch concurrency and the raw cost line item limit.
// Non-positive values keep the defaults.
func (s *Service) WithLimits(concurrency, rawCostLimit int) {
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if rawCostLimit > 0 {
		s.rawCostLimit = rawCostLimit
	}
}

// Cache exposes the report cache for invalidation.
func (s *Service) Cache() *Cache {
	return s.cache
}

// ResolvePeriod resolves year against the provider's reference date and
// year catalogue.
func (s *Service) ResolvePeriod(ctx context.Context, year int) (Period, error) {
	if s == nil || s.provider == nil {
		return Period{}, ErrNotInitialised
	}
	if year <= 0 {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	var (
		today     Today
		catalogue YearCatalogue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.provider.Today(gctx)
		if err != nil {
			return fmt.Errorf("%w: reference date: %v", ErrProviderFetchFailed, err)
		}
		today = t
		return nil
	})
	g.Go(func() error {
		c, err := s.provider.ListYears(gctx)
		if err != nil {
			return fmt.Errorf("%w: year catalogue: %v", ErrProviderFetchFailed, err)
		}
		catalogue = c
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Period{}, ctxErr
		}
		return Period{}, err
	}
	return ResolvePeriod(today, year, catalogue)
}

// CurrentPeriod resolves the period of the provider's reference year.
func (s *Service) CurrentPeriod(ctx context.Context) (Period, error) {
	if s == nil || s.provider == nil {
		return Period{}, ErrNotInitialised
	}
	today, err := s.provider.Today(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Period{}, ctxErr
		}
		return Period{}, fmt.Errorf("%w: reference date: %v", ErrProviderFetchFailed, err)
	}
	return s.ResolvePeriod(ctx, today.Year)
}

// BuildReport produces the reconciled report for a scope and period.
// Unknown branches and invalid periods are rejected before any record fetch.
// Failed record fetches are zero-filled and listed in Report.Degraded;
// degraded reports are never cached.
func (s *Service) BuildReport(ctx context.Context, req ReportRequest) (report Report, err error) {
	if s == nil || s.provider == nil {
		return Report{}, ErrNotInitialised
	}
	start := time.Now()
	defer func() { s.metrics.observeBuild("report", req.Scope, start, err) }()

	scope, err := NormaliseScope(req.Scope)
	if err != nil {
		return Report{}, err
	}
	if req.Month < 0 || req.Month > 12 {
		return Report{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, req.Month)
	}
	period, err := s.ResolvePeriod(ctx, req.Year)
	if err != nil {
		return Report{}, err
	}
	if err := period.ValidateMonth(req.Month); err != nil {
		return Report{}, err
	}

	key, keyErr := s.cache.BuildKey(ctx, reportKeyParts("report", scope, req.Year, req.Month)...)
	if keyErr != nil {
		s.logger.Warn("profits cache unavailable", slog.Any("error", keyErr))
	} else {
		var cached Report
		hit, getErr := s.cache.Get(ctx, key, &cached)
		if getErr != nil {
			s.logger.Warn("profits cache read failed", slog.String("key", key), slog.Any("error", getErr))
		}
		if s.cache != nil {
			s.metrics.cacheResult(hit)
		}
		if hit {
			return cached, nil
		}
	}

	report, err = s.assemble(ctx, scope, period, req.Month)
	if err != nil {
		return Report{}, err
	}
	if report.IsDegraded() {
		s.metrics.addDegraded(report.Degraded)
		s.logger.Warn("profits report degraded",
			slog.String("scope", scope.String()),
			slog.Int("year", req.Year),
			slog.Int("month", req.Month),
			slog.Int("degraded_keys", len(report.Degraded)))
		return report, nil
	}
	if keyErr == nil {
		if err := s.cache.Set(ctx, key, report); err != nil {
			s.logger.Warn("profits cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return report, nil
}

// BuildReportForView builds a report on behalf of a view. Starting a newer
// build for the same view cancels this one, and a superseded build returns
// ErrStaleRequest instead of its result.
func (s *Service) BuildReportForView(ctx context.Context, view string, req ReportRequest) (Report, error) {
	if s == nil || s.provider == nil {
		return Report{}, ErrNotInitialised
	}
	if view == "" {
		return s.BuildReport(ctx, req)
	}
	vctx, ticket := s.sessions.Begin(ctx, view)
	defer ticket.Finish()
	report, err := s.BuildReport(vctx, req)
	if !ticket.Current() {
		return Report{}, fmt.Errorf("%w: view %s", ErrStaleRequest, view)
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return Report{}, fmt.Errorf("%w: view %s", ErrStaleRequest, view)
	}
	return report, err
}

// ComputeBalance returns the running balance of scope at the end of year,
// folding every year from the earliest catalogued year onwards. Years before
// the earliest catalogued year are rejected.
func (s *Service) ComputeBalance(ctx context.Context, year int, scope Scope) (rb RunningBalance, err error) {
	if s == nil || s.provider == nil {
		return RunningBalance{}, ErrNotInitialised
	}
	start := time.Now()
	defer func() { s.metrics.observeBuild("balance", scope, start, err) }()

	scope, err = NormaliseScope(scope)
	if err != nil {
		return RunningBalance{}, err
	}
	period, err := s.ResolvePeriod(ctx, year)
	if err != nil {
		return RunningBalance{}, err
	}
	if year < period.EarliestYear {
		return RunningBalance{}, fmt.Errorf("%w: year %d precedes earliest year %d", ErrInvalidPeriod, year, period.EarliestYear)
	}
	snap, err := s.fetch(ctx, fetchPlan{
		scope:     scope,
		years:     yearRange(period.EarliestYear, year),
		lineItems: scope.Kind() == ScopeCompany,
	})
	if err != nil {
		return RunningBalance{}, err
	}
	rb, err = carry(snap, scope, period.EarliestYear, year)
	if err != nil {
		return RunningBalance{}, err
	}
	rb.Degraded = snap.degraded
	if len(snap.degraded) > 0 {
		s.metrics.addDegraded(snap.degraded)
		s.logger.Warn("profits balance degraded",
			slog.String("scope", scope.String()),
			slog.Int("year", year),
			slog.Int("degraded_keys", len(snap.degraded)))
	}
	return rb, nil
}

// BuildHistory aggregates each closed month of year for scope, newest first.
func (s *Service) BuildHistory(ctx context.Context, scope Scope, year int) (hist History, err error) {
	if s == nil || s.provider == nil {
		return History{}, ErrNotInitialised
	}
	start := time.Now()
	defer func() { s.metrics.observeBuild("history", scope, start, err) }()

	scope, err = NormaliseScope(scope)
	if err != nil {
		return History{}, err
	}
	period, err := s.ResolvePeriod(ctx, year)
	if err != nil {
		return History{}, err
	}
	snap, err := s.fetch(ctx, fetchPlan{scope: scope, years: []int{year}})
	if err != nil {
		return History{}, err
	}
	hist = History{Scope: scope, Year: year, Degraded: snap.degraded}
	for _, m := range period.HistoryMonths() {
		q := scopeQuery(scope, year, m)
		joined := Join(snap.sales, snap.costs, snap.payouts, q)
		agg, err := Aggregate(joined.Tuples, scope)
		if err != nil {
			return History{}, err
		}
		hist.Months = append(hist.Months, MonthSummary{Year: year, Month: m, Aggregation: agg})
	}
	s.metrics.addDegraded(snap.degraded)
	return hist, nil
}

// assemble fetches every year the report needs in one barrier, then builds
// the period figures and the running balance from that snapshot.
func (s *Service) assemble(ctx context.Context, scope Scope, period Period, month int) (Report, error) {
	earliest := period.EarliestYear
	if period.Year < earliest {
		earliest = period.Year
	}
	company := scope.Kind() == ScopeCompany
	snap, err := s.fetch(ctx, fetchPlan{
		scope:     scope,
		years:     yearRange(earliest, period.Year),
		lineItems: company,
	})
	if err != nil {
		return Report{}, err
	}

	q := scopeQuery(scope, period.Year, month)
	joined := Join(snap.sales, snap.costs, snap.payouts, q)
	agg, err := Aggregate(joined.Tuples, scope)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Scope:      scope,
		Year:       period.Year,
		Month:      month,
		Period:     period,
		ProfitCN:   agg.ProfitCN,
		Costs:      agg.Costs,
		NetProfit:  agg.NetProfit,
		Payouts:    agg.Payouts,
		Degraded:   snap.degraded,
		Incomplete: joined.Incomplete,
	}
	if company {
		adj := AdjustForCompany(agg, snap.headquarters(q), snap.private(q))
		report.Company = &adj
	}
	if scope.Kind() != ScopeBranch {
		lines, err := Breakdown(joined.Tuples, scope)
		if err != nil {
			return Report{}, err
		}
		report.Lines = lines
	}
	report.RunningBalance, err = carry(snap, scope, earliest, period.Year)
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// carry folds yearly figures for scope out of an already fetched snapshot.
func carry(snap snapshot, scope Scope, earliest, year int) (RunningBalance, error) {
	return CarryForward(scope, earliest, year, func(y int) (YearFigures, error) {
		q := scopeQuery(scope, y, 0)
		joined := Join(snap.sales, snap.costs, snap.payouts, q)
		agg, err := Aggregate(joined.Tuples, scope)
		if err != nil {
			return YearFigures{}, err
		}
		if scope.Kind() != ScopeCompany {
			return MeasureYear(agg, scope, nil)
		}
		adj := AdjustForCompany(agg, snap.headquarters(q), snap.private(q))
		return MeasureYear(agg, scope, &adj)
	})
}

// NormaliseScope canonicalises the branch of a scope. A branch outside the
// policy table, or a cost centre used as a branch, is ErrUnknownBranch.
func NormaliseScope(scope Scope) (Scope, error) {
	if scope.Branch == "" {
		return scope, nil
	}
	if IsCostCentre(scope.Branch) {
		return Scope{}, fmt.Errorf("%w: %q is a cost centre", ErrUnknownBranch, scope.Branch)
	}
	name, err := Canonical(scope.Branch)
	if err != nil {
		return Scope{}, err
	}
	scope.Branch = name
	return scope, nil
}

func scopeQuery(scope Scope, year, month int) Query {
	return Query{Year: year, Month: month, Branch: scope.Branch, Representative: scope.Representative}
}

func yearRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}
