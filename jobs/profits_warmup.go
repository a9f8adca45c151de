package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/salpa/profits/internal/jobs"
	"github.com/salpa/profits/internal/profits"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultScopeTimeout = 20 * time.Second

// ReportBuilder is the slice of profits.Service the warmup needs.
type ReportBuilder interface {
	CurrentPeriod(ctx context.Context) (profits.Period, error)
	BuildReport(ctx context.Context, req profits.ReportRequest) (profits.Report, error)
}

// WarmupJob builds the company report and every branch report so the first
// reader after a data load hits the cache.
type WarmupJob struct {
	Reports      ReportBuilder
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	ScopeTimeout time.Duration
}

// NewWarmupJob wires dependencies for the warmup handler.
func NewWarmupJob(reports ReportBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	return &WarmupJob{Reports: reports, Logger: logger, Metrics: metrics, ScopeTimeout: defaultScopeTimeout}
}

// Handle processes profits:warmup tasks.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("profits warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("profits warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskProfitsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	payload.RunID = runID(payload.RunID)
	logger := j.logger().With(slog.String("run_id", payload.RunID))
	start := time.Now()

	year := payload.Year
	if year == 0 {
		period, err := j.Reports.CurrentPeriod(ctx)
		if err != nil {
			logger.Error("resolve reference period", slog.Any("error", err))
			return err
		}
		year = period.Year
	}
	logger = logger.With(slog.Int("year", year), slog.Int("month", payload.Month))
	logger.Info("starting profits warmup")

	scopes := append([]profits.Scope{profits.CompanyScope()}, branchScopes()...)
	var (
		failures []error
		warmed   = map[profits.ScopeKind]int{}
		degraded int
	)
	for _, scope := range scopes {
		report, err := j.warmScope(ctx, scope, year, payload.Month)
		if err != nil {
			if errors.Is(err, profits.ErrInvalidPeriod) {
				logger.Warn("warmup period rejected", slog.Any("error", err))
				return fmt.Errorf("profits warmup: %w: %w", err, asynq.SkipRetry)
			}
			logger.Error("warm scope", slog.String("scope", scope.String()), slog.Any("error", err))
			failures = append(failures, fmt.Errorf("%s: %w", scope, err))
			continue
		}
		if report.IsDegraded() {
			degraded++
			logger.Warn("warm scope degraded", slog.String("scope", scope.String()), slog.Int("degraded_keys", len(report.Degraded)))
			continue
		}
		warmed[scope.Kind()]++
	}

	for kind, n := range warmed {
		j.metrics().AddWarmed(string(kind), n)
	}
	j.metrics().AddDegraded(TaskProfitsWarmup, degraded)
	logger.Info("completed profits warmup",
		slog.Int("scopes", len(scopes)),
		slog.Int("degraded", degraded),
		slog.Int("failed", len(failures)),
		slog.Duration("duration", time.Since(start)))
	return errors.Join(failures...)
}

func (j *WarmupJob) warmScope(ctx context.Context, scope profits.Scope, year, month int) (profits.Report, error) {
	timeout := j.ScopeTimeout
	if timeout <= 0 {
		timeout = defaultScopeTimeout
	}
	scopeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return j.Reports.BuildReport(scopeCtx, profits.ReportRequest{Scope: scope, Year: year, Month: month})
}

func branchScopes() []profits.Scope {
	names := profits.Branches()
	out := make([]profits.Scope, 0, len(names))
	for _, name := range names {
		out = append(out, profits.BranchScope(name))
	}
	return out
}

func (j *WarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProfitsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskProfitsWarmup))
}

func (j *WarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
