package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/profits"
	"github.com/salpa/profits/jobs"
)

type stubReports struct {
	period   profits.Period
	requests []profits.ReportRequest
	scopes   []profits.Scope
	err      error
}

func (s *stubReports) CurrentPeriod(context.Context) (profits.Period, error) {
	return s.period, s.err
}

func (s *stubReports) ResolvePeriod(_ context.Context, year int) (profits.Period, error) {
	p := s.period
	p.Year = year
	return p, s.err
}

func (s *stubReports) BuildReport(_ context.Context, req profits.ReportRequest) (profits.Report, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return profits.Report{}, s.err
	}
	return profits.Report{
		Scope: req.Scope,
		Year:  req.Year,
		Month: req.Month,
		ProfitCN: profits.AggregatedProfit{
			Firm:  profits.Dual{Accrued: 1500, Paid: 1200},
			Total: profits.Dual{Accrued: 1500, Paid: 1200},
		},
		Lines: []profits.Line{{Branch: "Pcim", Group: profits.GroupA, Balance: profits.Dual{Accrued: 250}}},
		RunningBalance: profits.RunningBalance{
			FromYear: 2022,
			Balance:  profits.Dual{Accrued: 4200.5, Paid: 3100},
		},
		Degraded: []profits.DegradedKey{{Source: "payouts", Year: req.Year, Reason: "timeout"}},
	}, nil
}

func (s *stubReports) ComputeBalance(_ context.Context, year int, scope profits.Scope) (profits.RunningBalance, error) {
	s.scopes = append(s.scopes, scope)
	return profits.RunningBalance{
		Scope:    scope,
		Year:     year,
		FromYear: year - 1,
		Steps: []profits.BalanceStep{
			{Year: year - 1, NetProfit: profits.Flat(100), Closing: profits.Flat(100)},
			{Year: year, Opening: profits.Flat(100), NetProfit: profits.Flat(50), Payouts: 30, Closing: profits.Flat(120)},
		},
		Balance: profits.Flat(120),
	}, s.err
}

func (s *stubReports) BuildHistory(_ context.Context, scope profits.Scope, year int) (profits.History, error) {
	s.scopes = append(s.scopes, scope)
	return profits.History{
		Scope:  scope,
		Year:   year,
		Months: []profits.MonthSummary{{Year: year, Month: 2}, {Year: year, Month: 1}},
	}, s.err
}

type recordingQueue struct {
	warmups []jobs.WarmupPayload
	bumps   []jobs.SnapshotBumpPayload
}

func (q *recordingQueue) EnqueueWarmup(_ context.Context, p jobs.WarmupPayload) (*asynq.TaskInfo, error) {
	q.warmups = append(q.warmups, p)
	return &asynq.TaskInfo{ID: "w-1", Type: jobs.TaskProfitsWarmup, Queue: jobs.QueueDefault}, nil
}

func (q *recordingQueue) EnqueueSnapshotBump(_ context.Context, p jobs.SnapshotBumpPayload) (*asynq.TaskInfo, error) {
	q.bumps = append(q.bumps, p)
	return &asynq.TaskInfo{ID: "b-1", Type: jobs.TaskProfitsSnapshotBump, Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func run(t *testing.T, deps Dependencies, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand(deps)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestReportDefaultsToReferenceYear(t *testing.T) {
	reports := &stubReports{period: profits.Period{Year: 2024}}
	out, errOut, err := run(t, Dependencies{Reports: reports}, "report", "--branch", "pcim", "--month", "3")
	require.NoError(t, err)

	require.Equal(t, []profits.ReportRequest{{Scope: profits.BranchScope("Pcim"), Year: 2024, Month: 3}}, reports.requests)
	require.Contains(t, out, "branch:Pcim 2024 month=3")
	require.Contains(t, out, "1,500.00")
	require.Contains(t, out, "balance since 2022: 4,200.50 (paid 3,100.00)")
	require.Contains(t, errOut, "1 provider fetches failed")
}

func TestReportJSONOutput(t *testing.T) {
	reports := &stubReports{}
	out, _, err := run(t, Dependencies{Reports: reports}, "report", "--year", "2023", "-o", "json")
	require.NoError(t, err)

	var decoded profits.Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, 2023, decoded.Year)
	require.Equal(t, profits.CompanyScope(), decoded.Scope)
}

func TestReportRejectsUnknownBranchAndOutput(t *testing.T) {
	reports := &stubReports{}
	_, _, err := run(t, Dependencies{Reports: reports}, "report", "--branch", "Atlantis")
	require.ErrorIs(t, err, profits.ErrUnknownBranch)
	require.Empty(t, reports.requests)

	_, _, err = run(t, Dependencies{Reports: reports}, "report", "-o", "yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported output")
}

func TestBalanceAndHistoryTables(t *testing.T) {
	reports := &stubReports{}
	out, _, err := run(t, Dependencies{Reports: reports}, "balance", "--year", "2024", "--rep", "Anna Nowak")
	require.NoError(t, err)
	require.Equal(t, profits.RepresentativeScope("Anna Nowak", ""), reports.scopes[0])
	require.Contains(t, out, "from 2023")
	require.Contains(t, out, "balance: 120.00 (paid 120.00)")

	out, _, err = run(t, Dependencies{Reports: reports}, "history", "--year", "2024")
	require.NoError(t, err)
	require.Contains(t, out, "2024-02")
	require.Less(t, bytes.Index([]byte(out), []byte("2024-02")), bytes.Index([]byte(out), []byte("2024-01")))
}

func TestPeriodUsesExplicitYear(t *testing.T) {
	reports := &stubReports{period: profits.Period{Year: 2024, AvailableMonths: []int{1, 2, 3}, EarliestYear: 2020}}
	out, _, err := run(t, Dependencies{Reports: reports}, "period", "--year", "2022")
	require.NoError(t, err)
	require.Contains(t, out, "2022")
	require.Contains(t, out, "1,2,3")
}

func TestServiceErrorsPropagate(t *testing.T) {
	reports := &stubReports{err: profits.ErrProviderFetchFailed}
	_, _, err := run(t, Dependencies{Reports: reports}, "report")
	require.ErrorIs(t, err, profits.ErrProviderFetchFailed)

	_, _, err = run(t, Dependencies{}, "balance")
	require.Error(t, err)
}

func TestJobsEnqueue(t *testing.T) {
	queue := &recordingQueue{}
	out, _, err := run(t, Dependencies{Jobs: queue}, "jobs", "warmup", "--year", "2024", "--month", "5")
	require.NoError(t, err)
	require.Equal(t, []jobs.WarmupPayload{{Year: 2024, Month: 5}}, queue.warmups)
	require.Contains(t, out, "enqueued profits:warmup id=w-1")

	_, _, err = run(t, Dependencies{Jobs: queue}, "jobs", "bump", "--reason", "nightly load")
	require.NoError(t, err)
	require.Equal(t, "nightly load", queue.bumps[0].Reason)

	_, _, err = run(t, Dependencies{}, "jobs", "bump")
	require.Error(t, err)
}

func TestJobsInspect(t *testing.T) {
	deps := Dependencies{Inspector: stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4, Retry: 1}}}
	out, _, err := run(t, deps, "jobs", "inspect", "-o", "json")
	require.NoError(t, err)

	var stats QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, QueueStats{Queue: "default", Pending: 4, Retry: 1}, stats)

	_, _, err = run(t, Dependencies{Inspector: stubInspector{err: errors.New("redis down")}}, "jobs", "inspect")
	require.EqualError(t, err, "redis down")
}
