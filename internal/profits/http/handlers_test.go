package profitshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/salpa/profits/internal/platform/httpx"
	"github.com/salpa/profits/internal/profits"
	"github.com/salpa/profits/internal/provider/memory"
)

type stubService struct {
	err      error
	lastReq  profits.ReportRequest
	lastView string
	balances int
}

func (s *stubService) BuildReport(ctx context.Context, req profits.ReportRequest) (profits.Report, error) {
	s.lastReq = req
	if s.err != nil {
		return profits.Report{}, s.err
	}
	return profits.Report{Scope: req.Scope, Year: req.Year, Month: req.Month}, nil
}

func (s *stubService) BuildReportForView(ctx context.Context, view string, req profits.ReportRequest) (profits.Report, error) {
	s.lastView = view
	return s.BuildReport(ctx, req)
}

func (s *stubService) ComputeBalance(ctx context.Context, year int, scope profits.Scope) (profits.RunningBalance, error) {
	s.balances++
	if s.err != nil {
		return profits.RunningBalance{}, s.err
	}
	return profits.RunningBalance{Scope: scope, Year: year}, nil
}

func (s *stubService) BuildHistory(ctx context.Context, scope profits.Scope, year int) (profits.History, error) {
	return profits.History{Scope: scope, Year: year}, s.err
}

func (s *stubService) ResolvePeriod(ctx context.Context, year int) (profits.Period, error) {
	return profits.Period{Year: year}, s.err
}

// gatedService holds BuildReport until release is closed.
type gatedService struct {
	stubService
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	calls    atomic.Int32
	buildErr atomic.Value
}

func (s *gatedService) BuildReport(ctx context.Context, req profits.ReportRequest) (profits.Report, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	<-s.release
	if err := ctx.Err(); err != nil {
		s.buildErr.Store(err)
		return profits.Report{}, err
	}
	return profits.Report{Scope: req.Scope, Year: req.Year, Month: req.Month}, nil
}

func newRouter(svc ProfitService) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func TestReportQueryParsing(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/profits/report?year=2024&month=3&branch=Pcim&representative=Jan+Kowalski", nil)
	req.Header.Set(ViewHeader, "tab-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tab-1", svc.lastView)
	require.Equal(t, profits.ReportRequest{
		Scope: profits.Scope{Branch: "Pcim", Representative: "Jan Kowalski"},
		Year:  2024,
		Month: 3,
	}, svc.lastReq)

	var body profits.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2024, body.Year)
}

func TestRejectsBadQuery(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	for _, target := range []string{
		"/api/profits/report",
		"/api/profits/report?year=abc",
		"/api/profits/report?year=2024&month=13",
		"/api/profits/balance?year=12",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	require.Zero(t, svc.balances)
}

func TestErrorMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", profits.ErrInvalidPeriod):       http.StatusBadRequest,
		fmt.Errorf("x: %w", profits.ErrUnknownBranch):       http.StatusNotFound,
		fmt.Errorf("x: %w", profits.ErrStaleRequest):        http.StatusConflict,
		fmt.Errorf("x: %w", profits.ErrProviderFetchFailed): http.StatusBadGateway,
		context.DeadlineExceeded:                            http.StatusBadGateway,
		context.Canceled:                                    httpx.StatusClientClosedRequest,
		fmt.Errorf("boom"):                                  http.StatusInternalServerError,
	}
	for err, status := range cases {
		router := newRouter(&stubService{err: err})
		for _, path := range []string{"report", "balance", "history", "period"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profits/"+path+"?year=2024", nil))
			require.Equal(t, status, rec.Code, "%s: %v", path, err)

			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, status, problem.Status)
		}
	}
}

func TestSharedBuildSurvivesLeaderDisconnect(t *testing.T) {
	svc := &gatedService{started: make(chan struct{}), release: make(chan struct{})}
	router := newRouter(svc)
	const target = "/api/profits/report?year=2024&month=3"

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil).WithContext(leaderCtx))
		leader <- rec
	}()
	<-svc.started
	cancelLeader()
	require.Equal(t, httpx.StatusClientClosedRequest, (<-leader).Code)

	// The first build is still held, so this request normally joins it.
	follower := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		follower <- rec
	}()
	close(svc.release)

	rec := <-follower
	require.Equal(t, http.StatusOK, rec.Code)
	var body profits.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2024, body.Year)
	require.Nil(t, svc.buildErr.Load(), "the shared build must not inherit the leader's cancellation")
	require.GreaterOrEqual(t, svc.calls.Load(), int32(1))
}

func TestEndToEndWithMemoryProvider(t *testing.T) {
	provider := memory.New(memory.Snapshot{
		Today: profits.Today{Year: 2024, Month: 6, Day: 15},
		Years: []int{2024},
		Sales: []profits.SalesRecord{
			{Year: 2024, Month: 2, Branch: "Łomża", Profit: profits.Dual{Accrued: 1000, Paid: 800}},
		},
	})
	router := newRouter(profits.NewService(provider, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profits/report?year=2024&branch=lomza", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report profits.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "Łomża", report.Scope.Branch)
	require.Equal(t, 1000.0, report.ProfitCN.Branches.Accrued)
	require.Equal(t, 800.0, report.RunningBalance.Balance.Paid)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profits/report?year=2024&branch=Warszawa", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
