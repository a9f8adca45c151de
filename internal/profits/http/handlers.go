package profitshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/salpa/profits/internal/platform/httpx"
	"github.com/salpa/profits/internal/profits"
)

// ViewHeader names the header carrying the caller's view id. Requests that
// share a view id supersede each other.
const ViewHeader = "X-View-ID"

const defaultTimeout = 10 * time.Second

// ProfitService is the engine contract the handlers consume.
type ProfitService interface {
	BuildReport(ctx context.Context, req profits.ReportRequest) (profits.Report, error)
	BuildReportForView(ctx context.Context, view string, req profits.ReportRequest) (profits.Report, error)
	ComputeBalance(ctx context.Context, year int, scope profits.Scope) (profits.RunningBalance, error)
	BuildHistory(ctx context.Context, scope profits.Scope, year int) (profits.History, error)
	ResolvePeriod(ctx context.Context, year int) (profits.Period, error)
}

// Handler serves the profit engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  ProfitService
	validate *validator.Validate
	timeout  time.Duration
	builds   singleflight.Group
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service ProfitService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		timeout:  defaultTimeout,
	}
}

// WithTimeout overrides the per-request computation timeout.
func (h *Handler) WithTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

type queryParams struct {
	Year           int    `validate:"required,gte=1900,lte=9999"`
	Month          int    `validate:"gte=0,lte=12"`
	Branch         string `validate:"omitempty,max=64"`
	Representative string `validate:"omitempty,max=128"`
}

func (q queryParams) scope() profits.Scope {
	return profits.Scope{Branch: q.Branch, Representative: q.Representative}
}

func (h *Handler) parseQuery(r *http.Request) (queryParams, error) {
	values := r.URL.Query()
	var q queryParams
	var err error
	if q.Year, err = atoiParam(values.Get("year")); err != nil {
		return queryParams{}, fmt.Errorf("%w: year: %v", httpx.ErrValidation, err)
	}
	if q.Month, err = atoiParam(values.Get("month")); err != nil {
		return queryParams{}, fmt.Errorf("%w: month: %v", httpx.ErrValidation, err)
	}
	q.Branch = strings.TrimSpace(values.Get("branch"))
	q.Representative = strings.TrimSpace(values.Get("representative"))
	if err := h.validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return queryParams{}, fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return queryParams{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return q, nil
}

func atoiParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req := profits.ReportRequest{Scope: q.scope(), Year: q.Year, Month: q.Month}
	if view := strings.TrimSpace(r.Header.Get(ViewHeader)); view != "" {
		report, err := h.service.BuildReportForView(ctx, view, req)
		if err != nil {
			h.respondError(w, "build report", err)
			return
		}
		httpx.JSON(w, http.StatusOK, report)
		return
	}

	key := fmt.Sprintf("%s|%d|%d", req.Scope, req.Year, req.Month)
	val, err, _ := h.singleflight(ctx, key, func(ctx context.Context) (interface{}, error) {
		return h.service.BuildReport(ctx, req)
	})
	if err != nil {
		h.respondError(w, "build report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, val)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rb, err := h.service.ComputeBalance(ctx, q.Year, q.scope())
	if err != nil {
		h.respondError(w, "compute balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rb)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	hist, err := h.service.BuildHistory(ctx, q.scope(), q.Year)
	if err != nil {
		h.respondError(w, "build history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, hist)
}

func (h *Handler) handlePeriod(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	period, err := h.service.ResolvePeriod(ctx, q.Year)
	if err != nil {
		h.respondError(w, "resolve period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

// singleflight collapses identical concurrent builds while still honouring
// the caller's context. The shared build is detached from the caller that
// started it, so one client going away does not fail the others waiting on
// the same key. It is bounded by the handler timeout instead.
func (h *Handler) singleflight(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := h.builds.DoChan(key, func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		return fn(buildCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	mapped := mapError(err)
	if !isClientError(mapped) {
		h.logger.Error("profits request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, profits.ErrInvalidPeriod):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, profits.ErrUnknownBranch):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, profits.ErrStaleRequest):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, profits.ErrProviderFetchFailed), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", httpx.ErrCanceled, err)
	default:
		return err
	}
}

func isClientError(err error) bool {
	return errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrNotFound) ||
		errors.Is(err, httpx.ErrConflict) || errors.Is(err, httpx.ErrCanceled)
}
