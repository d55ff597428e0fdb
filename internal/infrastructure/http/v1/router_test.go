package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
	"stockledger/internal/infrastructure/export"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/internal/infrastructure/storage/memory"
	"stockledger/pkg/logger"
)

type stubLedger struct {
	submitFn  func(ctx context.Context, v ledger.Voucher) (*ledger.SubmitResult, error)
	cancelFn  func(ctx context.Context, voucherType, voucherNo string) (*ledger.CancelResult, error)
	balanceFn func(ctx context.Context, q ledger.BalanceQuery) (*ledger.Balance, error)
}

func (s *stubLedger) SubmitMovement(ctx context.Context, v ledger.Voucher) (*ledger.SubmitResult, error) {
	return s.submitFn(ctx, v)
}

func (s *stubLedger) CancelMovement(ctx context.Context, voucherType, voucherNo string) (*ledger.CancelResult, error) {
	return s.cancelFn(ctx, voucherType, voucherNo)
}

func (s *stubLedger) ListVoucherEntries(context.Context, string, string) ([]entity.StockLedgerEntry, error) {
	return nil, nil
}

func (s *stubLedger) GetBalance(ctx context.Context, q ledger.BalanceQuery) (*ledger.Balance, error) {
	return s.balanceFn(ctx, q)
}

func (s *stubLedger) VerifyBalance(context.Context, entity.LedgerKey, time.Time) (*ledger.BalanceCheck, error) {
	return &ledger.BalanceCheck{Consistent: true}, nil
}

type stubClosings struct {
	created closing.CreateRequest
	getErr  error
}

func (s *stubClosings) Create(_ context.Context, req closing.CreateRequest) (*entity.StockClosingEntry, error) {
	s.created = req
	return &entity.StockClosingEntry{ID: id.New(), Company: req.Company, Status: entity.ClosingQueued}, nil
}

func (s *stubClosings) Get(_ context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &entity.StockClosingEntry{ID: closingID}, nil
}

func (s *stubClosings) List(context.Context, string, int) ([]entity.StockClosingEntry, error) {
	return nil, nil
}

func (s *stubClosings) Balances(context.Context, id.ID) ([]entity.StockClosingBalance, error) {
	return nil, nil
}

func (s *stubClosings) Regenerate(context.Context, id.ID) (*entity.StockClosingEntry, error) {
	return nil, apperror.NewConflict("closing is Queued")
}

func (s *stubClosings) Cancel(_ context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	return &entity.StockClosingEntry{ID: closingID, Status: entity.ClosingCancelled}, nil
}

func (s *stubClosings) CreateMonthEnd(context.Context, string, time.Time) (*entity.StockClosingEntry, error) {
	return nil, nil
}

type stubReposts struct{}

func (stubReposts) Get(_ context.Context, jobID id.ID) (*entity.RepostJob, error) {
	return &entity.RepostJob{ID: jobID, Status: entity.RepostFailed}, nil
}

func (stubReposts) Retry(_ context.Context, jobID id.ID) (*entity.RepostJob, error) {
	return &entity.RepostJob{ID: jobID, Status: entity.RepostPending}, nil
}

type stubReports struct {
	filter reports.BatchBalanceFilter
}

func (s *stubReports) BatchBalance(_ context.Context, f reports.BatchBalanceFilter) (*reports.BatchBalanceReport, error) {
	s.filter = f
	return &reports.BatchBalanceReport{FromDate: f.FromDate, ToDate: f.ToDate, Rows: []reports.BatchBalanceRow{}}, nil
}

func (s *stubReports) StockTurnover(_ context.Context, f reports.StockTurnoverFilter) (*reports.StockTurnoverReport, error) {
	return &reports.StockTurnoverReport{FromDate: f.FromDate, ToDate: f.ToDate}, nil
}

type stubAudit struct {
	entityType, entityID string
}

func (s *stubAudit) History(_ context.Context, entityType, entityID string, _ int) ([]audit.Entry, error) {
	s.entityType, s.entityID = entityType, entityID
	return []audit.Entry{{EntityType: entityType, EntityID: entityID, Action: audit.ActionCancelVoucher}}, nil
}

type testDeps struct {
	ledger   *stubLedger
	closings *stubClosings
	reports  *stubReports
	audit    *stubAudit
}

func newTestRouter(t *testing.T) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		ledger:   &stubLedger{},
		closings: &stubClosings{},
		reports:  &stubReports{},
		audit:    &stubAudit{},
	}
	router := NewRouter(RouterConfig{
		Logger:   logger.Nop(),
		Ledger:   deps.ledger,
		Closings: deps.closings,
		Reposts:  stubReposts{},
		Reports:  deps.reports,
		Audit:    deps.audit,
		Driver:   "memory",
		HealthChecks: []handlers.HealthCheck{
			{Name: "store", Ping: func(context.Context) error { return nil }},
		},
	})
	return router, deps
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSubmitVoucher(t *testing.T) {
	router, deps := newTestRouter(t)

	var got ledger.Voucher
	deps.ledger.submitFn = func(_ context.Context, v ledger.Voucher) (*ledger.SubmitResult, error) {
		got = v
		return &ledger.SubmitResult{VoucherType: v.VoucherType, VoucherNo: v.VoucherNo}, nil
	}

	rr := do(t, router, http.MethodPost, "/api/v1/vouchers", `{
		"voucherType": "Purchase Receipt",
		"voucherNo": "PR-1",
		"company": "Acme",
		"postingAt": "2024-01-10T09:00:00Z",
		"lines": [{"itemCode": "WIDGET", "warehouse": "Main", "actualQty": "10", "incomingRate": "12.5"}]
	}`)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "PR-1", decode(t, rr)["voucherNo"])
	require.Len(t, got.Lines, 1)
	assert.Equal(t, types.NewQuantity(10), got.Lines[0].ActualQty)
	assert.True(t, types.MustMoney("12.5").Equal(got.Lines[0].IncomingRate))
}

func TestSubmitVoucher_DomainErrorMapsToStatus(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.ledger.submitFn = func(context.Context, ledger.Voucher) (*ledger.SubmitResult, error) {
		return nil, apperror.NewNegativeStock("WIDGET|Main|", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "5")
	}

	rr := do(t, router, http.MethodPost, "/api/v1/vouchers", `{"voucherType":"Delivery Note","voucherNo":"DN-1"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Equal(t, apperror.CodeNegativeStock, decode(t, rr)["code"])
}

func TestSubmitVoucher_UnknownErrorIsHidden(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.ledger.submitFn = func(context.Context, ledger.Voucher) (*ledger.SubmitResult, error) {
		return nil, errors.New("connection reset")
	}

	rr := do(t, router, http.MethodPost, "/api/v1/vouchers", `{}`)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestCancelVoucher_PathParams(t *testing.T) {
	router, deps := newTestRouter(t)
	var gotType, gotNo string
	deps.ledger.cancelFn = func(_ context.Context, voucherType, voucherNo string) (*ledger.CancelResult, error) {
		gotType, gotNo = voucherType, voucherNo
		return &ledger.CancelResult{VoucherType: voucherType, VoucherNo: voucherNo, Cancelled: 2}, nil
	}

	rr := do(t, router, http.MethodPost, "/api/v1/vouchers/"+url.PathEscape("Delivery Note")+"/DN-7/cancel", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Delivery Note", gotType)
	assert.Equal(t, "DN-7", gotNo)
	assert.EqualValues(t, 2, decode(t, rr)["cancelled"])
}

func TestBalance_QueryBinding(t *testing.T) {
	router, deps := newTestRouter(t)
	var got ledger.BalanceQuery
	deps.ledger.balanceFn = func(_ context.Context, q ledger.BalanceQuery) (*ledger.Balance, error) {
		got = q
		return &ledger.Balance{ItemCode: q.ItemCode, Warehouse: q.Warehouse}, nil
	}

	rr := do(t, router, http.MethodGet, "/api/v1/balances?itemCode=WIDGET&warehouse=Main&asOf=2024-01-31&cached=true", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "WIDGET", got.ItemCode)
	assert.True(t, got.AllowCached)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), got.AsOf)

	rr = do(t, router, http.MethodGet, "/api/v1/balances?itemCode=WIDGET", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/v1/balances?itemCode=WIDGET&warehouse=Main&asOf=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateClosing(t *testing.T) {
	router, deps := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/api/v1/closings",
		`{"company":"Acme","fromDate":"2024-01-01","toDate":"2024-01-31","warehouse":"Main"}`)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Acme", deps.closings.created.Company)
	assert.Equal(t, "Main", deps.closings.created.Warehouse)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), deps.closings.created.ToDate)
	assert.Equal(t, string(entity.ClosingQueued), decode(t, rr)["status"])
}

func TestClosingRoutes(t *testing.T) {
	router, deps := newTestRouter(t)
	closingID := id.New()

	rr := do(t, router, http.MethodGet, "/api/v1/closings/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/v1/closings/"+closingID.String()+"/regenerate", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/v1/closings/"+closingID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(entity.ClosingCancelled), decode(t, rr)["status"])

	deps.closings.getErr = apperror.NewNotFound("stock closing entry", closingID.String())
	rr = do(t, router, http.MethodGet, "/api/v1/closings/"+closingID.String(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/v1/closings?company=Acme", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decode(t, rr)["items"])
}

func TestRepostJobRetry(t *testing.T) {
	router, _ := newTestRouter(t)
	jobID := id.New()

	rr := do(t, router, http.MethodPost, "/api/v1/repost-jobs/"+jobID.String()+"/retry", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(entity.RepostPending), decode(t, rr)["status"])
}

func TestBatchBalanceReport_XLSX(t *testing.T) {
	router, deps := newTestRouter(t)

	rr := do(t, router, http.MethodGet,
		"/api/v1/reports/batch-balance?company=Acme&fromDate=2024-01-01&toDate=2024-01-31&format=xlsx", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, export.ContentTypeXLSX, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "batch-balance-2024-01-31.xlsx")
	assert.Equal(t, "Acme", deps.reports.filter.Company)

	rr = do(t, router, http.MethodGet,
		"/api/v1/reports/batch-balance?company=Acme&fromDate=2024-01-01&toDate=2024-01-31&format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditHistory_VoucherID(t *testing.T) {
	router, deps := newTestRouter(t)

	rr := do(t, router, http.MethodGet, "/api/v1/audit/voucher/Delivery%20Note/DN-7", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, audit.EntityVoucher, deps.audit.entityType)
	assert.Equal(t, "Delivery Note/DN-7", deps.audit.entityID)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := do(t, router, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	rr = do(t, router, http.MethodGet, "/health/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "memory", decode(t, rr)["driver"])
}

func TestRequestMetadataReachesServices(t *testing.T) {
	router, deps := newTestRouter(t)

	var gotID, gotActor string
	deps.ledger.cancelFn = func(ctx context.Context, voucherType, voucherNo string) (*ledger.CancelResult, error) {
		gotID = appctx.RequestID(ctx)
		gotActor = appctx.Actor(ctx)
		return &ledger.CancelResult{VoucherType: voucherType, VoucherNo: voucherNo, Cancelled: 1}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vouchers/Delivery%20Note/DN-1/cancel", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("X-Actor", "warehouse.clerk")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"))
	assert.Equal(t, "req-42", gotID)
	assert.Equal(t, "warehouse.clerk", gotActor)
}

func TestSubmitVoucher_IdempotentReplay(t *testing.T) {
	deps := &stubLedger{}
	router := NewRouter(RouterConfig{
		Logger:      logger.Nop(),
		Ledger:      deps,
		Closings:    &stubClosings{},
		Reposts:     stubReposts{},
		Reports:     &stubReports{},
		Idempotency: memory.NewIdempotencyStore(time.Hour),
	})

	calls := 0
	var reject bool
	deps.submitFn = func(_ context.Context, v ledger.Voucher) (*ledger.SubmitResult, error) {
		calls++
		if reject {
			return nil, apperror.NewNegativeStock("WIDGET/Main", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "5")
		}
		return &ledger.SubmitResult{VoucherType: v.VoucherType, VoucherNo: v.VoucherNo}, nil
	}

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/vouchers", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	dn1 := `{"voucherType":"Delivery Note","voucherNo":"DN-1"}`

	first := post("k-1", dn1)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	again := post("k-1", dn1)
	require.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get(middleware.HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), again.Body.String())
	assert.Equal(t, 1, calls)

	other := post("k-1", `{"voucherType":"Delivery Note","voucherNo":"DN-2"}`)
	require.Equal(t, http.StatusConflict, other.Code)
	assert.Equal(t, apperror.CodeIdempotency, decode(t, other)["code"])
	assert.Equal(t, 1, calls)

	// a rejected posting does not pin its key
	reject = true
	rejected := post("k-2", dn1)
	require.Equal(t, http.StatusUnprocessableEntity, rejected.Code)
	reject = false
	retried := post("k-2", dn1)
	require.Equal(t, http.StatusCreated, retried.Code)
	assert.Empty(t, retried.Header().Get(middleware.HeaderReplayed))
	assert.Equal(t, 3, calls)
}
