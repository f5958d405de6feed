package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/payment"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/middleware"
)

var testAuth = middleware.AuthConfig{Secret: "test-secret", Issuer: "campus-ticketing"}

type mockPaymentService struct {
	CreateOrderFunc   func(ctx context.Context, req payment.OrderRequest) (*payment.OrderResult, error)
	CaptureOrderFunc  func(ctx context.Context, orderID, userID string) (*domain.Payment, error)
	RefundFunc        func(ctx context.Context, paymentID, userID string) error
	ApproveRefundFunc func(ctx context.Context, paymentID string) error
	RejectRefundFunc  func(ctx context.Context, paymentID string) error
}

func (m *mockPaymentService) CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.OrderResult, error) {
	return m.CreateOrderFunc(ctx, req)
}

func (m *mockPaymentService) CaptureOrder(ctx context.Context, orderID, userID string) (*domain.Payment, error) {
	return m.CaptureOrderFunc(ctx, orderID, userID)
}

func (m *mockPaymentService) Refund(ctx context.Context, id, userID string) error {
	return m.RefundFunc(ctx, id, userID)
}

func (m *mockPaymentService) ApproveRefund(ctx context.Context, id string) error {
	return m.ApproveRefundFunc(ctx, id)
}

func (m *mockPaymentService) RejectRefund(ctx context.Context, id string) error {
	return m.RejectRefundFunc(ctx, id)
}

type mockReservationService struct {
	reservations map[string]*domain.Reservation
	createErr    error
	cancelErr    error
	updateErr    error
}

func (m *mockReservationService) Create(ctx context.Context, r *domain.Reservation) error {
	if m.createErr != nil {
		return m.createErr
	}
	res := *r
	res.Status = domain.ReservationPending
	res.TotalPrice = float64(r.RockSeats)*150 + float64(r.NormalSeats)*75
	m.reservations[r.ID] = &res
	return nil
}

func (m *mockReservationService) Get(id string) (*domain.Reservation, bool) {
	r, ok := m.reservations[id]
	return r, ok
}

func (m *mockReservationService) ListByUser(userID string) []*domain.Reservation {
	out := []*domain.Reservation{}
	for _, r := range m.reservations {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockReservationService) ListByEvent(eventID string) []*domain.Reservation {
	out := []*domain.Reservation{}
	for _, r := range m.reservations {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockReservationService) Cancel(ctx context.Context, id string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.reservations[id].Status = domain.ReservationCancelled
	return nil
}

func (m *mockReservationService) UpdateStatus(ctx context.Context, id, label string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	r, ok := m.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	s, err := domain.ParseReservationStatus(label)
	if err != nil {
		return err
	}
	r.Status = s
	return nil
}

type mockEventService struct {
	all      domain.Result[[]*domain.Event]
	byID     domain.Result[*domain.Event]
	moderate func(ctx context.Context, id string) (*domain.Event, error)
}

func (m *mockEventService) GetAll(ctx context.Context) domain.Result[[]*domain.Event] { return m.all }

func (m *mockEventService) GetByID(ctx context.Context, id string) domain.Result[*domain.Event] {
	return m.byID
}

func (m *mockEventService) Approve(ctx context.Context, id string) (*domain.Event, error) {
	return m.moderate(ctx, id)
}

func (m *mockEventService) Reject(ctx context.Context, id string) (*domain.Event, error) {
	return m.moderate(ctx, id)
}

func (m *mockEventService) Complete(ctx context.Context, id string) (*domain.Event, error) {
	return m.moderate(ctx, id)
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(ctx context.Context) error { return f.err }

type fixture struct {
	payments     *mockPaymentService
	reservations *mockReservationService
	events       *mockEventService
	checks       map[string]HealthChecker
}

func newFixture() *fixture {
	return &fixture{
		payments: &mockPaymentService{},
		reservations: &mockReservationService{reservations: map[string]*domain.Reservation{
			"res-1": {ID: "res-1", EventID: "evt-1", UserID: "user-1", RockSeats: 2, Status: domain.ReservationConfirmed},
			"res-2": {ID: "res-2", EventID: "evt-2", UserID: "user-2", NormalSeats: 1, Status: domain.ReservationPending},
		}},
		events: &mockEventService{},
		checks: map[string]HealthChecker{},
	}
}

func (f *fixture) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	return NewRouter(RouterConfig{
		Payments:     NewPaymentHandler(f.payments, log),
		Reservations: NewReservationHandler(f.reservations, log),
		Events:       NewEventHandler(f.events, log),
		Auth:         testAuth,
		Checks:       f.checks,
		ServiceName:  "campus-ticketing-test",
		Logger:       log,
	})
}

func token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok, err := middleware.IssueToken(testAuth, userID, string(role), time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Count  int    `json:"count"`
		Source string `json:"source"`
	} `json:"meta"`
}

func do(t *testing.T, r *gin.Engine, method, path, tok string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestHealth(t *testing.T) {
	f := newFixture()
	f.checks["postgres"] = fakeCheck{}
	w, env := do(t, f.router(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	f.checks["redis"] = fakeCheck{err: errors.New("dial tcp: connection refused")}
	w, env = do(t, f.router(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "connection refused")
}

func TestEventHandler_List(t *testing.T) {
	f := newFixture()
	events := []*domain.Event{{ID: "evt-1", Name: "Rock Night", OrganizerName: "Alice"}}

	f.events.all = domain.FoundResult(events, domain.SourceRemote, nil)
	w, env := do(t, f.router(), http.MethodGet, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Count)
	assert.Equal(t, "remote", env.Meta.Source)
	assert.Contains(t, string(env.Data), "Alice")

	f.events.all = domain.FoundResult(events, domain.SourceLocal, errors.New("timeout"))
	w, env = do(t, f.router(), http.MethodGet, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", env.Meta.Source)

	f.events.all = domain.UnavailableResult[[]*domain.Event](fmt.Errorf("%w: events get_all", domain.ErrUnavailable))
	w, _ = do(t, f.router(), http.MethodGet, "/api/v1/events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventHandler_Get(t *testing.T) {
	f := newFixture()

	f.events.byID = domain.NotFoundResult[*domain.Event]()
	w, _ := do(t, f.router(), http.MethodGet, "/api/v1/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.events.byID = domain.FoundResult(&domain.Event{ID: "evt-1"}, domain.SourceLocal, errors.New("timeout"))
	w, _ = do(t, f.router(), http.MethodGet, "/api/v1/events/evt-1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Warning"))
}

func TestEventHandler_Moderation(t *testing.T) {
	f := newFixture()
	var got string
	f.events.moderate = func(ctx context.Context, id string) (*domain.Event, error) {
		got = id
		return &domain.Event{ID: id, Status: domain.EventStatusApproved}, nil
	}
	r := f.router()

	w, _ := do(t, r, http.MethodPost, "/api/v1/admin/events/evt-1/approve", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/events/evt-1/approve", token(t, "user-1", domain.RoleParticipant), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/events/evt-1/approve", token(t, "admin", domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "evt-1", got)

	f.events.moderate = func(ctx context.Context, id string) (*domain.Event, error) {
		return nil, fmt.Errorf("%w: PENDING -> COMPLETED", domain.ErrInvalidTransition)
	}
	w, env := do(t, r, http.MethodPost, "/api/v1/admin/events/evt-1/complete", token(t, "admin", domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	f.events.moderate = func(ctx context.Context, id string) (*domain.Event, error) {
		return nil, fmt.Errorf("%w: org-1", domain.ErrOrganizerNotAllowed)
	}
	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/events/evt-1/approve", token(t, "admin", domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPaymentHandler_CreateOrder(t *testing.T) {
	f := newFixture()
	var got payment.OrderRequest
	f.payments.CreateOrderFunc = func(ctx context.Context, req payment.OrderRequest) (*payment.OrderResult, error) {
		got = req
		p, err := domain.NewPayment("ORDER-1", req.EventID, req.UserID, req.Amount, "MYR")
		if err != nil {
			return nil, err
		}
		return &payment.OrderResult{OrderID: "ORDER-1", ApprovalURL: "https://pay.example/approve", Payment: p}, nil
	}
	r := f.router()

	body := CreateOrderRequest{Amount: 300, EventID: "evt-1", ReservationID: "res-1"}
	w, env := do(t, r, http.MethodPost, "/api/v1/payments/orders", token(t, "user-1", domain.RoleParticipant), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "res-1", got.ReservationID)

	var res OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "ORDER-1", res.OrderID)
	assert.Equal(t, "https://pay.example/approve", res.ApprovalURL)
}

func TestPaymentHandler_CreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		err  error
		want int
	}{
		{name: "missing amount", body: map[string]any{"event_id": "evt-1"}, want: http.StatusBadRequest},
		{name: "negative amount", body: map[string]any{"event_id": "evt-1", "amount": -5}, want: http.StatusBadRequest},
		{name: "gateway down", body: CreateOrderRequest{Amount: 10, EventID: "evt-1"},
			err: fmt.Errorf("%w: %w", domain.ErrGatewayFailure, errors.New("503")), want: http.StatusBadGateway},
		{name: "store down", body: CreateOrderRequest{Amount: 10, EventID: "evt-1"},
			err: fmt.Errorf("record payment: %w", domain.ErrUnavailable), want: http.StatusServiceUnavailable},
		{name: "unexpected", body: CreateOrderRequest{Amount: 10, EventID: "evt-1"},
			err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.payments.CreateOrderFunc = func(ctx context.Context, req payment.OrderRequest) (*payment.OrderResult, error) {
				return nil, tt.err
			}
			w, _ := do(t, f.router(), http.MethodPost, "/api/v1/payments/orders", token(t, "user-1", domain.RoleParticipant), tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPaymentHandler_CaptureOrder(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{name: "paid", want: http.StatusOK},
		{name: "unknown order", err: domain.ErrPaymentNotFound, want: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "already captured", err: domain.ErrInvalidTransition, want: http.StatusConflict, wantCode: "CONFLICT"},
		{name: "not recorded", err: fmt.Errorf("%w: ORDER-1", domain.ErrCaptureNotRecorded), want: http.StatusInternalServerError, wantCode: "CAPTURE_NOT_RECORDED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.payments.CaptureOrderFunc = func(ctx context.Context, orderID, userID string) (*domain.Payment, error) {
				assert.Equal(t, "ORDER-1", orderID)
				assert.Equal(t, "user-1", userID)
				if tt.err != nil {
					return nil, tt.err
				}
				return &domain.Payment{ID: "pay-1", OrderID: orderID, Status: domain.PaymentPaid}, nil
			}
			w, env := do(t, f.router(), http.MethodPost, "/api/v1/payments/orders/ORDER-1/capture", token(t, "user-1", domain.RoleParticipant), nil)
			assert.Equal(t, tt.want, w.Code)
			if tt.wantCode != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.wantCode, env.Error.Code)
			}
		})
	}
}

func TestPaymentHandler_RefundFlow(t *testing.T) {
	f := newFixture()
	var calls []string
	f.payments.RefundFunc = func(ctx context.Context, id, userID string) error {
		calls = append(calls, "refund:"+id+":"+userID)
		return nil
	}
	f.payments.ApproveRefundFunc = func(ctx context.Context, id string) error {
		calls = append(calls, "approve:"+id)
		return nil
	}
	f.payments.RejectRefundFunc = func(ctx context.Context, id string) error {
		return fmt.Errorf("%w: PAID -> PAID", domain.ErrInvalidTransition)
	}
	r := f.router()

	w, env := do(t, r, http.MethodPost, "/api/v1/payments/pay-1/refund", token(t, "user-1", domain.RoleParticipant), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), string(domain.PaymentRefundPending))

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/refund/approve", token(t, "user-1", domain.RoleParticipant), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/refund/approve", token(t, "admin", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), string(domain.PaymentRefunded))

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/refund/reject", token(t, "admin", domain.RoleAdmin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/payments/pay-2/refund", token(t, "admin", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"refund:pay-1:user-1", "approve:pay-1", "refund:pay-2:"}, calls)
}

func TestPaymentHandler_PayerScope(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  string
	}{
		{"participant", func(t *testing.T) string { return token(t, "user-1", domain.RoleParticipant) }, "user-1"},
		{"organizer", func(t *testing.T) string { return token(t, "org-1", domain.RoleOrganizer) }, "org-1"},
		{"unknown role", func(t *testing.T) string { return token(t, "user-9", "ROOT") }, "user-9"},
		{"admin in lower case", func(t *testing.T) string { return token(t, "admin", "admin") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			got := "unset"
			f.payments.CaptureOrderFunc = func(ctx context.Context, orderID, userID string) (*domain.Payment, error) {
				got = userID
				return &domain.Payment{ID: "pay-1", OrderID: orderID, Status: domain.PaymentPaid}, nil
			}
			w, _ := do(t, f.router(), http.MethodPost, "/api/v1/payments/orders/ORDER-1/capture", tt.token(t), nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReservationHandler_ListMine(t *testing.T) {
	f := newFixture()
	w, env := do(t, f.router(), http.MethodGet, "/api/v1/reservations", token(t, "user-1", domain.RoleParticipant), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Count)
	assert.Contains(t, string(env.Data), "res-1")
	assert.NotContains(t, string(env.Data), "res-2")
}

func TestReservationHandler_AdminList(t *testing.T) {
	f := newFixture()
	r := f.router()
	admin := token(t, "admin", domain.RoleAdmin)

	_, env := do(t, r, http.MethodGet, "/api/v1/admin/reservations", admin, nil)
	assert.Equal(t, 2, env.Meta.Count)

	_, env = do(t, r, http.MethodGet, "/api/v1/admin/reservations?event_id=evt-2", admin, nil)
	assert.Equal(t, 1, env.Meta.Count)
	assert.Contains(t, string(env.Data), "res-2")

	_, env = do(t, r, http.MethodGet, "/api/v1/admin/reservations?event_id=evt-9", admin, nil)
	assert.Equal(t, 0, env.Meta.Count)
	assert.Equal(t, "[]", string(env.Data))
}

func TestReservationHandler_Cancel(t *testing.T) {
	f := newFixture()
	r := f.router()

	w, _ := do(t, r, http.MethodPost, "/api/v1/reservations/res-1/cancel", token(t, "user-2", domain.RoleParticipant), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ReservationConfirmed, f.reservations.reservations["res-1"].Status)

	w, env := do(t, r, http.MethodPost, "/api/v1/reservations/res-1/cancel", token(t, "user-1", domain.RoleParticipant), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), string(domain.ReservationCancelled))

	w, _ = do(t, r, http.MethodPost, "/api/v1/reservations/res-2/cancel", token(t, "admin", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ReservationCancelled, f.reservations.reservations["res-2"].Status)
}

func TestReservationHandler_UpdateStatus(t *testing.T) {
	tests := []struct {
		name string
		id   string
		body any
		want int
	}{
		{name: "lowercase label", id: "res-1", body: UpdateStatusRequest{Status: "completed"}, want: http.StatusOK},
		{name: "unknown label", id: "res-1", body: UpdateStatusRequest{Status: "archived"}, want: http.StatusBadRequest},
		{name: "missing body field", id: "res-1", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "unknown reservation", id: "nope", body: UpdateStatusRequest{Status: "CANCELLED"}, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w, _ := do(t, f.router(), http.MethodPatch, "/api/v1/admin/reservations/"+tt.id+"/status", token(t, "admin", domain.RoleAdmin), tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	f := newFixture()
	f.reservations.updateErr = fmt.Errorf("reserve seats: %w", domain.ErrInsufficientSeats)
	w, _ := do(t, f.router(), http.MethodPatch, "/api/v1/admin/reservations/res-1/status", token(t, "admin", domain.RoleAdmin), UpdateStatusRequest{Status: "PENDING"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReservationHandler_Create(t *testing.T) {
	f := newFixture()
	r := f.router()
	tok := token(t, "user-3", domain.RoleParticipant)

	w, env := do(t, r, http.MethodPost, "/api/v1/reservations", tok, CreateReservationRequest{EventID: "evt-1", RockSeats: 2, NormalSeats: 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created domain.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-3", created.UserID)
	assert.Equal(t, 375.0, created.TotalPrice)
	assert.Equal(t, domain.ReservationPending, created.Status)

	w, _ = do(t, r, http.MethodPost, "/api/v1/reservations", tok, CreateReservationRequest{EventID: "evt-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/reservations", tok, map[string]any{"event_id": "evt-1", "rock_seats": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.reservations.createErr = fmt.Errorf("reserve seats: %w", domain.ErrInsufficientSeats)
	w, _ = do(t, r, http.MethodPost, "/api/v1/reservations", tok, CreateReservationRequest{EventID: "evt-1", RockSeats: 60})
	assert.Equal(t, http.StatusConflict, w.Code)
}
