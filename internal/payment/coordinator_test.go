package payment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/gateway"
	"github.com/prohmpiriya/campus-ticketing/internal/repository"
	"github.com/prohmpiriya/campus-ticketing/internal/store"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDBDown = errors.New("connection reset by peer")

// MockGateway is a function-field fake of gateway.PaymentGateway
type MockGateway struct {
	CreateOrderFunc  func(ctx context.Context, amount float64, currency string) (*gateway.Order, error)
	CaptureOrderFunc func(ctx context.Context, orderID string) (*gateway.Capture, error)
}

func (m *MockGateway) Name() string                           { return "fake" }
func (m *MockGateway) Authenticate(ctx context.Context) error { return nil }

func (m *MockGateway) CreateOrder(ctx context.Context, amount float64, currency string) (*gateway.Order, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, amount, currency)
	}
	return &gateway.Order{ID: "ORDER-1", Status: gateway.StatusCreated, ApprovalURL: "https://pay.example/approve/ORDER-1"}, nil
}

func (m *MockGateway) CaptureOrder(ctx context.Context, orderID string) (*gateway.Capture, error) {
	if m.CaptureOrderFunc != nil {
		return m.CaptureOrderFunc(ctx, orderID)
	}
	return &gateway.Capture{ID: "CAP-" + orderID, Status: gateway.StatusCompleted}, nil
}

// paymentBackend is a memory store that can be told to fail reads or writes
type paymentBackend struct {
	*store.MemoryStore[*domain.Payment]
	readsDown  atomic.Bool
	writesDown atomic.Bool
}

func (b *paymentBackend) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	if b.readsDown.Load() {
		return nil, errDBDown
	}
	return b.MemoryStore.GetByID(ctx, id)
}

func (b *paymentBackend) GetByField(ctx context.Context, field, value string) (*domain.Payment, error) {
	if b.readsDown.Load() {
		return nil, errDBDown
	}
	return b.MemoryStore.GetByField(ctx, field, value)
}

func (b *paymentBackend) Create(ctx context.Context, p *domain.Payment) error {
	if b.writesDown.Load() {
		return errDBDown
	}
	return b.MemoryStore.Create(ctx, p)
}

func (b *paymentBackend) Update(ctx context.Context, p *domain.Payment) error {
	if b.writesDown.Load() {
		return errDBDown
	}
	return b.MemoryStore.Update(ctx, p)
}

type fixture struct {
	coord     *Coordinator
	gw        *MockGateway
	remote    *paymentBackend
	local     *store.MemoryStore[*domain.Payment]
	payments  *repository.PaymentRepository
	ledger    *repository.ReservationLedger
	published *MemoryEventPublisher
	sagaStore *saga.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:        &MockGateway{},
		remote:    &paymentBackend{MemoryStore: store.NewMemoryStore[*domain.Payment]()},
		local:     store.NewMemoryStore[*domain.Payment](),
		ledger:    repository.NewReservationLedger(repository.LedgerConfig{Logger: logger.NewNop()}),
		published: NewMemoryEventPublisher(),
		sagaStore: saga.NewMemoryStore(),
	}
	f.payments = repository.NewPaymentRepository(f.remote, f.local, logger.NewNop())

	coord, err := NewCoordinator(Config{
		Gateway:      f.gw,
		Payments:     f.payments,
		Reservations: f.ledger,
		Publisher:    f.published,
		Orchestrator: saga.NewOrchestrator(&saga.OrchestratorConfig{Store: f.sagaStore, Logger: logger.NewNop()}),
		Currency:     "myr",
		Logger:       logger.NewNop(),
	})
	require.NoError(t, err)
	f.coord = coord
	return f
}

// seedPaid stores a PAID payment for a CONFIRMED reservation
func (f *fixture) seedPaid(t *testing.T, amount float64) *domain.Payment {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.Create(ctx, &domain.Reservation{
		ID: "res-1", EventID: "evt-1", UserID: "u1", RockSeats: 2, Status: domain.ReservationConfirmed,
	}))

	p, err := domain.NewPayment("ORDER-P", "evt-1", "u1", amount, "MYR")
	require.NoError(t, err)
	p.ReservationID = "res-1"
	require.NoError(t, p.MarkPaid())
	require.NoError(t, f.payments.Create(ctx, p))
	return p
}

// seedPending stores a PENDING reservation for u1 with the given total
func (f *fixture) seedPending(t *testing.T, total float64) {
	t.Helper()
	require.NoError(t, f.ledger.Create(context.Background(), &domain.Reservation{
		ID: "res-1", EventID: "evt-1", UserID: "u1", RockSeats: 1, NormalSeats: 1, TotalPrice: total,
	}))
}

func (f *fixture) statuses(t *testing.T, id string) (domain.PaymentStatus, domain.PaymentStatus) {
	t.Helper()
	ctx := context.Background()
	remote, err := f.remote.MemoryStore.GetByID(ctx, id)
	require.NoError(t, err)
	local, err := f.local.GetByID(ctx, id)
	require.NoError(t, err)
	return remote.Status, local.Status
}

func (f *fixture) reservationStatus(t *testing.T) domain.ReservationStatus {
	t.Helper()
	r, ok := f.ledger.Get("res-1")
	require.True(t, ok)
	return r.Status
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(Config{})
	assert.Error(t, err)

	_, err = NewCoordinator(Config{Gateway: &MockGateway{}})
	assert.Error(t, err)
}

func TestCoordinator_Refund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300.00)

	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))

	remote, local := f.statuses(t, p.ID)
	assert.Equal(t, domain.PaymentRefundPending, remote)
	assert.Equal(t, domain.PaymentRefundPending, local)
	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))
	assert.Equal(t, []EventType{EventRefundRequested}, f.published.Types())
}

func TestCoordinator_RefundErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown payment", func(t *testing.T) {
		f := newFixture(t)
		err := f.coord.Refund(ctx, "missing", "u1")
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	})

	t.Run("payment not paid", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 50, EventID: "evt-1", UserID: "u1"})
		require.NoError(t, err)

		err = f.coord.Refund(ctx, res.Payment.ID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("remote store down", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPaid(t, 300)
		f.remote.readsDown.Store(true)

		err := f.coord.Refund(ctx, p.ID, "u1")
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		_, local := f.statuses(t, p.ID)
		assert.Equal(t, domain.PaymentPaid, local)
	})

	t.Run("write fails", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPaid(t, 300)
		f.remote.writesDown.Store(true)

		err := f.coord.Refund(ctx, p.ID, "u1")
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		remote, local := f.statuses(t, p.ID)
		assert.Equal(t, domain.PaymentPaid, remote)
		assert.Equal(t, domain.PaymentPaid, local)
		assert.Empty(t, f.published.Events())
	})
}

func TestCoordinator_CreateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var gotCurrency string
	f.gw.CreateOrderFunc = func(ctx context.Context, amount float64, currency string) (*gateway.Order, error) {
		gotCurrency = currency
		return &gateway.Order{ID: "ORDER-9", Status: gateway.StatusCreated, ApprovalURL: "https://pay.example/approve/9"}, nil
	}

	f.seedPending(t, 225)
	res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 225, EventID: "evt-1", UserID: "u1", ReservationID: "res-1"})
	require.NoError(t, err)

	assert.Equal(t, "MYR", gotCurrency)
	assert.Equal(t, "ORDER-9", res.OrderID)
	assert.Equal(t, "https://pay.example/approve/9", res.ApprovalURL)
	assert.Equal(t, domain.PaymentPending, res.Payment.Status)
	assert.Equal(t, "fake", res.Payment.Gateway)
	assert.Equal(t, "res-1", res.Payment.ReservationID)

	stored := f.payments.GetByOrderID(ctx, "ORDER-9")
	require.True(t, stored.OK())
	assert.Equal(t, res.Payment.ID, stored.Value.ID)
	assert.Equal(t, []EventType{EventCreated}, f.published.Types())
}

func TestCoordinator_CreateOrderFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway failure records nothing", func(t *testing.T) {
		f := newFixture(t)
		f.gw.CreateOrderFunc = func(ctx context.Context, amount float64, currency string) (*gateway.Order, error) {
			return nil, errors.New("UNPROCESSABLE_ENTITY")
		}

		_, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 10})
		assert.ErrorIs(t, err, domain.ErrGatewayFailure)
		assert.Contains(t, err.Error(), "UNPROCESSABLE_ENTITY")
		assert.Equal(t, 0, f.remote.Len())
		assert.Equal(t, 0, f.local.Len())
		assert.Empty(t, f.published.Events())
	})

	t.Run("invalid amount never reaches the gateway", func(t *testing.T) {
		f := newFixture(t)
		called := false
		f.gw.CreateOrderFunc = func(ctx context.Context, amount float64, currency string) (*gateway.Order, error) {
			called = true
			return nil, nil
		}

		_, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: -1})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		assert.False(t, called)
	})

	t.Run("store failure after gateway success", func(t *testing.T) {
		f := newFixture(t)
		f.remote.writesDown.Store(true)

		_, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 10})
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		assert.Contains(t, err.Error(), "ORDER-1")
	})
}

func TestCoordinator_CaptureOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("completed capture marks paid", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 300})
		require.NoError(t, err)

		p, err := f.coord.CaptureOrder(ctx, res.OrderID, "")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, p.Status)

		remote, local := f.statuses(t, p.ID)
		assert.Equal(t, domain.PaymentPaid, remote)
		assert.Equal(t, domain.PaymentPaid, local)
		assert.Equal(t, []EventType{EventCreated, EventPaid}, f.published.Types())

		_, err = f.coord.CaptureOrder(ctx, res.OrderID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("declined capture marks failed", func(t *testing.T) {
		f := newFixture(t)
		f.gw.CaptureOrderFunc = func(ctx context.Context, orderID string) (*gateway.Capture, error) {
			return &gateway.Capture{ID: "CAP", Status: gateway.StatusDeclined}, nil
		}
		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 300})
		require.NoError(t, err)

		p, err := f.coord.CaptureOrder(ctx, res.OrderID, "")
		assert.ErrorIs(t, err, domain.ErrGatewayFailure)
		require.NotNil(t, p)
		assert.Equal(t, domain.PaymentFailed, p.Status)
		assert.Contains(t, p.FailureReason, gateway.StatusDeclined)
	})

	t.Run("gateway error leaves payment pending", func(t *testing.T) {
		f := newFixture(t)
		f.gw.CaptureOrderFunc = func(ctx context.Context, orderID string) (*gateway.Capture, error) {
			return nil, gateway.ErrNotAuthenticated
		}
		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 300})
		require.NoError(t, err)

		_, err = f.coord.CaptureOrder(ctx, res.OrderID, "")
		assert.ErrorIs(t, err, domain.ErrGatewayFailure)
		assert.ErrorIs(t, err, gateway.ErrNotAuthenticated)
		remote, _ := f.statuses(t, res.Payment.ID)
		assert.Equal(t, domain.PaymentPending, remote)
	})

	t.Run("status write failure is reported", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 300})
		require.NoError(t, err)
		f.remote.writesDown.Store(true)

		p, err := f.coord.CaptureOrder(ctx, res.OrderID, "")
		assert.ErrorIs(t, err, domain.ErrCaptureNotRecorded)
		require.NotNil(t, p)
		assert.Equal(t, domain.PaymentPaid, p.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.CaptureOrder(ctx, "ORDER-X", "")
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	})
}

func TestCoordinator_ApproveRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)
	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))

	require.NoError(t, f.coord.ApproveRefund(ctx, p.ID))

	remote, local := f.statuses(t, p.ID)
	assert.Equal(t, domain.PaymentRefunded, remote)
	assert.Equal(t, domain.PaymentRefunded, local)
	assert.Equal(t, domain.ReservationCancelled, f.reservationStatus(t))
	assert.Equal(t, []EventType{EventRefundRequested, EventRefunded}, f.published.Types())
	assert.Equal(t, domain.PaymentRefunded, f.published.Events()[1].Status)

	completed, err := f.sagaStore.ListByStatus(ctx, saga.StatusCompleted, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestCoordinator_RejectRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)
	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))

	require.NoError(t, f.coord.RejectRefund(ctx, p.ID))

	remote, _ := f.statuses(t, p.ID)
	assert.Equal(t, domain.PaymentPaid, remote)
	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))
	assert.Equal(t, []EventType{EventRefundRequested, EventRefundRejected}, f.published.Types())
}

func TestCoordinator_ApproveRefundCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)
	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))

	f.remote.writesDown.Store(true)
	err := f.coord.ApproveRefund(ctx, p.ID)

	require.Error(t, err)
	var sagaErr *saga.Error
	require.ErrorAs(t, err, &sagaErr)
	assert.Equal(t, "set-payment-status", sagaErr.Step)
	assert.NoError(t, sagaErr.CompensationErr)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))
	remote, _ := f.statuses(t, p.ID)
	assert.Equal(t, domain.PaymentRefundPending, remote)

	compensated, err := f.sagaStore.ListByStatus(ctx, saga.StatusCompensated, 0)
	require.NoError(t, err)
	assert.Len(t, compensated, 1)
}

func TestCoordinator_DecisionRequiresPendingRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)

	assert.ErrorIs(t, f.coord.ApproveRefund(ctx, p.ID), domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.coord.RejectRefund(ctx, p.ID), domain.ErrInvalidTransition)
	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))
	assert.Equal(t, 0, f.sagaStore.Count())
}

func TestCoordinator_DecisionWithoutReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 80})
	require.NoError(t, err)
	_, err = f.coord.CaptureOrder(ctx, res.OrderID, "")
	require.NoError(t, err)
	require.NoError(t, f.coord.Refund(ctx, res.Payment.ID, ""))

	require.NoError(t, f.coord.ApproveRefund(ctx, res.Payment.ID))
	remote, _ := f.statuses(t, res.Payment.ID)
	assert.Equal(t, domain.PaymentRefunded, remote)
}

func TestCoordinator_PublishFailureDoesNotFailRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)
	f.published.FailWith(errors.New("kafka: leader not available"))

	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))
	remote, _ := f.statuses(t, p.ID)
	assert.Equal(t, domain.PaymentRefundPending, remote)
}

func TestCoordinator_CreateOrderChecksReservation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		req     OrderRequest
		wantErr error
	}{
		{"unknown reservation", OrderRequest{Amount: 225, UserID: "u1", ReservationID: "res-9"}, domain.ErrReservationNotFound},
		{"another user's reservation", OrderRequest{Amount: 225, UserID: "u2", ReservationID: "res-1"}, domain.ErrReservationNotFound},
		{"amount below total", OrderRequest{Amount: 1, UserID: "u1", ReservationID: "res-1"}, domain.ErrInvalidAmount},
		{"amount above total", OrderRequest{Amount: 225.5, UserID: "u1", ReservationID: "res-1"}, domain.ErrInvalidAmount},
		{"different event", OrderRequest{Amount: 225, EventID: "evt-2", UserID: "u1", ReservationID: "res-1"}, domain.ErrInvalidReservation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedPending(t, 225)
			called := false
			f.gw.CreateOrderFunc = func(ctx context.Context, amount float64, currency string) (*gateway.Order, error) {
				called = true
				return &gateway.Order{ID: "ORDER-1"}, nil
			}

			_, err := f.coord.CreateOrder(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, called)
			assert.Equal(t, 0, f.remote.Len())
		})
	}

	t.Run("reservation no longer pending", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t, 225)
		require.NoError(t, f.ledger.Cancel(ctx, "res-1"))

		_, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 225, UserID: "u1", ReservationID: "res-1"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("event taken from reservation", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t, 225)

		res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 225.00, UserID: "u1", ReservationID: "res-1"})
		require.NoError(t, err)
		assert.Equal(t, "evt-1", res.Payment.EventID)
	})
}

func TestCoordinator_CaptureConfirmsReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, 225)

	res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 225, UserID: "u1", ReservationID: "res-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, f.reservationStatus(t))

	p, err := f.coord.CaptureOrder(ctx, res.OrderID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, p.Status)
	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))

	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))
	require.NoError(t, f.coord.RejectRefund(ctx, p.ID))
	assert.Equal(t, domain.ReservationConfirmed, f.reservationStatus(t))
}

func TestCoordinator_DeclinedCaptureLeavesReservationPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, 225)
	f.gw.CaptureOrderFunc = func(ctx context.Context, orderID string) (*gateway.Capture, error) {
		return &gateway.Capture{ID: "CAP", Status: gateway.StatusDeclined}, nil
	}

	res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 225, UserID: "u1", ReservationID: "res-1"})
	require.NoError(t, err)
	_, err = f.coord.CaptureOrder(ctx, res.OrderID, "u1")
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Equal(t, domain.ReservationPending, f.reservationStatus(t))
}

func TestCoordinator_OtherUsersPaymentsAreHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.coord.CreateOrder(ctx, OrderRequest{Amount: 80, UserID: "u1"})
	require.NoError(t, err)

	_, err = f.coord.CaptureOrder(ctx, res.OrderID, "u2")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	remote, _ := f.statuses(t, res.Payment.ID)
	assert.Equal(t, domain.PaymentPending, remote)

	_, err = f.coord.CaptureOrder(ctx, res.OrderID, "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.coord.Refund(ctx, res.Payment.ID, "u2"), domain.ErrPaymentNotFound)
	remote, _ = f.statuses(t, res.Payment.ID)
	assert.Equal(t, domain.PaymentPaid, remote)
}

func TestCoordinator_DecisionOnFinalPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPaid(t, 300)
	require.NoError(t, f.coord.Refund(ctx, p.ID, "u1"))
	require.NoError(t, f.coord.ApproveRefund(ctx, p.ID))

	err := f.coord.ApproveRefund(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "already REFUNDED")
	assert.Equal(t, 1, f.sagaStore.Count())
}
