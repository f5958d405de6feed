// Package payment drives the payment order lifecycle: creating and capturing
// gateway orders, refund requests and the admin refund decision.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/gateway"
	"github.com/prohmpiriya/campus-ticketing/internal/metrics"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/saga"
	"github.com/prohmpiriya/campus-ticketing/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Saga names for the refund decision
const (
	SagaApproveRefund = "refund-approve"
	SagaRejectRefund  = "refund-reject"
)

const (
	dataPaymentID      = "payment_id"
	dataReservationID  = "reservation_id"
	dataPreviousStatus = "previous_reservation_status"
)

// PaymentStore is the payment repository surface the coordinator needs
type PaymentStore interface {
	GetByID(ctx context.Context, id string) domain.Result[*domain.Payment]
	GetByOrderID(ctx context.Context, orderID string) domain.Result[*domain.Payment]
	Create(ctx context.Context, p *domain.Payment) error
	Update(ctx context.Context, p *domain.Payment) error
}

// ReservationBook reads reservations and changes their status, reporting
// the previous one
type ReservationBook interface {
	Get(id string) (*domain.Reservation, bool)
	SetStatus(ctx context.Context, id string, status domain.ReservationStatus) (domain.ReservationStatus, error)
}

// Config wires a Coordinator. Publisher, Orchestrator and Logger are optional.
type Config struct {
	Gateway      gateway.PaymentGateway
	Payments     PaymentStore
	Reservations ReservationBook
	Publisher    EventPublisher
	Orchestrator *saga.Orchestrator
	Currency     string
	Logger       *logger.Logger
}

// OrderRequest describes a payment order to open
type OrderRequest struct {
	Amount        float64
	Currency      string
	EventID       string
	UserID        string
	ReservationID string
}

// OrderResult is a created order and the payment recorded for it
type OrderResult struct {
	OrderID     string
	ApprovalURL string
	Payment     *domain.Payment
}

// Coordinator moves payments through their lifecycle. Nothing is retried;
// callers re-invoke failed operations.
type Coordinator struct {
	gateway      gateway.PaymentGateway
	payments     PaymentStore
	reservations ReservationBook
	publisher    EventPublisher
	sagas        *saga.Orchestrator
	currency     string
	log          *logger.Logger
}

// NewCoordinator creates a coordinator and registers the refund sagas
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if cfg.Payments == nil {
		return nil, errors.New("payment store is required")
	}
	if cfg.Reservations == nil {
		return nil, errors.New("reservation book is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	orchestrator := cfg.Orchestrator
	if orchestrator == nil {
		orchestrator = saga.NewOrchestrator(&saga.OrchestratorConfig{Logger: log})
	}
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = "MYR"
	}

	c := &Coordinator{
		gateway:      cfg.Gateway,
		payments:     cfg.Payments,
		reservations: cfg.Reservations,
		publisher:    publisher,
		sagas:        orchestrator,
		currency:     currency,
		log:          log.Named("payment"),
	}

	if err := orchestrator.RegisterDefinition(c.refundDecision(SagaApproveRefund, domain.ReservationCancelled, (*domain.Payment).ApproveRefund)); err != nil {
		return nil, err
	}
	if err := orchestrator.RegisterDefinition(c.refundDecision(SagaRejectRefund, domain.ReservationConfirmed, (*domain.Payment).RejectRefund)); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateOrder opens a gateway order and records a PENDING payment for it.
// An order for a reservation must come from its owner while it is PENDING
// and carry its total price. Nothing is recorded when the gateway fails.
func (c *Coordinator) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "payment.create_order")
	defer span.End()

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %.2f", domain.ErrInvalidAmount, req.Amount)
	}
	if req.ReservationID != "" {
		r, err := c.orderedReservation(req)
		if err != nil {
			return nil, err
		}
		req.EventID = r.EventID
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = c.currency
	}

	order, err := c.gateway.CreateOrder(ctx, req.Amount, currency)
	if err != nil {
		metrics.RecordGatewayError(ctx, c.gateway.Name(), "create_order")
		telemetry.SetSpanError(ctx, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayFailure, err)
	}
	span.SetAttributes(attribute.String("payment.order_id", order.ID))

	p, err := domain.NewPayment(order.ID, req.EventID, req.UserID, req.Amount, currency)
	if err != nil {
		return nil, err
	}
	p.ReservationID = req.ReservationID
	p.ApprovalURL = order.ApprovalURL
	p.Gateway = c.gateway.Name()

	if err := c.payments.Create(ctx, p); err != nil {
		telemetry.SetSpanError(ctx, err)
		c.log.ErrorContext(ctx, "gateway order created but payment was not recorded",
			zap.String("order_id", order.ID),
			zap.String("gateway", p.Gateway),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record payment for order %s: %w", order.ID, err)
	}

	metrics.PaymentsCreated.Inc(ctx, attribute.String("gateway", p.Gateway))
	c.publish(ctx, EventCreated, p)
	c.log.InfoContext(ctx, "payment order created",
		zap.String("payment_id", p.ID),
		zap.String("order_id", order.ID),
		zap.Float64("amount", p.Amount),
	)

	return &OrderResult{OrderID: order.ID, ApprovalURL: order.ApprovalURL, Payment: p}, nil
}

// CaptureOrder captures an approved order. A COMPLETED capture moves the
// payment to PAID, confirms its reservation, and anything else moves it to
// FAILED. If the gateway captured but the new status could not be stored the
// error wraps ErrCaptureNotRecorded. A non-empty userID must own the payment.
func (c *Coordinator) CaptureOrder(ctx context.Context, orderID, userID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "payment.capture_order")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", orderID))

	p, err := c.fresh(ctx, c.payments.GetByOrderID(ctx, orderID), "order "+orderID)
	if err != nil {
		return nil, err
	}
	if err := owned(p, userID, "order "+orderID); err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentPending {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
	}

	capture, err := c.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		metrics.RecordGatewayError(ctx, c.gateway.Name(), "capture_order")
		telemetry.SetSpanError(ctx, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayFailure, err)
	}

	event := EventPaid
	if capture.Completed() {
		err = p.MarkPaid()
	} else {
		event = EventFailed
		err = p.MarkFailed("capture status " + capture.Status)
	}
	if err != nil {
		return nil, err
	}

	if err := c.payments.Update(ctx, p); err != nil {
		metrics.CapturesNotRecorded.Inc(ctx)
		telemetry.SetSpanError(ctx, err)
		c.log.ErrorContext(ctx, "capture not recorded",
			zap.String("payment_id", p.ID),
			zap.String("order_id", orderID),
			zap.String("capture_id", capture.ID),
			zap.String("capture_status", capture.Status),
			zap.Error(err),
		)
		return p, fmt.Errorf("%w: %w", domain.ErrCaptureNotRecorded, err)
	}

	c.publish(ctx, event, p)
	if event == EventFailed {
		metrics.PaymentsFailed.Inc(ctx)
		return p, fmt.Errorf("%w: capture status %s", domain.ErrGatewayFailure, capture.Status)
	}
	metrics.PaymentsCaptured.Inc(ctx)
	c.confirmReservation(ctx, p)
	return p, nil
}

// Refund puts a PAID payment into admin review. The reservation is left
// as it is until the refund is approved or rejected. A non-empty userID must
// own the payment.
func (c *Coordinator) Refund(ctx context.Context, paymentID, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "payment.refund")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	p, err := c.fresh(ctx, c.payments.GetByID(ctx, paymentID), paymentID)
	if err != nil {
		return err
	}
	if err := owned(p, userID, paymentID); err != nil {
		return err
	}
	if err := p.RequestRefund(); err != nil {
		return err
	}
	if err := c.payments.Update(ctx, p); err != nil {
		telemetry.SetSpanError(ctx, err)
		return fmt.Errorf("record refund request for %s: %w", paymentID, err)
	}

	metrics.RefundsRequested.Inc(ctx)
	c.publish(ctx, EventRefundRequested, p)
	return nil
}

// ApproveRefund cancels the reservation and marks the payment REFUNDED.
// If the payment cannot be updated the reservation status is restored.
func (c *Coordinator) ApproveRefund(ctx context.Context, paymentID string) error {
	return c.decide(ctx, SagaApproveRefund, paymentID, EventRefunded)
}

// RejectRefund confirms the reservation and returns the payment to PAID.
// If the payment cannot be updated the reservation status is restored.
func (c *Coordinator) RejectRefund(ctx context.Context, paymentID string) error {
	return c.decide(ctx, SagaRejectRefund, paymentID, EventRefundRejected)
}

func (c *Coordinator) decide(ctx context.Context, sagaName, paymentID string, event EventType) error {
	ctx, span := telemetry.StartSpan(ctx, "payment."+sagaName)
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	p, err := c.fresh(ctx, c.payments.GetByID(ctx, paymentID), paymentID)
	if err != nil {
		return err
	}
	if p.IsFinal() {
		return fmt.Errorf("%w: payment %s is already %s", domain.ErrInvalidTransition, p.ID, p.Status)
	}
	if p.Status != domain.PaymentRefundPending {
		return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
	}

	instance, err := c.sagas.Execute(ctx, sagaName, saga.Data{
		dataPaymentID:     p.ID,
		dataReservationID: p.ReservationID,
	})
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		c.log.WarnContext(ctx, "refund decision rolled back",
			zap.String("saga", sagaName),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return err
	}

	metrics.RefundsResolved.Inc(ctx, attribute.String("decision", sagaName))
	if decided, err := c.fresh(ctx, c.payments.GetByID(ctx, paymentID), paymentID); err == nil {
		p = decided
	}
	c.publish(ctx, event, p)
	c.log.InfoContext(ctx, "refund decided",
		zap.String("saga", sagaName),
		zap.String("saga_id", instance.ID),
		zap.String("payment_id", paymentID),
		zap.String("status", string(p.Status)),
	)
	return nil
}

// refundDecision builds the two-step decision saga: set the reservation to
// reservationStatus, then apply decide to the payment.
func (c *Coordinator) refundDecision(name string, reservationStatus domain.ReservationStatus, decide func(*domain.Payment) error) *saga.Definition {
	return saga.NewDefinition(name).
		AddStep(&saga.Step{
			Name: "set-reservation-status",
			Execute: func(ctx context.Context, data saga.Data) (saga.Data, error) {
				id := data[dataReservationID]
				if id == "" {
					return nil, nil
				}
				prev, err := c.reservations.SetStatus(ctx, id, reservationStatus)
				if err != nil {
					return nil, err
				}
				return saga.Data{dataPreviousStatus: string(prev)}, nil
			},
			Compensate: func(ctx context.Context, data saga.Data) error {
				id, prev := data[dataReservationID], data[dataPreviousStatus]
				if id == "" || prev == "" {
					return nil
				}
				_, err := c.reservations.SetStatus(ctx, id, domain.ReservationStatus(prev))
				return err
			},
		}).
		AddStep(&saga.Step{
			Name: "set-payment-status",
			Execute: func(ctx context.Context, data saga.Data) (saga.Data, error) {
				id := data[dataPaymentID]
				p, err := c.fresh(ctx, c.payments.GetByID(ctx, id), id)
				if err != nil {
					return nil, err
				}
				if err := decide(p); err != nil {
					return nil, err
				}
				return nil, c.payments.Update(ctx, p)
			},
		})
}

// orderedReservation returns the reservation an order pays for
func (c *Coordinator) orderedReservation(req OrderRequest) (*domain.Reservation, error) {
	r, ok := c.reservations.Get(req.ReservationID)
	if !ok || r.UserID != req.UserID {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, req.ReservationID)
	}
	if req.EventID != "" && req.EventID != r.EventID {
		return nil, fmt.Errorf("%w: reservation %s is for event %s", domain.ErrInvalidReservation, r.ID, r.EventID)
	}
	if r.Status != domain.ReservationPending {
		return nil, fmt.Errorf("%w: reservation %s is %s", domain.ErrInvalidTransition, r.ID, r.Status)
	}
	if cents(req.Amount) != cents(r.TotalPrice) {
		return nil, fmt.Errorf("%w: %.2f does not match reservation total %.2f", domain.ErrInvalidAmount, req.Amount, r.TotalPrice)
	}
	return r, nil
}

// confirmReservation moves the paid reservation from PENDING to CONFIRMED.
// The payment is already recorded as PAID, so a failure is only logged.
func (c *Coordinator) confirmReservation(ctx context.Context, p *domain.Payment) {
	if p.ReservationID == "" {
		return
	}
	r, ok := c.reservations.Get(p.ReservationID)
	if !ok || r.Status != domain.ReservationPending {
		c.log.WarnContext(ctx, "paid reservation is not pending, left as is",
			zap.String("payment_id", p.ID),
			zap.String("reservation_id", p.ReservationID),
			zap.Bool("found", ok),
		)
		return
	}
	if _, err := c.reservations.SetStatus(ctx, r.ID, domain.ReservationConfirmed); err != nil {
		c.log.ErrorContext(ctx, "failed to confirm paid reservation",
			zap.String("payment_id", p.ID),
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}

// owned hides payments that belong to another user. An empty userID skips
// the check.
func owned(p *domain.Payment, userID, ref string) error {
	if userID != "" && p.UserID != userID {
		return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, ref)
	}
	return nil
}

func cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// fresh unwraps a read that must come from the remote store
func (c *Coordinator) fresh(ctx context.Context, res domain.Result[*domain.Payment], ref string) (*domain.Payment, error) {
	switch {
	case res.Status == domain.NotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, ref)
	case !res.OK():
		return nil, res.Err
	case res.Stale():
		return nil, res.Err
	}
	return res.Value, nil
}

func (c *Coordinator) publish(ctx context.Context, t EventType, p *domain.Payment) {
	if err := c.publisher.Publish(ctx, NewPaymentEvent(t, p)); err != nil {
		metrics.PublishFailures.Inc(ctx, attribute.String("type", string(t)))
		c.log.WarnContext(ctx, "failed to publish payment event",
			zap.String("type", string(t)),
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
	}
}
