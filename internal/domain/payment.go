package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentRefunded      PaymentStatus = "REFUNDED"
	PaymentFailed        PaymentStatus = "FAILED"
)

// Payment represents a gateway order and its settlement state
type Payment struct {
	ID            string        `json:"id"`
	ReservationID string        `json:"reservation_id,omitempty"`
	EventID       string        `json:"event_id"`
	UserID        string        `json:"user_id"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	OrderID       string        `json:"order_id"`
	ApprovalURL   string        `json:"approval_url,omitempty"`
	Gateway       string        `json:"gateway"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (p *Payment) GetID() string { return p.ID }

// NewPayment creates a PENDING payment for a gateway order
func NewPayment(orderID, eventID, userID string, amount float64, currency string) (*Payment, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required")
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Payment{
		ID:        uuid.New().String(),
		EventID:   eventID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentPending,
		OrderID:   orderID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) transition(from, to PaymentStatus) error {
	if p.Status != from {
		return fmt.Errorf("%w: payment %s is %s, want %s", ErrInvalidTransition, p.ID, p.Status, from)
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkPaid records a completed capture
func (p *Payment) MarkPaid() error {
	return p.transition(PaymentPending, PaymentPaid)
}

// MarkFailed records a capture the gateway did not complete
func (p *Payment) MarkFailed(reason string) error {
	if err := p.transition(PaymentPending, PaymentFailed); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

// RequestRefund moves a paid payment into admin review
func (p *Payment) RequestRefund() error {
	return p.transition(PaymentPaid, PaymentRefundPending)
}

// ApproveRefund completes an admin-approved refund
func (p *Payment) ApproveRefund() error {
	return p.transition(PaymentRefundPending, PaymentRefunded)
}

// RejectRefund returns a payment under review to PAID
func (p *Payment) RejectRefund() error {
	return p.transition(PaymentRefundPending, PaymentPaid)
}

// IsFinal returns true if no further transition is possible
func (p *Payment) IsFinal() bool {
	return p.Status == PaymentRefunded || p.Status == PaymentFailed
}
