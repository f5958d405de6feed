package gateway

import (
	"context"
	"errors"
)

// Order statuses shared by every provider
const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"
	StatusDeclined  = "DECLINED"
)

var (
	// ErrNotAuthenticated is returned when credentials are rejected
	ErrNotAuthenticated = errors.New("gateway: authentication failed")
	// ErrOrderNotFound is returned for an unknown order id
	ErrOrderNotFound = errors.New("gateway: order not found")
	// ErrInvalidRequest is returned for amounts or ids the gateway refuses
	ErrInvalidRequest = errors.New("gateway: invalid request")
)

// Link is a HATEOAS link returned with an order
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Order is a payment order created at the gateway
type Order struct {
	ID          string
	Status      string
	ApprovalURL string
	// ClientSecret is set by providers that confirm on the client side
	ClientSecret string
	Links        []Link
}

// Capture is the result of capturing an approved order
type Capture struct {
	ID     string
	Status string
}

// Completed reports whether the funds were captured
func (c *Capture) Completed() bool {
	return c != nil && c.Status == StatusCompleted
}

// PaymentGateway is an external payment provider
type PaymentGateway interface {
	// Authenticate obtains or refreshes provider credentials
	Authenticate(ctx context.Context) error
	// CreateOrder opens an order for amount in currency
	CreateOrder(ctx context.Context, amount float64, currency string) (*Order, error)
	// CaptureOrder captures an approved order
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
	// Name returns the provider name
	Name() string
}

func validateOrder(amount float64, currency string) error {
	if amount <= 0 {
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	}
	if len(currency) != 3 {
		return errors.Join(ErrInvalidRequest, errors.New("currency must be an ISO 4217 code"))
	}
	return nil
}

// toMinorUnits converts an amount to cents, rounding to the nearest unit
func toMinorUnits(amount float64) int64 {
	if amount < 0 {
		return int64(amount*100 - 0.5)
	}
	return int64(amount*100 + 0.5)
}
