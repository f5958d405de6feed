package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	SecretKey string
}

// StripeGateway maps orders onto manual-capture PaymentIntents
type StripeGateway struct {
	newIntent     func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	captureIntent func(string, *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

// NewStripeGateway creates a Stripe gateway
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = cfg.SecretKey

	return &StripeGateway{
		newIntent:     paymentintent.New,
		captureIntent: paymentintent.Capture,
	}, nil
}

func (g *StripeGateway) Name() string {
	return "stripe"
}

// Authenticate is a no-op; Stripe authenticates every call with the secret key
func (g *StripeGateway) Authenticate(ctx context.Context) error {
	return nil
}

// CreateOrder creates a PaymentIntent that holds the funds until captured
func (g *StripeGateway) CreateOrder(ctx context.Context, amount float64, currency string) (*Order, error) {
	if err := validateOrder(amount, currency); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toMinorUnits(amount)),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	pi, err := g.newIntent(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Order{
		ID:           pi.ID,
		Status:       intentStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
	}, nil
}

// CaptureOrder captures a PaymentIntent the customer has authorized
func (g *StripeGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentCaptureParams{}

	pi, err := g.captureIntent(orderID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to capture payment intent %s: %w", orderID, err)
	}
	return &Capture{ID: pi.ID, Status: intentStatus(pi.Status)}, nil
}

// intentStatus maps PaymentIntent states onto order statuses
func intentStatus(s stripe.PaymentIntentStatus) string {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return StatusDeclined
	default:
		return StatusCreated
	}
}
