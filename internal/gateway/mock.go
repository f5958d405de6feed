package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway implements PaymentGateway for local development and tests
type MockGateway struct {
	config *MockConfig
	orders sync.Map // order id -> *Order
	mu     sync.RWMutex
}

// MockConfig holds configuration for the mock gateway
type MockConfig struct {
	// SuccessRate is the probability that a capture completes (0.0 to 1.0)
	SuccessRate float64

	// Delay is the simulated latency of every call
	Delay time.Duration

	// ApprovalBaseURL prefixes the approval link of created orders
	ApprovalBaseURL string
}

// DefaultMockConfig returns default configuration
func DefaultMockConfig() *MockConfig {
	return &MockConfig{
		SuccessRate:     1,
		ApprovalBaseURL: "https://mock.gateway.local/checkout",
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockConfig) *MockGateway {
	if config == nil {
		config = DefaultMockConfig()
	}
	config.SuccessRate = clamp(config.SuccessRate)
	return &MockGateway{config: config}
}

func (g *MockGateway) Name() string {
	return "mock"
}

func (g *MockGateway) Authenticate(ctx context.Context) error {
	return g.wait(ctx)
}

// CreateOrder records a new order awaiting capture
func (g *MockGateway) CreateOrder(ctx context.Context, amount float64, currency string) (*Order, error) {
	if err := validateOrder(amount, currency); err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("MOCK-%s", uuid.New().String()[:13])
	approval := g.config.ApprovalBaseURL + "?token=" + id
	order := &Order{
		ID:          id,
		Status:      StatusCreated,
		ApprovalURL: approval,
		Links: []Link{
			{Href: approval, Rel: "approve", Method: "GET"},
		},
	}
	g.orders.Store(id, order)

	c := *order
	return &c, nil
}

// CaptureOrder completes or declines an order according to SuccessRate.
// Capturing a completed order again returns the same capture.
func (g *MockGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	v, ok := g.orders.Load(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	order := v.(*Order)

	g.mu.Lock()
	defer g.mu.Unlock()

	if order.Status == StatusCreated {
		if rand.Float64() < g.config.SuccessRate {
			order.Status = StatusCompleted
		} else {
			order.Status = StatusDeclined
		}
	}
	return &Capture{ID: "CAP-" + order.ID, Status: order.Status}, nil
}

// SetSuccessRate updates the success rate (for testing)
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.SuccessRate = clamp(rate)
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.config.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.config.Delay):
		return nil
	}
}

func clamp(rate float64) float64 {
	return max(0, min(1, rate))
}
