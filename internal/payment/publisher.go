package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/pkg/kafka"
)

// EventType names a payment lifecycle transition
type EventType string

const (
	EventCreated         EventType = "payment.created"
	EventPaid            EventType = "payment.paid"
	EventFailed          EventType = "payment.failed"
	EventRefundRequested EventType = "payment.refund_requested"
	EventRefunded        EventType = "payment.refunded"
	EventRefundRejected  EventType = "payment.refund_rejected"
)

// PaymentEvent is published after every committed payment transition
type PaymentEvent struct {
	ID            string               `json:"id"`
	Type          EventType            `json:"type"`
	PaymentID     string               `json:"payment_id"`
	OrderID       string               `json:"order_id"`
	ReservationID string               `json:"reservation_id,omitempty"`
	EventID       string               `json:"event_id"`
	UserID        string               `json:"user_id"`
	Status        domain.PaymentStatus `json:"status"`
	Amount        float64              `json:"amount"`
	Currency      string               `json:"currency"`
	Gateway       string               `json:"gateway"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewPaymentEvent snapshots p as an event of type t
func NewPaymentEvent(t EventType, p *domain.Payment) *PaymentEvent {
	return &PaymentEvent{
		ID:            uuid.New().String(),
		Type:          t,
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		ReservationID: p.ReservationID,
		EventID:       p.EventID,
		UserID:        p.UserID,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Gateway:       p.Gateway,
		OccurredAt:    time.Now().UTC(),
	}
}

// EventPublisher delivers payment events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event *PaymentEvent) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
}

// KafkaPublisherConfig contains configuration for the event publisher
type KafkaPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher connects a producer for payment events
func NewKafkaEventPublisher(ctx context.Context, cfg *KafkaPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, kafka.ErrNoBrokers
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "payment-events"
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "campus-ticketing"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = serviceName + "-payments"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
	}, nil
}

// Publish sends the event keyed by payment id so a payment's events stay
// ordered within one partition
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *PaymentEvent) error {
	headers := map[string]string{
		"event_type":   string(event.Type),
		"event_id":     event.ID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}
	if err := p.producer.ProduceJSON(ctx, p.topic, event.PaymentID, event, headers); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher discards events
type NoOpEventPublisher struct{}

func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

func (p *NoOpEventPublisher) Publish(ctx context.Context, event *PaymentEvent) error {
	return nil
}

func (p *NoOpEventPublisher) Close() error {
	return nil
}

// MemoryEventPublisher keeps published events in memory
type MemoryEventPublisher struct {
	mu     sync.Mutex
	events []*PaymentEvent
	err    error
}

func NewMemoryEventPublisher() *MemoryEventPublisher {
	return &MemoryEventPublisher{}
}

// FailWith makes every later Publish return err
func (p *MemoryEventPublisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *MemoryEventPublisher) Publish(ctx context.Context, event *PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns the published events in order
func (p *MemoryEventPublisher) Events() []*PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*PaymentEvent(nil), p.events...)
}

// Types returns the published event types in order
func (p *MemoryEventPublisher) Types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *MemoryEventPublisher) Close() error {
	return nil
}
