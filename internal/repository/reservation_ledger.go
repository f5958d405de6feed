package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/metrics"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"go.uber.org/zap"
)

// SeatInventory takes and returns seats for reservations. Reserve returns the
// total price of the seats taken.
type SeatInventory interface {
	Reserve(ctx context.Context, eventID string, rock, normal int) (float64, error)
	Release(ctx context.Context, eventID string, rock, normal int) error
}

// ReservationMirror persists ledger mutations outside the process
type ReservationMirror interface {
	Create(ctx context.Context, r *domain.Reservation) error
	Update(ctx context.Context, r *domain.Reservation) error
	GetAll(ctx context.Context) domain.Result[[]*domain.Reservation]
}

// LedgerConfig configures a ReservationLedger. Inventory and Mirror are
// optional.
type LedgerConfig struct {
	Inventory SeatInventory
	Mirror    ReservationMirror
	Logger    *logger.Logger
}

// ReservationLedger is the authoritative in-process record of reservations.
// One mutex serializes every mutation, so existence checks, seat accounting
// and the mirror write for a mutation all happen atomically.
type ReservationLedger struct {
	mu    sync.Mutex
	byID  map[string]*domain.Reservation
	order []string

	inventory SeatInventory
	mirror    ReservationMirror
	log       *logger.Logger
}

// NewReservationLedger creates an empty ledger
func NewReservationLedger(cfg LedgerConfig) *ReservationLedger {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	return &ReservationLedger{
		byID:      make(map[string]*domain.Reservation),
		inventory: cfg.Inventory,
		mirror:    cfg.Mirror,
		log:       log.Named("reservation_ledger"),
	}
}

// Create adds r to the ledger. A blank status defaults to PENDING; any other
// status must parse as a known label. When an inventory is configured, seats
// are taken and TotalPrice is set from it.
func (l *ReservationLedger) Create(ctx context.Context, r *domain.Reservation) error {
	if r == nil {
		return domain.ErrInvalidReservation
	}
	if err := r.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[r.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrReservationExists, r.ID)
	}

	res := *r
	if strings.TrimSpace(string(res.Status)) == "" {
		res.Status = domain.ReservationPending
	} else {
		status, err := domain.ParseReservationStatus(string(res.Status))
		if err != nil {
			return err
		}
		res.Status = status
	}
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	if l.inventory != nil && res.Status.IsActive() {
		price, err := l.inventory.Reserve(ctx, res.EventID, res.RockSeats, res.NormalSeats)
		if err != nil {
			return fmt.Errorf("reserve seats for %s: %w", res.ID, err)
		}
		res.TotalPrice = price
	}

	l.byID[res.ID] = &res
	l.order = append(l.order, res.ID)

	metrics.ReservationsCreated.Inc(ctx)
	if res.Status.IsActive() {
		metrics.ActiveReservations.Inc(ctx)
	}
	l.mirrorWrite(ctx, "create", &res)
	return nil
}

// Cancel marks the reservation CANCELLED. Cancelling twice is not an error;
// seats are only released once. A failed release leaves the reservation
// active so the cancel can be retried.
func (l *ReservationLedger) Cancel(ctx context.Context, id string) error {
	_, err := l.SetStatus(ctx, id, domain.ReservationCancelled)
	if err == nil {
		metrics.ReservationsCancelled.Inc(ctx)
	}
	return err
}

// UpdateStatus sets the status from a label such as "confirmed". Unknown
// labels return ErrInvalidStatus and leave the reservation untouched.
func (l *ReservationLedger) UpdateStatus(ctx context.Context, id, label string) error {
	status, err := domain.ParseReservationStatus(label)
	if err != nil {
		return err
	}
	_, err = l.SetStatus(ctx, id, status)
	return err
}

// SetStatus sets the status and returns the previous one. Moving out of an
// active status releases seats; moving back into one takes them again.
func (l *ReservationLedger) SetStatus(ctx context.Context, id string, status domain.ReservationStatus) (domain.ReservationStatus, error) {
	if _, err := domain.ParseReservationStatus(string(status)); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}

	prev := r.Status
	if prev == status {
		return prev, nil
	}

	// Seats move before the status commits, so a failed move leaves the
	// reservation as it was and a retry repeats it.
	wasActive, nowActive := prev.IsActive(), status.IsActive()
	if l.inventory != nil {
		switch {
		case !wasActive && nowActive:
			if _, err := l.inventory.Reserve(ctx, r.EventID, r.RockSeats, r.NormalSeats); err != nil {
				return prev, fmt.Errorf("reserve seats for %s: %w", id, err)
			}
		case wasActive && !nowActive:
			if err := l.inventory.Release(ctx, r.EventID, r.RockSeats, r.NormalSeats); err != nil {
				l.log.ErrorContext(ctx, "failed to release seats",
					zap.String("reservation_id", id),
					zap.String("event_id", r.EventID),
					zap.Error(err),
				)
				return prev, fmt.Errorf("release seats for %s: %w", id, err)
			}
		}
	}

	r.Status = status
	r.UpdatedAt = time.Now().UTC()

	switch {
	case wasActive && !nowActive:
		metrics.ActiveReservations.Dec(ctx)
	case !wasActive && nowActive:
		metrics.ActiveReservations.Inc(ctx)
	}

	l.mirrorWrite(ctx, "update", r)
	return prev, nil
}

// Get returns a copy of the reservation
func (l *ReservationLedger) Get(id string) (*domain.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

// ListByUser returns the user's reservations in creation order. An empty
// userID lists every reservation.
func (l *ReservationLedger) ListByUser(userID string) []*domain.Reservation {
	return l.filter(func(r *domain.Reservation) bool {
		return userID == "" || r.UserID == userID
	})
}

// ListByEvent returns the event's reservations in creation order
func (l *ReservationLedger) ListByEvent(eventID string) []*domain.Reservation {
	return l.filter(func(r *domain.Reservation) bool {
		return r.EventID == eventID
	})
}

// Len returns the number of reservations
func (l *ReservationLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// Load replaces the ledger contents with the mirror's reservations. Seats are
// not touched; the stored events already account for them.
func (l *ReservationLedger) Load(ctx context.Context) (int, error) {
	if l.mirror == nil {
		return 0, nil
	}

	res := l.mirror.GetAll(ctx)
	if !res.OK() {
		return 0, fmt.Errorf("load reservations: %w", res.Err)
	}
	if res.Stale() {
		l.log.WarnContext(ctx, "loading reservations from local cache", zap.Error(res.Err))
	}

	byID := make(map[string]*domain.Reservation, len(res.Value))
	order := make([]string, 0, len(res.Value))
	for _, r := range res.Value {
		if r == nil || r.ID == "" {
			continue
		}
		if _, dup := byID[r.ID]; dup {
			continue
		}
		c := *r
		byID[c.ID] = &c
		order = append(order, c.ID)
	}

	l.mu.Lock()
	l.byID = byID
	l.order = order
	l.mu.Unlock()

	l.log.InfoContext(ctx, "reservation ledger loaded", zap.Int("count", len(order)))
	return len(order), nil
}

func (l *ReservationLedger) filter(keep func(*domain.Reservation) bool) []*domain.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.Reservation, 0)
	for _, id := range l.order {
		r := l.byID[id]
		if keep(r) {
			c := *r
			out = append(out, &c)
		}
	}
	return out
}

// mirrorWrite runs under l.mu so mirrored writes keep ledger order
func (l *ReservationLedger) mirrorWrite(ctx context.Context, op string, r *domain.Reservation) {
	if l.mirror == nil {
		return
	}

	c := *r
	var err error
	if op == "create" {
		err = l.mirror.Create(ctx, &c)
	} else {
		err = l.mirror.Update(ctx, &c)
	}
	if err != nil {
		l.log.WarnContext(ctx, "reservation mirror write failed",
			zap.String("op", op),
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}
