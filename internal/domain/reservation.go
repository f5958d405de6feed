package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReservationStatus represents the status of a reservation
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

var reservationStatuses = []ReservationStatus{
	ReservationPending,
	ReservationConfirmed,
	ReservationCancelled,
	ReservationCompleted,
	ReservationExpired,
}

// ParseReservationStatus parses a status label case-insensitively
func ParseReservationStatus(label string) (ReservationStatus, error) {
	for _, s := range reservationStatuses {
		if strings.EqualFold(strings.TrimSpace(label), string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, label)
}

// IsActive reports whether a reservation in this status holds seats
func (s ReservationStatus) IsActive() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Reservation is a user's hold on seats for an event
type Reservation struct {
	ID          string            `json:"id"`
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id"`
	RockSeats   int               `json:"rock_seats"`
	NormalSeats int               `json:"normal_seats"`
	TotalPrice  float64           `json:"total_price"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *Reservation) GetID() string { return r.ID }

// Validate checks the fields the ledger relies on
func (r *Reservation) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidReservation)
	}
	if r.RockSeats < 0 || r.NormalSeats < 0 {
		return fmt.Errorf("%w: negative seat count", ErrInvalidReservation)
	}
	return nil
}
