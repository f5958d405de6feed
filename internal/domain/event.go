package domain

import (
	"fmt"
	"time"
)

// EventStatus represents the moderation status of an event
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusApproved  EventStatus = "APPROVED"
	EventStatusRejected  EventStatus = "REJECTED"
	EventStatusCompleted EventStatus = "COMPLETED"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusPending:  {EventStatusApproved, EventStatusRejected},
	EventStatusApproved: {EventStatusCompleted},
}

// Schedule is when an event takes place, in campus local time
type Schedule struct {
	Date      string `json:"date"`       // 2006-01-02
	StartTime string `json:"start_time"` // 15:04
	EndTime   string `json:"end_time"`
}

// SeatPool is one priced zone of an event
type SeatPool struct {
	Capacity  int     `json:"capacity"`
	Available int     `json:"available"`
	Price     float64 `json:"price"`
}

// Validate checks 0 <= Available <= Capacity and a non-negative price
func (p SeatPool) Validate() error {
	if p.Capacity < 0 || p.Available < 0 || p.Available > p.Capacity {
		return fmt.Errorf("%w: %d of %d", ErrInvalidSeatPool, p.Available, p.Capacity)
	}
	if p.Price < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Event represents a campus event
type Event struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Schedule      Schedule    `json:"schedule"`
	Venue         string      `json:"venue"`
	OrganizerID   string      `json:"organizer_id"`
	OrganizerName string      `json:"organizer_name"`
	RockZone      SeatPool    `json:"rock_zone"`
	NormalZone    SeatPool    `json:"normal_zone"`
	Status        EventStatus `json:"status"`
	ImageURL      string      `json:"image_url,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (e *Event) GetID() string { return e.ID }

// Validate checks both seat pools
func (e *Event) Validate() error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	if err := e.RockZone.Validate(); err != nil {
		return fmt.Errorf("rock zone: %w", err)
	}
	if err := e.NormalZone.Validate(); err != nil {
		return fmt.Errorf("normal zone: %w", err)
	}
	return nil
}

// TransitionTo moves the event to next, allowing only
// PENDING->APPROVED, PENDING->REJECTED and APPROVED->COMPLETED.
func (e *Event) TransitionTo(next EventStatus) error {
	for _, allowed := range eventTransitions[e.Status] {
		if allowed == next {
			e.Status = next
			e.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: event %s -> %s", ErrInvalidTransition, e.Status, next)
}

func (e *Event) Approve() error  { return e.TransitionTo(EventStatusApproved) }
func (e *Event) Reject() error   { return e.TransitionTo(EventStatusRejected) }
func (e *Event) Complete() error { return e.TransitionTo(EventStatusCompleted) }

// PriceFor returns the total price of the given seat counts
func (e *Event) PriceFor(rock, normal int) float64 {
	return float64(rock)*e.RockZone.Price + float64(normal)*e.NormalZone.Price
}

// ReserveSeats takes seats from both pools, all or nothing
func (e *Event) ReserveSeats(rock, normal int) error {
	if rock < 0 || normal < 0 {
		return ErrInvalidReservation
	}
	if rock > e.RockZone.Available || normal > e.NormalZone.Available {
		return fmt.Errorf("%w: requested %d rock / %d normal, available %d / %d",
			ErrInsufficientSeats, rock, normal, e.RockZone.Available, e.NormalZone.Available)
	}
	e.RockZone.Available -= rock
	e.NormalZone.Available -= normal
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseSeats returns seats to both pools without exceeding capacity
func (e *Event) ReleaseSeats(rock, normal int) {
	e.RockZone.Available = min(e.RockZone.Capacity, e.RockZone.Available+max(rock, 0))
	e.NormalZone.Available = min(e.NormalZone.Capacity, e.NormalZone.Available+max(normal, 0))
	e.UpdatedAt = time.Now().UTC()
}
