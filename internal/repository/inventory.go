package repository

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
)

// EventInventory keeps seat counts on the stored events. Callers serialize
// access; the reservation ledger does so under its lock.
type EventInventory struct {
	events *EventRepository
}

func NewEventInventory(events *EventRepository) *EventInventory {
	return &EventInventory{events: events}
}

// Reserve takes seats from the event and returns their total price
func (i *EventInventory) Reserve(ctx context.Context, eventID string, rock, normal int) (float64, error) {
	event, err := i.events.fresh(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if event.Status != domain.EventStatusApproved {
		return 0, fmt.Errorf("%w: event %s is %s", domain.ErrInvalidTransition, eventID, event.Status)
	}
	if err := event.ReserveSeats(rock, normal); err != nil {
		return 0, err
	}
	if err := i.events.Update(ctx, event); err != nil {
		return 0, err
	}
	return event.PriceFor(rock, normal), nil
}

// Release returns seats to the event
func (i *EventInventory) Release(ctx context.Context, eventID string, rock, normal int) error {
	event, err := i.events.fresh(ctx, eventID)
	if err != nil {
		return err
	}
	event.ReleaseSeats(rock, normal)
	return i.events.Update(ctx, event)
}
