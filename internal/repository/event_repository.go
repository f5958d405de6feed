package repository

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/store"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
)

// EventRepository is the cache-aside repository for events. Reads fill in
// OrganizerName from the name cache when the stored record leaves it blank.
type EventRepository struct {
	*EntityRepository[*domain.Event]
	names *NameCache
}

// NewEventRepository creates an event repository; names may be nil
func NewEventRepository(remote, local store.Store[*domain.Event], names *NameCache, log *logger.Logger) *EventRepository {
	return &EventRepository{
		EntityRepository: NewEntityRepository("events", remote, local, log),
		names:            names,
	}
}

// GetByID returns the event with its organizer name filled in
func (r *EventRepository) GetByID(ctx context.Context, id string) domain.Result[*domain.Event] {
	res := r.EntityRepository.GetByID(ctx, id)
	if res.OK() && r.names != nil && res.Value.OrganizerName == "" {
		res.Value.OrganizerName = r.names.Resolve(ctx, res.Value.OrganizerID)
	}
	return res
}

// GetAll returns every event with organizer names filled in. Names are
// preloaded in one batch before the list is decorated.
func (r *EventRepository) GetAll(ctx context.Context) domain.Result[[]*domain.Event] {
	res := r.EntityRepository.GetAll(ctx)
	if !res.OK() || r.names == nil {
		return res
	}

	ids := make([]string, 0, len(res.Value))
	for _, e := range res.Value {
		if e.OrganizerName == "" {
			ids = append(ids, e.OrganizerID)
		}
	}
	if len(ids) == 0 {
		return res
	}

	r.names.Preload(ctx, ids)
	for _, e := range res.Value {
		if e.OrganizerName == "" {
			e.OrganizerName = r.names.Resolve(ctx, e.OrganizerID)
		}
	}
	return res
}

// Create validates both seat pools before writing the event
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return r.EntityRepository.Create(ctx, event)
}

// Update validates both seat pools before writing the event
func (r *EventRepository) Update(ctx context.Context, event *domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return r.EntityRepository.Update(ctx, event)
}

// Approve moves a pending event to APPROVED. The organizer must be an
// approved, active organizer.
func (r *EventRepository) Approve(ctx context.Context, id string) (*domain.Event, error) {
	return r.transition(ctx, id, func(e *domain.Event) error {
		if err := e.Approve(); err != nil {
			return err
		}
		return r.checkOrganizer(ctx, e.OrganizerID)
	})
}

// Reject moves a pending event to REJECTED
func (r *EventRepository) Reject(ctx context.Context, id string) (*domain.Event, error) {
	return r.transition(ctx, id, (*domain.Event).Reject)
}

// Complete moves an approved event to COMPLETED
func (r *EventRepository) Complete(ctx context.Context, id string) (*domain.Event, error) {
	return r.transition(ctx, id, (*domain.Event).Complete)
}

func (r *EventRepository) transition(ctx context.Context, id string, apply func(*domain.Event) error) (*domain.Event, error) {
	event, err := r.fresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(event); err != nil {
		return nil, err
	}
	if err := r.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (r *EventRepository) checkOrganizer(ctx context.Context, organizerID string) error {
	if r.names == nil {
		return nil
	}
	res := r.names.users.GetByID(ctx, organizerID)
	switch {
	case res.Status == domain.NotFound:
		return fmt.Errorf("%w: organizer %q not found", domain.ErrOrganizerNotAllowed, organizerID)
	case !res.OK():
		return res.Err
	case !res.Value.CanOrganize():
		return fmt.Errorf("%w: %s", domain.ErrOrganizerNotAllowed, organizerID)
	}
	return nil
}

// fresh loads an event from the remote store. Mutations are never based on a
// cached copy.
func (r *EventRepository) fresh(ctx context.Context, id string) (*domain.Event, error) {
	res := r.EntityRepository.GetByID(ctx, id)
	switch {
	case res.Status == domain.NotFound:
		return nil, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	case !res.OK():
		return nil, res.Err
	case res.Stale():
		return nil, res.Err
	}
	return res.Value, nil
}
