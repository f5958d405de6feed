package domain

import "errors"

// Common domain errors
var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnavailable = errors.New("remote store unavailable")

	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSeatPool   = errors.New("available seats exceed pool capacity")
	ErrInvalidEvent      = errors.New("invalid event")

	ErrOrganizerNotAllowed = errors.New("organizer may not publish events")
	ErrInsufficientSeats = errors.New("not enough seats available")

	ErrReservationExists   = errors.New("reservation already exists")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidReservation  = errors.New("invalid reservation")

	ErrPaymentNotFound    = errors.New("payment not found")
	ErrGatewayFailure     = errors.New("payment gateway failure")
	ErrCaptureNotRecorded = errors.New("capture succeeded but payment status was not recorded")
)
