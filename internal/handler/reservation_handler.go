package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/middleware"
	"github.com/prohmpiriya/campus-ticketing/pkg/response"
)

// ReservationService is the reservation ledger surface used over HTTP
type ReservationService interface {
	Create(ctx context.Context, r *domain.Reservation) error
	Get(id string) (*domain.Reservation, bool)
	ListByUser(userID string) []*domain.Reservation
	ListByEvent(eventID string) []*domain.Reservation
	Cancel(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id, label string) error
}

// ReservationHandler handles reservation HTTP endpoints
type ReservationHandler struct {
	ledger ReservationService
	log    *logger.Logger
}

func NewReservationHandler(ledger ReservationService, log *logger.Logger) *ReservationHandler {
	if log == nil {
		log = logger.Get()
	}
	return &ReservationHandler{ledger: ledger, log: log.Named("reservation_handler")}
}

// CreateReservationRequest is the body of POST /reservations
type CreateReservationRequest struct {
	EventID     string `json:"event_id" binding:"required"`
	RockSeats   int    `json:"rock_seats" binding:"min=0"`
	NormalSeats int    `json:"normal_seats" binding:"min=0"`
}

// Create handles POST /reservations. Seats are taken from the event and the
// total price is filled in by the ledger.
func (h *ReservationHandler) Create(c *gin.Context) {
	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.RockSeats+req.NormalSeats == 0 {
		response.BadRequest(c, "at least one seat is required")
		return
	}
	userID, _ := middleware.GetUserID(c)

	r := &domain.Reservation{
		ID:          uuid.New().String(),
		EventID:     req.EventID,
		UserID:      userID,
		RockSeats:   req.RockSeats,
		NormalSeats: req.NormalSeats,
	}
	if err := h.ledger.Create(c.Request.Context(), r); err != nil {
		writeError(c, h.log, err)
		return
	}
	created, _ := h.ledger.Get(r.ID)
	c.JSON(http.StatusCreated, response.Response{Success: true, Data: created})
}

// ListMine handles GET /reservations for the authenticated user
func (h *ReservationHandler) ListMine(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user id missing from token")
		return
	}
	items := h.ledger.ListByUser(userID)
	response.List(c, items, &response.Meta{Count: len(items)})
}

// List handles GET /admin/reservations?event_id=&user_id=
func (h *ReservationHandler) List(c *gin.Context) {
	var items []*domain.Reservation
	if eventID := c.Query("event_id"); eventID != "" {
		items = h.ledger.ListByEvent(eventID)
	} else {
		items = h.ledger.ListByUser(c.Query("user_id"))
	}
	response.List(c, items, &response.Meta{Count: len(items)})
}

// Cancel handles POST /reservations/:id/cancel. Users may only cancel their
// own reservations; admins may cancel any.
func (h *ReservationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	u := caller(c)

	r, ok := h.ledger.Get(id)
	if !ok || (r.UserID != u.ID && !u.IsAdmin()) {
		response.NotFound(c, "reservation not found")
		return
	}
	if err := h.ledger.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	r, _ = h.ledger.Get(id)
	response.Success(c, r)
}

// UpdateStatusRequest is the body of PATCH /admin/reservations/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PATCH /admin/reservations/:id/status
func (h *ReservationHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	id := c.Param("id")
	if err := h.ledger.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		writeError(c, h.log, err)
		return
	}
	r, _ := h.ledger.Get(id)
	response.Success(c, r)
}
