package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/response"
)

// EventService is the event repository surface used over HTTP
type EventService interface {
	GetAll(ctx context.Context) domain.Result[[]*domain.Event]
	GetByID(ctx context.Context, id string) domain.Result[*domain.Event]
	Approve(ctx context.Context, id string) (*domain.Event, error)
	Reject(ctx context.Context, id string) (*domain.Event, error)
	Complete(ctx context.Context, id string) (*domain.Event, error)
}

// EventHandler handles event HTTP endpoints
type EventHandler struct {
	events EventService
	log    *logger.Logger
}

func NewEventHandler(events EventService, log *logger.Logger) *EventHandler {
	if log == nil {
		log = logger.Get()
	}
	return &EventHandler{events: events, log: log.Named("event_handler")}
}

// List handles GET /events. A list served from the local cache is still a
// success; meta.source tells the client it may be stale.
func (h *EventHandler) List(c *gin.Context) {
	res := h.events.GetAll(c.Request.Context())
	if !res.OK() {
		writeError(c, h.log, res.Err)
		return
	}
	response.List(c, res.Value, &response.Meta{Count: len(res.Value), Source: res.Source.String()})
}

// Get handles GET /events/:id
func (h *EventHandler) Get(c *gin.Context) {
	res := h.events.GetByID(c.Request.Context(), c.Param("id"))
	if !res.OK() {
		writeError(c, h.log, res.Err)
		return
	}
	if res.Stale() {
		c.Header("Warning", `110 - "Response is Stale"`)
	}
	response.Success(c, res.Value)
}

func (h *EventHandler) Approve(c *gin.Context) {
	h.moderate(c, h.events.Approve)
}

func (h *EventHandler) Reject(c *gin.Context) {
	h.moderate(c, h.events.Reject)
}

func (h *EventHandler) Complete(c *gin.Context) {
	h.moderate(c, h.events.Complete)
}

func (h *EventHandler) moderate(c *gin.Context, op func(context.Context, string) (*domain.Event, error)) {
	e, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, e)
}
