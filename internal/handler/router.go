package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/gateway"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/middleware"
	"github.com/prohmpiriya/campus-ticketing/pkg/response"
	"github.com/prohmpiriya/campus-ticketing/pkg/telemetry"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Payments     *PaymentHandler
	Reservations *ReservationHandler
	Events       *EventHandler
	Auth         middleware.AuthConfig
	// Idempotency guards creating POST routes when set
	Idempotency gin.HandlerFunc
	Checks      map[string]HealthChecker
	ServiceName string
	Logger      *logger.Logger
}

// NewRouter builds the gin engine
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	r.Use(middleware.AccessLog(log.Named("http")))

	r.GET("/health", health(cfg.Checks))

	guard := cfg.Idempotency
	if guard == nil {
		guard = func(c *gin.Context) { c.Next() }
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/events", cfg.Events.List)
		v1.GET("/events/:id", cfg.Events.Get)
	}

	user := v1.Group("", middleware.JWTAuth(cfg.Auth))
	{
		user.POST("/payments/orders", guard, cfg.Payments.CreateOrder)
		user.POST("/payments/orders/:orderId/capture", cfg.Payments.CaptureOrder)
		user.POST("/payments/:id/refund", guard, cfg.Payments.Refund)
		user.POST("/reservations", guard, cfg.Reservations.Create)
		user.GET("/reservations", cfg.Reservations.ListMine)
		user.POST("/reservations/:id/cancel", cfg.Reservations.Cancel)
	}

	admin := v1.Group("/admin", middleware.JWTAuth(cfg.Auth), middleware.RequireRole(string(domain.RoleAdmin)))
	{
		admin.POST("/payments/:id/refund/approve", cfg.Payments.ApproveRefund)
		admin.POST("/payments/:id/refund/reject", cfg.Payments.RejectRefund)
		admin.GET("/reservations", cfg.Reservations.List)
		admin.PATCH("/reservations/:id/status", cfg.Reservations.UpdateStatus)
		admin.POST("/events/:id/approve", cfg.Events.Approve)
		admin.POST("/events/:id/reject", cfg.Events.Reject)
		admin.POST("/events/:id/complete", cfg.Events.Complete)
	}

	return r
}

func health(checks map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.HealthCheck(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		c.JSON(status, response.Response{
			Success: status == http.StatusOK,
			Data:    gin.H{"status": http.StatusText(status), "dependencies": deps},
		})
	}
}

// caller is the authenticated user as the token describes it. An unknown
// role is treated as a participant.
func caller(c *gin.Context) *domain.User {
	id, _ := middleware.GetUserID(c)
	role, err := domain.ParseRole(c.GetString(middleware.ContextKeyRole))
	if err != nil {
		role = domain.RoleParticipant
	}
	return &domain.User{ID: id, Role: role}
}

// writeError maps domain errors onto HTTP responses
func writeError(c *gin.Context, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrReservationNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidReservation),
		errors.Is(err, domain.ErrInvalidSeatPool),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, gateway.ErrInvalidRequest):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrReservationExists),
		errors.Is(err, domain.ErrInsufficientSeats),
		errors.Is(err, domain.ErrOrganizerNotAllowed):
		response.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrCaptureNotRecorded):
		log.ErrorContext(c.Request.Context(), "capture not recorded", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "CAPTURE_NOT_RECORDED",
			"payment was captured but its status could not be saved; contact support")
	case errors.Is(err, domain.ErrGatewayFailure):
		response.BadGateway(c, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		response.ServiceUnavailable(c, "storage temporarily unavailable, try again")
	default:
		log.ErrorContext(c.Request.Context(), "request failed", zap.Error(err))
		response.InternalError(c)
	}
}
