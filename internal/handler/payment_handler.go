package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/payment"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/middleware"
	"github.com/prohmpiriya/campus-ticketing/pkg/response"
)

// PaymentService is the payment lifecycle used by the HTTP layer
type PaymentService interface {
	CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.OrderResult, error)
	CaptureOrder(ctx context.Context, orderID, userID string) (*domain.Payment, error)
	Refund(ctx context.Context, paymentID, userID string) error
	ApproveRefund(ctx context.Context, paymentID string) error
	RejectRefund(ctx context.Context, paymentID string) error
}

// PaymentHandler handles payment HTTP endpoints
type PaymentHandler struct {
	payments PaymentService
	log      *logger.Logger
}

func NewPaymentHandler(payments PaymentService, log *logger.Logger) *PaymentHandler {
	if log == nil {
		log = logger.Get()
	}
	return &PaymentHandler{payments: payments, log: log.Named("payment_handler")}
}

// CreateOrderRequest is the body of POST /payments/orders
type CreateOrderRequest struct {
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	Currency      string  `json:"currency" binding:"omitempty,len=3"`
	EventID       string  `json:"event_id" binding:"required"`
	ReservationID string  `json:"reservation_id"`
}

// OrderResponse is returned for a created order
type OrderResponse struct {
	OrderID     string          `json:"order_id"`
	ApprovalURL string          `json:"approval_url,omitempty"`
	Payment     *domain.Payment `json:"payment"`
}

// CreateOrder handles POST /payments/orders
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID, _ := middleware.GetUserID(c)

	res, err := h.payments.CreateOrder(c.Request.Context(), payment.OrderRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		EventID:       req.EventID,
		UserID:        userID,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, response.Response{
		Success: true,
		Data: OrderResponse{
			OrderID:     res.OrderID,
			ApprovalURL: res.ApprovalURL,
			Payment:     res.Payment,
		},
	})
}

// CaptureOrder handles POST /payments/orders/:orderId/capture
func (h *PaymentHandler) CaptureOrder(c *gin.Context) {
	p, err := h.payments.CaptureOrder(c.Request.Context(), c.Param("orderId"), payerScope(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, p)
}

// Refund handles POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	scope := payerScope(c)
	h.transition(c, func(ctx context.Context, id string) error {
		return h.payments.Refund(ctx, id, scope)
	}, domain.PaymentRefundPending)
}

// ApproveRefund handles POST /admin/payments/:id/refund/approve
func (h *PaymentHandler) ApproveRefund(c *gin.Context) {
	h.transition(c, h.payments.ApproveRefund, domain.PaymentRefunded)
}

// RejectRefund handles POST /admin/payments/:id/refund/reject
func (h *PaymentHandler) RejectRefund(c *gin.Context) {
	h.transition(c, h.payments.RejectRefund, domain.PaymentPaid)
}

// payerScope is the user a payment must belong to; admins act on any payment
func payerScope(c *gin.Context) string {
	u := caller(c)
	if u.IsAdmin() {
		return ""
	}
	return u.ID
}

func (h *PaymentHandler) transition(c *gin.Context, op func(context.Context, string) error, status domain.PaymentStatus) {
	id := c.Param("id")
	if err := op(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, gin.H{"payment_id": id, "status": status})
}
