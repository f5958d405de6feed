package repository

import (
	"context"
	"strings"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/store"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
)

// UserRepository is the cache-aside repository for users
type UserRepository struct {
	*EntityRepository[*domain.User]
}

func NewUserRepository(remote, local store.Store[*domain.User], log *logger.Logger) *UserRepository {
	return &UserRepository{EntityRepository: NewEntityRepository("users", remote, local, log)}
}

// GetByEmail looks a user up by email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) domain.Result[*domain.User] {
	return r.FindByField(ctx, "email", strings.TrimSpace(email))
}

// PaymentRepository is the cache-aside repository for payments
type PaymentRepository struct {
	*EntityRepository[*domain.Payment]
}

func NewPaymentRepository(remote, local store.Store[*domain.Payment], log *logger.Logger) *PaymentRepository {
	return &PaymentRepository{EntityRepository: NewEntityRepository("payments", remote, local, log)}
}

// GetByOrderID looks a payment up by its gateway order id
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) domain.Result[*domain.Payment] {
	return r.FindByField(ctx, "order_id", orderID)
}

// NewReservationRepository creates the repository the reservation ledger
// mirrors into
func NewReservationRepository(remote, local store.Store[*domain.Reservation], log *logger.Logger) *EntityRepository[*domain.Reservation] {
	return NewEntityRepository("reservations", remote, local, log)
}
