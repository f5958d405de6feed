package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/pkg/database"
)

// Schema creates the remote store tables. It is safe to apply repeatedly.
//
//go:embed schema.sql
var Schema string

// PostgreSQL error code for unique violation
const pgUniqueViolationCode = "23505"

// table maps one entity kind onto a table. The first column is the primary key.
type table[T domain.Entity] struct {
	name    string
	columns []string
	// lookups are the columns GetByField may filter on
	lookups map[string]bool
	scan    func(row pgx.Row) (T, error)
	values  func(e T) []any
	orderBy string
}

// PostgresStore is the remote source of truth for one entity kind
type PostgresStore[T domain.Entity] struct {
	db *database.PostgresDB
	t  table[T]
}

func (s *PostgresStore[T]) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(s.t.columns, ", "), s.t.name)
}

func (s *PostgresStore[T]) GetByID(ctx context.Context, id string) (T, error) {
	query := s.selectSQL() + " WHERE " + s.t.columns[0] + " = $1"
	return s.scanOne(s.db.Pool().QueryRow(ctx, query, id))
}

func (s *PostgresStore[T]) GetByField(ctx context.Context, field, value string) (T, error) {
	if !s.t.lookups[field] {
		var zero T
		return zero, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.t.name, field)
	}
	query := s.selectSQL() + " WHERE " + field + " = $1 ORDER BY " + s.t.orderBy + " LIMIT 1"
	return s.scanOne(s.db.Pool().QueryRow(ctx, query, value))
}

func (s *PostgresStore[T]) GetAll(ctx context.Context) ([]T, error) {
	rows, err := s.db.Pool().Query(ctx, s.selectSQL()+" ORDER BY "+s.t.orderBy)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.t.name, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		e, err := s.t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.t.name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", s.t.name, err)
	}
	return out, nil
}

func (s *PostgresStore[T]) Create(ctx context.Context, entity T) error {
	placeholders := make([]string, len(s.t.columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.t.name, strings.Join(s.t.columns, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.Pool().Exec(ctx, query, s.t.values(entity)...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert into %s: %w", s.t.name, err)
	}
	return nil
}

func (s *PostgresStore[T]) Update(ctx context.Context, entity T) error {
	sets := make([]string, 0, len(s.t.columns)-1)
	for i, col := range s.t.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1",
		s.t.name, strings.Join(sets, ", "), s.t.columns[0])

	tag, err := s.db.Pool().Exec(ctx, query, s.t.values(entity)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", s.t.name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.t.name, s.t.columns[0])
	tag, err := s.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", s.t.name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore[T]) scanOne(row pgx.Row) (T, error) {
	e, err := s.t.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var zero T
		return zero, ErrNotFound
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to scan %s: %w", s.t.name, err)
	}
	return e, nil
}

// NewPostgresEventStore stores events in the events table
func NewPostgresEventStore(db *database.PostgresDB) *PostgresStore[*domain.Event] {
	return &PostgresStore[*domain.Event]{db: db, t: table[*domain.Event]{
		name: "events",
		columns: []string{
			"id", "name", "description", "event_date", "start_time", "end_time", "venue",
			"organizer_id", "organizer_name",
			"rock_capacity", "rock_available", "rock_price",
			"normal_capacity", "normal_available", "normal_price",
			"status", "image_url", "created_at", "updated_at",
		},
		lookups: map[string]bool{"organizer_id": true, "status": true},
		orderBy: "event_date, id",
		scan: func(row pgx.Row) (*domain.Event, error) {
			var e domain.Event
			var status string
			err := row.Scan(
				&e.ID, &e.Name, &e.Description, &e.Schedule.Date, &e.Schedule.StartTime, &e.Schedule.EndTime, &e.Venue,
				&e.OrganizerID, &e.OrganizerName,
				&e.RockZone.Capacity, &e.RockZone.Available, &e.RockZone.Price,
				&e.NormalZone.Capacity, &e.NormalZone.Available, &e.NormalZone.Price,
				&status, &e.ImageURL, &e.CreatedAt, &e.UpdatedAt,
			)
			e.Status = domain.EventStatus(status)
			return &e, err
		},
		values: func(e *domain.Event) []any {
			return []any{
				e.ID, e.Name, e.Description, e.Schedule.Date, e.Schedule.StartTime, e.Schedule.EndTime, e.Venue,
				e.OrganizerID, e.OrganizerName,
				e.RockZone.Capacity, e.RockZone.Available, e.RockZone.Price,
				e.NormalZone.Capacity, e.NormalZone.Available, e.NormalZone.Price,
				string(e.Status), e.ImageURL, e.CreatedAt, e.UpdatedAt,
			}
		},
	}}
}

// NewPostgresUserStore stores users in the users table
func NewPostgresUserStore(db *database.PostgresDB) *PostgresStore[*domain.User] {
	return &PostgresStore[*domain.User]{db: db, t: table[*domain.User]{
		name:    "users",
		columns: []string{"id", "full_name", "email", "role", "approved", "account_status"},
		lookups: map[string]bool{"email": true},
		orderBy: "id",
		scan: func(row pgx.Row) (*domain.User, error) {
			var u domain.User
			var role, status string
			err := row.Scan(&u.ID, &u.FullName, &u.Email, &role, &u.Approved, &status)
			u.Role = domain.Role(role)
			u.AccountStatus = domain.AccountStatus(status)
			return &u, err
		},
		values: func(u *domain.User) []any {
			return []any{u.ID, u.FullName, u.Email, string(u.Role), u.Approved, string(u.AccountStatus)}
		},
	}}
}

// NewPostgresReservationStore stores reservations in the reservations table
func NewPostgresReservationStore(db *database.PostgresDB) *PostgresStore[*domain.Reservation] {
	return &PostgresStore[*domain.Reservation]{db: db, t: table[*domain.Reservation]{
		name: "reservations",
		columns: []string{
			"id", "event_id", "user_id", "rock_seats", "normal_seats", "total_price",
			"status", "created_at", "updated_at",
		},
		lookups: map[string]bool{"event_id": true, "user_id": true},
		orderBy: "created_at, id",
		scan: func(row pgx.Row) (*domain.Reservation, error) {
			var r domain.Reservation
			var status string
			err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.RockSeats, &r.NormalSeats, &r.TotalPrice,
				&status, &r.CreatedAt, &r.UpdatedAt)
			r.Status = domain.ReservationStatus(status)
			return &r, err
		},
		values: func(r *domain.Reservation) []any {
			return []any{r.ID, r.EventID, r.UserID, r.RockSeats, r.NormalSeats, r.TotalPrice,
				string(r.Status), r.CreatedAt, r.UpdatedAt}
		},
	}}
}

// NewPostgresPaymentStore stores payments in the payments table
func NewPostgresPaymentStore(db *database.PostgresDB) *PostgresStore[*domain.Payment] {
	return &PostgresStore[*domain.Payment]{db: db, t: table[*domain.Payment]{
		name: "payments",
		columns: []string{
			"id", "reservation_id", "event_id", "user_id", "amount", "currency", "status",
			"order_id", "approval_url", "gateway", "failure_reason", "created_at", "updated_at",
		},
		lookups: map[string]bool{"order_id": true, "reservation_id": true},
		orderBy: "created_at, id",
		scan: func(row pgx.Row) (*domain.Payment, error) {
			var p domain.Payment
			var status string
			err := row.Scan(&p.ID, &p.ReservationID, &p.EventID, &p.UserID, &p.Amount, &p.Currency, &status,
				&p.OrderID, &p.ApprovalURL, &p.Gateway, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
			p.Status = domain.PaymentStatus(status)
			return &p, err
		},
		values: func(p *domain.Payment) []any {
			return []any{p.ID, p.ReservationID, p.EventID, p.UserID, p.Amount, p.Currency, string(p.Status),
				p.OrderID, p.ApprovalURL, p.Gateway, p.FailureReason, p.CreatedAt, p.UpdatedAt}
		},
	}}
}
