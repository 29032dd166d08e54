package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByToken(ctx context.Context, token string) (*Order, error)

	// Transition moves the order from reserved to a terminal status as one
	// conditional update. Returns false when the order is no longer
	// reserved; this is the source of truth for the pay/expire race.
	Transition(ctx context.Context, id string, to Status, paidAt *time.Time, providerRef string) (bool, error)

	ListByVendor(ctx context.Context, vendorID string, limit int) ([]Order, error)
	ListByPhone(ctx context.Context, vendorID, phone string, limit int) ([]Order, error)
	// ListExpired returns reserved orders whose window has passed. The
	// periodic sweep uses it to reconcile orders that lost their in-memory
	// timer (e.g. across a restart).
	ListExpired(ctx context.Context, now time.Time) ([]Order, error)
	Stats(ctx context.Context, vendorID string) (*Stats, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, vendor_id, product_id, client_phone, client_id, quantity, unit_price,
	total_amount, status, payment_token, provider_ref, reserved_at, expires_at, paid_at,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var clientID *string
	err := row.Scan(&o.ID, &o.VendorID, &o.ProductID, &o.ClientPhone, &clientID, &o.Quantity,
		&o.UnitPrice, &o.TotalAmount, &o.Status, &o.PaymentToken, &o.ProviderRef,
		&o.ReservedAt, &o.ExpiresAt, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan order: %w", err)
	}
	if clientID != nil {
		o.ClientID = *clientID
	}
	return &o, nil
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	var clientID *string
	if o.ClientID != "" {
		clientID = &o.ClientID
	}
	query := `
		INSERT INTO orders (id, vendor_id, product_id, client_phone, client_id, quantity,
			unit_price, total_amount, status, payment_token, provider_ref, reserved_at,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Exec(ctx, query, o.ID, o.VendorID, o.ProductID, o.ClientPhone, clientID,
		o.Quantity, o.UnitPrice, o.TotalAmount, o.Status, o.PaymentToken, o.ProviderRef,
		o.ReservedAt, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *postgresRepository) GetByToken(ctx context.Context, token string) (*Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_token = $1`, token))
}

func (r *postgresRepository) Transition(ctx context.Context, id string, to Status, paidAt *time.Time, providerRef string) (bool, error) {
	if !CanTransition(StatusReserved, to) {
		return false, fmt.Errorf("repository: illegal transition reserved -> %s", to)
	}
	query := `
		UPDATE orders
		SET status = $2, paid_at = COALESCE($3, paid_at),
		    provider_ref = CASE WHEN $4 <> '' THEN $4 ELSE provider_ref END,
		    updated_at = now()
		WHERE id = $1 AND status = $5
	`
	cmdTag, err := r.db.Exec(ctx, query, id, to, paidAt, providerRef, StatusReserved)
	if err != nil {
		return false, fmt.Errorf("repository: failed to transition order %s to %s: %w", id, to, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		var clientID *string
		err := rows.Scan(&o.ID, &o.VendorID, &o.ProductID, &o.ClientPhone, &clientID, &o.Quantity,
			&o.UnitPrice, &o.TotalAmount, &o.Status, &o.PaymentToken, &o.ProviderRef,
			&o.ReservedAt, &o.ExpiresAt, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		if clientID != nil {
			o.ClientID = *clientID
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}
	return orders, nil
}

func (r *postgresRepository) ListByVendor(ctx context.Context, vendorID string, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE vendor_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, vendorID, limit)
}

func (r *postgresRepository) ListByPhone(ctx context.Context, vendorID, phone string, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE vendor_id = $1 AND client_phone = $2 ORDER BY created_at DESC LIMIT $3`
	return r.list(ctx, query, vendorID, phone, limit)
}

func (r *postgresRepository) ListExpired(ctx context.Context, now time.Time) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at`
	return r.list(ctx, query, StatusReserved, now)
}

func (r *postgresRepository) Stats(ctx context.Context, vendorID string) (*Stats, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount) FILTER (WHERE status = 'paid'), 0)
		FROM orders
		WHERE vendor_id = $1
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stats for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	stats := &Stats{CountsByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var count int
		var revenue int64
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return nil, fmt.Errorf("repository: failed to scan stats row: %w", err)
		}
		stats.CountsByStatus[status] = count
		stats.TotalOrders += count
		stats.Revenue += revenue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stats: %w", err)
	}
	return stats, nil
}
