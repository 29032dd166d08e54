package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrClientNotFound = errors.New("client not found")

type Repository interface {
	GetByPhone(ctx context.Context, vendorID, phone string) (*Client, error)
	// GetOrCreate returns the existing profile or lazily creates a fresh one
	// with the default score on first interaction.
	GetOrCreate(ctx context.Context, vendorID, phone, displayName string) (*Client, error)
	Save(ctx context.Context, client *Client) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const clientColumns = `id, vendor_id, phone, display_name, trust_score, tier, total_orders,
	successful_payments, expired_reservations, total_spent, avg_payment_time_seconds,
	first_order_at, tags, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var avg *float64
	err := row.Scan(&c.ID, &c.VendorID, &c.Phone, &c.DisplayName, &c.TrustScore, &c.Tier,
		&c.TotalOrders, &c.SuccessfulPayments, &c.ExpiredReservations, &c.TotalSpent,
		&avg, &c.FirstOrderAt, &c.Tags, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan client: %w", err)
	}
	if avg != nil {
		c.AvgPaymentTimeSeconds = *avg
	}
	return &c, nil
}

func (r *postgresRepository) GetByPhone(ctx context.Context, vendorID, phone string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE vendor_id = $1 AND phone = $2`
	return scanClient(r.db.QueryRow(ctx, query, vendorID, phone))
}

func (r *postgresRepository) GetOrCreate(ctx context.Context, vendorID, phone, displayName string) (*Client, error) {
	existing, err := r.GetByPhone(ctx, vendorID, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrClientNotFound) {
		return nil, err
	}

	c := NewClient(vendorID, phone, displayName)
	query := `
		INSERT INTO clients (id, vendor_id, phone, display_name, trust_score, tier, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vendor_id, phone) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query, c.ID, c.VendorID, c.Phone, c.DisplayName, c.TrustScore, c.Tier, c.Tags, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to insert client: %w", err)
	}
	// re-read to win against a concurrent creation
	return r.GetByPhone(ctx, vendorID, phone)
}

func (r *postgresRepository) Save(ctx context.Context, c *Client) error {
	c.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE clients
		SET display_name = $2, trust_score = $3, tier = $4, total_orders = $5,
		    successful_payments = $6, expired_reservations = $7, total_spent = $8,
		    avg_payment_time_seconds = $9, first_order_at = $10, tags = $11, updated_at = $12
		WHERE id = $1
	`
	var avg *float64
	if c.AvgPaymentTimeSeconds > 0 {
		avg = &c.AvgPaymentTimeSeconds
	}
	cmdTag, err := r.db.Exec(ctx, query, c.ID, c.DisplayName, c.TrustScore, c.Tier,
		c.TotalOrders, c.SuccessfulPayments, c.ExpiredReservations, c.TotalSpent,
		avg, c.FirstOrderAt, c.Tags, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to update client %s: %w", c.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// NewClient builds a fresh profile with the neutral default score.
func NewClient(vendorID, phone, displayName string) *Client {
	now := time.Now().UTC()
	return &Client{
		ID:          uuid.Must(uuid.NewV4()).String(),
		VendorID:    vendorID,
		Phone:       phone,
		DisplayName: displayName,
		TrustScore:  50,
		Tier:        TierBronze,
		Tags:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
