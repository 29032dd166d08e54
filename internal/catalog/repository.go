package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrProductNotFound = errors.New("product not found")

// Repository owns the stock counters. Reserve/Release/Confirm are the only
// mutations of ReservedStock anywhere in the codebase.
type Repository interface {
	Create(ctx context.Context, product *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByKeyword matches case-insensitively among active products of the vendor.
	GetByKeyword(ctx context.Context, vendorID, keyword string) (*Product, error)
	ListByVendor(ctx context.Context, vendorID string) ([]Product, error)
	SetActive(ctx context.Context, id string, active bool) error

	// ReserveStock atomically checks available stock and increments the
	// reservation counter. Returns false with no side effects when the
	// available quantity is below qty; losing this race is a normal outcome.
	ReserveStock(ctx context.Context, productID string, qty int) (bool, error)
	// ReleaseStock decrements the reservation counter, floored at zero.
	ReleaseStock(ctx context.Context, productID string, qty int) error
	// ConfirmStock decrements both stock and the reservation counter by qty.
	ConfirmStock(ctx context.Context, productID string, qty int) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, product *Product) error {
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO products (id, vendor_id, keyword, name, price, stock, reserved_stock, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		product.ID, product.VendorID, product.Keyword, product.Name, product.Price,
		product.Stock, product.ReservedStock, product.Active,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert product: %w", err)
	}
	return nil
}

const productColumns = `id, vendor_id, keyword, name, price, stock, reserved_stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.VendorID, &p.Keyword, &p.Name, &p.Price, &p.Stock, &p.ReservedStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan product: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *postgresRepository) GetByKeyword(ctx context.Context, vendorID, keyword string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE vendor_id = $1 AND lower(keyword) = lower($2) AND active`
	row := r.db.QueryRow(ctx, query, vendorID, keyword)
	return scanProduct(row)
}

func (r *postgresRepository) ListByVendor(ctx context.Context, vendorID string) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE vendor_id = $1 ORDER BY keyword`
	rows, err := r.db.Query(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.Keyword, &p.Name, &p.Price, &p.Stock, &p.ReservedStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product for vendor %s: %w", vendorID, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products for vendor %s: %w", vendorID, err)
	}
	return products, nil
}

func (r *postgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE products SET active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update product active flag: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	// Single conditional update: the WHERE clause is the check, the row lock
	// taken by UPDATE serializes concurrent buyers on the same product.
	query := `
		UPDATE products
		SET reserved_stock = reserved_stock + $2, updated_at = now()
		WHERE id = $1 AND active AND stock - reserved_stock >= $2
	`
	cmdTag, err := r.db.Exec(ctx, query, productID, qty)
	if err != nil {
		return false, fmt.Errorf("repository: failed to reserve stock for product %s: %w", productID, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) ReleaseStock(ctx context.Context, productID string, qty int) error {
	query := `
		UPDATE products
		SET reserved_stock = GREATEST(reserved_stock - $2, 0), updated_at = now()
		WHERE id = $1
	`
	cmdTag, err := r.db.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to release stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Error().Str("product_id", productID).Int("qty", qty).Msg("repository: release on unknown product")
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) ConfirmStock(ctx context.Context, productID string, qty int) error {
	query := `
		UPDATE products
		SET stock = GREATEST(stock - $2, 0),
		    reserved_stock = GREATEST(reserved_stock - $2, 0),
		    updated_at = now()
		WHERE id = $1
	`
	cmdTag, err := r.db.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to confirm stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Error().Str("product_id", productID).Int("qty", qty).Msg("repository: confirm on unknown product")
		return ErrProductNotFound
	}
	return nil
}
