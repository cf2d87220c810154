package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/kiropos/internal/platform/db"
	"github.com/zazakia/kiropos/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, sku, name, category, base_price, base_uom, minimum_stock, shelf_life_days, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := ` FROM products WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Category != "" {
		argCount++
		where += ` AND category = $` + strconv.Itoa(argCount)
		args = append(args, filters.Category)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + where + ` ORDER BY name ASC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
	}
	if filters.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.BasePrice, &p.BaseUOM,
			&p.MinimumStock, &p.ShelfLifeDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.BasePrice, &p.BaseUOM,
			&p.MinimumStock, &p.ShelfLifeDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, httpx.ErrNotFound)
		}
		return Product{}, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, product_id, name, factor, price FROM product_alternate_uoms WHERE product_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var alt AlternateUOM
		if err := rows.Scan(&alt.ID, &alt.ProductID, &alt.Name, &alt.Factor, &alt.Price); err != nil {
			return Product{}, err
		}
		p.AlternateUOMs = append(p.AlternateUOMs, alt)
	}
	return p, rows.Err()
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO products
(sku, name, category, base_price, base_uom, minimum_stock, shelf_life_days, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW(),NOW()) RETURNING id, created_at, updated_at`,
			product.SKU, product.Name, product.Category, product.BasePrice, product.BaseUOM,
			product.MinimumStock, product.ShelfLifeDays).
			Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			return mapConstraintError(err)
		}
		product.IsActive = true

		for i := range product.AlternateUOMs {
			alt := &product.AlternateUOMs[i]
			alt.ProductID = product.ID
			if err := tx.QueryRow(ctx, `INSERT INTO product_alternate_uoms (product_id, name, factor, price)
VALUES ($1,$2,$3,$4) RETURNING id`, product.ID, alt.Name, alt.Factor, alt.Price).Scan(&alt.ID); err != nil {
				return mapConstraintError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	tag, err := r.db.Exec(ctx, `UPDATE products
SET name = $2, category = $3, base_price = $4, minimum_stock = $5, shelf_life_days = $6, updated_at = NOW()
WHERE id = $1`, id, product.Name, product.Category, product.BasePrice, product.MinimumStock, product.ShelfLifeDays)
	if err != nil {
		return mapConstraintError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// Deactivate soft-deletes. Products referenced by batches are never removed.
func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("sku already exists: %w", httpx.ErrDuplicate)
	}
	return err
}
