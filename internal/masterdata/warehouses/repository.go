package warehouses

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/kiropos/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Update(ctx context.Context, id int64, warehouse Warehouse) error
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const warehouseColumns = `id, branch_id, code, name, address, capacity, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Warehouse, int, error) {
	where := ` FROM warehouses WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.BranchID != nil {
		argCount++
		where += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.BranchID)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
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

	query := `SELECT ` + warehouseColumns + where + ` ORDER BY name ASC`
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

	result := []Warehouse{}
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.BranchID, &wh.Code, &wh.Name, &wh.Address,
			&wh.Capacity, &wh.IsActive, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, wh)
	}
	return result, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	var wh Warehouse
	err := r.db.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id).
		Scan(&wh.ID, &wh.BranchID, &wh.Code, &wh.Name, &wh.Address, &wh.Capacity, &wh.IsActive, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, fmt.Errorf("warehouse %d: %w", id, httpx.ErrNotFound)
		}
		return Warehouse{}, err
	}
	return wh, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND is_active)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO warehouses
(branch_id, code, name, address, capacity, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		warehouse.BranchID, warehouse.Code, warehouse.Name, warehouse.Address, warehouse.Capacity).
		Scan(&warehouse.ID, &warehouse.CreatedAt, &warehouse.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Warehouse{}, fmt.Errorf("warehouse code already exists: %w", httpx.ErrDuplicate)
		}
		return Warehouse{}, err
	}
	warehouse.IsActive = true
	return warehouse, nil
}

func (r *repository) Update(ctx context.Context, id int64, warehouse Warehouse) error {
	tag, err := r.db.Exec(ctx, `UPDATE warehouses
SET branch_id = $2, name = $3, address = $4, capacity = $5, updated_at = NOW()
WHERE id = $1`, id, warehouse.BranchID, warehouse.Name, warehouse.Address, warehouse.Capacity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("warehouse %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// Deactivate soft-deletes. Warehouses referenced by movements are never removed.
func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE warehouses SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("warehouse %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}
