package pos

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/kiropos/internal/platform/db"
)

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const saleColumns = `id, number, warehouse_id, cashier_id, total, total_cogs, sold_at, created_at`

// InsertSale stores the sale and its lines in one transaction.
func (r *Repository) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	if r == nil {
		return Sale{}, errors.New("pos repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO sales
(number, warehouse_id, cashier_id, total, total_cogs, sold_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, created_at`,
			sale.Number, sale.WarehouseID, sale.CashierID, sale.Total, sale.TotalCOGS, sale.SoldAt).
			Scan(&sale.ID, &sale.CreatedAt)
		if err != nil {
			return err
		}
		for i := range sale.Lines {
			line := &sale.Lines[i]
			line.SaleID = sale.ID
			if err := tx.QueryRow(ctx, `INSERT INTO sale_lines
(sale_id, product_id, quantity, uom, unit_price, line_total, cogs)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
				sale.ID, line.ProductID, line.Quantity, nullString(line.UOM),
				line.UnitPrice, line.LineTotal, line.COGS).Scan(&line.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// Get loads a sale with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Sale, error) {
	var sale Sale
	err := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id).
		Scan(&sale.ID, &sale.Number, &sale.WarehouseID, &sale.CashierID,
			&sale.Total, &sale.TotalCOGS, &sale.SoldAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, fmt.Errorf("sale %d: %w", id, ErrNotFound)
		}
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, quantity, uom, unit_price, line_total, cogs
FROM sale_lines WHERE sale_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SaleLine
		var uom *string
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &uom,
			&l.UnitPrice, &l.LineTotal, &l.COGS); err != nil {
			return Sale{}, err
		}
		if uom != nil {
			l.UOM = *uom
		}
		sale.Lines = append(sale.Lines, l)
	}
	return sale, rows.Err()
}

// List returns sales matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilters) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	args := []any{}
	idx := 0
	next := func() string {
		idx++
		return "$" + strconv.Itoa(idx)
	}
	if filter.WarehouseID > 0 {
		query += ` AND warehouse_id = ` + next()
		args = append(args, filter.WarehouseID)
	}
	if filter.From != nil {
		query += ` AND sold_at >= ` + next()
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND sold_at < ` + next()
		args = append(args, *filter.To)
	}
	query += ` ORDER BY sold_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + next()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + next()
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var sale Sale
		if err := rows.Scan(&sale.ID, &sale.Number, &sale.WarehouseID, &sale.CashierID,
			&sale.Total, &sale.TotalCOGS, &sale.SoldAt, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
