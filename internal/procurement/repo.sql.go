package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	SetStatus(ctx context.Context, id int64, status POStatus) error
	AddLineReceived(ctx context.Context, lineID int64, quantity decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const poColumns = `id, number, supplier_name, warehouse_id, status, expected_date, note, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var note *string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierName, &po.WarehouseID, &po.Status,
		&po.ExpectedDate, &note, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if note != nil {
		po.Note = *note
	}
	return po, nil
}

func loadLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, poID int64, forUpdate bool) ([]POLine, error) {
	query := `SELECT id, po_id, product_id, quantity, uom, unit_cost, received_qty
FROM purchase_order_lines WHERE po_id = $1 ORDER BY id ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []POLine
	for rows.Next() {
		var l POLine
		var uom *string
		if err := rows.Scan(&l.ID, &l.POID, &l.ProductID, &l.Quantity, &uom, &l.UnitCost, &l.ReceivedQty); err != nil {
			return nil, err
		}
		if uom != nil {
			l.UOM = *uom
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get loads a purchase order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, ErrNotFound)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.pool, id, false)
	return po, err
}

// List returns purchase orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilters) ([]PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE 1=1`
	args := []any{}
	idx := 0
	next := func() string {
		idx++
		return "$" + strconv.Itoa(idx)
	}
	if filter.Status != "" {
		query += ` AND status = ` + next()
		args = append(args, filter.Status)
	}
	if filter.WarehouseID > 0 {
		query += ` AND warehouse_id = ` + next()
		args = append(args, filter.WarehouseID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
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

	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func (t *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, ErrNotFound)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, t.tx, id, true)
	return po, err
}

func (t *txRepository) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(number, supplier_name, warehouse_id, status, expected_date, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		po.Number, po.SupplierName, po.WarehouseID, po.Status, po.ExpectedDate, nullString(po.Note)).
		Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Lines {
		line := &po.Lines[i]
		line.POID = po.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
(po_id, product_id, quantity, uom, unit_cost, received_qty)
VALUES ($1,$2,$3,$4,$5,0) RETURNING id`,
			po.ID, line.ProductID, line.Quantity, nullString(line.UOM), line.UnitCost).Scan(&line.ID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	return po, nil
}

func (t *txRepository) SetStatus(ctx context.Context, id int64, status POStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *txRepository) AddLineReceived(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines
SET received_qty = received_qty + $2 WHERE id = $1 AND received_qty + $2 <= quantity`,
		lineID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("line %d: %w", lineID, ErrNotFound)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
