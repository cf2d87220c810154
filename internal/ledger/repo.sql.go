package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists batches and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
// All mutations of batch quantities go through here, inside one transaction.
type TxRepository interface {
	ActiveBatchesForUpdate(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	DecrementBatch(ctx context.Context, batchID int64, amount decimal.Decimal) error
	SetBatchQuantity(ctx context.Context, batchID int64, quantity decimal.Decimal, status BatchStatus) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
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

const batchColumns = `id, product_id, warehouse_id, quantity, unit_cost, received_at, expires_at, status, batch_number, reference_id, reference_type, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var batchNumber, refID, refType *string
	err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Quantity, &b.UnitCost,
		&b.ReceivedAt, &b.ExpiresAt, &b.Status, &batchNumber, &refID, &refType,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Batch{}, err
	}
	if batchNumber != nil {
		b.BatchNumber = *batchNumber
	}
	if refID != nil {
		b.ReferenceID = *refID
	}
	if refType != nil {
		b.ReferenceType = *refType
	}
	return b, nil
}

// ListBatches returns batches matching the filter, FEFO-ordered.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	query := `SELECT ` + batchColumns + ` FROM inventory_batches WHERE 1=1`
	args := []any{}
	idx := 0
	next := func() string {
		idx++
		return "$" + strconv.Itoa(idx)
	}
	if filter.ProductID != 0 {
		query += ` AND product_id = ` + next()
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		query += ` AND warehouse_id = ` + next()
		args = append(args, filter.WarehouseID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + next()
		args = append(args, string(filter.Status))
	}
	if filter.ExpiresFrom != nil {
		query += ` AND expires_at >= ` + next()
		args = append(args, *filter.ExpiresFrom)
	}
	if filter.ExpiresTo != nil {
		query += ` AND expires_at <= ` + next()
		args = append(args, *filter.ExpiresTo)
	}
	query += ` ORDER BY expires_at ASC NULLS LAST, received_at ASC, id ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ` + next()
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListMovements returns movement journal entries matching the filter,
// newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	query := `SELECT id, batch_id, product_id, warehouse_id, movement_type, quantity, reason, reference_id, reference_type, created_at
FROM stock_movements WHERE 1=1`
	args := []any{}
	idx := 0
	next := func() string {
		idx++
		return "$" + strconv.Itoa(idx)
	}
	if filter.ProductID != 0 {
		query += ` AND product_id = ` + next()
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		query += ` AND warehouse_id = ` + next()
		args = append(args, filter.WarehouseID)
	}
	if filter.Type != "" {
		query += ` AND movement_type = ` + next()
		args = append(args, string(filter.Type))
	}
	if filter.ReferenceType != "" {
		query += ` AND reference_type = ` + next()
		args = append(args, filter.ReferenceType)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ` + next()
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at <= ` + next()
		args = append(args, filter.To)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ` + next()
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var reason, refID, refType *string
		if err := rows.Scan(&m.ID, &m.BatchID, &m.ProductID, &m.WarehouseID, &m.Type,
			&m.Quantity, &reason, &refID, &refType, &m.CreatedAt); err != nil {
			return nil, err
		}
		if reason != nil {
			m.Reason = *reason
		}
		if refID != nil {
			m.ReferenceID = *refID
		}
		if refType != nil {
			m.ReferenceType = *refType
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// MarkExpiredBatches persists expired status on active batches whose expiry
// date has passed. Quantities are never touched. Used by the sweep job;
// read paths derive the same status on the fly.
func (r *Repository) MarkExpiredBatches(ctx context.Context, now time.Time) (int64, error) {
	if r == nil {
		return 0, errors.New("ledger repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_batches
SET status = 'expired', updated_at = NOW()
WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) ActiveBatchesForUpdate(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id = $1 AND warehouse_id = $2 AND status = 'active' AND quantity > 0
ORDER BY expires_at ASC NULLS LAST, received_at ASC, id ASC
FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = $1 FOR UPDATE`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_batches
(product_id, warehouse_id, quantity, unit_cost, received_at, expires_at, status, batch_number, reference_id, reference_type, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		batch.ProductID, batch.WarehouseID, batch.Quantity, batch.UnitCost,
		batch.ReceivedAt, batch.ExpiresAt, string(batch.Status),
		nullString(batch.BatchNumber), nullString(batch.ReferenceID), nullString(batch.ReferenceType)).Scan(&id)
	return id, err
}

// DecrementBatch reduces a batch quantity, transitioning it to depleted when
// the remainder is zero. The WHERE guard makes a negative remainder
// impossible regardless of what the caller computed.
func (r *txRepository) DecrementBatch(ctx context.Context, batchID int64, amount decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_batches
SET quantity = quantity - $2,
    status = CASE WHEN quantity - $2 <= 0 THEN 'depleted' ELSE status END,
    updated_at = NOW()
WHERE id = $1 AND quantity >= $2`, batchID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		b, err := r.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		return &InsufficientQuantityError{BatchID: batchID, Available: b.Quantity, Requested: amount}
	}
	return nil
}

func (r *txRepository) SetBatchQuantity(ctx context.Context, batchID int64, quantity decimal.Decimal, status BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_batches
SET quantity = $2, status = $3, updated_at = NOW()
WHERE id = $1`, batchID, quantity, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(batch_id, product_id, warehouse_id, movement_type, quantity, reason, reference_id, reference_type, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		movement.BatchID, movement.ProductID, movement.WarehouseID, string(movement.Type),
		movement.Quantity, nullString(movement.Reason), nullString(movement.ReferenceID), nullString(movement.ReferenceType)).Scan(&id)
	return id, err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
