package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/platform/httpx"
	"github.com/zazakia/kiropos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter ListFilters) ([]PurchaseOrder, error)
}

// StockPort posts received goods into the inventory ledger.
type StockPort interface {
	AddStock(ctx context.Context, input ledger.AddStockInput) (ledger.Batch, error)
}

// AuditPort records purchase order lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo   RepositoryPort
	stock  StockPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, stock StockPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		stock:  stock,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// CreatePOInput describes a new purchase order.
type CreatePOInput struct {
	Number       string
	SupplierName string
	WarehouseID  int64
	ExpectedDate *time.Time
	Note         string
	Lines        []POLineInput
	ActorID      int64
}

// POLineInput describes one ordered line.
type POLineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UOM       string
	UnitCost  decimal.Decimal
}

// ReceiveInput records goods arriving against an approved order.
type ReceiveInput struct {
	POID    int64
	Lines   []ReceiveLineInput
	ActorID int64
}

// ReceiveLineInput is the received quantity for one order line. Quantity is
// in the line's UOM. BatchNumber and ExpiresAt flow onto the created batch.
type ReceiveLineInput struct {
	LineID      int64
	Quantity    decimal.Decimal
	BatchNumber string
	ExpiresAt   *time.Time
}

// Create registers a draft purchase order.
func (s *Service) Create(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.Number == "" {
		return PurchaseOrder{}, fmt.Errorf("purchase order number is required: %w", httpx.ErrValidation)
	}
	if input.WarehouseID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("warehouse is required: %w", httpx.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 {
			return PurchaseOrder{}, fmt.Errorf("line product is required: %w", httpx.ErrValidation)
		}
		if !line.Quantity.IsPositive() {
			return PurchaseOrder{}, fmt.Errorf("line quantity must be positive: %w", httpx.ErrValidation)
		}
		if line.UnitCost.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("line unit cost cannot be negative: %w", httpx.ErrValidation)
		}
	}

	po := PurchaseOrder{
		Number:       input.Number,
		SupplierName: input.SupplierName,
		WarehouseID:  input.WarehouseID,
		Status:       POStatusDraft,
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
	}
	for _, line := range input.Lines {
		po.Lines = append(po.Lines, POLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UOM:         line.UOM,
			UnitCost:    line.UnitCost,
			ReceivedQty: decimal.Zero,
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		po = created
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	s.recordAudit(ctx, input.ActorID, "po.create", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// Approve moves a draft order to APPROVED.
func (s *Service) Approve(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return &InvalidStateError{POID: id, Status: po.Status, Action: "approve"}
		}
		return tx.SetStatus(ctx, id, POStatusApproved)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "po.approve", id, nil)
	return nil
}

// Cancel voids an order that has not received any goods.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft && po.Status != POStatusApproved {
			return &InvalidStateError{POID: id, Status: po.Status, Action: "cancel"}
		}
		for _, line := range po.Lines {
			if line.ReceivedQty.IsPositive() {
				return &InvalidStateError{POID: id, Status: po.Status, Action: "cancel"}
			}
		}
		return tx.SetStatus(ctx, id, POStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "po.cancel", id, nil)
	return nil
}

// Receive posts arrived goods against an approved order. Each received line
// becomes an inventory batch at the line's unit cost. Partial receipts leave
// the order APPROVED; it closes to RECEIVED once every line is filled.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("receipt requires at least one line: %w", httpx.ErrValidation)
	}

	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusApproved {
			return &InvalidStateError{POID: po.ID, Status: po.Status, Action: "receive"}
		}

		byID := make(map[int64]*POLine, len(po.Lines))
		for i := range po.Lines {
			byID[po.Lines[i].ID] = &po.Lines[i]
		}

		receivedAt := s.now()
		for _, rcv := range input.Lines {
			line, ok := byID[rcv.LineID]
			if !ok {
				return fmt.Errorf("line %d: %w", rcv.LineID, ErrNotFound)
			}
			if !rcv.Quantity.IsPositive() {
				return fmt.Errorf("line %d: received quantity must be positive: %w", rcv.LineID, httpx.ErrValidation)
			}
			if rcv.Quantity.GreaterThan(line.Outstanding()) {
				return &OverReceiptError{LineID: line.ID, Outstanding: line.Outstanding(), Requested: rcv.Quantity}
			}

			if err := tx.AddLineReceived(ctx, line.ID, rcv.Quantity); err != nil {
				return err
			}
			line.ReceivedQty = line.ReceivedQty.Add(rcv.Quantity)

			if _, err := s.stock.AddStock(ctx, ledger.AddStockInput{
				ProductID:     line.ProductID,
				WarehouseID:   po.WarehouseID,
				Quantity:      rcv.Quantity,
				UOM:           line.UOM,
				UnitCost:      line.UnitCost,
				ReceivedAt:    receivedAt,
				ExpiresAt:     rcv.ExpiresAt,
				BatchNumber:   rcv.BatchNumber,
				ReferenceID:   strconv.FormatInt(po.ID, 10),
				ReferenceType: "PURCHASE_ORDER",
				ActorID:       input.ActorID,
			}); err != nil {
				return err
			}
		}

		done := true
		for _, line := range po.Lines {
			if !line.FullyReceived() {
				done = false
				break
			}
		}
		if done {
			if err := tx.SetStatus(ctx, po.ID, POStatusReceived); err != nil {
				return err
			}
			po.Status = POStatusReceived
		}
		result = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	s.recordAudit(ctx, input.ActorID, "po.receive", input.POID, map[string]any{
		"lines":  len(input.Lines),
		"status": string(result.Status),
	})
	return result, nil
}

// Get loads a purchase order with lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchase orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilters) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(poID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
