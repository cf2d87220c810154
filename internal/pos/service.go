package pos

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/platform/httpx"
	"github.com/zazakia/kiropos/internal/shared"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	Get(ctx context.Context, id int64) (Sale, error)
	List(ctx context.Context, filter ListFilters) ([]Sale, error)
}

// StockPort deducts sold quantities from the inventory ledger.
type StockPort interface {
	DeductStock(ctx context.Context, input ledger.DeductStockInput) (decimal.Decimal, error)
}

// CatalogPort resolves product pricing for sale lines.
type CatalogPort interface {
	ProductInfo(ctx context.Context, productID int64) (ledger.ProductInfo, error)
}

// AuditPort records checkout events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles point-of-sale checkouts.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	catalog   CatalogPort
	audit     AuditPort
	converter ledger.Converter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the POS service. The converter should carry the same
// strictness as the ledger so pricing and deduction agree on unit names.
func NewService(repo RepositoryPort, stock StockPort, catalog CatalogPort, audit AuditPort, converter ledger.Converter, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		stock:     stock,
		catalog:   catalog,
		audit:     audit,
		converter: converter,
		logger:    logger,
		now:       time.Now,
	}
}

// CheckoutInput describes a sale to post.
type CheckoutInput struct {
	Number      string
	WarehouseID int64
	CashierID   int64
	Lines       []CheckoutLineInput
}

// CheckoutLineInput is one sold item. UnitPrice overrides the catalog price
// when set; otherwise the price of the resolved unit applies.
type CheckoutLineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UOM       string
	UnitPrice *decimal.Decimal
}

// Checkout deducts stock for every line and records the sale with its
// realised cost of goods sold. Lines deduct in order; every movement carries
// the sale number so a mid-checkout failure is traceable in the movement log.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (Sale, error) {
	if input.WarehouseID <= 0 {
		return Sale{}, fmt.Errorf("warehouse is required: %w", httpx.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Sale{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 {
			return Sale{}, fmt.Errorf("line product is required: %w", httpx.ErrValidation)
		}
		if !line.Quantity.IsPositive() {
			return Sale{}, fmt.Errorf("line quantity must be positive: %w", httpx.ErrValidation)
		}
	}

	number := input.Number
	if number == "" {
		number = uuid.NewString()
	}

	sale := Sale{
		Number:      number,
		WarehouseID: input.WarehouseID,
		CashierID:   input.CashierID,
		Total:       decimal.Zero,
		TotalCOGS:   decimal.Zero,
		SoldAt:      s.now(),
	}

	for _, line := range input.Lines {
		product, err := s.catalog.ProductInfo(ctx, line.ProductID)
		if err != nil {
			return Sale{}, err
		}
		resolution, err := s.converter.ResolveUnit(product, line.UOM)
		if err != nil {
			return Sale{}, err
		}

		unitPrice := resolution.Price
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}
		if unitPrice.IsNegative() {
			return Sale{}, fmt.Errorf("line unit price cannot be negative: %w", httpx.ErrValidation)
		}

		cogs, err := s.stock.DeductStock(ctx, ledger.DeductStockInput{
			ProductID:     line.ProductID,
			WarehouseID:   input.WarehouseID,
			Quantity:      line.Quantity,
			UOM:           line.UOM,
			Reason:        "sale",
			ReferenceID:   number,
			ReferenceType: "SALE",
			ActorID:       input.CashierID,
		})
		if err != nil {
			return Sale{}, err
		}

		lineTotal := unitPrice.Mul(line.Quantity)
		sale.Lines = append(sale.Lines, SaleLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UOM:       resolution.Unit,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
			COGS:      cogs,
		})
		sale.Total = sale.Total.Add(lineTotal)
		sale.TotalCOGS = sale.TotalCOGS.Add(cogs)
	}

	created, err := s.repo.InsertSale(ctx, sale)
	if err != nil {
		// Stock is already deducted; the movements carry the sale number
		// so the failure is recoverable from the movement log.
		s.logger.Error("sale persist failed after deduction", "number", number, "error", err)
		return Sale{}, err
	}

	s.recordAudit(ctx, input.CashierID, created)
	return created, nil
}

// Get loads a sale with lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.Get(ctx, id)
}

// List returns sales matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilters) ([]Sale, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, sale Sale) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "sale.checkout",
		Entity:   "sale",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta: map[string]any{
			"number": sale.Number,
			"total":  sale.Total.String(),
			"cogs":   sale.TotalCOGS.String(),
		},
	}); err != nil {
		s.logger.Warn("audit record failed", "action", "sale.checkout", "error", err)
	}
}
