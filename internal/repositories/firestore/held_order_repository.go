package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
	pfirestore "github.com/hanko-field/pos/internal/platform/firestore"
	"github.com/hanko-field/pos/internal/repositories"
)

const heldOrderCollection = "heldOrders"

// HeldOrderDeps wires a HeldOrderRepository.
type HeldOrderDeps struct {
	Provider    *pfirestore.Provider
	OperatorID  string
	TerminalID  string
	Clock       func() time.Time
	IDGenerator func() string
}

// HeldOrderRepository keeps held orders in Firestore, one document per order, scoped to a single
// operator.
type HeldOrderRepository struct {
	provider   *pfirestore.Provider
	orders     *pfirestore.Collection[heldOrderDocument]
	operatorID string
	terminalID string
	clock      func() time.Time
	newID      func() string
}

// NewHeldOrderRepository constructs the Firestore-backed held-order store.
func NewHeldOrderRepository(deps HeldOrderDeps) (*HeldOrderRepository, error) {
	if deps.Provider == nil {
		return nil, errors.New("held order repository requires firestore provider")
	}
	operator := strings.TrimSpace(deps.OperatorID)
	if operator == "" {
		return nil, errors.New("held order repository requires operator id")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &HeldOrderRepository{
		provider:   deps.Provider,
		orders:     pfirestore.NewCollection[heldOrderDocument](deps.Provider, heldOrderCollection),
		operatorID: operator,
		terminalID: strings.TrimSpace(deps.TerminalID),
		clock:      clock,
		newID:      newID,
	}, nil
}

// List returns the operator's held orders, most recently updated first.
func (r *HeldOrderRepository) List(ctx context.Context) ([]domain.HeldOrderSnapshot, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("operatorId", "==", r.operatorID)
	})
	if err != nil {
		return nil, err
	}

	snapshots := make([]domain.HeldOrderSnapshot, 0, len(docs))
	for _, doc := range docs {
		snapshot, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
	})
	return snapshots, nil
}

// Upsert creates the order when snapshot.ID is empty or unknown and overwrites it otherwise. Orders
// owned by another operator are never overwritten.
func (r *HeldOrderRepository) Upsert(ctx context.Context, snapshot domain.HeldOrderSnapshot) (domain.HeldOrderSnapshot, error) {
	id := strings.TrimSpace(snapshot.ID)
	if id == "" {
		id = r.newID()
	}
	ref, err := r.orders.Doc(ctx, id)
	if err != nil {
		return domain.HeldOrderSnapshot{}, err
	}

	now := r.clock().UTC()
	doc := heldOrderFromDomain(snapshot, r.operatorID, r.terminalID)
	doc.UpdatedAt = now

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := r.orders.TxGet(tx, ref)
		if err != nil {
			return err
		}
		doc.CreatedAt = now
		if found {
			if existing.Data.OperatorID != r.operatorID {
				return pfirestore.Conflict("heldOrders.upsert", fmt.Sprintf("held order %s belongs to another operator", id))
			}
			if !existing.Data.CreatedAt.IsZero() {
				doc.CreatedAt = existing.Data.CreatedAt
			}
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.HeldOrderSnapshot{}, err
	}
	return doc.toDomain(id)
}

// Delete removes the operator's order. Unknown ids report not found.
func (r *HeldOrderRepository) Delete(ctx context.Context, id string) error {
	ref, err := r.orders.Doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := r.orders.TxGet(tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFound("heldOrders.delete", fmt.Sprintf("held order %s not found", id))
		}
		if existing.Data.OperatorID != r.operatorID {
			return pfirestore.Conflict("heldOrders.delete", fmt.Sprintf("held order %s belongs to another operator", id))
		}
		return tx.Delete(ref)
	})
}

type heldOrderDocument struct {
	OperatorID   string                  `firestore:"operatorId"`
	TerminalID   string                  `firestore:"terminalId,omitempty"`
	CustomerKind string                  `firestore:"customerKind"`
	CustomerID   string                  `firestore:"customerId,omitempty"`
	CustomerName string                  `firestore:"customerName,omitempty"`
	Discount     string                  `firestore:"discount"`
	Lines        []heldOrderLineDocument `firestore:"lines"`
	CreatedAt    time.Time               `firestore:"createdAt"`
	UpdatedAt    time.Time               `firestore:"updatedAt"`
}

type heldOrderLineDocument struct {
	ProductID    string `firestore:"productId"`
	Name         string `firestore:"name"`
	SKU          string `firestore:"sku,omitempty"`
	UnitPrice    string `firestore:"unitPrice"`
	Quantity     int    `firestore:"quantity"`
	StockCeiling int    `firestore:"stockCeiling"`
	Barcode      string `firestore:"barcode,omitempty"`
	Brand        string `firestore:"brand,omitempty"`
}

func heldOrderFromDomain(s domain.HeldOrderSnapshot, operatorID, terminalID string) heldOrderDocument {
	terminal := strings.TrimSpace(s.TerminalID)
	if terminal == "" {
		terminal = terminalID
	}
	doc := heldOrderDocument{
		OperatorID:   operatorID,
		TerminalID:   terminal,
		CustomerKind: string(s.Customer.Kind),
		CustomerID:   s.Customer.ID,
		CustomerName: s.Customer.DisplayName,
		Discount:     s.Discount.String(),
		Lines:        make([]heldOrderLineDocument, 0, len(s.Lines)),
	}
	for _, line := range s.Lines {
		doc.Lines = append(doc.Lines, heldOrderLineDocument{
			ProductID:    line.ProductID,
			Name:         line.Name,
			SKU:          line.SKU,
			UnitPrice:    line.UnitPrice.String(),
			Quantity:     line.Quantity,
			StockCeiling: line.StockCeiling,
			Barcode:      line.Barcode,
			Brand:        line.Brand,
		})
	}
	return doc
}

func (d heldOrderDocument) toDomain(id string) (domain.HeldOrderSnapshot, error) {
	discount, err := parseDecimal(d.Discount)
	if err != nil {
		return domain.HeldOrderSnapshot{}, fmt.Errorf("held order %s: discount: %w", id, err)
	}

	var customer domain.CustomerSelection
	switch domain.CustomerSelectionKind(d.CustomerKind) {
	case domain.CustomerGeneric:
		customer = domain.GenericCustomer()
	case domain.CustomerIdentified:
		customer = domain.IdentifiedCustomer(d.CustomerID, d.CustomerName)
	default:
		customer = domain.UnsetCustomer()
	}

	lines := make([]domain.CartLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		price, err := parseDecimal(line.UnitPrice)
		if err != nil {
			return domain.HeldOrderSnapshot{}, fmt.Errorf("held order %s: line %s: %w", id, line.ProductID, err)
		}
		lines = append(lines, domain.CartLine{
			ProductID:    line.ProductID,
			Name:         line.Name,
			SKU:          line.SKU,
			UnitPrice:    price,
			Quantity:     line.Quantity,
			StockCeiling: line.StockCeiling,
			Barcode:      line.Barcode,
			Brand:        line.Brand,
		})
	}

	return domain.HeldOrderSnapshot{
		ID:         id,
		Customer:   customer,
		Lines:      lines,
		Discount:   discount,
		OperatorID: d.OperatorID,
		TerminalID: d.TerminalID,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

var _ repositories.HeldOrderRepository = (*HeldOrderRepository)(nil)
