package settlement

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
)

// Variant is the catalog collaborator's view of a purchasable variant.
type Variant struct {
	ID         string
	SellerID   string
	CategoryID string
	UnitPrice  int64
}

// Idempotency scopes for MarkProcessed.
const (
	ScopeCheckout = "checkout"
	ScopePayment  = "payment"
	ScopeRefund   = "refund"
)

// Tx is one unit of work. Everything done through it commits or rolls back together.
type Tx interface {
	// Variants resolves the given ids; unknown ids are absent from the map.
	Variants(ctx context.Context, ids []string) (map[string]Variant, error)
	ActiveRuleSet(ctx context.Context) (*commission.RuleSet, error)
	// SellerVolume sums the totals of the seller's settled, non-refunded sub-orders since the given time.
	SellerVolume(ctx context.Context, sellerID string, since time.Time) (int64, error)

	Inventory() inventory.Store
	Ledger() ledger.Store

	InsertOrder(ctx context.Context, o *orders.Order) error
	Order(ctx context.Context, id string) (*orders.Order, error)
	// OrderForUpdate loads the parent and holds it against concurrent parent
	// writes until the unit ends. Siblings it returns are current as of the lock.
	OrderForUpdate(ctx context.Context, id string) (*orders.Order, error)
	OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error)
	// SubOrder loads a sub-order for update.
	SubOrder(ctx context.Context, id string) (*orders.SubOrder, error)
	// UpdateSubOrder persists s if nobody changed it since it was read, else orders.ErrContention.
	UpdateSubOrder(ctx context.Context, s *orders.SubOrder) error
	UpdateOrder(ctx context.Context, o *orders.Order) error

	// MarkProcessed records (scope, ref) or fails with orders.ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, scope, ref string) error
}

type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	// SaveRuleSet stores rs under its version. With activate it becomes the only active set.
	SaveRuleSet(ctx context.Context, rs *commission.RuleSet, activate bool) error
	// Ledger and Inventory serve reads outside a unit of work.
	Ledger() ledger.Store
	Inventory() inventory.Store
}

// Publisher emits domain events. Delivery is best effort and never affects settlement state.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env orders.Envelope)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, orders.Envelope) {}
