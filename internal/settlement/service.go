// Package settlement is the marketplace settlement core: it splits checkouts
// into per-seller sub-orders, prices commission, drives inventory holds and
// posts seller earnings, and reverses all of it on cancellation or refund.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/ariefcatur/go-marketplace-settlement/internal/settlement"

type Options struct {
	Currency   string
	HoldTTL    time.Duration
	TierWindow time.Duration
	// Producer names this process in event envelopes.
	Producer string
	Now      func() time.Time
}

func (o *Options) defaults() {
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.HoldTTL <= 0 {
		o.HoldTTL = inventory.DefaultHoldTTL
	}
	if o.TierWindow <= 0 {
		o.TierWindow = 90 * 24 * time.Hour
	}
	if o.Producer == "" {
		o.Producer = "settlement"
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

type Service struct {
	store     Store
	locker    Locker
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	opts      Options
}

func NewService(store Store, locker Locker, publisher Publisher, logger *zap.Logger, opts Options) *Service {
	opts.defaults()
	if locker == nil {
		locker = NewLocalLocker(DefaultLockTimeout)
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		opts:      opts,
	}
}

func (s *Service) now() time.Time { return s.opts.Now() }

// Reservations exposes the hold contract (Reserve/Commit/Release/IsExpired) over the store's inventory.
func (s *Service) Reservations() *inventory.Service {
	r := inventory.NewService(s.store.Inventory(), s.opts.HoldTTL, s.logger)
	r.Now = s.opts.Now
	return r
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "settlement."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, orders.ErrAlreadyProcessed) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// logFailure logs integrity violations loudly; the rest is the caller's business.
func (s *Service) logFailure(op string, err error, fields ...zap.Field) {
	if errors.Is(err, orders.ErrIntegrity) {
		s.logger.Error("settlement integrity violation, operator action required",
			append(fields, zap.String("op", op), zap.Error(err))...)
		return
	}
	s.logger.Debug("settlement operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
}

func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.opts.Producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	s.publisher.Publish(ctx, topic, orders.PartitionKey(orderID), env)
}

// Order returns a parent order with its sub-orders and lines.
func (s *Service) Order(ctx context.Context, id string) (*orders.Order, error) {
	var out *orders.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Order(ctx, id)
		out = o
		return err
	})
	return out, err
}

func (s *Service) lockOrder(ctx context.Context, orderID string, subIDs []string) (func(), error) {
	keys := make([]string, 0, len(subIDs)+1)
	keys = append(keys, OrderKey(orderID))
	for _, id := range subIDs {
		keys = append(keys, SubOrderKey(id))
	}
	return s.locker.Lock(ctx, keys...)
}

// lockSubOrder locks one sub-order together with its parent.
func (s *Service) lockSubOrder(ctx context.Context, subOrderID string) (func(), error) {
	var orderID string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := tx.SubOrder(ctx, subOrderID)
		if err != nil {
			return err
		}
		orderID = sub.OrderID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.lockOrder(ctx, orderID, []string{subOrderID})
}

// syncParent recomputes and stores the parent of sub after sub changed in tx.
// The parent is read for update so a sibling changed by another unit is seen.
func syncParent(ctx context.Context, tx Tx, orderID string, now time.Time) (*orders.Order, error) {
	o, err := tx.OrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Recompute()
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
