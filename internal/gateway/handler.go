// Package gateway applies payment-gateway events from Kafka to the settlement core.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ikafka "github.com/ariefcatur/go-marketplace-settlement/internal/kafka"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topics the worker subscribes to.
var Topics = []string{orders.TopicPaymentCaptured, orders.TopicPaymentRefunded}

type Settler interface {
	ConfirmPayment(ctx context.Context, p settlement.PaymentConfirmation) (*settlement.PaymentResult, error)
	Refund(ctx context.Context, req settlement.RefundRequest) (*settlement.RefundResult, error)
}

type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Handler struct {
	Settler    Settler
	Dedup      Dedup // optional
	DeadLetter settlement.Publisher
	Logger     *zap.Logger
	Producer   string

	// Retries bounds in-place retries of contention before the offset is left uncommitted.
	Retries int
	Backoff time.Duration
}

func NewHandler(s Settler, dedup Dedup, deadLetter settlement.Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deadLetter == nil {
		deadLetter = settlement.NopPublisher{}
	}
	return &Handler{
		Settler:    s,
		Dedup:      dedup,
		DeadLetter: deadLetter,
		Logger:     logger,
		Producer:   "settlement-worker",
		Retries:    3,
		Backoff:    100 * time.Millisecond,
	}
}

// Handle is an ikafka.Handler. It returns an error only for retryable
// failures; everything else is either applied, a replay, or dead-lettered.
func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	env, err := ikafka.UnmarshalEnvelope(m.Value)
	if err != nil {
		h.deadLetter(ctx, m, "", err)
		return nil
	}
	key, apply, err := h.route(m.Topic, env)
	if err != nil {
		h.deadLetter(ctx, m, env.EventID, err)
		return nil
	}
	log := h.Logger.With(zap.String("topic", m.Topic), zap.String("event_id", env.EventID), zap.String("key", key))

	if h.Dedup != nil {
		seen, err := h.Dedup.Seen(ctx, key)
		if err != nil {
			log.Warn("dedup lookup failed, falling back to store", zap.Error(err))
		} else if seen {
			log.Debug("duplicate gateway event skipped")
			return nil
		}
	}

	err = h.withRetry(ctx, apply)
	switch {
	case err == nil, errors.Is(err, orders.ErrAlreadyProcessed):
		h.mark(ctx, log, key)
		return nil
	case orders.Retryable(err):
		log.Warn("gateway event still contended, leaving uncommitted", zap.Error(err))
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	if errors.Is(err, orders.ErrIntegrity) {
		log.Error("integrity failure applying gateway event", zap.Error(err))
	} else {
		log.Warn("gateway event rejected", zap.Error(err))
	}
	// not marked: a corrected redelivery under the same reference must still apply
	h.deadLetter(ctx, m, env.EventID, err)
	return nil
}

// route decodes the payload and returns its dedup key and the call that applies it.
func (h *Handler) route(topic string, env orders.Envelope) (string, func(context.Context) error, error) {
	switch topic {
	case orders.TopicPaymentCaptured:
		p, err := ikafka.UnwrapPayload[orders.PaymentCapturedPayload](env.Payload)
		if err != nil {
			return "", nil, err
		}
		return dedupKey(env, "payment:"+p.PaymentRef), func(ctx context.Context) error {
			_, err := h.Settler.ConfirmPayment(ctx, settlement.PaymentConfirmation{
				OrderID: p.OrderID, PaymentRef: p.PaymentRef, CapturedAmount: p.CapturedAmount,
			})
			return err
		}, nil

	case orders.TopicPaymentRefunded:
		p, err := ikafka.UnwrapPayload[orders.RefundIssuedPayload](env.Payload)
		if err != nil {
			return "", nil, err
		}
		return dedupKey(env, "refund:"+p.RefundRef), func(ctx context.Context) error {
			_, err := h.Settler.Refund(ctx, settlement.RefundRequest{
				SubOrderID: p.SubOrderID, RefundRef: p.RefundRef, Lines: p.Lines, Amount: p.Amount,
			})
			return err
		}, nil
	}
	return "", nil, fmt.Errorf("%w: unexpected topic %s", orders.ErrInvalidRequest, topic)
}

func dedupKey(env orders.Envelope, fallback string) string {
	if env.IdempotencyKey != "" {
		return env.IdempotencyKey
	}
	return fallback
}

func (h *Handler) withRetry(ctx context.Context, apply func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = apply(ctx)
		if !orders.Retryable(err) || attempt >= h.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.Backoff << attempt):
		}
	}
}

func (h *Handler) mark(ctx context.Context, log *zap.Logger, key string) {
	if h.Dedup == nil {
		return
	}
	if err := h.Dedup.Mark(ctx, key); err != nil {
		log.Warn("dedup mark failed", zap.Error(err))
	}
}

func (h *Handler) deadLetter(ctx context.Context, m kafka.Message, eventID string, cause error) {
	body, _ := json.Marshal(orders.IntegrityFailedPayload{EventID: eventID, Topic: m.Topic, Reason: cause.Error()})
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventIntegrityFailed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Producer,
		CorrelationID: eventID,
		Payload:       body,
	}
	h.DeadLetter.Publish(ctx, orders.TopicSettlementDeadLetter, m.Key, env)
	h.Logger.Warn("gateway event dead-lettered",
		zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(cause))
}
