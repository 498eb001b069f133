package kafka

import (
	"context"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
)

var _ settlement.Publisher = (*Publisher)(nil)

// Publisher puts domain event envelopes on the producer queue.
type Publisher struct {
	P *Producer
}

func (p *Publisher) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) {
	p.P.Publish(ctx, topic, key, MustMarshal(env), EnvelopeHeaders(env)...)
}
