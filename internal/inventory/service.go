package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"go.uber.org/zap"
)

const DefaultHoldTTL = 15 * time.Minute

// Service is the reservation contract over a Store: it stamps hold expiry and
// answers expiry questions for the external sweeper.
type Service struct {
	Store  Store
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

func NewService(store Store, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, TTL: ttl, Now: func() time.Time { return time.Now().UTC() }, Logger: logger}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *Service) Reserve(ctx context.Context, variantID string, qty int, token string) (Hold, error) {
	if token == "" {
		return Hold{}, fmt.Errorf("%w: hold token is required", orders.ErrInvalidRequest)
	}
	h, err := s.Store.Reserve(ctx, variantID, qty, token, s.now().Add(s.TTL))
	if err != nil {
		return Hold{}, err
	}
	s.Logger.Debug("stock held",
		zap.String("variant_id", variantID), zap.String("token", token), zap.Int("qty", qty))
	return h, nil
}

func (s *Service) Commit(ctx context.Context, token string) error {
	return s.Store.Commit(ctx, token)
}

func (s *Service) Release(ctx context.Context, token string) error {
	return s.Store.Release(ctx, token)
}

// IsExpired reports whether token still has a held hold past its expiry.
func (s *Service) IsExpired(ctx context.Context, token string) (bool, error) {
	holds, err := s.Store.Holds(ctx, token)
	if err != nil {
		return false, err
	}
	if len(holds) == 0 {
		return false, fmt.Errorf("%w: no holds for token %s", orders.ErrNotFound, token)
	}
	now := s.now()
	for _, h := range holds {
		if h.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) Stock(ctx context.Context, variantID string) (Stock, error) {
	return s.Store.Stock(ctx, variantID)
}
