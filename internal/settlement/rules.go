package settlement

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"go.uber.org/zap"
)

// SaveRuleSet validates and stores a commission rule set. Sub-orders already
// split keep the version they were priced with.
func (s *Service) SaveRuleSet(ctx context.Context, rs *commission.RuleSet, activate bool) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is required", orders.ErrInvalidRequest)
	}
	if err := rs.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveRuleSet(ctx, rs, activate); err != nil {
		return err
	}
	s.logger.Info("commission rule set saved", zap.Int("version", rs.Version), zap.Bool("active", activate))
	return nil
}

func (s *Service) ActiveRuleSet(ctx context.Context) (*commission.RuleSet, error) {
	var out *commission.RuleSet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rs, err := tx.ActiveRuleSet(ctx)
		out = rs
		return err
	})
	return out, err
}

// Ledger is the read-only reporting surface over seller entries.
func (s *Service) Ledger() *ledger.Reader {
	return &ledger.Reader{Store: s.store.Ledger()}
}
