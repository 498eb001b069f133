package commission

import (
	"fmt"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/shopspring/decimal"
)

// ResolveTier returns the tier whose threshold is the highest one not exceeding
// volume. Thresholds are walked in order so equal thresholds resolve to the later
// (higher) tier. An empty name means the seller is below every threshold.
func ResolveTier(tiers []Tier, volume int64) string {
	name := ""
	for _, t := range tiers {
		if volume >= t.MinVolume {
			name = t.Name
		}
	}
	return name
}

// Rate resolves: tier category override, tier default, category default, global default.
func (rs *RuleSet) Rate(tier, category string) decimal.Decimal {
	if t, ok := rs.tier(tier); ok {
		if r, ok := t.CategoryRates[category]; ok {
			return r
		}
		if t.DefaultRate.Valid {
			return t.DefaultRate.Decimal
		}
	}
	if r, ok := rs.CategoryRates[category]; ok {
		return r
	}
	return rs.DefaultRate
}

// Amount is round(unitPrice * qty * rate) to the minor unit, half to even.
func Amount(unitPrice int64, qty int, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(unitPrice).
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(rate).
		RoundBank(0).
		IntPart()
}

type Line struct {
	CategoryID string
	UnitPrice  int64
	Quantity   int
}

type LineResult struct {
	Rate   decimal.Decimal
	Amount int64
}

type Result struct {
	RuleVersion int
	Tier        string
	Lines       []LineResult
	Total       int64
}

// Compute prices every line separately so category rates apply within one sub-order.
func Compute(rs *RuleSet, tier string, lines []Line) (Result, error) {
	if rs == nil {
		return Result{}, orders.ErrRuleNotFound
	}
	if tier != "" {
		if _, ok := rs.tier(tier); !ok {
			return Result{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidRuleSet, tier)
		}
	}
	res := Result{RuleVersion: rs.Version, Tier: tier, Lines: make([]LineResult, 0, len(lines))}
	for _, l := range lines {
		rate := rs.Rate(tier, l.CategoryID)
		amt := Amount(l.UnitPrice, l.Quantity, rate)
		res.Lines = append(res.Lines, LineResult{Rate: rate, Amount: amt})
		res.Total += amt
	}
	return res, nil
}
