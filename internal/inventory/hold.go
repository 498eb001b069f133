package inventory

import "time"

type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
)

// Hold is a claim on Quantity units of a variant under Token (a sub-order id).
type Hold struct {
	ID        string
	VariantID string
	Token     string
	Quantity  int
	Status    HoldStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (h Hold) Expired(now time.Time) bool {
	return h.Status == HoldHeld && now.After(h.ExpiresAt)
}

// Stock is the per-variant counter set. Held + Committed never exceeds OnHand.
type Stock struct {
	VariantID string
	OnHand    int
	Held      int
	Committed int
}

func (s Stock) Available() int {
	return s.OnHand - s.Held - s.Committed
}
