// Package catalog loads the variant seed that stands in for the catalog
// collaborator in local and demo deployments.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"gopkg.in/yaml.v3"
)

type Item struct {
	Variant settlement.Variant
	OnHand  int
}

// Seeder is implemented by stores that accept catalog data.
type Seeder interface {
	UpsertVariant(ctx context.Context, v settlement.Variant, onHand int) error
}

type fileItem struct {
	ID         string `yaml:"id"`
	SellerID   string `yaml:"seller_id"`
	CategoryID string `yaml:"category_id"`
	UnitPrice  int64  `yaml:"unit_price"`
	OnHand     int    `yaml:"on_hand"`
}

type file struct {
	Variants []fileItem `yaml:"variants"`
}

func LoadFile(path string) ([]Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) ([]Item, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", orders.ErrInvalidRequest, err)
	}
	seen := make(map[string]bool, len(f.Variants))
	out := make([]Item, 0, len(f.Variants))
	for i, v := range f.Variants {
		switch {
		case v.ID == "" || v.SellerID == "" || v.CategoryID == "":
			return nil, fmt.Errorf("%w: catalog entry %d needs id, seller_id and category_id", orders.ErrInvalidRequest, i+1)
		case v.UnitPrice <= 0 || v.OnHand < 0:
			return nil, fmt.Errorf("%w: catalog entry %s has a bad price or stock", orders.ErrInvalidRequest, v.ID)
		case seen[v.ID]:
			return nil, fmt.Errorf("%w: duplicate catalog entry %s", orders.ErrInvalidRequest, v.ID)
		}
		seen[v.ID] = true
		out = append(out, Item{
			Variant: settlement.Variant{ID: v.ID, SellerID: v.SellerID, CategoryID: v.CategoryID, UnitPrice: v.UnitPrice},
			OnHand:  v.OnHand,
		})
	}
	return out, nil
}

func Seed(ctx context.Context, s Seeder, items []Item) error {
	for _, it := range items {
		if err := s.UpsertVariant(ctx, it.Variant, it.OnHand); err != nil {
			return fmt.Errorf("seed %s: %w", it.Variant.ID, err)
		}
	}
	return nil
}
