package commission

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRuleSet = errors.New("commission: invalid rule set")

// RuleSet is one immutable, versioned commission configuration.
type RuleSet struct {
	Version       int                        `json:"version"`
	DefaultRate   decimal.Decimal            `json:"default_rate"`
	CategoryRates map[string]decimal.Decimal `json:"category_rates,omitempty"`
	// Tiers are ordered by ascending MinVolume; a later tier outranks an earlier one.
	Tiers []Tier `json:"tiers,omitempty"`
}

type Tier struct {
	Name          string                     `json:"name"`
	MinVolume     int64                      `json:"min_volume"`
	DefaultRate   decimal.NullDecimal        `json:"default_rate"`
	CategoryRates map[string]decimal.Decimal `json:"category_rates,omitempty"`
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

func validRate(r decimal.Decimal) bool {
	return !r.LessThan(zero) && !r.GreaterThan(one)
}

// Validate checks rate bounds, threshold ordering and that no tier raises the
// effective rate of any category over the tier below it.
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRuleSet)
	}
	if !validRate(rs.DefaultRate) {
		return fmt.Errorf("%w: default rate %s outside [0,1]", ErrInvalidRuleSet, rs.DefaultRate)
	}
	for cat, r := range rs.CategoryRates {
		if !validRate(r) {
			return fmt.Errorf("%w: category %s rate %s outside [0,1]", ErrInvalidRuleSet, cat, r)
		}
	}
	seen := map[string]bool{}
	for i, t := range rs.Tiers {
		if t.Name == "" {
			return fmt.Errorf("%w: tier %d has no name", ErrInvalidRuleSet, i)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %s", ErrInvalidRuleSet, t.Name)
		}
		seen[t.Name] = true
		if t.MinVolume < 0 {
			return fmt.Errorf("%w: tier %s has negative threshold", ErrInvalidRuleSet, t.Name)
		}
		if i > 0 && t.MinVolume < rs.Tiers[i-1].MinVolume {
			return fmt.Errorf("%w: tier %s threshold below tier %s", ErrInvalidRuleSet, t.Name, rs.Tiers[i-1].Name)
		}
		if t.DefaultRate.Valid && !validRate(t.DefaultRate.Decimal) {
			return fmt.Errorf("%w: tier %s default rate outside [0,1]", ErrInvalidRuleSet, t.Name)
		}
		for cat, r := range t.CategoryRates {
			if !validRate(r) {
				return fmt.Errorf("%w: tier %s category %s rate outside [0,1]", ErrInvalidRuleSet, t.Name, cat)
			}
		}
	}

	for _, cat := range rs.categories() {
		prev := rs.Rate("", cat)
		for _, t := range rs.Tiers {
			r := rs.Rate(t.Name, cat)
			if r.GreaterThan(prev) {
				return fmt.Errorf("%w: tier %s raises rate for category %q (%s > %s)",
					ErrInvalidRuleSet, t.Name, cat, r, prev)
			}
			prev = r
		}
	}
	return nil
}

// categories lists every category the rule set mentions plus "" for unlisted ones.
func (rs *RuleSet) categories() []string {
	set := map[string]struct{}{"": {}}
	for c := range rs.CategoryRates {
		set[c] = struct{}{}
	}
	for _, t := range rs.Tiers {
		for c := range t.CategoryRates {
			set[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (rs *RuleSet) tier(name string) (Tier, bool) {
	if name == "" {
		return Tier{}, false
	}
	for _, t := range rs.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// ---- YAML file form ----

type fileRuleSet struct {
	Version     int               `yaml:"version"`
	DefaultRate string            `yaml:"default_rate"`
	Categories  map[string]string `yaml:"categories"`
	Tiers       []fileTier        `yaml:"tiers"`
}

type fileTier struct {
	Name        string            `yaml:"name"`
	MinVolume   int64             `yaml:"min_volume"`
	DefaultRate string            `yaml:"default_rate"`
	Categories  map[string]string `yaml:"categories"`
}

// LoadFile reads and validates a YAML rule set.
func LoadFile(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*RuleSet, error) {
	var f fileRuleSet
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	def, err := decimal.NewFromString(f.DefaultRate)
	if err != nil {
		return nil, fmt.Errorf("%w: default_rate: %v", ErrInvalidRuleSet, err)
	}
	rs := &RuleSet{Version: f.Version, DefaultRate: def}
	if rs.CategoryRates, err = parseRates(f.Categories); err != nil {
		return nil, err
	}
	for _, ft := range f.Tiers {
		t := Tier{Name: ft.Name, MinVolume: ft.MinVolume}
		if ft.DefaultRate != "" {
			d, err := decimal.NewFromString(ft.DefaultRate)
			if err != nil {
				return nil, fmt.Errorf("%w: tier %s default_rate: %v", ErrInvalidRuleSet, ft.Name, err)
			}
			t.DefaultRate = decimal.NewNullDecimal(d)
		}
		if t.CategoryRates, err = parseRates(ft.Categories); err != nil {
			return nil, err
		}
		rs.Tiers = append(rs.Tiers, t)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func parseRates(in map[string]string) (map[string]decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: rate for %s: %v", ErrInvalidRuleSet, k, err)
		}
		out[k] = d
	}
	return out, nil
}
