// Package catalog holds the read-only model cost profiles and subscription
// tiers: per-model credit multipliers, USD rates and tier allow-lists.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Credit normalization: one credit buys 0.001 USD per 1k tokens, and the
// blended rate assumes one input token for every three output tokens.
const (
	CreditBaseValue    = 0.001
	typicalInputRatio  = 1
	typicalOutputRatio = 3
)

// NormalizedMultiplier returns credits per token such that equal dollar
// cost means equal credits across models. Rounded to six decimals.
func NormalizedMultiplier(inputCost1K, outputCost1K float64) float64 {
	weighted := (inputCost1K*typicalInputRatio + outputCost1K*typicalOutputRatio) /
		(typicalInputRatio + typicalOutputRatio)
	return math.Round(weighted/CreditBaseValue*1e6) / 1e6
}

// DefaultMultiplier applies to models missing from the catalog.
var DefaultMultiplier = NormalizedMultiplier(0.001, 0.003)

// Model is the cost profile of one model.
type Model struct {
	ID           string  `toml:"id" mapstructure:"id" json:"id"`
	Label        string  `toml:"label" mapstructure:"label" json:"label"`
	Provider     string  `toml:"provider" mapstructure:"provider" json:"provider"`
	Description  string  `toml:"description" mapstructure:"description" json:"description,omitempty"`
	InputCost1K  float64 `toml:"input_cost_1k" mapstructure:"input_cost_1k" json:"input_cost_1k"`
	OutputCost1K float64 `toml:"output_cost_1k" mapstructure:"output_cost_1k" json:"output_cost_1k"`
	Multiplier   float64 `toml:"credit_multiplier" mapstructure:"credit_multiplier" json:"credit_multiplier"`
}

// Tier is a subscription tier.
type Tier struct {
	ID                 string   `toml:"id" mapstructure:"id" json:"id"`
	Name               string   `toml:"name" mapstructure:"name" json:"name"`
	AllowedModels      []string `toml:"allowed_models" mapstructure:"allowed_models" json:"allowed_models,omitempty"`
	AllModels          bool     `toml:"all_models" mapstructure:"all_models" json:"all_models"`
	CreditsPerMonth    int64    `toml:"credits_per_month" mapstructure:"credits_per_month" json:"credits_per_month"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	CostUSD            float64  `toml:"cost_usd" mapstructure:"cost_usd" json:"cost_usd"`
}

// Data is the decoded catalog document.
type Data struct {
	DefaultMultiplier float64 `toml:"default_multiplier" mapstructure:"default_multiplier"`
	Models            []Model `toml:"models" mapstructure:"models"`
	Tiers             []Tier  `toml:"tiers" mapstructure:"tiers"`
}

// Parse decodes a TOML catalog document.
func Parse(raw []byte) (Data, error) {
	var d Data
	if err := toml.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("decode catalog: %w", err)
	}
	return d, nil
}

// snapshot is an immutable, indexed view of Data.
type snapshot struct {
	defaultMultiplier float64
	models            []Model
	byID              map[string]Model
	tiers             []Tier
	allowed           map[string]map[string]struct{}
}

func index(d Data) (*snapshot, error) {
	s := &snapshot{
		defaultMultiplier: d.DefaultMultiplier,
		byID:              make(map[string]Model, len(d.Models)),
		allowed:           make(map[string]map[string]struct{}, len(d.Tiers)),
	}
	if s.defaultMultiplier <= 0 {
		s.defaultMultiplier = DefaultMultiplier
	}

	for _, m := range d.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model without id")
		}
		if _, dup := s.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		if m.Multiplier <= 0 {
			m.Multiplier = NormalizedMultiplier(m.InputCost1K, m.OutputCost1K)
		}
		if m.Multiplier <= 0 {
			return nil, fmt.Errorf("catalog: model %q has no cost", m.ID)
		}
		s.byID[m.ID] = m
		s.models = append(s.models, m)
	}

	for _, t := range d.Tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("catalog: tier without id")
		}
		set := make(map[string]struct{})
		if t.AllModels {
			for _, m := range s.models {
				set[m.ID] = struct{}{}
			}
		}
		for _, id := range t.AllowedModels {
			if _, ok := s.byID[id]; !ok {
				return nil, fmt.Errorf("catalog: tier %q allows unknown model %q", t.ID, id)
			}
			set[id] = struct{}{}
		}
		t.AllowedModels = slices.Clone(t.AllowedModels)
		s.allowed[t.ID] = set
		s.tiers = append(s.tiers, t)
	}
	return s, nil
}

// Catalog is a concurrency-safe, reloadable catalog.
type Catalog struct {
	mu     sync.RWMutex
	snap   *snapshot
	logger *slog.Logger
}

// New validates d and builds a catalog from it.
func New(d Data, logger *slog.Logger) (*Catalog, error) {
	snap, err := index(d)
	if err != nil {
		return nil, err
	}
	return &Catalog{snap: snap, logger: logger}, nil
}

// Default returns the catalog compiled into the binary.
func Default(logger *slog.Logger) (*Catalog, error) {
	d, err := Parse(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return New(d, logger)
}

// Replace swaps in a new document. On error the current catalog is kept.
func (c *Catalog) Replace(d Data) error {
	snap, err := index(d)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return nil
}

func (c *Catalog) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Multiplier returns credits per token for model, or the default multiplier
// when the model is unknown.
func (c *Catalog) Multiplier(model string) float64 {
	s := c.current()
	if m, ok := s.byID[model]; ok {
		return m.Multiplier
	}
	return s.defaultMultiplier
}

// AllowedModels returns the model set of tier. Unknown tiers allow nothing.
func (c *Catalog) AllowedModels(tier string) map[string]struct{} {
	set := c.current().allowed[tier]
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// Model returns the profile of one model.
func (c *Catalog) Model(id string) (Model, bool) {
	m, ok := c.current().byID[id]
	return m, ok
}

// Models returns every model in catalog order.
func (c *Catalog) Models() []Model {
	return slices.Clone(c.current().models)
}

// Tier returns one tier.
func (c *Catalog) Tier(id string) (Tier, bool) {
	for _, t := range c.current().tiers {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// Tiers returns every tier in catalog order.
func (c *Catalog) Tiers() []Tier {
	return slices.Clone(c.current().tiers)
}

// LowestTier returns the first tier, in catalog order, that allows model.
func (c *Catalog) LowestTier(model string) string {
	s := c.current()
	for _, t := range s.tiers {
		if _, ok := s.allowed[t.ID][model]; ok {
			return t.ID
		}
	}
	return ""
}
