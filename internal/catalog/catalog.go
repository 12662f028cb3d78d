// Package catalog loads characters, items and the tier table from a YAML file.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/easeaico/her-engine/internal/types"
)

// SubscriptionSoftCap is the daily limit of paid tiers.
const SubscriptionSoftCap = 2000

// DefaultTiers is the tier table used when the catalog defines none.
func DefaultTiers() map[types.Tier]types.TierPolicy {
	return map[types.Tier]types.TierPolicy{
		types.TierFree:  {DailyLimit: 50, MemoryDepth: 0},
		types.TierPlus:  {DailyLimit: SubscriptionSoftCap, MemoryDepth: 3},
		types.TierPro:   {DailyLimit: SubscriptionSoftCap, MemoryDepth: 5},
		types.TierUltra: {DailyLimit: SubscriptionSoftCap, MemoryDepth: 7},
	}
}

// Catalog is the static configuration the engine resolves characters and items from.
type Catalog struct {
	Characters []types.Character               `yaml:"characters"`
	Items      []types.Item                    `yaml:"items"`
	Tiers      map[types.Tier]types.TierPolicy `yaml:"tiers"`

	characters map[string]int
	items      map[string]int
}

// Load reads and indexes a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	slog.Info("catalog loaded", "path", path, "characters", len(c.Characters), "items", len(c.Items))
	return c, nil
}

// Parse decodes a YAML catalog and builds its indexes.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog yaml: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.characters = make(map[string]int, len(c.Characters))
	for i, character := range c.Characters {
		if character.ID == "" {
			return fmt.Errorf("character #%d has no id", i)
		}
		if _, dup := c.characters[character.ID]; dup {
			return fmt.Errorf("duplicate character id %q", character.ID)
		}
		c.characters[character.ID] = i
	}

	c.items = make(map[string]int, len(c.Items))
	for i, item := range c.Items {
		if item.Slug == "" {
			return fmt.Errorf("item #%d has no slug", i)
		}
		if _, dup := c.items[item.Slug]; dup {
			return fmt.Errorf("duplicate item slug %q", item.Slug)
		}
		if c.Items[i].ID == "" {
			c.Items[i].ID = item.Slug
		}
		c.items[item.Slug] = i
	}

	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	return nil
}

// Validate reports configuration problems that would fail turns at runtime.
func (c *Catalog) Validate() error {
	var errs []error
	for _, character := range c.Characters {
		if character.Name == "" {
			errs = append(errs, fmt.Errorf("character %q has no name", character.ID))
		}
		if character.ActiveVersion() == nil {
			errs = append(errs, fmt.Errorf("character %q has no persona version", character.ID))
		}
	}
	if _, ok := c.Tiers[types.TierFree]; !ok {
		errs = append(errs, errors.New("tier table has no free tier"))
	}
	for tier, policy := range c.Tiers {
		if !policy.Unlimited && policy.DailyLimit <= 0 {
			errs = append(errs, fmt.Errorf("tier %q needs daily_limit or unlimited", tier))
		}
	}
	return errors.Join(errs...)
}

// Character finds a character by id.
func (c *Catalog) Character(id string) (*types.Character, bool) {
	i, ok := c.characters[id]
	if !ok {
		return nil, false
	}
	return &c.Characters[i], true
}

// ItemBySlug finds an item by slug.
func (c *Catalog) ItemBySlug(slug string) (*types.Item, bool) {
	i, ok := c.items[slug]
	if !ok {
		return nil, false
	}
	return &c.Items[i], true
}

// Policy returns the row of a tier. Unknown tiers get the free row.
func (c *Catalog) Policy(tier types.Tier) types.TierPolicy {
	if policy, ok := c.Tiers[tier]; ok {
		return policy
	}
	return c.Tiers[types.TierFree]
}
