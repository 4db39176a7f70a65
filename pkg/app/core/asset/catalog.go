package asset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the static, ordered table of tradable assets.
// It is built once and never mutated, so it is safe to share across matches.
type Catalog struct {
	assets []Asset
	bySym  map[string]int // symbol -> index
	byFeed map[string]int // feed alias -> index
}

// NewCatalog validates the assets and indexes them by symbol and feed alias
func NewCatalog(assets []Asset) (*Catalog, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one asset")
	}

	c := &Catalog{
		assets: make([]Asset, len(assets)),
		bySym:  make(map[string]int, len(assets)),
		byFeed: make(map[string]int, len(assets)),
	}
	copy(c.assets, assets)

	for i, a := range c.assets {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("invalid asset at index %d: %w", i, err)
		}
		if _, exists := c.bySym[a.Symbol]; exists {
			return nil, fmt.Errorf("asset %s registered twice", a.Symbol)
		}
		if _, exists := c.byFeed[a.Feed()]; exists {
			return nil, fmt.Errorf("feed symbol %s registered twice", a.Feed())
		}
		c.bySym[a.Symbol] = i
		c.byFeed[a.Feed()] = i
	}
	return c, nil
}

// MustDefault returns the built-in catalog
func MustDefault() *Catalog {
	c, err := NewCatalog(Default)
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

type catalogFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadFile reads a YAML catalog:
//
//	assets:
//	  - symbol: BTC
//	    feed_symbol: BTCUSDT
//	    base_price: 65000
//	    max_leverage: 50
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewCatalog(f.Assets)
}

// Get returns the asset for a symbol
func (c *Catalog) Get(symbol string) (Asset, bool) {
	i, ok := c.bySym[symbol]
	if !ok {
		return Asset{}, false
	}
	return c.assets[i], true
}

// At returns the asset at a UI index
func (c *Catalog) At(index int) (Asset, bool) {
	if index < 0 || index >= len(c.assets) {
		return Asset{}, false
	}
	return c.assets[index], true
}

// ByFeed resolves a price-feed alias (or a plain symbol) to its asset.
func (c *Catalog) ByFeed(feedSymbol string) (Asset, bool) {
	if i, ok := c.byFeed[feedSymbol]; ok {
		return c.assets[i], true
	}
	return c.Get(feedSymbol)
}

// List returns a copy of the assets in catalog order
func (c *Catalog) List() []Asset {
	out := make([]Asset, len(c.assets))
	copy(out, c.assets)
	return out
}

func (c *Catalog) Len() int { return len(c.assets) }
