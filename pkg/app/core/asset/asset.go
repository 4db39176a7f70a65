package asset

import (
	"fmt"
	"math"
)

// Asset is a tradable symbol in a match. Immutable once loaded.
type Asset struct {
	Symbol      string  `yaml:"symbol" json:"symbol"`           // "BTC"
	FeedSymbol  string  `yaml:"feed_symbol" json:"feedSymbol"`  // alias used by the price feed, e.g. "BTCUSDT"
	BasePrice   float64 `yaml:"base_price" json:"basePrice"`    // fallback price before the first tick
	MaxLeverage int     `yaml:"max_leverage" json:"maxLeverage"` // upper bound for position leverage
}

// Validate checks asset parameter sanity
func (a Asset) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if math.IsNaN(a.BasePrice) || math.IsInf(a.BasePrice, 0) || a.BasePrice <= 0 {
		return fmt.Errorf("asset %s: base price must be positive", a.Symbol)
	}
	if a.MaxLeverage < 1 {
		return fmt.Errorf("asset %s: max leverage must be at least 1", a.Symbol)
	}
	return nil
}

// Feed returns the feed alias, falling back to the symbol itself.
func (a Asset) Feed() string {
	if a.FeedSymbol == "" {
		return a.Symbol
	}
	return a.FeedSymbol
}

// ValidLeverage reports whether 1 <= leverage <= MaxLeverage.
func (a Asset) ValidLeverage(leverage float64) bool {
	if math.IsNaN(leverage) {
		return false
	}
	return leverage >= 1 && leverage <= float64(a.MaxLeverage)
}

// Default is the built-in table used when no catalog file is configured.
var Default = []Asset{
	{Symbol: "BTC", FeedSymbol: "BTCUSDT", BasePrice: 65000, MaxLeverage: 50},
	{Symbol: "ETH", FeedSymbol: "ETHUSDT", BasePrice: 3200, MaxLeverage: 50},
	{Symbol: "SOL", FeedSymbol: "SOLUSDT", BasePrice: 150, MaxLeverage: 20},
	{Symbol: "BNB", FeedSymbol: "BNBUSDT", BasePrice: 580, MaxLeverage: 20},
	{Symbol: "DOGE", FeedSymbol: "DOGEUSDT", BasePrice: 0.15, MaxLeverage: 10},
}
