package params

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Match struct {
	StartingBalance     float64 `envconfig:"MATCH_STARTING_BALANCE" default:"10000"`
	DefaultDuration     int     `envconfig:"MATCH_DEFAULT_DURATION" default:"120"` // seconds
	OpeningBellFraction float64 `envconfig:"MATCH_OPENING_BELL_FRACTION" default:"0.10"`
	RevealTicks         int     `envconfig:"MATCH_REVEAL_TICKS" default:"3"`
	// Step is the wall-clock length of one match second. Shorten it to fast-forward a devnet.
	Step time.Duration `envconfig:"MATCH_STEP" default:"1s"`
}

type Participant struct {
	PrivateKey string `envconfig:"PARTICIPANT_PRIVATE_KEY"` // hex, optional; a throwaway key is generated when empty
	Address    string `envconfig:"PARTICIPANT_ADDRESS"`     // overrides the address derived from the key
	Tag        string `envconfig:"PARTICIPANT_TAG" default:"anon"`
}

type Settlement struct {
	// Authority is the address whose signature settlement results must carry.
	// Empty disables verification (dev mode).
	Authority string `envconfig:"SETTLEMENT_AUTHORITY"`
	FeeBps    int64  `envconfig:"SETTLEMENT_FEE_BPS" default:"500"`
}

type API struct {
	Addr        string   `envconfig:"API_ADDR" default:":8080"`
	CORSOrigins []string `envconfig:"API_CORS_ORIGINS" default:"*"`
}

type Storage struct {
	DBPath      string `envconfig:"DB_PATH" default:"data/duel"` // empty keeps history in memory
	JournalPath string `envconfig:"JOURNAL_PATH"`
}

type Log struct {
	File       string `envconfig:"LOG_FILE"` // empty logs to stdout only
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
}

type Feed struct {
	URL         string        `envconfig:"FEED_URL"` // empty disables the price feed
	CatalogPath string        `envconfig:"ASSET_CATALOG"`
	MinBackoff  time.Duration `envconfig:"FEED_MIN_BACKOFF" default:"500ms"`
	MaxBackoff  time.Duration `envconfig:"FEED_MAX_BACKOFF" default:"30s"`

	// Simulate random-walks catalog prices when URL is empty
	Simulate      bool          `envconfig:"FEED_SIMULATE" default:"false"`
	SimInterval   time.Duration `envconfig:"FEED_SIM_INTERVAL" default:"500ms"`
	SimVolatility float64       `envconfig:"FEED_SIM_VOLATILITY_BPS" default:"25"`
}

type P2P struct {
	Enabled    bool     `envconfig:"P2P_ENABLED" default:"false"`
	ListenAddr string   `envconfig:"P2P_LISTEN_ADDR" default:"/ip4/0.0.0.0/tcp/4001"`
	Bootstrap  []string `envconfig:"P2P_BOOTSTRAP"`
}

type Config struct {
	Match       Match
	Participant Participant
	Settlement  Settlement
	API         API
	Storage     Storage
	Log         Log
	Feed        Feed
	P2P         P2P
}

// Default mirrors the default tags above
func Default() Config {
	return Config{
		Match: Match{
			StartingBalance:     10000,
			DefaultDuration:     120,
			OpeningBellFraction: 0.10,
			RevealTicks:         3,
			Step:                time.Second,
		},
		Participant: Participant{Tag: "anon"},
		Settlement:  Settlement{FeeBps: 500},
		API:         API{Addr: ":8080", CORSOrigins: []string{"*"}},
		Storage:     Storage{DBPath: "data/duel"},
		Log:         Log{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14, Compress: true},
		Feed:        Feed{MinBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second, SimInterval: 500 * time.Millisecond, SimVolatility: 25},
		P2P:         P2P{ListenAddr: "/ip4/0.0.0.0/tcp/4001"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	if c.Match.StartingBalance <= 0 {
		return fmt.Errorf("MATCH_STARTING_BALANCE must be positive, got %v", c.Match.StartingBalance)
	}
	if c.Match.DefaultDuration <= 0 {
		return fmt.Errorf("MATCH_DEFAULT_DURATION must be positive, got %d", c.Match.DefaultDuration)
	}
	if c.Match.OpeningBellFraction < 0 || c.Match.OpeningBellFraction >= 1 {
		return fmt.Errorf("MATCH_OPENING_BELL_FRACTION must be in [0,1), got %v", c.Match.OpeningBellFraction)
	}
	if c.Match.RevealTicks < 0 {
		return fmt.Errorf("MATCH_REVEAL_TICKS must not be negative, got %d", c.Match.RevealTicks)
	}
	if c.Match.Step <= 0 {
		return fmt.Errorf("MATCH_STEP must be positive, got %s", c.Match.Step)
	}
	if c.Settlement.FeeBps < 0 || c.Settlement.FeeBps > 10000 {
		return fmt.Errorf("SETTLEMENT_FEE_BPS must be in [0,10000], got %d", c.Settlement.FeeBps)
	}
	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("FEED_URL must be a ws:// or wss:// url, got %q", c.Feed.URL)
	}
	if c.Feed.MinBackoff <= 0 || c.Feed.MaxBackoff < c.Feed.MinBackoff {
		return fmt.Errorf("FEED_MIN_BACKOFF/FEED_MAX_BACKOFF out of order: %s > %s", c.Feed.MinBackoff, c.Feed.MaxBackoff)
	}
	if c.Feed.Simulate && (c.Feed.SimInterval <= 0 || c.Feed.SimVolatility <= 0) {
		return fmt.Errorf("FEED_SIM_INTERVAL and FEED_SIM_VOLATILITY_BPS must be positive")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("API_ADDR must not be empty")
	}
	return nil
}
