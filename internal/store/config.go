package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's startup configuration. The watchlist is an ordered
// sequence; ranking tie-breaks and subscription order follow it.
type Config struct {
	Addr     string `yaml:"addr"`
	Exchange string `yaml:"exchange"`

	Watchlist []string `yaml:"watchlist"`

	Stream struct {
		QueueSize               int `yaml:"queue_size"`
		ReconnectInitialSeconds int `yaml:"reconnect_initial_seconds"`
		ReconnectMaxSeconds     int `yaml:"reconnect_max_seconds"`
	} `yaml:"stream"`

	Rank struct {
		DefaultTimeframeSeconds uint64 `yaml:"default_timeframe_seconds"`
		TimeoutSeconds          int    `yaml:"timeout_seconds"`
	} `yaml:"rank"`
}

// Credentials holds the brokerage API key pair, immutable for the process
// lifetime.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c *Config) Validate() error {
	if len(c.Watchlist) == 0 {
		return errors.New("watchlist cannot be empty")
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for _, sym := range c.Watchlist {
		if sym == "" {
			return errors.New("watchlist contains an empty symbol")
		}
		if seen[sym] {
			return fmt.Errorf("watchlist contains duplicate symbol '%s'", sym)
		}
		seen[sym] = true
	}
	if c.Stream.ReconnectInitialSeconds > c.Stream.ReconnectMaxSeconds {
		return fmt.Errorf("stream.reconnect_initial_seconds (%d) exceeds stream.reconnect_max_seconds (%d)",
			c.Stream.ReconnectInitialSeconds, c.Stream.ReconnectMaxSeconds)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.Stream.QueueSize == 0 {
		c.Stream.QueueSize = 256
	}
	if c.Stream.ReconnectInitialSeconds == 0 {
		c.Stream.ReconnectInitialSeconds = 1
	}
	if c.Stream.ReconnectMaxSeconds == 0 {
		c.Stream.ReconnectMaxSeconds = 30
	}
	if c.Rank.DefaultTimeframeSeconds == 0 {
		c.Rank.DefaultTimeframeSeconds = 20
	}
	if c.Rank.TimeoutSeconds == 0 {
		c.Rank.TimeoutSeconds = 30
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// LoadCredentials reads the brokerage key pair from the environment. The
// process must refuse to start when either value is absent.
func LoadCredentials() (Credentials, error) {
	key := os.Getenv("KITE_API_KEY")
	if key == "" {
		return Credentials{}, errors.New("KITE_API_KEY is not set")
	}
	secret := os.Getenv("KITE_API_SECRET")
	if secret == "" {
		return Credentials{}, errors.New("KITE_API_SECRET is not set")
	}
	return Credentials{APIKey: key, APISecret: secret}, nil
}
