package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use strings such
// as "30s" in both TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// RateLimit bounds signed requests per caller.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
}

// Operator configures the JWT guarding pause and resume.
type Operator struct {
	JWTSecret string `toml:"JWTSecret" yaml:"jwt_secret"`
	Issuer    string `toml:"Issuer" yaml:"issuer"`
}

// CORS lists the browser origins allowed to call the API and open the event
// stream. Empty allows any origin.
type CORS struct {
	AllowedOrigins []string `toml:"AllowedOrigins" yaml:"allowed_origins"`
}

// Log controls structured logging output.
type Log struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
}

// Telemetry configures the OTLP exporters. An empty endpoint disables export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Balance seeds an initial holding of an asset.
type Balance struct {
	Owner  string `toml:"Owner" yaml:"owner"`
	Amount uint64 `toml:"Amount" yaml:"amount"`
}

// Asset registers a collateral token on the local ledger at startup.
type Asset struct {
	Address  string    `toml:"Address" yaml:"address"`
	Decimals uint8     `toml:"Decimals" yaml:"decimals"`
	Balances []Balance `toml:"Balances" yaml:"balances"`
}
