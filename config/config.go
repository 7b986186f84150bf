package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress   = ":8420"
	DefaultReceiptsDSN     = "file:kylan-receipts.db"
	DefaultSignatureWindow = 2 * time.Minute
	DefaultRequestsPerMin  = 120
	DefaultBurst           = 20
)

// Config is the kyland daemon configuration. Files ending in .yaml or .yml
// are decoded as YAML; everything else is TOML.
type Config struct {
	ListenAddress   string    `toml:"ListenAddress" yaml:"listen_address"`
	DataDir         string    `toml:"DataDir" yaml:"data_dir"`
	ReceiptsDSN     string    `toml:"ReceiptsDSN" yaml:"receipts_dsn"`
	Model           string    `toml:"Model" yaml:"model"`
	Paused          bool      `toml:"Paused" yaml:"paused"`
	SignatureWindow Duration  `toml:"SignatureWindow" yaml:"signature_window"`
	RateLimit       RateLimit `toml:"RateLimit" yaml:"rate_limit"`
	Operator        Operator  `toml:"Operator" yaml:"operator"`
	Log             Log       `toml:"Log" yaml:"log"`
	Telemetry       Telemetry `toml:"Telemetry" yaml:"telemetry"`
	CORS            CORS      `toml:"CORS" yaml:"cors"`
	Assets          []Asset   `toml:"Assets" yaml:"assets"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default TOML configuration written to path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       "./kylan-data",
		ReceiptsDSN:   DefaultReceiptsDSN,
		Model:         "price_fee",
	}
	cfg.applyDefaults()
	return cfg
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) string) {
	if c == nil || lookup == nil {
		return
	}
	if v := strings.TrimSpace(lookup("KYLAN_OPERATOR_JWT_SECRET")); v != "" {
		c.Operator.JWTSecret = v
	}
	if v := strings.TrimSpace(lookup("KYLAN_RECEIPTS_DSN")); v != "" {
		c.ReceiptsDSN = v
	}
	if v := strings.TrimSpace(lookup("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" && c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.ReceiptsDSN) == "" {
		c.ReceiptsDSN = DefaultReceiptsDSN
	}
	if c.SignatureWindow.Duration == 0 {
		c.SignatureWindow.Duration = DefaultSignatureWindow
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMin
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		return yaml.NewEncoder(f).Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
