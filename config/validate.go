package config

import (
	"fmt"
	"strings"

	"kylan/crypto"
	"kylan/native/printer"
)

// MinJWTSecretLength is the shortest operator secret accepted.
var MinJWTSecretLength = 16

// Validate checks the loaded configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if _, err := printer.ParseCertModel(c.Model); err != nil {
		return fmt.Errorf("config: model: %w", err)
	}
	if c.SignatureWindow.Duration < 0 {
		return fmt.Errorf("config: signature_window must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if secret := c.Operator.JWTSecret; secret != "" && len(secret) < MinJWTSecretLength {
		return fmt.Errorf("config: operator jwt_secret shorter than %d bytes", MinJWTSecretLength)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry sample_ratio must be within [0,1]")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(asset.Address))
		if err != nil {
			return fmt.Errorf("config: assets[%d].address: %w", i, err)
		}
		if _, dup := seen[addr.Hex()]; dup {
			return fmt.Errorf("config: assets[%d]: duplicate asset %s", i, asset.Address)
		}
		seen[addr.Hex()] = struct{}{}
		for j, balance := range asset.Balances {
			if _, err := crypto.DecodeAddress(strings.TrimSpace(balance.Owner)); err != nil {
				return fmt.Errorf("config: assets[%d].balances[%d].owner: %w", i, j, err)
			}
		}
	}
	return nil
}
