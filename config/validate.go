package config

import (
	"fmt"
	"strings"
)

// MaxTokenDecimals bounds the token precision accepted from configuration.
var MaxTokenDecimals = uint8(36)

// Validate checks the node settings and the campaign section.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir required")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: burst must be positive when a rate is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0,1]")
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return fmt.Errorf("auth: token ttl must be positive")
	}
	if q := c.Quotas.Contributions; q.MaxRequestsPerEpoch > 0 && q.EpochSeconds == 0 {
		return fmt.Errorf("quotas.contributions: epoch seconds required")
	}
	if c.Token.Decimals > MaxTokenDecimals {
		return fmt.Errorf("token: decimals %d exceed %d", c.Token.Decimals, MaxTokenDecimals)
	}
	if strings.TrimSpace(c.Token.Deployer) != "" {
		if _, err := ParseAddress(c.Token.Deployer); err != nil {
			return fmt.Errorf("token: %w", err)
		}
	}
	campaign, err := c.Campaign.CrowdsaleConfig()
	if err != nil {
		return err
	}
	return campaign.Validate()
}
