package config

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/native/crowdsale"
)

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(strings.ReplaceAll(trimmed, "_", ""), 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

// ParseAmount parses a base-unit amount in decimal or 0x-prefixed hex form.
// An empty string is an error; zero must be written explicitly.
func ParseAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("amount required")
	}
	return parseUintAmount(raw)
}

func parseTime(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("time required")
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want unix seconds or RFC3339", raw)
	}
	return ts.Unix(), nil
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// CrowdsaleConfig converts the textual campaign section into engine
// parameters. It does not apply the engine's structural checks; call Validate
// on the result.
func (c Campaign) CrowdsaleConfig() (*crowdsale.Config, error) {
	out := &crowdsale.Config{}
	var err error
	if out.OpeningTime, err = parseTime(c.OpeningTime); err != nil {
		return nil, fmt.Errorf("invalid campaign.OpeningTime: %w", err)
	}
	if out.ClosingTime, err = parseTime(c.ClosingTime); err != nil {
		return nil, fmt.Errorf("invalid campaign.ClosingTime: %w", err)
	}
	amounts := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"PreSaleRate", c.PreSaleRate, &out.PreSaleRate},
		{"SoftCapRate", c.SoftCapRate, &out.SoftCapRate},
		{"HardCapRate", c.HardCapRate, &out.HardCapRate},
		{"PreSaleCap", c.PreSaleCap, &out.PreSaleCap},
		{"SoftCap", c.SoftCap, &out.SoftCap},
		{"HardCap", c.HardCap, &out.HardCap},
	}
	for _, field := range amounts {
		value, err := parseUintAmount(field.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid campaign.%s: %w", field.name, err)
		}
		*field.dst = value
	}
	addresses := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"Wallet", c.Wallet, &out.Wallet},
		{"CompanyReserve", c.CompanyReserve, &out.CompanyReserve},
		{"MiningPool", c.MiningPool, &out.MiningPool},
		{"ICOBounty", c.ICOBounty, &out.ICOBounty},
		{"GitHubBounty", c.GitHubBounty, &out.GitHubBounty},
		{"Owner", c.Owner, &out.Owner},
		{"Authority", c.Authority, &out.Authority},
	}
	for _, field := range addresses {
		addr, err := ParseAddress(field.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid campaign.%s: %w", field.name, err)
		}
		*field.dst = addr
	}
	return out, nil
}
