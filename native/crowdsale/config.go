package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds the immutable campaign parameters fixed at deployment.
type Config struct {
	OpeningTime int64
	ClosingTime int64

	PreSaleRate *big.Int
	SoftCapRate *big.Int
	HardCapRate *big.Int

	PreSaleCap *big.Int
	SoftCap    *big.Int
	HardCap    *big.Int

	Wallet         common.Address
	CompanyReserve common.Address
	MiningPool     common.Address
	ICOBounty      common.Address
	GitHubBounty   common.Address

	// Owner is the administrator allowed to run privileged operations.
	Owner common.Address
	// Authority is the sale's own identity; it must own the token ledger for
	// settlement to mint.
	Authority common.Address
}

// storedConfig is the RLP-friendly form persisted at initialisation.
type storedConfig struct {
	OpeningTime    uint64
	ClosingTime    uint64
	PreSaleRate    *big.Int
	SoftCapRate    *big.Int
	HardCapRate    *big.Int
	PreSaleCap     *big.Int
	SoftCap        *big.Int
	HardCap        *big.Int
	Wallet         common.Address
	CompanyReserve common.Address
	MiningPool     common.Address
	ICOBounty      common.Address
	GitHubBounty   common.Address
	Owner          common.Address
	Authority      common.Address
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.PreSaleRate = newBigInt(c.PreSaleRate)
	clone.SoftCapRate = newBigInt(c.SoftCapRate)
	clone.HardCapRate = newBigInt(c.HardCapRate)
	clone.PreSaleCap = newBigInt(c.PreSaleCap)
	clone.SoftCap = newBigInt(c.SoftCap)
	clone.HardCap = newBigInt(c.HardCap)
	return &clone
}

// Validate checks the structural invariants of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.OpeningTime <= 0 || c.ClosingTime <= 0 {
		return fmt.Errorf("%w: opening and closing time required", ErrInvalidConfig)
	}
	if c.OpeningTime >= c.ClosingTime {
		return fmt.Errorf("%w: opening time must precede closing time", ErrInvalidConfig)
	}
	rates := map[string]*big.Int{
		"preSaleRate": c.PreSaleRate,
		"softCapRate": c.SoftCapRate,
		"hardCapRate": c.HardCapRate,
	}
	for name, rate := range rates {
		if rate == nil || rate.Sign() <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	caps := map[string]*big.Int{
		"preSaleCap": c.PreSaleCap,
		"softCap":    c.SoftCap,
		"hardCap":    c.HardCap,
	}
	for name, value := range caps {
		if value == nil || value.Sign() <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.SoftCap.Cmp(c.HardCap) > 0 {
		return fmt.Errorf("%w: softCap exceeds hardCap", ErrInvalidConfig)
	}
	addrs := map[string]common.Address{
		"wallet":         c.Wallet,
		"companyReserve": c.CompanyReserve,
		"miningPool":     c.MiningPool,
		"icoBounty":      c.ICOBounty,
		"githubBounty":   c.GitHubBounty,
		"owner":          c.Owner,
		"authority":      c.Authority,
	}
	for name, addr := range addrs {
		if isZeroAddress(addr) {
			return fmt.Errorf("%w: %s address required", ErrInvalidConfig, name)
		}
	}
	return nil
}

// FixedRecipients returns the reserve recipients in settlement order.
func (c *Config) FixedRecipients() []common.Address {
	return []common.Address{c.CompanyReserve, c.MiningPool, c.ICOBounty, c.GitHubBounty}
}

func (c *Config) stored() storedConfig {
	return storedConfig{
		OpeningTime:    uint64(c.OpeningTime),
		ClosingTime:    uint64(c.ClosingTime),
		PreSaleRate:    newBigInt(c.PreSaleRate),
		SoftCapRate:    newBigInt(c.SoftCapRate),
		HardCapRate:    newBigInt(c.HardCapRate),
		PreSaleCap:     newBigInt(c.PreSaleCap),
		SoftCap:        newBigInt(c.SoftCap),
		HardCap:        newBigInt(c.HardCap),
		Wallet:         c.Wallet,
		CompanyReserve: c.CompanyReserve,
		MiningPool:     c.MiningPool,
		ICOBounty:      c.ICOBounty,
		GitHubBounty:   c.GitHubBounty,
		Owner:          c.Owner,
		Authority:      c.Authority,
	}
}

func (s storedConfig) equal(other storedConfig) bool {
	return s.OpeningTime == other.OpeningTime &&
		s.ClosingTime == other.ClosingTime &&
		s.PreSaleRate.Cmp(other.PreSaleRate) == 0 &&
		s.SoftCapRate.Cmp(other.SoftCapRate) == 0 &&
		s.HardCapRate.Cmp(other.HardCapRate) == 0 &&
		s.PreSaleCap.Cmp(other.PreSaleCap) == 0 &&
		s.SoftCap.Cmp(other.SoftCap) == 0 &&
		s.HardCap.Cmp(other.HardCap) == 0 &&
		s.Wallet == other.Wallet &&
		s.CompanyReserve == other.CompanyReserve &&
		s.MiningPool == other.MiningPool &&
		s.ICOBounty == other.ICOBounty &&
		s.GitHubBounty == other.GitHubBounty &&
		s.Owner == other.Owner &&
		s.Authority == other.Authority
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
