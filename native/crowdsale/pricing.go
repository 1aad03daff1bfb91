package crowdsale

import (
	"fmt"
	"math/big"
)

// tranche is a slice of remaining tier capacity priced at a fixed rate.
type tranche struct {
	tier     Tier
	capacity *big.Int
	rate     *big.Int
}

func positiveOrZero(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// tranches lists the ordered tier capacities available to a contribution made
// in the supplied phase.
func (c *Config) tranches(phase Phase, raised, presaleRaised *big.Int) []tranche {
	raised = newBigInt(raised)
	presaleRaised = newBigInt(presaleRaised)
	hardRemaining := positiveOrZero(new(big.Int).Sub(c.HardCap, raised))
	switch phase.Stage {
	case StagePreSale:
		presaleRemaining := positiveOrZero(new(big.Int).Sub(c.PreSaleCap, presaleRaised))
		return []tranche{{
			tier:     TierPreSale,
			capacity: minBig(presaleRemaining, hardRemaining),
			rate:     c.PreSaleRate,
		}}
	case StageMainSale:
		out := make([]tranche, 0, 2)
		if raised.Cmp(c.SoftCap) < 0 {
			out = append(out, tranche{
				tier:     TierSoftCap,
				capacity: new(big.Int).Sub(c.SoftCap, raised),
				rate:     c.SoftCapRate,
			})
		}
		softFloor := maxBig(raised, c.SoftCap)
		out = append(out, tranche{
			tier:     TierHardCap,
			capacity: positiveOrZero(new(big.Int).Sub(c.HardCap, softFloor)),
			rate:     c.HardCapRate,
		})
		return out
	default:
		return nil
	}
}

// fill walks the tranches in order, taking as much of amount as each tranche
// can absorb. Whatever is left once the tranches are exhausted is refunded.
func fill(amount *big.Int, tranches []tranche) (fills []TierFill, units, accepted, refund *big.Int) {
	remaining := new(big.Int).Set(amount)
	units = big.NewInt(0)
	accepted = big.NewInt(0)
	for _, tr := range tranches {
		if remaining.Sign() == 0 {
			break
		}
		if tr.capacity == nil || tr.capacity.Sign() <= 0 {
			continue
		}
		take := minBig(remaining, tr.capacity)
		trancheUnits := new(big.Int).Mul(take, tr.rate)
		fills = append(fills, TierFill{
			Tier:   tr.tier,
			Amount: take,
			Rate:   new(big.Int).Set(tr.rate),
			Units:  trancheUnits,
		})
		units.Add(units, trancheUnits)
		accepted.Add(accepted, take)
		remaining.Sub(remaining, take)
	}
	return fills, units, accepted, remaining
}

// Price converts a contribution into allocation units for the supplied phase.
// It does not touch state; any amount beyond the remaining tier capacity is
// reported as a refund.
func (c *Config) Price(amount *big.Int, phase Phase, raised, presaleRaised *big.Int) (*Quote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !phase.Open() {
		return nil, fmt.Errorf("%w: phase %s", ErrSaleNotOpen, phase)
	}
	fills, units, accepted, refund := fill(amount, c.tranches(phase, raised, presaleRaised))
	return &Quote{
		Phase:    phase,
		Fills:    fills,
		Units:    units,
		Accepted: accepted,
		Refund:   refund,
	}, nil
}
