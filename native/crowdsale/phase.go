package crowdsale

import "math/big"

// CurrentPhase derives the sale phase from the supplied inputs. It has no side
// effects. The hard cap and the closing time close the sale; the opening time
// starts the main sale regardless of pre-sale history; before opening the sale
// is in pre-sale only once the administrator opened it.
func CurrentPhase(cfg *Config, now int64, raised *big.Int, presaleOpened bool) Phase {
	if cfg == nil {
		return Phase{Stage: StageNotStarted}
	}
	if raised == nil {
		raised = big.NewInt(0)
	}
	if cfg.HardCap != nil && raised.Cmp(cfg.HardCap) >= 0 {
		return Phase{Stage: StageClosed}
	}
	if now >= cfg.ClosingTime {
		return Phase{Stage: StageClosed}
	}
	if now >= cfg.OpeningTime {
		if cfg.SoftCap != nil && raised.Cmp(cfg.SoftCap) >= 0 {
			return Phase{Stage: StageMainSale, Tier: TierHardCap}
		}
		return Phase{Stage: StageMainSale, Tier: TierSoftCap}
	}
	if presaleOpened {
		return Phase{Stage: StagePreSale, Tier: TierPreSale}
	}
	return Phase{Stage: StageNotStarted}
}
