package crowdsale

import "math/big"

const (
	referralInvestorPct = 105
	referralReferrerPct = 5

	investorSharePct = 30
	companySharePct  = 50
	miningSharePct   = 15
	icoBountyPct     = 3
	githubBountyPct  = 2

	percentDenominator = 100
)

func percentOf(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Quo(out, big.NewInt(percentDenominator))
}

// referralSplit scales the base allocation when a referrer is linked. Without
// a referrer the investor keeps the base allocation and nothing is credited.
func referralSplit(base *big.Int, referred bool) (investor, referrer *big.Int) {
	if !referred {
		return new(big.Int).Set(base), big.NewInt(0)
	}
	return percentOf(base, referralInvestorPct), percentOf(base, referralReferrerPct)
}

// reserveSplit treats the participant total as the investor share of an
// allocation key and derives the fixed recipient credits from it.
func reserveSplit(participantTotal *big.Int) ReserveSplit {
	total := newBigInt(participantTotal)
	key := new(big.Int).Mul(total, big.NewInt(percentDenominator))
	key.Quo(key, big.NewInt(investorSharePct))
	return ReserveSplit{
		ParticipantTotal: total,
		AllocationKey:    key,
		CompanyReserve:   percentOf(key, companySharePct),
		MiningPool:       percentOf(key, miningSharePct),
		ICOBounty:        percentOf(key, icoBountyPct),
		GitHubBounty:     percentOf(key, githubBountyPct),
	}
}
