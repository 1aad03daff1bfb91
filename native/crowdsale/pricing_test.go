package crowdsale

import (
	"errors"
	"math/big"
	"testing"
)

func TestCurrentPhase(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name    string
		now     int64
		raised  int64
		opened  bool
		expects Phase
	}{
		{name: "before opening", now: 500, expects: Phase{Stage: StageNotStarted}},
		{name: "presale opened", now: 500, opened: true, expects: Phase{Stage: StagePreSale, Tier: TierPreSale}},
		{name: "main sale soft tier", now: 1000, raised: 199, expects: Phase{Stage: StageMainSale, Tier: TierSoftCap}},
		{name: "main sale hard tier", now: 1000, raised: 200, expects: Phase{Stage: StageMainSale, Tier: TierHardCap}},
		{name: "main sale ignores presale flag", now: 1500, opened: true, expects: Phase{Stage: StageMainSale, Tier: TierSoftCap}},
		{name: "hard cap reached", now: 1500, raised: 300, expects: Phase{Stage: StageClosed}},
		{name: "hard cap reached during presale", now: 500, raised: 300, opened: true, expects: Phase{Stage: StageClosed}},
		{name: "closing time", now: 2000, expects: Phase{Stage: StageClosed}},
	}
	for _, tc := range cases {
		got := CurrentPhase(cfg, tc.now, big.NewInt(tc.raised), tc.opened)
		if got != tc.expects {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expects, got)
		}
	}
}

func TestPriceStraddlesSoftCap(t *testing.T) {
	cfg := testConfig()
	phase := Phase{Stage: StageMainSale, Tier: TierSoftCap}
	quote, err := cfg.Price(big.NewInt(100), phase, big.NewInt(150), big.NewInt(0))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// 50 at the soft rate, 50 at the hard rate.
	if quote.Units.Cmp(big.NewInt(50*1000+50*800)) != 0 {
		t.Fatalf("unexpected units %s", quote.Units)
	}
	if quote.Refund.Sign() != 0 || quote.Accepted.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected accepted %s refund %s", quote.Accepted, quote.Refund)
	}
	if len(quote.Fills) != 2 || quote.Fills[0].Tier != TierSoftCap || quote.Fills[1].Tier != TierHardCap {
		t.Fatalf("unexpected fills %+v", quote.Fills)
	}
}

func TestPriceRefundsAboveHardCap(t *testing.T) {
	cfg := testConfig()
	phase := Phase{Stage: StageMainSale, Tier: TierSoftCap}
	quote, err := cfg.Price(big.NewInt(200), phase, big.NewInt(150), big.NewInt(0))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Accepted.Cmp(big.NewInt(150)) != 0 || quote.Refund.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected accepted %s refund %s", quote.Accepted, quote.Refund)
	}
	if quote.Units.Cmp(big.NewInt(50*1000+100*800)) != 0 {
		t.Fatalf("unexpected units %s", quote.Units)
	}
}

func TestPriceHardTierOnly(t *testing.T) {
	cfg := testConfig()
	phase := Phase{Stage: StageMainSale, Tier: TierHardCap}
	quote, err := cfg.Price(big.NewInt(10), phase, big.NewInt(250), big.NewInt(0))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if len(quote.Fills) != 1 || quote.Fills[0].Tier != TierHardCap {
		t.Fatalf("unexpected fills %+v", quote.Fills)
	}
	if quote.Units.Cmp(big.NewInt(8000)) != 0 {
		t.Fatalf("unexpected units %s", quote.Units)
	}
}

func TestPricePresalePartialFill(t *testing.T) {
	cfg := testConfig()
	phase := Phase{Stage: StagePreSale, Tier: TierPreSale}
	quote, err := cfg.Price(big.NewInt(50), phase, big.NewInt(80), big.NewInt(80))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Accepted.Cmp(big.NewInt(20)) != 0 || quote.Refund.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("unexpected accepted %s refund %s", quote.Accepted, quote.Refund)
	}
	if quote.Units.Cmp(big.NewInt(20*1666)) != 0 {
		t.Fatalf("unexpected units %s", quote.Units)
	}
}

func TestPriceRejectsInvalidInput(t *testing.T) {
	cfg := testConfig()
	open := Phase{Stage: StagePreSale, Tier: TierPreSale}
	if _, err := cfg.Price(big.NewInt(0), open, nil, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := cfg.Price(big.NewInt(-1), open, nil, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	for _, stage := range []Stage{StageNotStarted, StageClosed} {
		if _, err := cfg.Price(big.NewInt(1), Phase{Stage: stage}, nil, nil); !errors.Is(err, ErrSaleNotOpen) {
			t.Fatalf("%s: expected ErrSaleNotOpen, got %v", stage, err)
		}
	}
}

func TestReferralSplit(t *testing.T) {
	investor, referrer := referralSplit(big.NewInt(1000), true)
	if investor.Cmp(big.NewInt(1050)) != 0 || referrer.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected split %s/%s", investor, referrer)
	}
	investor, referrer = referralSplit(big.NewInt(1666), true)
	if investor.Cmp(big.NewInt(1749)) != 0 || referrer.Cmp(big.NewInt(83)) != 0 {
		t.Fatalf("expected floored split 1749/83, got %s/%s", investor, referrer)
	}
	investor, referrer = referralSplit(big.NewInt(1000), false)
	if investor.Cmp(big.NewInt(1000)) != 0 || referrer.Sign() != 0 {
		t.Fatalf("unexpected unreferred split %s/%s", investor, referrer)
	}
}

func TestReserveSplitRatios(t *testing.T) {
	split := reserveSplit(big.NewInt(3000))
	if split.AllocationKey.Cmp(big.NewInt(10000)) != 0 {
		t.Fatalf("unexpected key %s", split.AllocationKey)
	}
	expected := map[string]int64{
		"company": 5000,
		"mining":  1500,
		"ico":     300,
		"github":  200,
	}
	got := map[string]*big.Int{
		"company": split.CompanyReserve,
		"mining":  split.MiningPool,
		"ico":     split.ICOBounty,
		"github":  split.GitHubBounty,
	}
	for name, want := range expected {
		if got[name].Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("%s: expected %d, got %s", name, want, got[name])
		}
	}
}

func TestReserveSplitOrdering(t *testing.T) {
	for _, total := range []int64{1666, 17, 34, 1_000_000_007} {
		split := reserveSplit(big.NewInt(total))
		investor := big.NewInt(total)
		ordered := []*big.Int{split.CompanyReserve, investor, split.MiningPool, split.ICOBounty, split.GitHubBounty}
		if total < 34 {
			// Flooring collapses the bounty ordering for small totals.
			if split.CompanyReserve.Cmp(investor) <= 0 {
				t.Fatalf("total %d: company %s must exceed investor", total, split.CompanyReserve)
			}
			continue
		}
		for i := 1; i < len(ordered); i++ {
			if ordered[i-1].Cmp(ordered[i]) <= 0 {
				t.Fatalf("total %d: share %d (%s) must exceed share %d (%s)", total, i-1, ordered[i-1], i, ordered[i])
			}
		}
		if split.GitHubBounty.Sign() <= 0 {
			t.Fatalf("total %d: github bounty must be positive", total)
		}
	}
}

func TestReserveSplitFloors(t *testing.T) {
	split := reserveSplit(big.NewInt(1666))
	checks := []struct {
		name string
		got  *big.Int
		want int64
	}{
		{"key", split.AllocationKey, 5553},
		{"company", split.CompanyReserve, 2776},
		{"mining", split.MiningPool, 832},
		{"ico", split.ICOBounty, 166},
		{"github", split.GitHubBounty, 111},
	}
	for _, c := range checks {
		if c.got.Cmp(big.NewInt(c.want)) != 0 {
			t.Fatalf("%s: expected %d, got %s", c.name, c.want, c.got)
		}
	}
}
