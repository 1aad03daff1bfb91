package crowdsale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Stage is the coarse sale phase derived from time, the pre-sale flag and the
// amount raised.
type Stage uint8

const (
	StageNotStarted Stage = iota
	StagePreSale
	StageMainSale
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not_started"
	case StagePreSale:
		return "presale"
	case StageMainSale:
		return "mainsale"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the stage by name.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Tier identifies the pricing regime a contribution is filled at.
type Tier uint8

const (
	TierNone Tier = iota
	TierPreSale
	TierSoftCap
	TierHardCap
)

func (t Tier) String() string {
	switch t {
	case TierPreSale:
		return "presale"
	case TierSoftCap:
		return "softcap"
	case TierHardCap:
		return "hardcap"
	default:
		return "none"
	}
}

// MarshalText renders the tier by name.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Phase pairs the sale stage with the active pricing tier. Tier is TierNone
// outside PreSale and MainSale.
type Phase struct {
	Stage Stage `json:"stage"`
	Tier  Tier  `json:"tier"`
}

// Open reports whether contributions are admitted in this phase.
func (p Phase) Open() bool {
	return p.Stage == StagePreSale || p.Stage == StageMainSale
}

func (p Phase) String() string {
	if p.Tier == TierNone {
		return p.Stage.String()
	}
	return p.Stage.String() + "/" + p.Tier.String()
}

// AdmissionRecord tracks the contribution allowance of a single participant.
type AdmissionRecord struct {
	Participant common.Address `json:"participant"`
	Cap         *big.Int       `json:"cap"`
	Contributed *big.Int       `json:"contributed"`
}

// Clone returns a deep copy of the record.
func (r *AdmissionRecord) Clone() *AdmissionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Cap = newBigInt(r.Cap)
	clone.Contributed = newBigInt(r.Contributed)
	return &clone
}

// Status is the mutable campaign-level state.
type Status struct {
	PresaleOpened bool     `json:"presaleOpened"`
	Raised        *big.Int `json:"raised"`
	PresaleRaised *big.Int `json:"presaleRaised"`
	Settled       bool     `json:"settled"`
	SettledAt     uint64   `json:"settledAt"`
	// ObservedAt is the latest clock reading a mutating call saw.
	ObservedAt uint64 `json:"observedAt"`
}

// Clone returns a deep copy of the status.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Raised = newBigInt(s.Raised)
	clone.PresaleRaised = newBigInt(s.PresaleRaised)
	return &clone
}

// TierFill records the portion of a contribution priced at one tier.
type TierFill struct {
	Tier   Tier     `json:"tier"`
	Amount *big.Int `json:"amount"`
	Rate   *big.Int `json:"rate"`
	Units  *big.Int `json:"units"`
}

// Quote is the outcome of pricing a contribution before any state changes.
type Quote struct {
	Phase    Phase      `json:"phase"`
	Fills    []TierFill `json:"fills"`
	Units    *big.Int   `json:"units"`
	Accepted *big.Int   `json:"accepted"`
	Refund   *big.Int   `json:"refund"`
}

// Receipt describes an accepted contribution.
type Receipt struct {
	ID             string          `json:"id"`
	Payer          common.Address  `json:"payer"`
	Beneficiary    common.Address  `json:"beneficiary"`
	Amount         *big.Int        `json:"amount"`
	Accepted       *big.Int        `json:"accepted"`
	Refund         *big.Int        `json:"refund"`
	BaseAllocation *big.Int        `json:"baseAllocation"`
	Allocation     *big.Int        `json:"allocation"`
	Referrer       *common.Address `json:"referrer,omitempty"`
	ReferrerCredit *big.Int        `json:"referrerCredit"`
	Phase          Phase           `json:"phase"`
	Fills          []TierFill      `json:"fills"`
	Timestamp      int64           `json:"timestamp"`
}

// Payout is a single token issuance performed during settlement.
type Payout struct {
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	TxID      string         `json:"txId"`
}

// ReserveSplit is the settlement-time credit to the fixed recipients.
type ReserveSplit struct {
	ParticipantTotal *big.Int `json:"participantTotal"`
	AllocationKey    *big.Int `json:"allocationKey"`
	CompanyReserve   *big.Int `json:"companyReserve"`
	MiningPool       *big.Int `json:"miningPool"`
	ICOBounty        *big.Int `json:"icoBounty"`
	GitHubBounty     *big.Int `json:"githubBounty"`
}

// Settlement summarises a completed settlement sweep.
type Settlement struct {
	Reserve   ReserveSplit `json:"reserve"`
	Payouts   []Payout     `json:"payouts"`
	Issued    *big.Int     `json:"issued"`
	SettledAt int64        `json:"settledAt"`
}

// StatusView is the read model returned to callers.
type StatusView struct {
	Phase         Phase    `json:"phase"`
	Raised        *big.Int `json:"raised"`
	PresaleRaised *big.Int `json:"presaleRaised"`
	PresaleOpened bool     `json:"presaleOpened"`
	Settled       bool     `json:"settled"`
	SettledAt     int64    `json:"settledAt,omitempty"`
	Now           int64    `json:"now"`
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneFills(fills []TierFill) []TierFill {
	out := make([]TierFill, len(fills))
	for i, fill := range fills {
		out[i] = TierFill{
			Tier:   fill.Tier,
			Amount: newBigInt(fill.Amount),
			Rate:   newBigInt(fill.Rate),
			Units:  newBigInt(fill.Units),
		}
	}
	return out
}
