package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	creditReasonContribution = "contribution"
	creditReasonReferral     = "referral"
	creditReasonReserve      = "reserve"
)

// Contribute accepts amount from participant on its own behalf.
func (e *Engine) Contribute(participant common.Address, amount *big.Int) (*Receipt, error) {
	return e.ContributeFor(participant, participant, amount)
}

// ContributeFor accepts amount paid by payer and allocates the resulting units
// to beneficiary. Admission caps and referral links are keyed by the
// beneficiary. Any portion above the remaining tier capacity is reported as a
// refund and is not booked.
func (e *Engine) ContributeFor(payer, beneficiary common.Address, amount *big.Int) (*Receipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if isZeroAddress(payer) || isZeroAddress(beneficiary) {
		return nil, ErrInvalidAddress
	}
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.atomically(func() error {
		var err error
		receipt, err = e.contribute(payer, beneficiary, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) contribute(payer, beneficiary common.Address, amount *big.Int) (*Receipt, error) {
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	now := e.now()
	phase := e.phaseFor(status, now)
	quote, err := e.cfg.Price(amount, phase, status.Raised, status.PresaleRaised)
	if err != nil {
		return nil, err
	}
	if quote.Accepted.Sign() == 0 {
		return nil, fmt.Errorf("%w: no capacity left in %s", ErrSaleNotOpen, phase)
	}
	if _, err := e.recordContribution(beneficiary, quote.Accepted); err != nil {
		return nil, err
	}

	status.Raised.Add(status.Raised, quote.Accepted)
	if phase.Stage == StagePreSale {
		status.PresaleRaised.Add(status.PresaleRaised, quote.Accepted)
	}
	if err := e.putStatus(status); err != nil {
		return nil, err
	}
	received, err := e.creditWallet(quote.Accepted)
	if err != nil {
		return nil, err
	}

	referrer, referred, err := e.referrer(beneficiary)
	if err != nil {
		return nil, err
	}
	investorUnits, referrerUnits := referralSplit(quote.Units, referred)
	if err := e.creditPending(beneficiary, investorUnits, creditReasonContribution); err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ID:             e.idFn(),
		Payer:          payer,
		Beneficiary:    beneficiary,
		Amount:         new(big.Int).Set(amount),
		Accepted:       new(big.Int).Set(quote.Accepted),
		Refund:         new(big.Int).Set(quote.Refund),
		BaseAllocation: new(big.Int).Set(quote.Units),
		Allocation:     investorUnits,
		ReferrerCredit: referrerUnits,
		Phase:          phase,
		Fills:          cloneFills(quote.Fills),
		Timestamp:      now,
	}
	if referred {
		if err := e.creditPending(referrer, referrerUnits, creditReasonReferral); err != nil {
			return nil, err
		}
		ref := referrer
		receipt.Referrer = &ref
	}
	e.emit(ContributionEvent(receipt))
	e.emit(FundsForwardedEvent(e.cfg.Wallet.Hex(), quote.Accepted, received))
	return receipt, nil
}

func (e *Engine) creditWallet(amount *big.Int) (*big.Int, error) {
	received := new(big.Int)
	if _, err := e.state.KVGet(walletKey, received); err != nil {
		return nil, err
	}
	received.Add(received, amount)
	if err := e.state.KVPut(walletKey, received); err != nil {
		return nil, err
	}
	return received, nil
}
