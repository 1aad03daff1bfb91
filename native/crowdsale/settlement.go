package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) pendingOf(addr common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := e.state.KVGet(pendingKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (e *Engine) creditPending(addr common.Address, amount *big.Int, reason string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.pendingOf(addr)
	if err != nil {
		return err
	}
	current.Add(current, amount)
	if err := e.state.KVPut(pendingKey(addr), current); err != nil {
		return err
	}
	if err := e.state.KVAppend(pendingIndexKey, addr.Bytes()); err != nil {
		return err
	}
	e.emit(AllocationCreditedEvent(addr.Hex(), reason, amount, current))
	return nil
}

func (e *Engine) pendingIndex() ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(pendingIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, item := range raw {
		out = append(out, common.BytesToAddress(item))
	}
	return out, nil
}

// AllocatedBalance returns the units owed to addr that settlement has not yet
// issued. It reads zero once settlement has run.
func (e *Engine) AllocatedBalance(addr common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.pendingOf(addr)
}

// PendingTotal sums every outstanding allocation.
func (e *Engine) PendingTotal() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	addrs, err := e.pendingIndex()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, addr := range addrs {
		amount, err := e.pendingOf(addr)
		if err != nil {
			return nil, err
		}
		total.Add(total, amount)
	}
	return total, nil
}

// SettleAll credits the reserve split to the fixed recipients and issues every
// pending allocation on the token ledger. It succeeds once; a failed mint
// leaves the campaign exactly as it was before the call.
func (e *Engine) SettleAll(caller common.Address) (*Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	var result *Settlement
	err := e.atomically(func() error {
		var err error
		result, err = e.settle()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) settle() (*Settlement, error) {
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	if status.Settled {
		return nil, ErrAlreadySettled
	}
	if e.ledger == nil {
		return nil, fmt.Errorf("%w: ledger not configured", ErrExternalLedgerFailure)
	}
	owner, err := e.ledger.Owner()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalLedgerFailure, err)
	}
	if owner != e.cfg.Authority {
		return nil, fmt.Errorf("%w: sale authority %s does not own the token ledger", ErrExternalLedgerFailure, e.cfg.Authority.Hex())
	}

	participants, err := e.pendingIndex()
	if err != nil {
		return nil, err
	}
	participantTotal := big.NewInt(0)
	for _, addr := range participants {
		amount, err := e.pendingOf(addr)
		if err != nil {
			return nil, err
		}
		participantTotal.Add(participantTotal, amount)
	}
	split := reserveSplit(participantTotal)
	shares := []*big.Int{split.CompanyReserve, split.MiningPool, split.ICOBounty, split.GitHubBounty}
	for i, recipient := range e.cfg.FixedRecipients() {
		if err := e.creditPending(recipient, shares[i], creditReasonReserve); err != nil {
			return nil, err
		}
	}

	recipients, err := e.pendingIndex()
	if err != nil {
		return nil, err
	}
	issued := big.NewInt(0)
	payouts := make([]Payout, 0, len(recipients))
	for _, addr := range recipients {
		amount, err := e.pendingOf(addr)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		receipt, err := e.ledger.Mint(e.cfg.Authority, addr, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: mint %s to %s: %w", ErrExternalLedgerFailure, amount, addr.Hex(), err)
		}
		txID := ""
		if receipt != nil {
			txID = receipt.TxID
		}
		if err := e.state.KVDelete(pendingKey(addr)); err != nil {
			return nil, err
		}
		issued.Add(issued, amount)
		payouts = append(payouts, Payout{Recipient: addr, Amount: amount, TxID: txID})
		e.emit(TokensIssuedEvent(addr.Hex(), amount, txID))
	}
	if err := e.state.KVDelete(pendingIndexKey); err != nil {
		return nil, err
	}

	now := e.now()
	status.Settled = true
	status.SettledAt = uint64(now)
	if err := e.putStatus(status); err != nil {
		return nil, err
	}
	e.emit(SettledEvent(issued, len(payouts), now))
	return &Settlement{
		Reserve:   split,
		Payouts:   payouts,
		Issued:    issued,
		SettledAt: now,
	}, nil
}
