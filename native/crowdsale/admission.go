package crowdsale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) loadAdmission(participant common.Address) (*AdmissionRecord, error) {
	record := new(AdmissionRecord)
	ok, err := e.state.KVGet(admissionKey(participant), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AdmissionRecord{Participant: participant, Cap: big.NewInt(0), Contributed: big.NewInt(0)}, nil
	}
	record.Participant = participant
	record.Cap = newBigInt(record.Cap)
	record.Contributed = newBigInt(record.Contributed)
	return record, nil
}

func (e *Engine) setCap(participant common.Address, cap *big.Int) error {
	if isZeroAddress(participant) {
		return ErrInvalidAddress
	}
	record, err := e.loadAdmission(participant)
	if err != nil {
		return err
	}
	if cap.Cmp(record.Contributed) < 0 {
		return fmt.Errorf("%w: cap %s below contributed %s for %s", ErrInvalidAmount, cap, record.Contributed, participant.Hex())
	}
	record.Cap = new(big.Int).Set(cap)
	if err := e.state.KVPut(admissionKey(participant), record); err != nil {
		return err
	}
	e.emit(CapSetEvent(participant.Hex(), cap))
	return nil
}

func validCap(cap *big.Int) error {
	if cap == nil || cap.Sign() < 0 {
		return fmt.Errorf("%w: cap must not be negative", ErrInvalidAmount)
	}
	return nil
}

// SetCap assigns the maximum cumulative contribution accepted from
// participant. A zero cap revokes admission for future contributions.
func (e *Engine) SetCap(caller, participant common.Address, cap *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := validCap(cap); err != nil {
		return err
	}
	return e.atomically(func() error {
		return e.setCap(participant, cap)
	})
}

// SetCapBatch applies cap to every listed participant. Either every record is
// updated or none is.
func (e *Engine) SetCapBatch(caller common.Address, participants []common.Address, cap *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if len(participants) == 0 {
		return fmt.Errorf("%w: empty participant list", ErrInvalidAddress)
	}
	if err := validCap(cap); err != nil {
		return err
	}
	return e.atomically(func() error {
		for _, participant := range participants {
			if err := e.setCap(participant, cap); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cap returns the admission cap of participant, zero when unknown.
func (e *Engine) Cap(participant common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.loadAdmission(participant)
	if err != nil {
		return nil, err
	}
	return record.Cap, nil
}

// Contributed returns the cumulative accepted contribution of participant.
func (e *Engine) Contributed(participant common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.loadAdmission(participant)
	if err != nil {
		return nil, err
	}
	return record.Contributed, nil
}

// Admission returns the full admission record of participant.
func (e *Engine) Admission(participant common.Address) (*AdmissionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadAdmission(participant)
}

// recordContribution books an accepted amount against the participant cap.
func (e *Engine) recordContribution(participant common.Address, amount *big.Int) (*AdmissionRecord, error) {
	record, err := e.loadAdmission(participant)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(record.Contributed, amount)
	if next.Cmp(record.Cap) > 0 {
		return nil, fmt.Errorf("%w: %s would reach %s of cap %s", ErrCapExceeded, participant.Hex(), next, record.Cap)
	}
	record.Contributed = next
	if err := e.state.KVPut(admissionKey(participant), record); err != nil {
		return nil, err
	}
	return record, nil
}
