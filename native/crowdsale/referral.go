package crowdsale

import "github.com/ethereum/go-ethereum/common"

// LinkReferral records referrer as the referrer of investor, replacing any
// earlier link.
func (e *Engine) LinkReferral(caller, referrer, investor common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if isZeroAddress(referrer) || isZeroAddress(investor) || referrer == investor {
		return ErrInvalidAddress
	}
	return e.atomically(func() error {
		if err := e.state.KVPut(referralKey(investor), referrer); err != nil {
			return err
		}
		e.emit(ReferralLinkedEvent(investor.Hex(), referrer.Hex()))
		return nil
	})
}

// Referrer resolves the referrer linked to investor.
func (e *Engine) Referrer(investor common.Address) (common.Address, bool, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, false, err
	}
	return e.referrer(investor)
}

func (e *Engine) referrer(investor common.Address) (common.Address, bool, error) {
	var referrer common.Address
	ok, err := e.state.KVGet(referralKey(investor), &referrer)
	if err != nil {
		return common.Address{}, false, err
	}
	if !ok || isZeroAddress(referrer) {
		return common.Address{}, false, nil
	}
	return referrer, true, nil
}
