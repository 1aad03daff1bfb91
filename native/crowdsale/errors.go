package crowdsale

import "errors"

var (
	ErrUnauthorized          = errors.New("crowdsale: unauthorized")
	ErrSaleNotOpen           = errors.New("crowdsale: sale not open")
	ErrCapExceeded           = errors.New("crowdsale: participant cap exceeded")
	ErrInvalidAmount         = errors.New("crowdsale: invalid amount")
	ErrAlreadySettled        = errors.New("crowdsale: already settled")
	ErrExternalLedgerFailure = errors.New("crowdsale: token ledger failure")
	ErrPresaleAlreadyOpen    = errors.New("crowdsale: pre-sale already open")
	ErrPresaleTooLate        = errors.New("crowdsale: pre-sale window elapsed")
	ErrInvalidAddress        = errors.New("crowdsale: invalid address")
	ErrInvalidConfig         = errors.New("crowdsale: invalid config")
	ErrConfigMismatch        = errors.New("crowdsale: stored config differs")
	ErrNotInitialized        = errors.New("crowdsale: engine not initialised")
)
