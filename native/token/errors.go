package token

import "errors"

var (
	ErrNotDeployed           = errors.New("token: ledger not deployed")
	ErrAlreadyDeployed       = errors.New("token: ledger already deployed")
	ErrUnauthorized          = errors.New("token: caller is not the owner")
	ErrInvalidAddress        = errors.New("token: invalid address")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrOverflow              = errors.New("token: uint256 overflow")
)
