package token

import (
	"math/big"

	"tokensale/core/events"
	"tokensale/core/types"
)

const (
	// EventTypeTransfer mirrors the ERC-20 Transfer log; mints use the zero sender.
	EventTypeTransfer = "token.transfer"
	// EventTypeApproval mirrors the ERC-20 Approval log.
	EventTypeApproval = "token.approval"
	// EventTypeOwnershipTransferred is emitted when mint authority moves.
	EventTypeOwnershipTransferred = "token.ownership.transferred"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string { return e.evt.Type }

func (e eventEnvelope) Event() *types.Event { return e.evt }

func wrap(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func transferEvent(symbol, from, to string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"token":  symbol,
			"from":   from,
			"to":     to,
			"amount": amount.String(),
		},
	}
}

func approvalEvent(symbol, owner, spender string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"token":   symbol,
			"owner":   owner,
			"spender": spender,
			"amount":  amount.String(),
		},
	}
}

func ownershipEvent(symbol, previous, next string) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"token":    symbol,
			"previous": previous,
			"owner":    next,
		},
	}
}
