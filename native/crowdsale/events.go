package crowdsale

import (
	"math/big"
	"strconv"

	"tokensale/core/events"
	"tokensale/core/types"
)

const (
	// EventTypePresaleOpened is emitted when the administrator opens the pre-sale.
	EventTypePresaleOpened = "crowdsale.presale.opened"
	// EventTypeCapSet is emitted for every participant whose cap changes.
	EventTypeCapSet = "crowdsale.cap.set"
	// EventTypeReferralLinked is emitted when an investor is linked to a referrer.
	EventTypeReferralLinked = "crowdsale.referral.linked"
	// EventTypeContribution is emitted for every accepted contribution.
	EventTypeContribution = "crowdsale.contribution.accepted"
	// EventTypeFundsForwarded is emitted when accepted funds are credited to the wallet.
	EventTypeFundsForwarded = "crowdsale.funds.forwarded"
	// EventTypeAllocationCredited is emitted when a pending allocation grows.
	EventTypeAllocationCredited = "crowdsale.allocation.credited"
	// EventTypeTokensIssued is emitted for each settlement payout.
	EventTypeTokensIssued = "crowdsale.tokens.issued"
	// EventTypeSettled is emitted once the settlement sweep completes.
	EventTypeSettled = "crowdsale.settled"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PresaleOpenedEvent announces the start of the pre-sale.
func PresaleOpenedEvent(owner string, openedAt int64) *types.Event {
	return &types.Event{
		Type: EventTypePresaleOpened,
		Attributes: map[string]string{
			"owner":    owner,
			"openedAt": strconv.FormatInt(openedAt, 10),
		},
	}
}

// CapSetEvent records a participant cap assignment.
func CapSetEvent(participant string, cap *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCapSet,
		Attributes: map[string]string{
			"participant": participant,
			"cap":         formatAmount(cap),
		},
	}
}

// ReferralLinkedEvent records an investor to referrer link.
func ReferralLinkedEvent(investor, referrer string) *types.Event {
	return &types.Event{
		Type: EventTypeReferralLinked,
		Attributes: map[string]string{
			"investor": investor,
			"referrer": referrer,
		},
	}
}

// ContributionEvent summarises an accepted contribution.
func ContributionEvent(receipt *Receipt) *types.Event {
	attrs := map[string]string{
		"id":          receipt.ID,
		"payer":       receipt.Payer.Hex(),
		"beneficiary": receipt.Beneficiary.Hex(),
		"amount":      formatAmount(receipt.Amount),
		"accepted":    formatAmount(receipt.Accepted),
		"refund":      formatAmount(receipt.Refund),
		"allocation":  formatAmount(receipt.Allocation),
		"phase":       receipt.Phase.String(),
	}
	if receipt.Referrer != nil {
		attrs["referrer"] = receipt.Referrer.Hex()
		attrs["referrerCredit"] = formatAmount(receipt.ReferrerCredit)
	}
	return &types.Event{Type: EventTypeContribution, Attributes: attrs}
}

// FundsForwardedEvent records funds credited to the sale wallet.
func FundsForwardedEvent(wallet string, amount, raised *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFundsForwarded,
		Attributes: map[string]string{
			"wallet": wallet,
			"amount": formatAmount(amount),
			"raised": formatAmount(raised),
		},
	}
}

// AllocationCreditedEvent records growth of a pending allocation.
func AllocationCreditedEvent(beneficiary, reason string, amount, pending *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeAllocationCredited,
		Attributes: map[string]string{
			"beneficiary": beneficiary,
			"reason":      reason,
			"amount":      formatAmount(amount),
			"pending":     formatAmount(pending),
		},
	}
}

// TokensIssuedEvent records a settlement payout.
func TokensIssuedEvent(recipient string, amount *big.Int, txID string) *types.Event {
	return &types.Event{
		Type: EventTypeTokensIssued,
		Attributes: map[string]string{
			"recipient": recipient,
			"amount":    formatAmount(amount),
			"txId":      txID,
		},
	}
}

// SettledEvent marks completion of the settlement sweep.
func SettledEvent(issued *big.Int, payouts int, settledAt int64) *types.Event {
	return &types.Event{
		Type: EventTypeSettled,
		Attributes: map[string]string{
			"issued":    formatAmount(issued),
			"payouts":   strconv.Itoa(payouts),
			"settledAt": strconv.FormatInt(settledAt, 10),
		},
	}
}
