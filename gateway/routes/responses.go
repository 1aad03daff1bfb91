package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/gateway/auth"
	nativecommon "tokensale/native/common"
	"tokensale/native/crowdsale"
	"tokensale/native/token"
	"tokensale/observability/eventlog"
)

const requestLimit = 1 << 20 // 1 MiB

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorStatus maps engine and gateway errors onto HTTP status codes and a
// stable machine-readable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, crowdsale.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, crowdsale.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, crowdsale.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, crowdsale.ErrCapExceeded):
		return http.StatusConflict, "cap_exceeded"
	case errors.Is(err, crowdsale.ErrSaleNotOpen):
		return http.StatusConflict, "sale_not_open"
	case errors.Is(err, crowdsale.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, crowdsale.ErrPresaleAlreadyOpen):
		return http.StatusConflict, "presale_already_open"
	case errors.Is(err, crowdsale.ErrPresaleTooLate):
		return http.StatusConflict, "presale_too_late"
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded), errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, crowdsale.ErrExternalLedgerFailure):
		return http.StatusBadGateway, "token_ledger_failure"
	case errors.Is(err, crowdsale.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type fillView struct {
	Tier   string `json:"tier"`
	Amount string `json:"amount"`
	Rate   string `json:"rate"`
	Units  string `json:"units"`
}

func fillViews(fills []crowdsale.TierFill) []fillView {
	out := make([]fillView, 0, len(fills))
	for _, fill := range fills {
		out = append(out, fillView{
			Tier:   fill.Tier.String(),
			Amount: amountString(fill.Amount),
			Rate:   amountString(fill.Rate),
			Units:  amountString(fill.Units),
		})
	}
	return out
}

type receiptView struct {
	ID             string     `json:"id"`
	Payer          string     `json:"payer"`
	Beneficiary    string     `json:"beneficiary"`
	Amount         string     `json:"amount"`
	Accepted       string     `json:"accepted"`
	Refund         string     `json:"refund"`
	BaseAllocation string     `json:"baseAllocation"`
	Allocation     string     `json:"allocation"`
	Referrer       string     `json:"referrer,omitempty"`
	ReferrerCredit string     `json:"referrerCredit"`
	Stage          string     `json:"stage"`
	Tier           string     `json:"tier"`
	Fills          []fillView `json:"fills"`
	Timestamp      int64      `json:"timestamp"`
}

func newReceiptView(r *crowdsale.Receipt) receiptView {
	view := receiptView{
		ID:             r.ID,
		Payer:          r.Payer.Hex(),
		Beneficiary:    r.Beneficiary.Hex(),
		Amount:         amountString(r.Amount),
		Accepted:       amountString(r.Accepted),
		Refund:         amountString(r.Refund),
		BaseAllocation: amountString(r.BaseAllocation),
		Allocation:     amountString(r.Allocation),
		ReferrerCredit: amountString(r.ReferrerCredit),
		Stage:          r.Phase.Stage.String(),
		Tier:           r.Phase.Tier.String(),
		Fills:          fillViews(r.Fills),
		Timestamp:      r.Timestamp,
	}
	if r.Referrer != nil {
		view.Referrer = r.Referrer.Hex()
	}
	return view
}

type quoteView struct {
	Stage    string     `json:"stage"`
	Tier     string     `json:"tier"`
	Units    string     `json:"units"`
	Accepted string     `json:"accepted"`
	Refund   string     `json:"refund"`
	Fills    []fillView `json:"fills"`
}

func newQuoteView(q *crowdsale.Quote) quoteView {
	return quoteView{
		Stage:    q.Phase.Stage.String(),
		Tier:     q.Phase.Tier.String(),
		Units:    amountString(q.Units),
		Accepted: amountString(q.Accepted),
		Refund:   amountString(q.Refund),
		Fills:    fillViews(q.Fills),
	}
}

type statusView struct {
	Stage          string `json:"stage"`
	Tier           string `json:"tier"`
	Raised         string `json:"raised"`
	PresaleRaised  string `json:"presaleRaised"`
	PresaleOpened  bool   `json:"presaleOpened"`
	Settled        bool   `json:"settled"`
	SettledAt      int64  `json:"settledAt,omitempty"`
	WalletReceived string `json:"walletReceived"`
	Now            int64  `json:"now"`
}

type admissionView struct {
	Participant string `json:"participant"`
	Cap         string `json:"cap"`
	Contributed string `json:"contributed"`
}

type payoutView struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	TxID      string `json:"txId"`
}

type reserveView struct {
	ParticipantTotal string `json:"participantTotal"`
	AllocationKey    string `json:"allocationKey"`
	CompanyReserve   string `json:"companyReserve"`
	MiningPool       string `json:"miningPool"`
	ICOBounty        string `json:"icoBounty"`
	GitHubBounty     string `json:"githubBounty"`
}

type settlementView struct {
	Reserve   reserveView  `json:"reserve"`
	Payouts   []payoutView `json:"payouts"`
	Issued    string       `json:"issued"`
	SettledAt int64        `json:"settledAt"`
}

func newSettlementView(s *crowdsale.Settlement) settlementView {
	payouts := make([]payoutView, 0, len(s.Payouts))
	for _, p := range s.Payouts {
		payouts = append(payouts, payoutView{Recipient: p.Recipient.Hex(), Amount: amountString(p.Amount), TxID: p.TxID})
	}
	return settlementView{
		Reserve: reserveView{
			ParticipantTotal: amountString(s.Reserve.ParticipantTotal),
			AllocationKey:    amountString(s.Reserve.AllocationKey),
			CompanyReserve:   amountString(s.Reserve.CompanyReserve),
			MiningPool:       amountString(s.Reserve.MiningPool),
			ICOBounty:        amountString(s.Reserve.ICOBounty),
			GitHubBounty:     amountString(s.Reserve.GitHubBounty),
		},
		Payouts:   payouts,
		Issued:    amountString(s.Issued),
		SettledAt: s.SettledAt,
	}
}

type tokenView struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Owner       string `json:"owner"`
	TotalSupply string `json:"totalSupply"`
}

func newTokenView(m *token.Metadata) tokenView {
	return tokenView{
		Name:        m.Name,
		Symbol:      m.Symbol,
		Decimals:    m.Decimals,
		Owner:       m.Owner.Hex(),
		TotalSupply: amountString(m.TotalSupply),
	}
}

type eventView struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func newEventViews(records []eventlog.Record) []eventView {
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		out = append(out, eventView{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Attributes: rec.Attributes,
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}
	return out
}

func addressOrEmpty(addr common.Address, ok bool) string {
	if !ok {
		return ""
	}
	return addr.Hex()
}
