package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"tokensale/config"
	"tokensale/gateway/auth"
	"tokensale/gateway/middleware"
)

const maxEventPage = 500

type saleHandlers struct {
	sale   Sale
	events EventSource
	feed   EventFeed
	logger *slog.Logger
}

type capRequest struct {
	Cap string `json:"cap"`
}

type capBatchRequest struct {
	Participants []string `json:"participants"`
	Cap          string   `json:"cap"`
}

type referralRequest struct {
	Referrer string `json:"referrer"`
	Investor string `json:"investor"`
}

type contributionRequest struct {
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary,omitempty"`
}

func decodeRequest(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(body) > requestLimit {
		return badRequest("request body exceeds %d bytes", requestLimit)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return badRequest("request body required")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func caller(r *http.Request) (common.Address, error) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return common.Address{}, auth.ErrMissingToken
	}
	return principal.Address, nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	addr, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return common.Address{}, badRequest("%v", err)
	}
	return addr, nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	amount, err := config.ParseAmount(raw)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	return amount, nil
}

func (h *saleHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	writeError(w, err)
}

func (h *saleHandlers) openPresale(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sale.OpenPresale(r.Context(), from); err != nil {
		h.fail(w, r, err)
		return
	}
	h.status(w, r)
}

func (h *saleHandlers) setCap(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	participant, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req capRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Cap, "cap")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sale.SetCap(r.Context(), from, participant, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdmission(w, r, participant)
}

func (h *saleHandlers) setCapBatch(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req capBatchRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Cap, "cap")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	participants := make([]common.Address, 0, len(req.Participants))
	for _, raw := range req.Participants {
		addr, err := config.ParseAddress(raw)
		if err != nil {
			h.fail(w, r, badRequest("%v", err))
			return
		}
		participants = append(participants, addr)
	}
	if err := h.sale.SetCapBatch(r.Context(), from, participants, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated": len(participants),
		"cap":     amount.String(),
	})
}

func (h *saleHandlers) getCap(w http.ResponseWriter, r *http.Request) {
	participant, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdmission(w, r, participant)
}

func (h *saleHandlers) writeAdmission(w http.ResponseWriter, r *http.Request, participant common.Address) {
	record, err := h.sale.Cap(r.Context(), participant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admissionView{
		Participant: participant.Hex(),
		Cap:         amountString(record.Cap),
		Contributed: amountString(record.Contributed),
	})
}

func (h *saleHandlers) linkReferral(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req referralRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	referrer, err := config.ParseAddress(req.Referrer)
	if err != nil {
		h.fail(w, r, badRequest("referrer: %v", err))
		return
	}
	investor, err := config.ParseAddress(req.Investor)
	if err != nil {
		h.fail(w, r, badRequest("investor: %v", err))
		return
	}
	if err := h.sale.LinkReferral(r.Context(), from, referrer, investor); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"investor": investor.Hex(),
		"referrer": referrer.Hex(),
	})
}

func (h *saleHandlers) getReferrer(w http.ResponseWriter, r *http.Request) {
	investor, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	referrer, ok, err := h.sale.Referrer(r.Context(), investor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"investor": investor.Hex(),
		"referred": ok,
		"referrer": addressOrEmpty(referrer, ok),
	})
}

func (h *saleHandlers) contribute(w http.ResponseWriter, r *http.Request) {
	payer, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req contributionRequest
	if err := decodeRequest(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	beneficiary := payer
	if strings.TrimSpace(req.Beneficiary) != "" {
		beneficiary, err = config.ParseAddress(req.Beneficiary)
		if err != nil {
			h.fail(w, r, badRequest("beneficiary: %v", err))
			return
		}
	}
	receipt, err := h.sale.Contribute(r.Context(), payer, beneficiary, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReceiptView(receipt))
}

func (h *saleHandlers) settle(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	settlement, err := h.sale.SettleAll(r.Context(), from)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

func (h *saleHandlers) allocation(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := h.sale.AllocatedBalance(r.Context(), addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"pending": amountString(amount),
	})
}

func (h *saleHandlers) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.sale.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	received, err := h.sale.WalletReceived(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView{
		Stage:          view.Phase.Stage.String(),
		Tier:           view.Phase.Tier.String(),
		Raised:         amountString(view.Raised),
		PresaleRaised:  amountString(view.PresaleRaised),
		PresaleOpened:  view.PresaleOpened,
		Settled:        view.Settled,
		SettledAt:      view.SettledAt,
		WalletReceived: amountString(received),
		Now:            view.Now,
	})
}

func (h *saleHandlers) quote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"), "amount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	quote, err := h.sale.Quote(r.Context(), amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(quote))
}

func (h *saleHandlers) tokenMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.sale.TokenMetadata(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenView(meta))
}

func (h *saleHandlers) tokenBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.sale.TokenBalance(r.Context(), addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": amountString(balance),
	})
}

func (h *saleHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	after, err := parseCursor(query.Get("after"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.fail(w, r, badRequest("limit must be a positive integer"))
			return
		}
		if parsed > maxEventPage {
			parsed = maxEventPage
		}
		limit = parsed
	}
	records, err := h.events.List(r.Context(), after, strings.TrimSpace(query.Get("type")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	next := after
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": newEventViews(records),
		"next":   next,
	})
}

func parseCursor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return 0, badRequest("after must be a non-negative integer")
	}
	return parsed, nil
}
