package routes

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"tokensale/gateway/middleware"
	"tokensale/native/crowdsale"
	"tokensale/native/token"
	"tokensale/observability/eventlog"
)

const (
	rateLimitRead  = "read"
	rateLimitWrite = "write"
)

// Sale is the node surface driven by the HTTP API.
type Sale interface {
	OpenPresale(ctx context.Context, caller common.Address) error
	SetCap(ctx context.Context, caller, participant common.Address, cap *big.Int) error
	SetCapBatch(ctx context.Context, caller common.Address, participants []common.Address, cap *big.Int) error
	LinkReferral(ctx context.Context, caller, referrer, investor common.Address) error
	Contribute(ctx context.Context, payer, beneficiary common.Address, amount *big.Int) (*crowdsale.Receipt, error)
	SettleAll(ctx context.Context, caller common.Address) (*crowdsale.Settlement, error)

	Cap(ctx context.Context, participant common.Address) (*crowdsale.AdmissionRecord, error)
	Referrer(ctx context.Context, investor common.Address) (common.Address, bool, error)
	AllocatedBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	Status(ctx context.Context) (*crowdsale.StatusView, error)
	Quote(ctx context.Context, amount *big.Int) (*crowdsale.Quote, error)
	WalletReceived(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context) (*token.Metadata, error)
}

// EventSource lists recorded sale events.
type EventSource interface {
	List(ctx context.Context, after int64, eventType string, limit int) ([]eventlog.Record, error)
}

type Config struct {
	Sale          Sale
	Events        EventSource
	Feed          EventFeed
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Idempotency   *middleware.Idempotency
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Sale == nil {
		return nil, errors.New("routes: sale backend required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &saleHandlers{sale: cfg.Sale, events: cfg.Events, feed: cfg.Feed, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	instrument := func(route string) func(http.Handler) http.Handler {
		if obs == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return obs.Middleware(route)
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(limit(rateLimitRead))
			read.With(instrument("status")).Get("/status", h.status)
			read.With(instrument("quote")).Get("/quote", h.quote)
			read.With(instrument("caps")).Get("/caps/{address}", h.getCap)
			read.With(instrument("referrals")).Get("/referrals/{address}", h.getReferrer)
			read.With(instrument("allocations")).Get("/allocations/{address}", h.allocation)
			read.With(instrument("token")).Get("/token", h.tokenMetadata)
			read.With(instrument("token")).Get("/token/balances/{address}", h.tokenBalance)
			if cfg.Events != nil {
				read.With(instrument("events")).Get("/events", h.listEvents)
				if cfg.Feed != nil {
					read.Get("/events/stream", h.streamEvents)
				}
			}
		})
		v1.Group(func(write chi.Router) {
			write.Use(limit(rateLimitWrite))
			write.Use(cfg.Authenticator.Middleware)
			if cfg.Idempotency != nil {
				write.Use(cfg.Idempotency.Middleware)
			}
			write.With(instrument("presale")).Post("/presale/open", h.openPresale)
			write.With(instrument("caps")).Put("/caps/{address}", h.setCap)
			write.With(instrument("caps")).Post("/caps", h.setCapBatch)
			write.With(instrument("referrals")).Post("/referrals", h.linkReferral)
			write.With(instrument("contributions")).Post("/contributions", h.contribute)
			write.With(instrument("settlement")).Post("/settlement", h.settle)
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r, nil
}

// RateLimits returns the per-route limits for the read and write groups.
func RateLimits(read, write middleware.RateLimit) map[string]middleware.RateLimit {
	return map[string]middleware.RateLimit{
		rateLimitRead:  read,
		rateLimitWrite: write,
	}
}
