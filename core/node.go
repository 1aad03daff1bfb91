package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokensale/core/events"
	"tokensale/core/state"
	nativecommon "tokensale/native/common"
	"tokensale/native/crowdsale"
	"tokensale/native/token"
	"tokensale/observability"
	"tokensale/storage"
)

// Options configures a Node.
type Options struct {
	Campaign      *crowdsale.Config
	TokenName     string
	TokenSymbol   string
	TokenDecimals uint8
	// Deployer is the initial token owner. It defaults to the campaign owner
	// and hands mint authority to the sale authority during bootstrap.
	Deployer          common.Address
	Emitter           events.Emitter
	Pauses            nativecommon.PauseView
	ContributionQuota nativecommon.Quota
	Logger            *slog.Logger
	Now               func() int64
}

// Node is the single writer in front of the sale state. Every call runs under
// one lock; mutating calls commit their writes in a single batch or discard
// them, and events reach the configured emitter only after a commit.
type Node struct {
	mu sync.Mutex
	// emitMu is taken before mu is released so committed batches reach the
	// emitter in commit order.
	emitMu  sync.Mutex
	state   *state.Manager
	engine  *crowdsale.Engine
	ledger  *token.Ledger
	buffer  *eventBuffer
	emitter events.Emitter
	quotas  *nativecommon.QuotaTracker
	metrics *observability.SaleMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
	nowFn   func() int64
}

type eventBuffer struct {
	pending []events.Event
}

func (b *eventBuffer) Emit(evt events.Event) { b.pending = append(b.pending, evt) }

func (b *eventBuffer) drain() []events.Event {
	out := b.pending
	b.pending = nil
	return out
}

// NewNode opens the sale on db, deploying the token and persisting the
// campaign on first start.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if opts.Campaign == nil {
		return nil, fmt.Errorf("core: campaign config required")
	}
	if err := opts.Campaign.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	manager := state.NewManager(db)
	buffer := &eventBuffer{}
	ledger := token.NewLedger(manager, opts.TokenSymbol)
	ledger.SetEmitter(buffer)
	engine := crowdsale.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetEmitter(buffer)
	engine.SetNowFunc(nowFn)
	engine.SetPauses(opts.Pauses)

	n := &Node{
		state:   manager,
		engine:  engine,
		ledger:  ledger,
		buffer:  buffer,
		emitter: emitter,
		quotas:  nativecommon.NewQuotaTracker(opts.ContributionQuota),
		metrics: observability.Sale(),
		tracer:  otel.Tracer("tokensale/core"),
		logger:  logger.With(slog.String("component", "node")),
		nowFn:   nowFn,
	}
	if err := n.bootstrap(opts); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) bootstrap(opts Options) error {
	deployer := opts.Deployer
	if deployer == (common.Address{}) {
		deployer = opts.Campaign.Owner
	}
	decimals := opts.TokenDecimals
	if decimals == 0 {
		decimals = token.DefaultDecimals
	}
	return n.execute(context.Background(), "bootstrap", nil, func() error {
		deployed, err := n.ledger.Deployed()
		if err != nil {
			return err
		}
		if !deployed {
			if _, err := n.ledger.Deploy(deployer, opts.TokenName, decimals); err != nil {
				return err
			}
			if deployer != opts.Campaign.Authority {
				if err := n.ledger.TransferOwnership(deployer, opts.Campaign.Authority); err != nil {
					return err
				}
			}
			n.logger.Info("token deployed",
				slog.String("symbol", n.ledger.Symbol()),
				slog.String("owner", opts.Campaign.Authority.Hex()))
		}
		return n.engine.Initialize(opts.Campaign)
	})
}

// execute runs fn as one serialized, atomic call.
func (n *Node) execute(ctx context.Context, op string, attrs []attribute.KeyValue, fn func() error) error {
	ctx, span := n.tracer.Start(ctx, "crowdsale."+op, trace.WithAttributes(attrs...))
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	n.mu.Lock()
	err := fn()
	if err == nil {
		if commitErr := n.state.Commit(); commitErr != nil {
			err = commitErr
		}
	}
	var committed []events.Event
	if err != nil {
		n.state.Discard()
		n.buffer.drain()
		n.mu.Unlock()
	} else {
		committed = n.buffer.drain()
		n.emitMu.Lock()
		n.mu.Unlock()
		for _, evt := range committed {
			n.emitter.Emit(evt)
		}
		n.emitMu.Unlock()
	}
	n.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Debug("operation rejected", slog.String("operation", op), slog.String("error", err.Error()))
		return err
	}
	span.SetAttributes(attribute.Int("events", len(committed)))
	return nil
}

// view runs a read-only call under the node lock.
func (n *Node) view(ctx context.Context, op string, fn func() error) error {
	_, span := n.tracer.Start(ctx, "crowdsale."+op)
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	err := fn()
	// Reads never write; anything buffered is dropped.
	n.state.Discard()
	n.buffer.drain()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func addrAttr(key string, addr common.Address) attribute.KeyValue {
	return attribute.String(key, addr.Hex())
}

// OpenPresale opens the pre-sale on behalf of caller.
func (n *Node) OpenPresale(ctx context.Context, caller common.Address) error {
	return n.execute(ctx, "open_presale", []attribute.KeyValue{addrAttr("caller", caller)}, func() error {
		return n.engine.OpenPresale(caller)
	})
}

// SetCap assigns an admission cap to participant.
func (n *Node) SetCap(ctx context.Context, caller, participant common.Address, cap *big.Int) error {
	return n.execute(ctx, "set_cap", []attribute.KeyValue{addrAttr("participant", participant)}, func() error {
		return n.engine.SetCap(caller, participant, cap)
	})
}

// SetCapBatch assigns cap to every participant or to none.
func (n *Node) SetCapBatch(ctx context.Context, caller common.Address, participants []common.Address, cap *big.Int) error {
	return n.execute(ctx, "set_cap_batch", []attribute.KeyValue{attribute.Int("participants", len(participants))}, func() error {
		return n.engine.SetCapBatch(caller, participants, cap)
	})
}

// LinkReferral links investor to referrer.
func (n *Node) LinkReferral(ctx context.Context, caller, referrer, investor common.Address) error {
	return n.execute(ctx, "link_referral", []attribute.KeyValue{addrAttr("investor", investor)}, func() error {
		return n.engine.LinkReferral(caller, referrer, investor)
	})
}

// Contribute books amount paid by payer for beneficiary.
func (n *Node) Contribute(ctx context.Context, payer, beneficiary common.Address, amount *big.Int) (*crowdsale.Receipt, error) {
	if err := n.quotas.Consume(payer.Hex(), n.nowFn()); err != nil {
		return nil, err
	}
	var receipt *crowdsale.Receipt
	var raised *big.Int
	err := n.execute(ctx, "contribute", []attribute.KeyValue{addrAttr("payer", payer), addrAttr("beneficiary", beneficiary)}, func() error {
		var err error
		receipt, err = n.engine.ContributeFor(payer, beneficiary, amount)
		if err != nil {
			return err
		}
		status, err := n.engine.Status()
		if err != nil {
			return err
		}
		raised = status.Raised
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.metrics.SetRaised(raised)
	n.metrics.AddRefund(receipt.Refund)
	n.logger.Info("contribution accepted",
		slog.String("receipt", receipt.ID),
		slog.String("phase", receipt.Phase.String()),
		slog.String("accepted", receipt.Accepted.String()),
		slog.String("refund", receipt.Refund.String()))
	return receipt, nil
}

// SettleAll runs the settlement sweep.
func (n *Node) SettleAll(ctx context.Context, caller common.Address) (*crowdsale.Settlement, error) {
	var settlement *crowdsale.Settlement
	err := n.execute(ctx, "settle", []attribute.KeyValue{addrAttr("caller", caller)}, func() error {
		var err error
		settlement, err = n.engine.SettleAll(caller)
		return err
	})
	if err != nil {
		if errors.Is(err, crowdsale.ErrExternalLedgerFailure) {
			n.logger.Error("settlement aborted", slog.String("error", err.Error()))
		}
		return nil, err
	}
	n.metrics.RecordSettlement(settlement.Issued)
	n.logger.Info("settlement complete",
		slog.Int("payouts", len(settlement.Payouts)),
		slog.String("issued", settlement.Issued.String()))
	return settlement, nil
}

// Cap returns the admission cap of participant.
func (n *Node) Cap(ctx context.Context, participant common.Address) (*crowdsale.AdmissionRecord, error) {
	var record *crowdsale.AdmissionRecord
	err := n.view(ctx, "cap", func() error {
		var err error
		record, err = n.engine.Admission(participant)
		return err
	})
	return record, err
}

// Referrer resolves the referrer linked to investor.
func (n *Node) Referrer(ctx context.Context, investor common.Address) (common.Address, bool, error) {
	var (
		referrer common.Address
		ok       bool
	)
	err := n.view(ctx, "referrer", func() error {
		var err error
		referrer, ok, err = n.engine.Referrer(investor)
		return err
	})
	return referrer, ok, err
}

// AllocatedBalance returns the pending allocation of addr.
func (n *Node) AllocatedBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.view(ctx, "allocated_balance", func() error {
		var err error
		amount, err = n.engine.AllocatedBalance(addr)
		return err
	})
	return amount, err
}

// Status returns the campaign read model.
func (n *Node) Status(ctx context.Context) (*crowdsale.StatusView, error) {
	var view *crowdsale.StatusView
	err := n.view(ctx, "status", func() error {
		var err error
		view, err = n.engine.Status()
		return err
	})
	return view, err
}

// Quote prices amount at the current phase without booking it.
func (n *Node) Quote(ctx context.Context, amount *big.Int) (*crowdsale.Quote, error) {
	var quote *crowdsale.Quote
	err := n.view(ctx, "quote", func() error {
		var err error
		quote, err = n.engine.Quote(amount)
		return err
	})
	return quote, err
}

// TokenBalance returns the issued token balance of addr.
func (n *Node) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.view(ctx, "token_balance", func() error {
		var err error
		amount, err = n.ledger.BalanceOf(addr)
		return err
	})
	return amount, err
}

// TokenMetadata returns the token descriptor.
func (n *Node) TokenMetadata(ctx context.Context) (*token.Metadata, error) {
	var meta *token.Metadata
	err := n.view(ctx, "token_metadata", func() error {
		var err error
		meta, err = n.ledger.Metadata()
		return err
	})
	return meta, err
}

// Campaign returns the campaign configuration.
func (n *Node) Campaign() (*crowdsale.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Config()
}

// WalletReceived returns the total forwarded to the collection wallet.
func (n *Node) WalletReceived(ctx context.Context) (*big.Int, error) {
	var amount *big.Int
	err := n.view(ctx, "wallet_received", func() error {
		var err error
		amount, err = n.engine.WalletReceived()
		return err
	})
	return amount, err
}
