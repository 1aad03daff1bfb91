package crowdsale

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tokensale/core/events"
	"tokensale/core/types"
	nativecommon "tokensale/native/common"
	"tokensale/native/token"
)

// ModuleName is the pause key guarding contributions.
const ModuleName = "crowdsale"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// snapshotter is implemented by journaled state backends. When available the
// engine reverts every write of a failed call.
type snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// TokenLedger is the mintable token the sale issues allocations on.
type TokenLedger interface {
	Owner() (common.Address, error)
	Mint(caller, recipient common.Address, amount *big.Int) (*token.Receipt, error)
	BalanceOf(addr common.Address) (*big.Int, error)
}

// Engine implements the campaign: admission caps, phase derivation, tiered
// pricing, referral credits and the one-shot settlement sweep. It is not safe
// for concurrent use; callers serialise access.
type Engine struct {
	state     engineState
	ledger    TokenLedger
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() int64
	idFn      func() string
	cfg       *Config
	highWater int64
	buffered  []*types.Event
	inCall    bool
}

// NewEngine constructs a crowdsale engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		idFn:    uuid.NewString,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger settlement mints on.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetPauses wires the pause view consulted before contributions.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetIDFunc overrides the receipt identifier generator.
func (e *Engine) SetIDFunc(id func() string) {
	if id == nil {
		e.idFn = uuid.NewString
		return
	}
	e.idFn = id
}

// Config returns a copy of the campaign configuration.
func (e *Engine) Config() (*Config, error) {
	if e.cfg == nil {
		return nil, ErrNotInitialized
	}
	return e.cfg.Clone(), nil
}

// Initialize binds the engine to a campaign. The first call persists the
// configuration; later calls, for example after a restart, must present the
// same parameters.
func (e *Engine) Initialize(cfg *Config) error {
	if e.state == nil {
		return ErrNotInitialized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.atomically(func() error {
		var existing storedConfig
		ok, err := e.state.KVGet(configKey, &existing)
		if err != nil {
			return err
		}
		if ok {
			if !existing.equal(cfg.stored()) {
				return ErrConfigMismatch
			}
			e.cfg = cfg.Clone()
			return nil
		}
		if err := e.state.KVPut(configKey, cfg.stored()); err != nil {
			return err
		}
		if err := e.putStatus(&Status{Raised: big.NewInt(0), PresaleRaised: big.NewInt(0)}); err != nil {
			return err
		}
		e.cfg = cfg.Clone()
		return nil
	})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.cfg == nil {
		return ErrNotInitialized
	}
	return nil
}

// atomically runs fn so that it either applies every write and event or none.
func (e *Engine) atomically(fn func() error) error {
	if e.inCall {
		return fn()
	}
	snap, canRevert := e.state.(snapshotter)
	id := 0
	if canRevert {
		id = snap.Snapshot()
	}
	e.inCall = true
	e.buffered = e.buffered[:0]
	err := fn()
	e.inCall = false
	if err != nil {
		if canRevert {
			snap.RevertToSnapshot(id)
		}
		e.buffered = e.buffered[:0]
		return err
	}
	pending := e.buffered
	e.buffered = nil
	for _, evt := range pending {
		e.emitter.Emit(WrapEvent(evt))
	}
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil {
		return
	}
	if e.inCall {
		e.buffered = append(e.buffered, evt)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(WrapEvent(evt))
	}
}

// now returns the engine clock. Readings never move backwards, so a sale that
// closed on time stays closed if the source clock is wound back.
func (e *Engine) now() int64 {
	ts := time.Now().Unix()
	if e.nowFn != nil {
		ts = e.nowFn()
	}
	if ts < e.highWater {
		return e.highWater
	}
	e.highWater = ts
	return ts
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) loadStatus() (*Status, error) {
	status := new(Status)
	ok, err := e.state.KVGet(statusKey, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		status = &Status{}
	}
	status.Raised = newBigInt(status.Raised)
	status.PresaleRaised = newBigInt(status.PresaleRaised)
	if observed := int64(status.ObservedAt); observed > e.highWater {
		e.highWater = observed
	}
	return status, nil
}

func (e *Engine) putStatus(status *Status) error {
	if e.highWater > 0 && uint64(e.highWater) > status.ObservedAt {
		status.ObservedAt = uint64(e.highWater)
	}
	return e.state.KVPut(statusKey, status)
}

func (e *Engine) phaseFor(status *Status, now int64) Phase {
	if status.Settled {
		return Phase{Stage: StageClosed}
	}
	return CurrentPhase(e.cfg, now, status.Raised, status.PresaleOpened)
}

// OpenPresale moves the campaign from NotStarted into PreSale. Only the owner
// may call it and only before the opening time.
func (e *Engine) OpenPresale(caller common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	return e.atomically(func() error {
		status, err := e.loadStatus()
		if err != nil {
			return err
		}
		if status.Settled {
			return ErrAlreadySettled
		}
		if status.PresaleOpened {
			return ErrPresaleAlreadyOpen
		}
		now := e.now()
		if now >= e.cfg.OpeningTime {
			return ErrPresaleTooLate
		}
		status.PresaleOpened = true
		if err := e.putStatus(status); err != nil {
			return err
		}
		e.emit(PresaleOpenedEvent(caller.Hex(), now))
		return nil
	})
}

// CurrentPhase reports the phase at the engine's current time.
func (e *Engine) CurrentPhase() (Phase, error) {
	if err := e.ready(); err != nil {
		return Phase{}, err
	}
	status, err := e.loadStatus()
	if err != nil {
		return Phase{}, err
	}
	return e.phaseFor(status, e.now()), nil
}

// Status returns the campaign read model.
func (e *Engine) Status() (*StatusView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	now := e.now()
	return &StatusView{
		Phase:         e.phaseFor(status, now),
		Raised:        newBigInt(status.Raised),
		PresaleRaised: newBigInt(status.PresaleRaised),
		PresaleOpened: status.PresaleOpened,
		Settled:       status.Settled,
		SettledAt:     int64(status.SettledAt),
		Now:           now,
	}, nil
}

// Quote prices amount at the current phase without touching state or
// checking the caller's admission cap.
func (e *Engine) Quote(amount *big.Int) (*Quote, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	phase := e.phaseFor(status, e.now())
	return e.cfg.Price(amount, phase, status.Raised, status.PresaleRaised)
}

// WalletReceived returns the funds credited to the sale wallet so far.
func (e *Engine) WalletReceived() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	received := new(big.Int)
	ok, err := e.state.KVGet(walletKey, received)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return received, nil
}

func (e *Engine) guardPaused() error {
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return fmt.Errorf("%w: %w", ErrSaleNotOpen, err)
	}
	return nil
}
