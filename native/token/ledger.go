package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"tokensale/core/events"
	"tokensale/core/types"
)

const (
	DefaultName     = "Quantler"
	DefaultSymbol   = "QUANT"
	DefaultDecimals = 18
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Metadata is the persisted token descriptor.
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	Owner       common.Address
	TotalSupply *big.Int
	Nonce       uint64
}

// Receipt describes a completed ledger mutation.
type Receipt struct {
	TxID   string         `json:"txId"`
	Kind   string         `json:"kind"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	Nonce  uint64         `json:"nonce"`
}

// Ledger is a mintable, ownable fungible token kept in sale state. Balances are
// bounded to 256 bits.
type Ledger struct {
	state   ledgerState
	symbol  string
	emitter events.Emitter
}

// NewLedger returns a ledger handle for the given symbol.
func NewLedger(state ledgerState, symbol string) *Ledger {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		normalized = DefaultSymbol
	}
	return &Ledger{state: state, symbol: normalized, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(wrap(evt))
}

func (l *Ledger) metaKey() []byte {
	return []byte(fmt.Sprintf("token/%s/meta", l.symbol))
}

func (l *Ledger) balanceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/balance/%x", l.symbol, addr.Bytes()))
}

func (l *Ledger) allowanceKey(owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/allowance/%x/%x", l.symbol, owner.Bytes(), spender.Bytes()))
}

// Deploy records the token metadata with an empty supply. The owner holds mint
// authority until ownership is transferred.
func (l *Ledger) Deploy(owner common.Address, name string, decimals uint8) (*Metadata, error) {
	if isZero(owner) {
		return nil, ErrInvalidAddress
	}
	if ok, err := l.state.KVGet(l.metaKey(), nil); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyDeployed
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	meta := &Metadata{
		Name:        strings.TrimSpace(name),
		Symbol:      l.symbol,
		Decimals:    decimals,
		Owner:       owner,
		TotalSupply: big.NewInt(0),
	}
	if err := l.state.KVPut(l.metaKey(), meta); err != nil {
		return nil, err
	}
	l.emit(ownershipEvent(l.symbol, common.Address{}.Hex(), owner.Hex()))
	return meta, nil
}

// Deployed reports whether metadata exists for the ledger.
func (l *Ledger) Deployed() (bool, error) {
	return l.state.KVGet(l.metaKey(), nil)
}

func (l *Ledger) metadata() (*Metadata, error) {
	meta := new(Metadata)
	ok, err := l.state.KVGet(l.metaKey(), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// Metadata returns a copy of the token descriptor.
func (l *Ledger) Metadata() (*Metadata, error) {
	return l.metadata()
}

// Name returns the token name or an empty string before deployment.
func (l *Ledger) Name() string {
	meta, err := l.metadata()
	if err != nil {
		return ""
	}
	return meta.Name
}

// Symbol returns the ticker the ledger was opened with.
func (l *Ledger) Symbol() string { return l.symbol }

// Owner returns the address currently holding mint authority.
func (l *Ledger) Owner() (common.Address, error) {
	meta, err := l.metadata()
	if err != nil {
		return common.Address{}, err
	}
	return meta.Owner, nil
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(meta.TotalSupply), nil
}

// TransferOwnership hands mint authority to newOwner.
func (l *Ledger) TransferOwnership(caller, newOwner common.Address) error {
	meta, err := l.metadata()
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return ErrUnauthorized
	}
	if isZero(newOwner) {
		return ErrInvalidAddress
	}
	previous := meta.Owner
	meta.Owner = newOwner
	if err := l.state.KVPut(l.metaKey(), meta); err != nil {
		return err
	}
	l.emit(ownershipEvent(l.symbol, previous.Hex(), newOwner.Hex()))
	return nil
}

func (l *Ledger) readAmount(key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := l.state.KVGet(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return uint256.NewInt(0), nil
	}
	value, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func (l *Ledger) writeAmount(key []byte, value *uint256.Int) error {
	return l.state.KVPut(key, value.ToBig())
}

func toAmount(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

// BalanceOf returns the token balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) (*big.Int, error) {
	if _, err := l.metadata(); err != nil {
		return nil, err
	}
	value, err := l.readAmount(l.balanceKey(addr))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) (*big.Int, error) {
	if _, err := l.metadata(); err != nil {
		return nil, err
	}
	value, err := l.readAmount(l.allowanceKey(owner, spender))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

func (l *Ledger) receipt(meta *Metadata, kind string, from, to common.Address, amount *big.Int) *Receipt {
	meta.Nonce++
	var nonce [8]byte
	for i := 0; i < 8; i++ {
		nonce[7-i] = byte(meta.Nonce >> (8 * i))
	}
	hash := ethcrypto.Keccak256Hash([]byte(l.symbol), []byte(kind), nonce[:], from.Bytes(), to.Bytes(), amount.Bytes())
	return &Receipt{
		TxID:   hash.Hex(),
		Kind:   kind,
		From:   from,
		To:     to,
		Amount: new(big.Int).Set(amount),
		Nonce:  meta.Nonce,
	}
}

// Mint issues amount new tokens to recipient. Only the owner may mint.
func (l *Ledger) Mint(caller, recipient common.Address, amount *big.Int) (*Receipt, error) {
	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	if caller != meta.Owner {
		return nil, ErrUnauthorized
	}
	if isZero(recipient) {
		return nil, ErrInvalidAddress
	}
	value, err := toAmount(amount)
	if err != nil {
		return nil, err
	}
	supply, overflow := uint256.FromBig(meta.TotalSupply)
	if overflow {
		return nil, ErrOverflow
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return nil, ErrOverflow
	}
	balance, err := l.readAmount(l.balanceKey(recipient))
	if err != nil {
		return nil, err
	}
	newBalance, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow {
		return nil, ErrOverflow
	}
	meta.TotalSupply = newSupply.ToBig()
	receipt := l.receipt(meta, "mint", common.Address{}, recipient, amount)
	if err := l.writeAmount(l.balanceKey(recipient), newBalance); err != nil {
		return nil, err
	}
	if err := l.state.KVPut(l.metaKey(), meta); err != nil {
		return nil, err
	}
	l.emit(transferEvent(l.symbol, common.Address{}.Hex(), recipient.Hex(), amount))
	return receipt, nil
}

func (l *Ledger) move(meta *Metadata, from, to common.Address, value *uint256.Int) error {
	fromBalance, err := l.readAmount(l.balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return ErrInsufficientBalance
	}
	newFrom := new(uint256.Int).Sub(fromBalance, value)
	if from == to {
		return nil
	}
	toBalance, err := l.readAmount(l.balanceKey(to))
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBalance, value)
	if overflow {
		return ErrOverflow
	}
	if err := l.writeAmount(l.balanceKey(from), newFrom); err != nil {
		return err
	}
	return l.writeAmount(l.balanceKey(to), newTo)
}

// Transfer moves amount from the caller to recipient.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) (*Receipt, error) {
	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	if isZero(to) {
		return nil, ErrInvalidAddress
	}
	value, err := toAmount(amount)
	if err != nil {
		return nil, err
	}
	if err := l.move(meta, from, to, value); err != nil {
		return nil, err
	}
	receipt := l.receipt(meta, "transfer", from, to, amount)
	if err := l.state.KVPut(l.metaKey(), meta); err != nil {
		return nil, err
	}
	l.emit(transferEvent(l.symbol, from.Hex(), to.Hex(), amount))
	return receipt, nil
}

// Approve sets the allowance spender may draw from owner. A zero amount
// revokes the allowance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if _, err := l.metadata(); err != nil {
		return err
	}
	if isZero(spender) {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrOverflow
	}
	if err := l.writeAmount(l.allowanceKey(owner, spender), value); err != nil {
		return err
	}
	l.emit(approvalEvent(l.symbol, owner.Hex(), spender.Hex(), amount))
	return nil
}

// TransferFrom moves amount from owner to recipient using the spender's
// allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *big.Int) (*Receipt, error) {
	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	if isZero(to) {
		return nil, ErrInvalidAddress
	}
	value, err := toAmount(amount)
	if err != nil {
		return nil, err
	}
	allowance, err := l.readAmount(l.allowanceKey(owner, spender))
	if err != nil {
		return nil, err
	}
	if allowance.Lt(value) {
		return nil, ErrInsufficientAllowance
	}
	if err := l.move(meta, owner, to, value); err != nil {
		return nil, err
	}
	if err := l.writeAmount(l.allowanceKey(owner, spender), new(uint256.Int).Sub(allowance, value)); err != nil {
		return nil, err
	}
	receipt := l.receipt(meta, "transferFrom", owner, to, amount)
	if err := l.state.KVPut(l.metaKey(), meta); err != nil {
		return nil, err
	}
	l.emit(transferEvent(l.symbol, owner.Hex(), to.Hex(), amount))
	return receipt, nil
}

func isZero(addr common.Address) bool {
	return addr == (common.Address{})
}
