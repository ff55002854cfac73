// Package ledger defines the value-transfer collaborator consumed by the pool
// engine. The production deployment points it at the host chain's stablecoin
// account system; the in-memory implementation backs tests and local runs.
package ledger

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bondmm/fixedpoint"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrTransferFailed      = errors.New("ledger: transfer failed")
)

// Ledger moves stablecoin value between accounts. Amounts use the same 60.18
// fixed-point scale as the pool state.
type Ledger interface {
	// TransferFrom moves amount from src to dst. The src account must have
	// granted the pool authority out of band.
	TransferFrom(src, dst common.Address, amount fixedpoint.Dec) error
	// Transfer moves amount from the pool's own account to dst.
	Transfer(dst common.Address, amount fixedpoint.Dec) error
	// BalanceOf reports the balance held by addr.
	BalanceOf(addr common.Address) fixedpoint.Dec
}

// MemLedger is an in-memory Ledger keyed by account address.
type MemLedger struct {
	mu       sync.Mutex
	pool     common.Address
	balances map[common.Address]fixedpoint.Dec
}

// NewMemLedger constructs an empty ledger whose Transfer operations debit the
// given pool account.
func NewMemLedger(pool common.Address) *MemLedger {
	return &MemLedger{
		pool:     pool,
		balances: make(map[common.Address]fixedpoint.Dec),
	}
}

// Mint credits an account. Test and bootstrap helper.
func (l *MemLedger) Mint(addr common.Address, amount fixedpoint.Dec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balances[addr]
	next, err := current.Add(amount)
	if err != nil {
		return
	}
	l.balances[addr] = next
}

// TransferFrom implements the Ledger interface.
func (l *MemLedger) TransferFrom(src, dst common.Address, amount fixedpoint.Dec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(src, dst, amount)
}

// Transfer implements the Ledger interface.
func (l *MemLedger) Transfer(dst common.Address, amount fixedpoint.Dec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(l.pool, dst, amount)
}

// BalanceOf implements the Ledger interface.
func (l *MemLedger) BalanceOf(addr common.Address) fixedpoint.Dec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

func (l *MemLedger) move(src, dst common.Address, amount fixedpoint.Dec) error {
	if amount.IsZero() {
		return nil
	}
	from := l.balances[src]
	if from.Lt(amount) {
		return ErrInsufficientBalance
	}
	next, err := from.Sub(amount)
	if err != nil {
		return ErrTransferFailed
	}
	to, err := l.balances[dst].Add(amount)
	if err != nil {
		return ErrTransferFailed
	}
	l.balances[src] = next
	l.balances[dst] = to
	return nil
}
