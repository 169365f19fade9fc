// Package ledger owns the trading state of one engine run: the single open
// position (or none) and the last known account balance. Only the engine's
// decision goroutine mutates it; everything else gets read-only snapshots.
package ledger

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"

	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// Ledger is the sole owner of Position and Balance for an engine instance.
// At most one position is open at any time; violating that invariant is a
// programming error and is reported as ErrCodeInvalidState, which the engine
// treats as fatal.
type Ledger struct {
	mu       sync.RWMutex
	position optional.Option[types.Position]
	balance  types.Balance
}

// New creates an empty ledger with the given starting balance snapshot.
func New(balance types.Balance) *Ledger {
	return &Ledger{
		position: optional.None[types.Position](),
		balance:  balance,
	}
}

// Open records a new position. It fails with ErrCodeInvalidState if a
// position is already open.
func (l *Ledger) Open(entryPrice, quantity float64, openedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position.IsSome() {
		return errors.New(errors.ErrCodeInvalidState, "cannot open position: a position is already open")
	}

	if quantity <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "position quantity must be positive, got %f", quantity)
	}

	l.position = optional.Some(types.Position{
		EntryPrice: entryPrice,
		Quantity:   quantity,
		OpenedAt:   openedAt,
	})

	return nil
}

// Close removes the open position and returns it. It fails with
// ErrCodeInvalidState if no position is open.
func (l *Ledger) Close() (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.position.Take()
	if err != nil {
		return types.Position{}, errors.New(errors.ErrCodeInvalidState, "cannot close position: no position is open")
	}

	l.position = optional.None[types.Position]()

	return pos, nil
}

// Current returns the open position, if any.
func (l *Ledger) Current() optional.Option[types.Position] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.position
}

// PnLPct computes the unrealized profit of the open position against the
// given price, in percent. It fails with ErrCodePositionNotFound when no
// position is open; querying an empty ledger is a caller bug.
func (l *Ledger) PnLPct(currentPrice float64) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, err := l.position.Take()
	if err != nil {
		return 0, errors.New(errors.ErrCodePositionNotFound, "no open position to compute pnl for")
	}

	return (currentPrice - pos.EntryPrice) / pos.EntryPrice * 100, nil
}

// SetBalance replaces the balance snapshot.
func (l *Ledger) SetBalance(balance types.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = balance
}

// Balance returns the last known balance snapshot.
func (l *Ledger) Balance() types.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balance
}
