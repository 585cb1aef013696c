// Package portfolio is the single source of truth for participant cash and
// positions. It is shared by every orderbook.Book in a simulation and is
// safe for concurrent use.
package portfolio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrSettlementInconsistency is returned by ApplyTrade when a ledger
// invariant would be violated mid-update. It is fatal: callers must stop
// admitting new orders and propagate it up to the simulation harness.
var ErrSettlementInconsistency = errors.New("portfolio: settlement inconsistency")

// ErrParticipantExists is returned by AddParticipant for a duplicate id.
var ErrParticipantExists = errors.New("portfolio: participant already exists")

// ErrUnknownParticipant is returned by operations on an id never added.
var ErrUnknownParticipant = errors.New("portfolio: unknown participant")

type account struct {
	cash      decimal.Decimal
	positions map[string]int64
	costBasis map[string]decimal.Decimal
	// seededValue tracks the value, at seed time, of positions set via
	// SetInitialPosition, for PnL's "initial position value" subtraction.
	seededValue decimal.Decimal
	initialCash decimal.Decimal
}

func newAccount(initialCash decimal.Decimal) *account {
	return &account{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]int64),
		costBasis:   make(map[string]decimal.Decimal),
		seededValue: decimal.Zero,
	}
}

// Ledger holds every participant's cash and positions under one coarse
// mutex, guaranteeing ApplyTrade's two-participant critical section is
// atomic.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
}

// NewLedger returns an empty Ledger ready for AddParticipant calls.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

// AddParticipant registers a new participant with a starting cash balance.
// Fails if the id is already registered.
func (l *Ledger) AddParticipant(id string, initialCash decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[id]; ok {
		return fmt.Errorf("%w: %s", ErrParticipantExists, id)
	}
	l.accounts[id] = newAccount(initialCash)
	return nil
}

// SetInitialPosition seeds a position and cost basis without touching cash,
// intended for seeding market makers or other participants with starting
// inventory. referencePrice must be strictly positive.
func (l *Ledger) SetInitialPosition(id, symbol string, qty int64, referencePrice decimal.Decimal) error {
	if referencePrice.Sign() <= 0 {
		return fmt.Errorf("portfolio: reference price must be positive, got %s", referencePrice)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	acct.positions[symbol] = qty
	if qty != 0 {
		acct.costBasis[symbol] = referencePrice
	} else {
		delete(acct.costBasis, symbol)
	}
	notional := referencePrice.Mul(decimal.NewFromInt(qty))
	acct.seededValue = acct.seededValue.Add(notional)
	return nil
}

// Exists reports whether id has been registered via AddParticipant.
func (l *Ledger) Exists(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[id]
	return ok
}

// Cash returns the participant's cash balance, or zero for an unknown id.
func (l *Ledger) Cash(id string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return decimal.Zero
	}
	return acct.cash
}

// Position returns the participant's signed position in symbol, or zero
// for an unknown id or symbol.
func (l *Ledger) Position(id, symbol string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return 0
	}
	return acct.positions[symbol]
}

// CostBasis returns the average cost basis for id's position in symbol. The
// second return is false when the position is flat (basis undefined).
func (l *Ledger) CostBasis(id, symbol string) (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return decimal.Zero, false
	}
	basis, ok := acct.costBasis[symbol]
	return basis, ok
}

// PortfolioValue returns cash plus the mark-to-market value of every
// position, using prices from priceMap. Missing prices count as zero.
func (l *Ledger) PortfolioValue(id string, priceMap map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return decimal.Zero
	}
	value := acct.cash
	for symbol, qty := range acct.positions {
		if qty == 0 {
			continue
		}
		price, ok := priceMap[symbol]
		if !ok {
			continue
		}
		value = value.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	return value
}

// PnL returns portfolio value minus initial cash minus the value (at seed
// time) of any positions seeded via SetInitialPosition.
func (l *Ledger) PnL(id string, priceMap map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	acct, ok := l.accounts[id]
	if !ok {
		l.mu.Unlock()
		return decimal.Zero
	}
	initialCash := acct.initialCash
	seeded := acct.seededValue
	l.mu.Unlock()

	value := l.PortfolioValue(id, priceMap)
	return value.Sub(initialCash).Sub(seeded)
}

// ApplyTrade atomically settles a trade between buyer and seller: moves
// cash, adjusts positions, and updates average cost basis. The caller is
// expected to have already performed pre-trade risk checks; ApplyTrade does
// not re-reject, it only settles or fails fatally.
//
// Average-cost-basis rule (spec.md §9 Open Question, resolved in
// DESIGN.md): a fill that increases a position's magnitude on the same side
// blends cost basis by a weighted average; a fill that reduces magnitude on
// the same side preserves cost basis and realizes nothing here (P&L realization
// is left to callers reading CostBasis deltas); a fill that crosses a
// position through zero is split notionally at the crossing: the portion
// that closes the old side doesn't touch cost basis (there is nothing left
// to carry), and the residual opens the new side at the fill price.
func (l *Ledger) ApplyTrade(buyerID, sellerID, symbol string, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("%w: non-positive quantity %d", ErrSettlementInconsistency, qty)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive price %s", ErrSettlementInconsistency, price)
	}
	if buyerID == sellerID {
		return fmt.Errorf("%w: self-trade for %s", ErrSettlementInconsistency, buyerID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, ok := l.accounts[buyerID]
	if !ok {
		return fmt.Errorf("%w: unknown buyer %s", ErrSettlementInconsistency, buyerID)
	}
	seller, ok := l.accounts[sellerID]
	if !ok {
		return fmt.Errorf("%w: unknown seller %s", ErrSettlementInconsistency, sellerID)
	}

	notional := price.Mul(decimal.NewFromInt(qty))

	newBuyerCash := buyer.cash.Sub(notional)
	newSellerCash := seller.cash.Add(notional)

	newBuyerPos := buyer.positions[symbol] + qty
	newSellerPos := seller.positions[symbol] - qty

	newBuyerBasis, err := nextCostBasis(buyer.positions[symbol], buyer.costBasis[symbol], qty, price)
	if err != nil {
		return fmt.Errorf("%w: buyer %s: %v", ErrSettlementInconsistency, buyerID, err)
	}
	newSellerBasis, err := nextCostBasis(seller.positions[symbol], seller.costBasis[symbol], -qty, price)
	if err != nil {
		return fmt.Errorf("%w: seller %s: %v", ErrSettlementInconsistency, sellerID, err)
	}

	// All derived, nothing fails past this point: commit atomically.
	buyer.cash = newBuyerCash
	buyer.positions[symbol] = newBuyerPos
	if newBuyerPos == 0 {
		delete(buyer.costBasis, symbol)
	} else {
		buyer.costBasis[symbol] = newBuyerBasis
	}

	seller.cash = newSellerCash
	seller.positions[symbol] = newSellerPos
	if newSellerPos == 0 {
		delete(seller.costBasis, symbol)
	} else {
		seller.costBasis[symbol] = newSellerBasis
	}

	return nil
}

// nextCostBasis computes the new average cost basis for a position after a
// signed delta (positive = buy, negative = sell) fills at price. oldBasis
// may be the zero value when oldPos is zero.
func nextCostBasis(oldPos int64, oldBasis decimal.Decimal, delta int64, price decimal.Decimal) (decimal.Decimal, error) {
	newPos := oldPos + delta
	if newPos == 0 {
		return decimal.Zero, nil
	}

	sameSideGrowing := oldPos == 0 || (sign(oldPos) == sign(newPos) && abs64(newPos) > abs64(oldPos))

	switch {
	case sameSideGrowing:
		// Weighted average of the old basis (if any) and the new fill,
		// weighted by absolute quantity.
		oldAbs := abs64(oldPos)
		addedAbs := abs64(newPos) - oldAbs
		if oldAbs == 0 {
			return price, nil
		}
		oldNotional := oldBasis.Mul(decimal.NewFromInt(oldAbs))
		addedNotional := price.Mul(decimal.NewFromInt(addedAbs))
		return oldNotional.Add(addedNotional).Div(decimal.NewFromInt(abs64(newPos))), nil

	case sign(oldPos) == sign(newPos):
		// Partial unwind on the same side: basis is preserved.
		return oldBasis, nil

	default:
		// Position crossed (or landed on) zero sign change: old side is
		// fully closed, any residual opens the new side at the fill price.
		return price, nil
	}
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
