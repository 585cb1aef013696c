package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

// validateStructure runs the admission-time structural checks (spec.md
// §4.2): unknown participant, unknown symbol, non-positive quantity, a
// LIMIT with a non-positive price, or a MARKET with a non-zero price.
func (b *Book) validateStructure(o *types.Order) (types.RejectReason, string, bool) {
	b.mu.Lock()
	participants := b.participants
	symbol := b.symbol
	b.mu.Unlock()

	if o.Symbol != symbol {
		return types.ReasonUnknownSymbol, fmt.Sprintf("book is for %s, got %s", symbol, o.Symbol), false
	}
	if participants != nil && !participants(o.ParticipantID) {
		return types.ReasonUnknownParticipant, o.ParticipantID, false
	}
	if o.Quantity <= 0 {
		return types.ReasonNonPositiveQuantity, fmt.Sprintf("quantity=%d", o.Quantity), false
	}
	switch o.Type {
	case types.Limit:
		if o.Price.Sign() <= 0 {
			return types.ReasonBadLimitPrice, fmt.Sprintf("price=%s", o.Price), false
		}
	case types.Market:
		if !o.Price.IsZero() {
			return types.ReasonBadMarketPrice, fmt.Sprintf("price=%s", o.Price), false
		}
	}
	return types.ReasonUnknown, "", true
}

// checkRisk runs the pre-trade risk check (spec.md §4.2) for a BUY or SELL
// of qty at price, re-usable both at admission time (full order quantity)
// and per-fill during matching (this slice's quantity).
func checkRisk(ledger *portfolio.Ledger, participantID, symbol string, side types.Side, qty int64, price decimal.Decimal, maxShort *int64) (types.RejectReason, string, bool) {
	if !ledger.Exists(participantID) {
		return types.ReasonUnknownParticipant, participantID, false
	}

	switch side {
	case types.Buy:
		required := price.Mul(decimal.NewFromInt(qty))
		cash := ledger.Cash(participantID)
		if cash.LessThan(required) {
			return types.ReasonInsufficientCash, fmt.Sprintf("need %s have %s", required, cash), false
		}
	case types.Sell:
		if maxShort != nil {
			current := ledger.Position(participantID, symbol)
			projected := current - qty
			if projected < -*maxShort {
				return types.ReasonShortLimitExceeded, fmt.Sprintf("projected position %d breaches max short %d", projected, *maxShort), false
			}
		}
	}
	return types.ReasonUnknown, "", true
}
