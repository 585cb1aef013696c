// Package types defines the value types shared by the ledger, order book,
// market-data engine, and harness: sides, order/trade lifecycles, and ticks.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketMakerPrefix is the reserved participant-id prefix that reporting
// code treats as an internal liquidity provider. The engine itself never
// privileges such participants.
const MarketMakerPrefix = "__market_maker"

// IsMarketMaker reports whether id carries the reserved liquidity-provider
// prefix.
func IsMarketMaker(id string) bool {
	return strings.HasPrefix(id, MarketMakerPrefix)
}

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes market orders (sweep and cancel remainder) from
// limit orders (cross then rest).
type OrderType int

const (
	Market OrderType = iota
	Limit
)

func (t OrderType) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

// OrderStatus is the lifecycle state of an Order. Valid transitions:
// PENDING -> {PARTIALLY_FILLED, FILLED, CANCELLED, REJECTED}
// PARTIALLY_FILLED -> {FILLED, CANCELLED}
// All other states are terminal.
type OrderStatus int

const (
	Pending OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Order is a single participant instruction, admitted and mutated only by
// the orderbook.Book that owns its symbol.
type Order struct {
	ID            int64
	ParticipantID string
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      int64
	Price         decimal.Decimal // zero for MARKET, > 0 for LIMIT
	Filled        int64
	Status        OrderStatus
	CreatedAt     time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Trade is an immutable fill between two orders on the same symbol.
type Trade struct {
	ID          int64
	Symbol      string
	BuyerID     string
	SellerID    string
	BuyOrderID  int64
	SellOrderID int64
	Price       decimal.Decimal
	Quantity    int64
	Timestamp   time.Time
}

// MarketData is a single price tick for one symbol.
type MarketData struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	BidAsk    *BidAsk // nil when no two-sided market exists
}

// BidAsk is an optional best-bid/best-ask snapshot attached to a tick.
type BidAsk struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// RejectReason enumerates why an order was rejected or a trade could not
// settle.
type RejectReason int

const (
	ReasonUnknown RejectReason = iota
	ReasonUnknownParticipant
	ReasonUnknownSymbol
	ReasonNonPositiveQuantity
	ReasonBadLimitPrice
	ReasonBadMarketPrice
	ReasonInsufficientCash
	ReasonShortLimitExceeded
	ReasonEngineHalted
)

func (r RejectReason) String() string {
	switch r {
	case ReasonUnknownParticipant:
		return "unknown_participant"
	case ReasonUnknownSymbol:
		return "unknown_symbol"
	case ReasonNonPositiveQuantity:
		return "non_positive_quantity"
	case ReasonBadLimitPrice:
		return "bad_limit_price"
	case ReasonBadMarketPrice:
		return "bad_market_price"
	case ReasonInsufficientCash:
		return "insufficient_cash"
	case ReasonShortLimitExceeded:
		return "short_limit_exceeded"
	case ReasonEngineHalted:
		return "engine_halted"
	default:
		return "unknown"
	}
}

// RejectionEvent is emitted whenever the order book rejects or terminates
// an order before it could be fully satisfied.
type RejectionEvent struct {
	Order     Order
	Reason    RejectReason
	Detail    string
	Timestamp time.Time
}

// Level is one aggregated price level of book depth.
type Level struct {
	Price decimal.Decimal
	Qty   int64
}
