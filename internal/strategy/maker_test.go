package strategy

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/orderbook"
	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// twoSidedBook builds an order book with one resting bid and one resting
// ask, so BestBid/BestAsk are well-defined for ComputeQuote.
func twoSidedBook(t *testing.T, bid, ask string) *orderbook.Book {
	t.Helper()
	ledger := portfolio.NewLedger()
	ledger.AddParticipant("bidder", dec("1000000"))
	ledger.AddParticipant("asker", dec("1000000"))

	book := orderbook.NewBook("AAPL", dec(bid))
	book.SetPortfolio(ledger)
	book.AddOrder(&types.Order{ParticipantID: "bidder", Symbol: "AAPL", Side: types.Buy, Type: types.Limit, Quantity: 100, Price: dec(bid)})
	book.AddOrder(&types.Order{ParticipantID: "asker", Symbol: "AAPL", Side: types.Sell, Type: types.Limit, Quantity: 100, Price: dec(ask)})
	return book
}

func f64(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func TestMakerQuote(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:     20,
		SpreadMultiplier: 1.5,
		OrderSize:        25,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quote, err := m.ComputeQuote("AAPL", book)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Symbol != "AAPL" {
		t.Fatalf("expected AAPL, got %s", quote.Symbol)
	}
	if !quote.BuyPrice.LessThan(quote.SellPrice) {
		t.Fatalf("buy %s should be less than sell %s", quote.BuyPrice, quote.SellPrice)
	}
	if quote.Size != 25 {
		t.Fatalf("expected size 25, got %d", quote.Size)
	}
}

func TestMakerSkipsEmptyBook(t *testing.T) {
	m := NewMarketMaker(MakerConfig{MinSpreadBps: 20, SpreadMultiplier: 1.5, OrderSize: 25})
	book := orderbook.NewBook("AAPL", dec("150"))
	_, err := m.ComputeQuote("AAPL", book)
	if err == nil {
		t.Fatal("expected error on empty book")
	}
}

func TestMakerMinSpreadEnforced(t *testing.T) {
	m := NewMarketMaker(MakerConfig{MinSpreadBps: 100, SpreadMultiplier: 1.0, OrderSize: 25})
	book := twoSidedBook(t, "0.505", "0.506")
	quote, err := m.ComputeQuote("AAPL", book)
	if err != nil {
		t.Fatal(err)
	}
	mid := (0.505 + 0.506) / 2
	minHalfSpread := mid * 50 / 10000
	actualHalf := (f64(quote.SellPrice) - f64(quote.BuyPrice)) / 2
	if actualHalf < minHalfSpread-0.0001 {
		t.Fatalf("half spread %f less than min %f", actualHalf, minHalfSpread)
	}
}

func TestMakerQuoteZeroInventory(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            25,
		InventorySkewBps:     30,
		InventoryWidenFactor: 0.5,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quoteNoInv, _ := m.ComputeQuote("AAPL", book)
	quoteZero, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 0, MaxPosition: 50})

	if !quoteNoInv.BuyPrice.Equal(quoteZero.BuyPrice) {
		t.Fatalf("zero inventory buy price differs: %s vs %s", quoteNoInv.BuyPrice, quoteZero.BuyPrice)
	}
	if !quoteNoInv.SellPrice.Equal(quoteZero.SellPrice) {
		t.Fatalf("zero inventory sell price differs: %s vs %s", quoteNoInv.SellPrice, quoteZero.SellPrice)
	}
	if quoteNoInv.Size != quoteZero.Size {
		t.Fatalf("zero inventory size differs: %d vs %d", quoteNoInv.Size, quoteZero.Size)
	}
}

func TestMakerSkewsWhenLong(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            25,
		InventorySkewBps:     30,
		InventoryWidenFactor: 0,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quoteFlat, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 0, MaxPosition: 50})
	quoteLong, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 25, MaxPosition: 50})

	flatMid := (f64(quoteFlat.BuyPrice) + f64(quoteFlat.SellPrice)) / 2
	longMid := (f64(quoteLong.BuyPrice) + f64(quoteLong.SellPrice)) / 2

	if longMid >= flatMid {
		t.Fatalf("long skew should lower midpoint: long=%f flat=%f", longMid, flatMid)
	}
}

func TestMakerSkewsWhenShort(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            25,
		InventorySkewBps:     30,
		InventoryWidenFactor: 0,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quoteFlat, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 0, MaxPosition: 50})
	quoteShort, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: -25, MaxPosition: 50})

	flatMid := (f64(quoteFlat.BuyPrice) + f64(quoteFlat.SellPrice)) / 2
	shortMid := (f64(quoteShort.BuyPrice) + f64(quoteShort.SellPrice)) / 2

	if shortMid <= flatMid {
		t.Fatalf("short skew should raise midpoint: short=%f flat=%f", shortMid, flatMid)
	}
}

func TestMakerWidensAtMaxInventory(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            25,
		InventorySkewBps:     0,
		InventoryWidenFactor: 0.5,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quoteFlat, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 0, MaxPosition: 50})
	quoteFull, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 50, MaxPosition: 50})

	flatSpread := f64(quoteFlat.SellPrice) - f64(quoteFlat.BuyPrice)
	fullSpread := f64(quoteFull.SellPrice) - f64(quoteFull.BuyPrice)

	expectedRatio := 1.5
	actualRatio := fullSpread / flatSpread
	if math.Abs(actualRatio-expectedRatio) > 0.01 {
		t.Fatalf("expected spread ratio ~1.5, got %f (flat=%f, full=%f)", actualRatio, flatSpread, fullSpread)
	}
}

func TestMakerReducesSize(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            100,
		InventorySkewBps:     0,
		InventoryWidenFactor: 0,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	quoteFlat, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 0, MaxPosition: 50})
	quoteHalf, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 25, MaxPosition: 50})
	quoteFull, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 50, MaxPosition: 50})

	if quoteFlat.Size != 100 {
		t.Fatalf("flat size should be 100, got %d", quoteFlat.Size)
	}
	// At 50% inventory: size = 100 * (1 - 0.5*0.5) = 75
	if quoteHalf.Size != 75 {
		t.Fatalf("half inventory size should be 75, got %d", quoteHalf.Size)
	}
	// At 100% inventory: size = 100 * (1 - 1*0.5) = 50
	if quoteFull.Size != 50 {
		t.Fatalf("full inventory size should be 50, got %d", quoteFull.Size)
	}
}

func TestMakerMinSizeFloor(t *testing.T) {
	m := NewMarketMaker(MakerConfig{
		MinSpreadBps:         20,
		SpreadMultiplier:     1.5,
		OrderSize:            8,
		InventorySkewBps:     0,
		InventoryWidenFactor: 0,
		MinOrderSize:         5,
	})
	book := twoSidedBook(t, "0.50", "0.52")

	// At max inventory: size = 8 * (1 - 1*0.5) = 4 -> floor to 5
	quote, _ := m.ComputeQuote("AAPL", book, InventoryState{NetPosition: 50, MaxPosition: 50})
	if quote.Size != 5 {
		t.Fatalf("expected min size floor 5, got %d", quote.Size)
	}
}
