package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full simulation configuration: the symbol/participant seed
// lists plus per-subsystem settings for the market-data engine, the risk
// wrapper, and the two reference strategies.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Symbols      []SymbolSeed      `yaml:"symbols"`
	Participants []ParticipantSeed `yaml:"participants"`

	Engine   EngineConfig   `yaml:"engine"`
	Maker    MakerConfig    `yaml:"maker"`
	Momentum MomentumConfig `yaml:"momentum"`
	Risk     RiskConfig     `yaml:"risk"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// SymbolSeed is one symbol the order book engine trades, with the price it
// starts at before any ticks or trades move it.
type SymbolSeed struct {
	Symbol       string `yaml:"symbol"`
	InitialPrice string `yaml:"initial_price"`
}

// Price parses InitialPrice. Decimal amounts are kept as YAML strings so the
// parse is explicit and exact, rather than round-tripping through float64.
func (s SymbolSeed) Price() (decimal.Decimal, error) {
	return decimal.NewFromString(s.InitialPrice)
}

// ParticipantSeed is one account the ledger is seeded with before the
// simulation starts. Positions seed starting inventory (at each symbol's
// initial price) without touching cash, the usual setup for a market maker.
type ParticipantSeed struct {
	ID          string         `yaml:"id"`
	InitialCash string         `yaml:"initial_cash"`
	Positions   []PositionSeed `yaml:"positions,omitempty"`
}

func (p ParticipantSeed) Cash() (decimal.Decimal, error) {
	return decimal.NewFromString(p.InitialCash)
}

// PositionSeed is one starting position for a participant. Qty may be
// negative to seed a short.
type PositionSeed struct {
	Symbol string `yaml:"symbol"`
	Qty    int64  `yaml:"qty"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// EngineConfig parameterizes the synthetic market-data tick generator.
type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Sigma        float64       `yaml:"sigma"`
	Seed         uint64        `yaml:"seed"`
	FloorPrice   string        `yaml:"floor_price"`
}

func (e EngineConfig) Floor() (decimal.Decimal, error) {
	return decimal.NewFromString(e.FloorPrice)
}

type MakerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Participant     string        `yaml:"participant"`
	Symbols         []string      `yaml:"symbols"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	MinSpreadBps     float64 `yaml:"min_spread_bps"`
	SpreadMultiplier float64 `yaml:"spread_multiplier"`
	OrderSize        int64   `yaml:"order_size"`
	MaxPosition      int64   `yaml:"max_position"`

	InventorySkewBps     float64 `yaml:"inventory_skew_bps"`
	InventoryWidenFactor float64 `yaml:"inventory_widen_factor"`
	MinOrderSize         int64   `yaml:"min_order_size"`
}

type MomentumConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Participant string   `yaml:"participant"`
	Symbols     []string `yaml:"symbols"`

	MinImbalance   float64       `yaml:"min_imbalance"`
	DepthLevels    int           `yaml:"depth_levels"`
	OrderQty       int64         `yaml:"order_qty"`
	MaxSlippageBps float64       `yaml:"max_slippage_bps"`
	Cooldown       time.Duration `yaml:"cooldown"`

	FlowWeight        float64       `yaml:"flow_weight"`
	ImbalanceWeight   float64       `yaml:"imbalance_weight"`
	FlowWindow        time.Duration `yaml:"flow_window"`
	MinCompositeScore float64       `yaml:"min_composite_score"`
}

type RiskConfig struct {
	MaxOpenOrders int `yaml:"max_open_orders"`

	MaxDailyLoss         string  `yaml:"max_daily_loss"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	AccountCapital       string  `yaml:"account_capital"`
	MaxPositionPerSymbol string  `yaml:"max_position_per_symbol"`
	StopLossPerSymbol    string  `yaml:"stop_loss_per_symbol"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`

	MaxConsecutiveLosses    int           `yaml:"max_consecutive_losses"`
	ConsecutiveLossCooldown time.Duration `yaml:"consecutive_loss_cooldown"`
}

func (r RiskConfig) MaxDailyLossDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.MaxDailyLoss)
}

func (r RiskConfig) AccountCapitalDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.AccountCapital)
}

func (r RiskConfig) MaxPositionPerSymbolDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.MaxPositionPerSymbol)
}

func (r RiskConfig) StopLossPerSymbolDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.StopLossPerSymbol)
}

// Default returns a small, internally-consistent two-symbol, two-participant
// configuration suitable for running the simulation out of the box.
func Default() Config {
	return Config{
		LogLevel: "info",
		Symbols: []SymbolSeed{
			{Symbol: "AAPL", InitialPrice: "150.00"},
			{Symbol: "MSFT", InitialPrice: "300.00"},
		},
		Participants: []ParticipantSeed{
			{ID: "__market_maker_1", InitialCash: "1000000", Positions: []PositionSeed{
				{Symbol: "AAPL", Qty: 500},
				{Symbol: "MSFT", Qty: 200},
			}},
			{ID: "momentum-1", InitialCash: "1000000"},
		},
		Engine: EngineConfig{
			TickInterval: 1 * time.Second,
			Sigma:        0.002,
			Seed:         1,
			FloorPrice:   "0.01",
		},
		Maker: MakerConfig{
			Enabled:              true,
			Participant:          "__market_maker_1",
			RefreshInterval:      5 * time.Second,
			MinSpreadBps:         20,
			SpreadMultiplier:     1.5,
			OrderSize:            25,
			MaxPosition:          500,
			InventorySkewBps:     30,
			InventoryWidenFactor: 0.5,
			MinOrderSize:         1,
		},
		Momentum: MomentumConfig{
			Enabled:           true,
			Participant:       "momentum-1",
			MinImbalance:      0.15,
			DepthLevels:       3,
			OrderQty:          10,
			MaxSlippageBps:    30,
			Cooldown:          60 * time.Second,
			FlowWeight:        0.4,
			ImbalanceWeight:   0.6,
			FlowWindow:        2 * time.Minute,
			MinCompositeScore: 0.3,
		},
		Risk: RiskConfig{
			MaxOpenOrders:           6,
			MaxDailyLoss:            "0",
			MaxDailyLossPct:         0.02,
			AccountCapital:          "1000000",
			MaxPositionPerSymbol:    "50000",
			StopLossPerSymbol:       "10000",
			MaxDrawdownPct:          0.30,
			MaxConsecutiveLosses:    3,
			ConsecutiveLossCooldown: 30 * time.Minute,
		},
	}
}

// LoadFile reads and parses a YAML config file, starting from Default so
// any field the file omits keeps its default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays a small set of environment variables reserved for values
// that shouldn't live in a committed config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SIM_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("SIM_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("SIM_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}
