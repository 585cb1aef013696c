package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Default()
	if len(cfg.Symbols) == 0 {
		t.Fatal("expected at least one default symbol")
	}
	if len(cfg.Participants) == 0 {
		t.Fatal("expected at least one default participant")
	}
	if cfg.Maker.MinSpreadBps <= 0 {
		t.Fatal("expected positive min spread bps")
	}
	if cfg.Risk.MaxOpenOrders <= 0 {
		t.Fatal("expected positive max open orders")
	}
	if cfg.Engine.TickInterval <= 0 {
		t.Fatal("expected positive tick interval")
	}
	if cfg.Risk.MaxDailyLossPct <= 0 {
		t.Fatal("expected positive max_daily_loss_pct by default")
	}
	if cfg.Risk.MaxConsecutiveLosses <= 0 {
		t.Fatal("expected positive max_consecutive_losses by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
log_level: debug
symbols:
  - symbol: AAPL
    initial_price: "155.50"
participants:
  - id: trader-a
    initial_cash: "50000"
    positions:
      - symbol: AAPL
        qty: 100
engine:
  tick_interval: 500ms
  sigma: 0.01
  seed: 42
  floor_price: "0.05"
maker:
  enabled: false
  order_size: 50
momentum:
  min_imbalance: 0.2
risk:
  max_daily_loss: "200"
  max_daily_loss_pct: 0.03
  account_capital: "1500"
  max_consecutive_losses: 4
  consecutive_loss_cooldown: 45m
`
	f, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte(yamlContent)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := LoadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0].Symbol != "AAPL" {
		t.Fatalf("expected single AAPL symbol, got %+v", cfg.Symbols)
	}
	if len(cfg.Participants) != 1 || len(cfg.Participants[0].Positions) != 1 {
		t.Fatalf("expected trader-a with one seeded position, got %+v", cfg.Participants)
	}
	if pos := cfg.Participants[0].Positions[0]; pos.Symbol != "AAPL" || pos.Qty != 100 {
		t.Fatalf("expected 100 AAPL seeded, got %+v", pos)
	}
	if cfg.Maker.Enabled {
		t.Fatal("expected maker disabled")
	}
	if cfg.Maker.OrderSize != 50 {
		t.Fatalf("expected order size 50, got %d", cfg.Maker.OrderSize)
	}
	if cfg.Momentum.MinImbalance != 0.2 {
		t.Fatalf("expected min imbalance 0.2, got %f", cfg.Momentum.MinImbalance)
	}
	if cfg.Risk.MaxDailyLoss != "200" {
		t.Fatalf("expected max daily loss 200, got %s", cfg.Risk.MaxDailyLoss)
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Fatalf("expected max daily loss pct 0.03, got %f", cfg.Risk.MaxDailyLossPct)
	}
	if cfg.Risk.AccountCapital != "1500" {
		t.Fatalf("expected account capital 1500, got %s", cfg.Risk.AccountCapital)
	}
	if cfg.Risk.MaxConsecutiveLosses != 4 {
		t.Fatalf("expected max consecutive losses 4, got %d", cfg.Risk.MaxConsecutiveLosses)
	}
	if cfg.Risk.ConsecutiveLossCooldown != 45*time.Minute {
		t.Fatalf("expected consecutive loss cooldown 45m, got %v", cfg.Risk.ConsecutiveLossCooldown)
	}
	if cfg.Engine.TickInterval != 500*time.Millisecond {
		t.Fatalf("expected 500ms tick interval, got %v", cfg.Engine.TickInterval)
	}
	if cfg.Engine.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.Engine.Seed)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SIM_LOG_LEVEL", "WARN")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level warn from env, got %q", cfg.LogLevel)
	}
}

func TestApplyEnvTelegram(t *testing.T) {
	t.Setenv("SIM_TELEGRAM_BOT_TOKEN", "tok-123")
	t.Setenv("SIM_TELEGRAM_CHAT_ID", "chat-456")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Telegram.BotToken != "tok-123" {
		t.Fatalf("expected bot token tok-123, got %s", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.ChatID != "chat-456" {
		t.Fatalf("expected chat id chat-456, got %s", cfg.Telegram.ChatID)
	}
}

func TestLoadFileInvalidPath(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	f, err := os.CreateTemp("", "bad-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte("{{invalid yaml")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = LoadFile(f.Name())
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
