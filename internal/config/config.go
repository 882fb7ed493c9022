// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/trend-trader/internal/strategy"
	"github.com/amirphl/trend-trader/internal/tfutils"
)

/*
YAML config example:

mode: "live"
symbols: ["BTCUSDT", "ETHUSDT"]
timeframe: "15m"
poll_interval: 30s
metrics_addr: ":9090"
db_max_open: 10
db_max_idle: 5
initial_balance: 1000
backtest_limit: 1000
strategy:
  ema_fast: 20
  ema_slow: 120
  slope_period: 3
  rsi_period: 14
  atr_period: 14
  rsi_long_threshold: 60
  rsi_short_threshold: 40
  partial_tp_pct: 0.03
  trailing_stop_atr_mult: 2.0
  initial_sl_atr_mult: 2.5
  avg_down_trigger_pct: 0.05
  avg_down_multiplier: 2
  stop_loss_after_avg_pct: -0.07
  position_size_pct: 0.20
  min_buy_unit: 5
  leverage: 3

Secrets come from the environment (or a .env file):
BINANCE_API_KEY, BINANCE_SECRET_KEY, DB_CONN_STR, TELEGRAM_TOKEN, TELEGRAM_CHAT_ID.
*/

type Config struct {
	Mode      string   `yaml:"mode"`
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`

	PollInterval time.Duration `yaml:"poll_interval"`
	MetricsAddr  string        `yaml:"metrics_addr"`

	BinanceAPIKey    string `yaml:"-"`
	BinanceSecretKey string `yaml:"-"`

	DBConnStr string `yaml:"-"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`
	Migrate   bool   `yaml:"migrate"`

	TelegramToken       string        `yaml:"-"`
	TelegramChatID      string        `yaml:"-"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	InitialBalance float64 `yaml:"initial_balance"`
	BacktestLimit  int     `yaml:"backtest_limit"`
	BacktestCSV    string  `yaml:"backtest_csv"`
	TradesOutCSV   string  `yaml:"trades_out_csv"`

	Strategy strategy.Params `yaml:"strategy"`
}

// Load builds the configuration from flags, an optional YAML file, and the
// environment. Flags provide defaults, the YAML file overrides them, and
// secrets always come from the environment.
func Load() (Config, error) {
	mode := flag.String("mode", "live", "Mode: live or backtest")
	symbolsFlag := flag.String("symbols", "BTCUSDT", "Comma-separated list of trading symbols")
	timeframe := flag.String("timeframe", "15m", "Candle timeframe")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "Live polling interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	migrate := flag.Bool("migrate", false, "Run database migrations at startup")
	initialBalance := flag.Float64("initial-balance", 1000, "Initial balance for backtests (USDT)")
	backtestLimit := flag.Int("backtest-limit", 1000, "Number of candles to download for a backtest")
	backtestCSV := flag.String("backtest-csv", "", "CSV file of candles to backtest instead of downloading")
	tradesOutCSV := flag.String("trades-out", "", "Write the backtest trade ledger to this CSV file")
	notificationRetries := flag.Int("notification-retries", 3, "Number of notification send attempts")
	notificationDelay := flag.Duration("notification-delay", 5*time.Second, "Delay between notification retries")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg := Config{
		Mode:                *mode,
		Symbols:             strings.Split(*symbolsFlag, ","),
		Timeframe:           *timeframe,
		PollInterval:        *pollInterval,
		MetricsAddr:         *metricsAddr,
		DBMaxOpen:           10,
		DBMaxIdle:           5,
		Migrate:             *migrate,
		NotificationRetries: *notificationRetries,
		NotificationDelay:   *notificationDelay,
		InitialBalance:      *initialBalance,
		BacktestLimit:       *backtestLimit,
		BacktestCSV:         *backtestCSV,
		TradesOutCSV:        *tradesOutCSV,
		Strategy:            strategy.DefaultParams(),
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	cfg.BinanceSecretKey = os.Getenv("BINANCE_SECRET_KEY")
	cfg.DBConnStr = os.Getenv("DB_CONN_STR")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Mode != "live" && c.Mode != "backtest" {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("invalid timeframe %q (supported: %s)", c.Timeframe, strings.Join(tfutils.GetSupportedTimeframes(), ", "))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	p := c.Strategy
	if p.EMAFast <= 0 || p.EMASlow <= p.EMAFast || p.SlopePeriod <= 0 {
		return fmt.Errorf("invalid EMA parameters (fast=%d slow=%d slope=%d)", p.EMAFast, p.EMASlow, p.SlopePeriod)
	}
	if p.RSIPeriod <= 0 || p.ATRPeriod <= 0 {
		return fmt.Errorf("invalid indicator periods (rsi=%d atr=%d)", p.RSIPeriod, p.ATRPeriod)
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	if p.PositionSizePct <= 0 || p.PositionSizePct > 1 {
		return fmt.Errorf("position size pct must be in (0, 1]")
	}
	if p.PartialTPPct <= 0 || p.AvgDownTriggerPct <= 0 || p.AvgDownMultiplier <= 0 {
		return fmt.Errorf("invalid take-profit/averaging-down parameters")
	}
	if p.StopLossAfterAvgPct >= 0 {
		return fmt.Errorf("stop_loss_after_avg_pct must be negative")
	}
	return nil
}
