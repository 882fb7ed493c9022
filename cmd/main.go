package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/amirphl/trend-trader/internal/backtest"
	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/config"
	"github.com/amirphl/trend-trader/internal/db"
	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/livetrading"
	"github.com/amirphl/trend-trader/internal/metrics"
	"github.com/amirphl/trend-trader/internal/notifier"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("main | No .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main | Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	switch cfg.Mode {
	case "live":
		runLive(ctx, cfg)
	case "backtest":
		runBacktest(ctx, cfg)
	default:
		log.Fatalf("main | Unknown mode %q", cfg.Mode)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("main | Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("main | Metrics server stopped: %v", err)
	}
}

func runLive(ctx context.Context, cfg config.Config) {
	if cfg.BinanceAPIKey == "" || cfg.BinanceSecretKey == "" {
		log.Fatal("main | BINANCE_API_KEY and BINANCE_SECRET_KEY are required for live mode")
	}

	var storage db.Storage
	if cfg.DBConnStr != "" {
		conn, err := db.Connect(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatalf("main | Database connection failed: %v", err)
		}
		defer conn.Close()

		if cfg.Migrate {
			if err := runMigrations(ctx, conn); err != nil {
				log.Fatalf("main | Failed to run migrations: %v", err)
			}
		}
		storage, err = db.New(conn)
		if err != nil {
			log.Fatalf("main | Storage init failed: %v", err)
		}
	} else {
		log.Println("main | DB_CONN_STR not set, journaling to memory only")
		storage = db.NewMemory()
	}

	var notif notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notif = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	}

	gw := exchange.NewBinanceFutures(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	if err := gw.LoadMarkets(ctx); err != nil {
		log.Fatalf("main | Loading markets failed: %v", err)
	}

	log.Printf("main | Live trading %s on %s every %s", strings.Join(cfg.Symbols, ","), cfg.Timeframe, cfg.PollInterval)
	if err := livetrading.Run(ctx, cfg, storage, gw, notif); err != nil {
		log.Fatalf("main | Live trading failed: %v", err)
	}
}

func runBacktest(ctx context.Context, cfg config.Config) {
	for _, symbol := range cfg.Symbols {
		candles, err := loadBacktestCandles(ctx, cfg, symbol)
		if err != nil {
			log.Fatalf("main | Loading candles for %s failed: %v", symbol, err)
		}
		log.Printf("main | Backtesting %s on %d %s candles", symbol, len(candles), cfg.Timeframe)

		engine := backtest.NewEngine(symbol, cfg.Timeframe, cfg.Strategy, cfg.InitialBalance)
		res, err := engine.Run(ctx, candles)
		if err != nil {
			log.Fatalf("main | Backtest for %s failed: %v", symbol, err)
		}
		res.PrintSummary()

		if cfg.TradesOutCSV != "" {
			path := cfg.TradesOutCSV
			if len(cfg.Symbols) > 1 {
				ext := filepath.Ext(path)
				path = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(path, ext), symbol, ext)
			}
			if err := res.SaveTradesCSV(path); err != nil {
				log.Printf("main | Saving trade ledger failed: %v", err)
			} else {
				log.Printf("main | Trade ledger written to %s", path)
			}
		}
	}
}

func loadBacktestCandles(ctx context.Context, cfg config.Config, symbol string) ([]candle.Candle, error) {
	if cfg.BacktestCSV != "" {
		return backtest.LoadCandlesCSV(cfg.BacktestCSV, symbol, cfg.Timeframe)
	}
	return backtest.DownloadCandles(ctx, symbol, cfg.Timeframe, cfg.BacktestLimit)
}

// runMigrations applies scripts/schema.sql to the connected database.
func runMigrations(ctx context.Context, conn *sql.DB) error {
	log.Println("main | Running database migrations...")
	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := conn.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}
	log.Println("main | Migrations complete")
	return nil
}
