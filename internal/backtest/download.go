package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/tfutils"
)

const publicKlinesURL = "https://fapi.binance.com/fapi/v1/klines"

// DownloadCandles fetches up to limit closed candles from the public futures
// klines endpoint, retrying transient failures with exponential backoff.
func DownloadCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	const (
		maxRetries    = 5
		baseDelay     = 2 * time.Second
		maxDelay      = 30 * time.Second
		backoffFactor = 2.0
		jitterRange   = 0.1
	)

	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	apiURL := fmt.Sprintf("%s?symbol=%s&interval=%s&limit=%d", publicKlinesURL, apiSymbol, timeframe, limit)

	client := &http.Client{Timeout: 30 * time.Second}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		log.Printf("Backtest | Download attempt %d/%d for %s %s", attempt+1, maxRetries, apiSymbol, timeframe)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
		} else {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil {
				lastErr = fmt.Errorf("read body on attempt %d: %w", attempt+1, rerr)
			} else if resp.StatusCode != http.StatusOK {
				lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
				if !isRetryableHTTPStatus(resp.StatusCode) {
					return nil, lastErr
				}
			} else {
				candles, perr := parseKlines(body, symbol, timeframe)
				if perr != nil {
					return nil, perr
				}
				log.Printf("Backtest | Downloaded %d candles for %s %s", len(candles), apiSymbol, timeframe)
				return candles, nil
			}
		}

		log.Printf("Backtest | %v", lastErr)
		if attempt < maxRetries-1 {
			delay := retryDelay(attempt, baseDelay, maxDelay, backoffFactor, jitterRange)
			log.Printf("Backtest | Retrying in %v...", delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

func parseKlines(body []byte, symbol, timeframe string) ([]candle.Candle, error) {
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines response: %w", err)
	}

	out := make([]candle.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, ok := k[0].(float64)
		if !ok {
			continue
		}
		out = append(out, candle.Candle{
			Timestamp: time.UnixMilli(int64(openTime)).UTC(),
			Open:      parseNum(k[1]),
			High:      parseNum(k[2]),
			Low:       parseNum(k[3]),
			Close:     parseNum(k[4]),
			Volume:    parseNum(k[5]),
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "binance",
		})
	}
	candle.SortByTimestamp(out)
	return candle.Dedupe(out), nil
}

func parseNum(v any) float64 {
	switch x := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case float64:
		return x
	}
	return 0
}

func retryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay)
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
	}
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	jitter := 1 + (rand.Float64()*2-1)*jitterRange
	return time.Duration(delay * jitter)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
