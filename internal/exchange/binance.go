package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amirphl/trend-trader/internal/candle"
)

const fapiBaseURL = "https://fapi.binance.com"

// APIError captures structured error info returned by the futures API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("binance API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance API error %d: %s", e.StatusCode, e.Body)
}

func parseAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != 0 || parsed.Msg != "") {
		apiErr := &APIError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Msg, Body: string(body)}
		switch parsed.Code {
		case -4120: // order type not supported for this symbol
			return fmt.Errorf("%w: %s", ErrUnsupportedOrderType, apiErr)
		case -2019: // margin is insufficient
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr)
		}
		return apiErr
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

// BinanceFutures is the USDT-margined futures implementation of Gateway.
type BinanceFutures struct {
	apiKey     string
	secretKey  string
	baseURL    string
	quoteAsset string
	httpClient *http.Client

	// price/quantity step precision per symbol, defaults applied when unset
	qtyPrecision   map[string]int32
	pricePrecision map[string]int32
}

// NewBinanceFutures creates a new authenticated futures gateway.
func NewBinanceFutures(apiKey, secretKey string) *BinanceFutures {
	return &BinanceFutures{
		apiKey:         apiKey,
		secretKey:      secretKey,
		baseURL:        fapiBaseURL,
		quoteAsset:     "USDT",
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		qtyPrecision:   make(map[string]int32),
		pricePrecision: make(map[string]int32),
	}
}

func (b *BinanceFutures) Name() string { return "binance-futures" }

// LoadMarkets fetches exchange filters so order quantities and prices are
// rounded to each symbol's step size before submission.
func (b *BinanceFutures) LoadMarkets(ctx context.Context) error {
	body, err := b.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int32  `json:"quantityPrecision"`
			PricePrecision    int32  `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("load markets: decode: %w", err)
	}
	for _, s := range info.Symbols {
		b.qtyPrecision[s.Symbol] = s.QuantityPrecision
		b.pricePrecision[s.Symbol] = s.PricePrecision
	}
	log.Printf("BinanceFutures | Loaded precision filters for %d symbols", len(info.Symbols))
	return nil
}

func (b *BinanceFutures) formatQty(symbol string, qty float64) string {
	prec, ok := b.qtyPrecision[symbol]
	if !ok {
		prec = 3
	}
	return decimal.NewFromFloat(qty).RoundDown(prec).String()
}

func (b *BinanceFutures) formatPrice(symbol string, price float64) string {
	prec, ok := b.pricePrecision[symbol]
	if !ok {
		prec = 4
	}
	return decimal.NewFromFloat(price).Round(prec).String()
}

// FetchBalance returns the free/total quote-asset balance.
func (b *BinanceFutures) FetchBalance(ctx context.Context) (Balance, error) {
	body, err := b.signedRequest(ctx, "GET", "/fapi/v2/balance", nil)
	if err != nil {
		return Balance{}, err
	}

	var entries []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return Balance{}, fmt.Errorf("fetch balance: decode: %w", err)
	}
	for _, e := range entries {
		if e.Asset != b.quoteAsset {
			continue
		}
		total, _ := strconv.ParseFloat(e.Balance, 64)
		free, _ := strconv.ParseFloat(e.AvailableBalance, 64)
		return Balance{Free: free, Total: total}, nil
	}
	return Balance{}, fmt.Errorf("fetch balance: asset %s not found", b.quoteAsset)
}

// FetchPosition returns the open position for the symbol, or nil when flat.
func (b *BinanceFutures) FetchPosition(ctx context.Context, symbol string) (*PositionSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := b.signedRequest(ctx, "GET", "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("fetch position: decode: %w", err)
	}
	for _, e := range entries {
		if e.Symbol != symbol {
			continue
		}
		amt, _ := strconv.ParseFloat(e.PositionAmt, 64)
		if amt == 0 {
			return nil, nil
		}
		entry, _ := strconv.ParseFloat(e.EntryPrice, 64)
		side := Long
		if amt < 0 {
			side = Short
			amt = -amt
		}
		return &PositionSnapshot{Symbol: symbol, Side: side, EntryPrice: entry, Size: amt}, nil
	}
	return nil, nil
}

// FetchOHLCV returns the most recent bars, oldest first.
func (b *BinanceFutures) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))
	body, err := b.publicRequest(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("fetch ohlcv: decode: %w", err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		ts, ok := k[0].(float64)
		if !ok {
			continue
		}
		c := candle.Candle{
			Timestamp: time.Unix(int64(ts)/1000, 0).UTC(),
			Open:      parseNum(k[1]),
			High:      parseNum(k[2]),
			Low:       parseNum(k[3]),
			Close:     parseNum(k[4]),
			Volume:    parseNum(k[5]),
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "binance",
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseNum(val any) float64 {
	switch n := val.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// SubmitOrder places an order and returns its typed result.
func (b *BinanceFutures) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", req.Type)
	params.Set("quantity", b.formatQty(req.Symbol, req.Quantity))
	params.Set("newClientOrderId", "tt-"+uuid.NewString())

	switch req.Type {
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		params.Set("stopPrice", b.formatPrice(req.Symbol, req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := b.signedRequest(ctx, "POST", "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("submit order: decode: %w", err)
	}

	filledQty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	if avgPrice == 0 {
		avgPrice = req.Price
	}
	return OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Status:    resp.Status,
		AvgPrice:  avgPrice,
		FilledQty: filledQty,
	}, nil
}

// CancelAllOrders cancels all open orders on the symbol.
func (b *BinanceFutures) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := b.signedRequest(ctx, "DELETE", "/fapi/v1/allOpenOrders", params)
	return err
}

// GetOrderStatus fetches the current status of an order.
func (b *BinanceFutures) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := b.signedRequest(ctx, "GET", "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("get order status: decode: %w", err)
	}
	filledQty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	return OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Status:    resp.Status,
		AvgPrice:  avgPrice,
		FilledQty: filledQty,
	}, nil
}

// SetLeverage sets the leverage multiplier for the symbol.
func (b *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.signedRequest(ctx, "POST", "/fapi/v1/leverage", params)
	return err
}

// SetMarginMode sets the margin mode ("ISOLATED" or "CROSSED"). The API
// rejects a no-op change with code -4046; that is not an error here.
func (b *BinanceFutures) SetMarginMode(ctx context.Context, symbol, mode string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(mode))
	_, err := b.signedRequest(ctx, "POST", "/fapi/v1/marginType", params)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return nil
	}
	return err
}

func (b *BinanceFutures) publicRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := b.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *BinanceFutures) signedRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	// the signature covers the query string exactly as sent, so it is
	// appended after encoding rather than set as a value
	qs := params.Encode()
	qs += "&signature=" + b.sign(qs)

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint+"?"+qs, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req)
}

func (b *BinanceFutures) do(req *http.Request) ([]byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// sign creates an HMAC SHA256 signature of the query string.
func (b *BinanceFutures) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(b.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
