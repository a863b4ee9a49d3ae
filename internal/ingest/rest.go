package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
)

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

const bybitBaseURL = "https://api.bybit.com"

// RESTClient implements the REST half of C9: historical kline backfill and
// order-book snapshots, grounded on historical_data_fetcher.go's
// BybitKlineResponse shape and http.Client idiom.
type RESTClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
}

func NewRESTClient(logger *zap.Logger) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("ingest-rest"),
		baseURL:    bybitBaseURL,
	}
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// FetchKlines fetches closed 1-minute candles in [startMs, endMs), returning
// them oldest-first (Bybit's REST response is newest-first and must be
// reversed).
func (r *RESTClient) FetchKlines(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]candle.Candle, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", "1")
	q.Set("start", strconv.FormatInt(startMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	reqURL := fmt.Sprintf("%s/v5/market/kline?%s", r.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build kline request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	var payload bybitKlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode kline response: %w", err)
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline API error: %s", payload.RetMsg)
	}

	// list arrives newest-first: [start, open, high, low, close, volume, turnover]
	out := make([]candle.Candle, 0, len(payload.Result.List))
	for i := len(payload.Result.List) - 1; i >= 0; i-- {
		row := payload.Result.List[i]
		if len(row) < 6 {
			continue
		}
		openTimeMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, candle.New(
			symbol,
			openTimeMs,
			decimalOrZero(row[1]),
			decimalOrZero(row[2]),
			decimalOrZero(row[3]),
			decimalOrZero(row[4]),
			decimalOrZero(row[5]),
			true,
		))
	}
	return out, nil
}

type bybitOrderBookResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"result"`
}

// FetchOrderBook fetches the 25-level order book for symbol, used to
// annotate alerts when orderbookSnapshotOnAlert is enabled.
func (r *RESTClient) FetchOrderBook(ctx context.Context, symbol string) (*alerts.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("limit", "25")

	reqURL := fmt.Sprintf("%s/v5/market/orderbook?%s", r.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build orderbook request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch orderbook: %w", err)
	}
	defer resp.Body.Close()

	var payload bybitOrderBookResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode orderbook response: %w", err)
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("bybit orderbook API error: %s", payload.RetMsg)
	}

	snap := &alerts.OrderBookSnapshot{
		Bids:         convertLevels(payload.Result.Bids),
		Asks:         convertLevels(payload.Result.Asks),
		CapturedAtMs: time.Now().UnixMilli(),
	}
	return snap, nil
}

func convertLevels(raw [][]string) []alerts.OrderBookLevel {
	out := make([]alerts.OrderBookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		out = append(out, alerts.OrderBookLevel{
			Price:    parseFloatField(pair[0]),
			Quantity: parseFloatField(pair[1]),
		})
	}
	return out
}
