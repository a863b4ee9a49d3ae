// Package timeoracle implements the Time Oracle (C1): dual offset
// synchronization against external time servers and the Bybit exchange
// clock, used to decide when a one-minute candle is closed. Grounded
// line-for-line on TimeServerSync and ExchangeTimeSync in
// original_source/backend/time_sync.py, carried over to Go's net/http
// and atomic primitives in the teacher's style (historical_data_fetcher.go
// for the http.Client idiom).
package timeoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SyncMethod selects which clock get_utc_timestamp_ms prefers.
type SyncMethod string

const (
	Auto             SyncMethod = "auto"
	ExchangeOnly     SyncMethod = "exchange_only"
	TimeServersOnly  SyncMethod = "time_servers_only"
)

const (
	exchangeSyncInterval    = 5 * time.Minute
	timeServerSyncInterval  = 1 * time.Hour
	exchangeTimeMinMs       = 1_700_000_000_000 // 2023
	exchangeTimeMaxMs       = 2_000_000_000_000 // 2033
)

// defaultTimeServers mirrors TimeServerSync.time_servers, tried in order
// until one responds.
var defaultTimeServers = []string{
	"http://worldtimeapi.org/api/timezone/UTC",
	"https://timeapi.io/api/Time/current/zone?timeZone=UTC",
	"http://worldclockapi.com/api/json/utc/now",
}

const bybitTimeURL = "https://api.bybit.com/v5/market/time"

// Oracle is C1. All offsets are atomic int64 values so concurrent symbol
// handlers can read them without locking, per spec.md's concurrency model.
type Oracle struct {
	httpClient *http.Client
	logger     *zap.Logger

	timeServerOffsetMs atomic.Int64
	timeServerSynced   atomic.Bool

	exchangeOffsetMs atomic.Int64
	exchangeSynced   atomic.Bool

	method atomic.Value // SyncMethod

	stop chan struct{}
}

func New(logger *zap.Logger) *Oracle {
	o := &Oracle{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger.Named("time-oracle"),
		stop:       make(chan struct{}),
	}
	o.method.Store(Auto)
	return o
}

func (o *Oracle) SetSyncMethod(method SyncMethod) {
	switch method {
	case Auto, ExchangeOnly, TimeServersOnly:
		o.method.Store(method)
	default:
		o.logger.Error("unknown sync method requested", zap.String("method", string(method)))
	}
}

// Start performs the initial synchronization and launches the periodic
// resync loop (exchange clock every 5 minutes, time servers every hour).
func (o *Oracle) Start(ctx context.Context) {
	o.syncTimeServers(ctx)
	o.syncExchangeTime(ctx)
	go o.periodicSync(ctx)
}

func (o *Oracle) Stop() {
	close(o.stop)
}

func (o *Oracle) periodicSync(ctx context.Context) {
	exchangeTicker := time.NewTicker(exchangeSyncInterval)
	defer exchangeTicker.Stop()
	serverTicker := time.NewTicker(timeServerSyncInterval)
	defer serverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-exchangeTicker.C:
			o.syncExchangeTime(ctx)
		case <-serverTicker.C:
			o.syncTimeServers(ctx)
		}
	}
}

// accurateUTCNowMs returns the local clock adjusted by the time-server
// offset if synced, else falls back to the raw local UTC clock.
func (o *Oracle) accurateUTCNowMs() int64 {
	localNow := time.Now().UnixMilli()
	if o.timeServerSynced.Load() {
		return localNow + o.timeServerOffsetMs.Load()
	}
	return localNow
}

func (o *Oracle) syncTimeServers(ctx context.Context) {
	for _, serverURL := range defaultTimeServers {
		if o.syncOneTimeServer(ctx, serverURL) {
			o.timeServerSynced.Store(true)
			return
		}
	}
	o.logger.Warn("failed to synchronize with any time server")
}

func (o *Oracle) syncOneTimeServer(ctx context.Context, serverURL string) bool {
	localBefore := time.Now().UnixMilli()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Debug("time server request failed", zap.String("server", serverURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	localAfter := time.Now().UnixMilli()

	serverTimeMs, ok := extractServerTimeMs(body, serverURL)
	if !ok {
		return false
	}

	networkDelay := (localAfter - localBefore) / 2
	adjustedLocal := localBefore + networkDelay
	offset := serverTimeMs - adjustedLocal

	o.timeServerOffsetMs.Store(offset)
	o.logger.Info("synchronized with time server", zap.String("server", serverURL), zap.Int64("offsetMs", offset))
	return true
}

func extractServerTimeMs(body []byte, serverURL string) (int64, bool) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}

	var field string
	switch {
	case strings.Contains(serverURL, "worldtimeapi.org"):
		field = "utc_datetime"
	case strings.Contains(serverURL, "timeapi.io"):
		field = "dateTime"
	case strings.Contains(serverURL, "worldclockapi.com"):
		field = "currentDateTime"
	default:
		return 0, false
	}

	raw, ok := payload[field].(string)
	if !ok || raw == "" {
		return 0, false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, false
		}
	}
	return t.UnixMilli(), true
}

type bybitTimeResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		TimeSecond string `json:"timeSecond"`
		TimeNano   string `json:"timeNano"`
	} `json:"result"`
}

func (o *Oracle) syncExchangeTime(ctx context.Context) {
	before := o.accurateUTCNowMs()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bybitTimeURL, nil)
	if err != nil {
		o.exchangeSynced.Store(false)
		return
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn("exchange time sync request failed", zap.Error(err))
		o.exchangeSynced.Store(false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		o.exchangeSynced.Store(false)
		return
	}

	var payload bybitTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		o.exchangeSynced.Store(false)
		return
	}
	after := o.accurateUTCNowMs()

	if payload.RetCode != 0 {
		o.logger.Error("exchange API error during time sync", zap.String("retMsg", payload.RetMsg))
		o.exchangeSynced.Store(false)
		return
	}

	exchangeTimeMs, err := parseExchangeTimeMs(payload.Result.TimeSecond, payload.Result.TimeNano)
	if err != nil {
		o.exchangeSynced.Store(false)
		return
	}

	if exchangeTimeMs < exchangeTimeMinMs || exchangeTimeMs > exchangeTimeMaxMs {
		o.logger.Error("implausible exchange time received", zap.Int64("exchangeTimeMs", exchangeTimeMs))
		o.exchangeSynced.Store(false)
		return
	}

	networkDelay := (after - before) / 2
	adjusted := before + networkDelay
	offset := exchangeTimeMs - adjusted

	o.exchangeOffsetMs.Store(offset)
	o.exchangeSynced.Store(true)
	o.logger.Info("synchronized with exchange clock", zap.Int64("offsetMs", offset))
}

func parseExchangeTimeMs(timeSecond, timeNano string) (int64, error) {
	var seconds, nanos int64
	if _, err := fmt.Sscanf(timeSecond, "%d", &seconds); err != nil {
		return 0, fmt.Errorf("parse timeSecond: %w", err)
	}
	if _, err := fmt.Sscanf(timeNano, "%d", &nanos); err != nil {
		return 0, fmt.Errorf("parse timeNano: %w", err)
	}
	return seconds*1000 + (nanos/1_000_000)%100, nil
}

// NowMs returns the oracle's best-effort UTC timestamp in milliseconds per
// the configured sync method.
func (o *Oracle) NowMs() int64 {
	method, _ := o.method.Load().(SyncMethod)

	switch method {
	case TimeServersOnly:
		return o.accurateUTCNowMs()
	case ExchangeOnly:
		return o.accurateUTCNowMs() + o.exchangeOffsetMs.Load()
	default: // Auto
		if o.timeServerSynced.Load() {
			return o.accurateUTCNowMs()
		}
		if o.exchangeSynced.Load() {
			return o.accurateUTCNowMs() + o.exchangeOffsetMs.Load()
		}
		return time.Now().UnixMilli()
	}
}

// Status reports whether the oracle is drifting (neither clock synced), per
// spec.md's Drift error kind.
func (o *Oracle) Status() string {
	if o.timeServerSynced.Load() || o.exchangeSynced.Load() {
		return "synced"
	}
	return "not_synced"
}

// IsCandleClosed reports whether closeTimeMs has passed according to the
// oracle's clock. When the oracle is drifting, callers should degrade to
// the naive comparison themselves (localNowMs >= closeTimeMs) per spec.md's
// Drift error-kind guidance; this method always uses the oracle's NowMs.
func (o *Oracle) IsCandleClosed(closeTimeMs int64) bool {
	return o.NowMs() >= closeTimeMs
}

// CandleCloseTimeMs returns the close time of the one-minute candle that
// opened at openTimeMs.
func CandleCloseTimeMs(openTimeMs int64) int64 {
	return openTimeMs + 60_000
}
