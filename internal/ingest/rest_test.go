package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestFetchKlinesReversesNewestFirstResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := bybitKlineResponse{}
		payload.Result.List = [][]string{
			{"120000", "102", "103", "101", "102.5", "10", "1020"},
			{"60000", "100", "101", "99", "100.5", "12", "1200"},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	rc := NewRESTClient(zap.NewNop())
	rc.baseURL = srv.URL

	candles, err := rc.FetchKlines(context.Background(), "BTCUSDT", 60000, 180000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].OpenTimeMs != 60000 || candles[1].OpenTimeMs != 120000 {
		t.Fatalf("expected oldest-first ordering, got %d then %d", candles[0].OpenTimeMs, candles[1].OpenTimeMs)
	}
}

func TestFetchKlinesReturnsErrorOnNonZeroRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bybitKlineResponse{RetCode: 10001, RetMsg: "invalid symbol"})
	}))
	defer srv.Close()

	rc := NewRESTClient(zap.NewNop())
	rc.baseURL = srv.URL

	if _, err := rc.FetchKlines(context.Background(), "BOGUS", 0, 1, 1); err == nil {
		t.Fatal("expected error for non-zero retCode")
	}
}

func TestFetchOrderBookConvertsLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := bybitOrderBookResponse{}
		payload.Result.Bids = [][]string{{"100.5", "2.0"}}
		payload.Result.Asks = [][]string{{"100.6", "1.5"}}
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	rc := NewRESTClient(zap.NewNop())
	rc.baseURL = srv.URL

	snap, err := rc.FetchOrderBook(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 100.5 {
		t.Fatalf("unexpected bids: %+v", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 1.5 {
		t.Fatalf("unexpected asks: %+v", snap.Asks)
	}
}

func TestDecimalOrZeroFallsBackOnGarbage(t *testing.T) {
	if !decimalOrZero("not-a-number").IsZero() {
		t.Fatal("expected zero decimal for malformed input")
	}
}
