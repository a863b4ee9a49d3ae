package timeoracle

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestExtractServerTimeMsWorldTimeAPI(t *testing.T) {
	body := []byte(`{"utc_datetime":"2026-07-30T12:00:00.123456+00:00"}`)
	ms, ok := extractServerTimeMs(body, "http://worldtimeapi.org/api/timezone/UTC")
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if ms <= 0 {
		t.Fatalf("expected a positive timestamp, got %d", ms)
	}
}

func TestExtractServerTimeMsTimeAPI(t *testing.T) {
	body := []byte(`{"dateTime":"2026-07-30T12:00:00"}`)
	ms, ok := extractServerTimeMs(body, "https://timeapi.io/api/Time/current/zone?timeZone=UTC")
	if !ok {
		t.Fatal("expected successful extraction")
	}
	if ms <= 0 {
		t.Fatalf("expected a positive timestamp, got %d", ms)
	}
}

func TestExtractServerTimeMsUnknownServer(t *testing.T) {
	body := []byte(`{"foo":"bar"}`)
	if _, ok := extractServerTimeMs(body, "https://unknown.example.com"); ok {
		t.Fatal("expected extraction to fail for an unrecognized server")
	}
}

func TestParseExchangeTimeMs(t *testing.T) {
	ms, err := parseExchangeTimeMs("1753880400", "123456789")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := int64(1753880400)*1000 + (123456789/1_000_000)%100
	if ms != want {
		t.Fatalf("expected %d, got %d", want, ms)
	}
}

func TestParseExchangeTimeMsRejectsGarbage(t *testing.T) {
	if _, err := parseExchangeTimeMs("not-a-number", "0"); err == nil {
		t.Fatal("expected an error for malformed timeSecond")
	}
}

func TestNowMsUsesTimeServerOffsetInAutoMode(t *testing.T) {
	o := New(testLogger())
	o.timeServerOffsetMs.Store(1000)
	o.timeServerSynced.Store(true)
	o.exchangeSynced.Store(false)

	local := time.Now().UnixMilli()
	before := o.NowMs()
	if before < local+1000 || before > time.Now().UnixMilli()+1000 {
		t.Fatalf("expected local time plus the 1000 ms time-server offset, got %d (local %d)", before, local)
	}
}

func TestNowMsFallsBackToExchangeWhenTimeServersNotSynced(t *testing.T) {
	o := New(testLogger())
	o.timeServerSynced.Store(false)
	o.exchangeSynced.Store(true)
	o.exchangeOffsetMs.Store(500)

	local := time.Now().UnixMilli()
	ms := o.NowMs()
	if ms < local+500 || ms > time.Now().UnixMilli()+500 {
		t.Fatalf("expected local time plus the 500 ms exchange offset, got %d (local %d)", ms, local)
	}
}

func TestStatusReflectsSyncState(t *testing.T) {
	o := New(testLogger())
	if o.Status() != "not_synced" {
		t.Fatalf("expected not_synced initially, got %s", o.Status())
	}
	o.timeServerSynced.Store(true)
	if o.Status() != "synced" {
		t.Fatalf("expected synced, got %s", o.Status())
	}
}

func TestCandleCloseTimeMs(t *testing.T) {
	if got := CandleCloseTimeMs(60_000); got != 120_000 {
		t.Fatalf("expected 120000, got %d", got)
	}
}
