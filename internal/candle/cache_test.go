package candle

import "testing"

func TestCacheUpdateOverwritesSameOpenTime(t *testing.T) {
	c := NewCache(5)
	c.Update("BTCUSDT", New("BTCUSDT", 60_000, d("1"), d("1"), d("1"), d("1"), d("1"), false))
	c.Update("BTCUSDT", New("BTCUSDT", 60_000, d("1"), d("1"), d("1"), d("2"), d("1"), true))

	snap := c.Snapshot("BTCUSDT")
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	if !snap[0].Close.Equal(d("2")) || !snap[0].IsClosed {
		t.Fatalf("expected overwritten closed candle, got %+v", snap[0])
	}
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := NewCache(3)
	for i := int64(0); i < 5; i++ {
		c.Update("BTCUSDT", New("BTCUSDT", i*60_000, d("1"), d("1"), d("1"), d("1"), d("1"), true))
	}

	snap := c.Snapshot("BTCUSDT")
	if len(snap) != 3 {
		t.Fatalf("expected capacity-bound length 3, got %d", len(snap))
	}
	if snap[0].OpenTimeMs != 2*60_000 {
		t.Fatalf("expected oldest surviving entry to be openTimeMs=120000, got %d", snap[0].OpenTimeMs)
	}
	if snap[len(snap)-1].OpenTimeMs != 4*60_000 {
		t.Fatalf("expected newest entry to be openTimeMs=240000, got %d", snap[len(snap)-1].OpenTimeMs)
	}
}

func TestCacheKeepsAscendingOrderOnOutOfOrderInsert(t *testing.T) {
	c := NewCache(10)
	c.Update("BTCUSDT", New("BTCUSDT", 3*60_000, d("1"), d("1"), d("1"), d("1"), d("1"), true))
	c.Update("BTCUSDT", New("BTCUSDT", 1*60_000, d("1"), d("1"), d("1"), d("1"), d("1"), true))
	c.Update("BTCUSDT", New("BTCUSDT", 2*60_000, d("1"), d("1"), d("1"), d("1"), d("1"), true))

	snap := c.Snapshot("BTCUSDT")
	for i := 1; i < len(snap); i++ {
		if snap[i-1].OpenTimeMs >= snap[i].OpenTimeMs {
			t.Fatalf("window not ascending: %+v", snap)
		}
	}
}
