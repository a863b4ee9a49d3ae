package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulseintel/internal/candle"
)

const (
	reconcileInterval       = 60 * time.Second
	connectionStaleTimeout  = 120 * time.Second
	subscribeBatchSize      = 50
	interBatchPause         = 500 * time.Millisecond
)

// Watchlist supplies the current desired symbol set, read from the store's
// configuration, per spec.md 4.9's subscription reconciler.
type Watchlist func(ctx context.Context) ([]string, error)

// TickHandler is invoked once per normalized kline tick, already
// symbol-aligned; Session does not decide ordering beyond delivering ticks
// as they arrive off the wire — callers are expected to route it through a
// per-symbol single-writer dispatcher.
type TickHandler func(ctx context.Context, c candle.Candle)

// BackfillFunc fetches and upserts missing history for symbol.
type BackfillFunc func(ctx context.Context, symbol string) error

// Session owns the three cooperating tasks of C9: the reader loop, the
// subscription reconciler, and the connection monitor. One Session exists
// per exchange connection; the outer supervisor owns reconnect/backoff.
type Session struct {
	client   *Client
	logger   *zap.Logger
	onTick   TickHandler
	watchlist Watchlist
	backfill BackfillFunc

	mu            sync.Mutex
	trackedPairs  map[string]bool
}

func NewSession(client *Client, logger *zap.Logger, onTick TickHandler, watchlist Watchlist, backfill BackfillFunc) *Session {
	return &Session{
		client:       client,
		logger:       logger.Named("ingest-session"),
		onTick:       onTick,
		watchlist:    watchlist,
		backfill:     backfill,
		trackedPairs: make(map[string]bool),
	}
}

// Run connects, performs the initial subscribe + backfill, and blocks
// running the reader loop, reconciler, and connection monitor until ctx is
// canceled or the connection is judged dead. Callers (the supervisor) are
// expected to call Run again with a fresh Session on the next reconnect.
func (s *Session) Run(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	defer s.client.Close()

	initial, err := s.watchlist(ctx)
	if err != nil {
		s.logger.Error("failed to load initial watchlist", zap.Error(err))
		initial = nil
	}
	if err := s.subscribeInBatches(initial); err != nil {
		return err
	}
	s.runBackfill(ctx, initial)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.reconcileLoop(runCtx)
	go s.connectionMonitor(runCtx, cancel)

	return s.readLoop(runCtx)
}

func (s *Session) subscribeInBatches(symbols []string) error {
	for i := 0; i < len(symbols); i += subscribeBatchSize {
		end := i + subscribeBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[i:end]
		if err := s.client.Subscribe(batch); err != nil {
			return err
		}
		s.mu.Lock()
		for _, sym := range batch {
			s.trackedPairs[strings.ToUpper(sym)] = true
		}
		s.mu.Unlock()

		if end < len(symbols) {
			time.Sleep(interBatchPause)
		}
	}
	return nil
}

func (s *Session) runBackfill(ctx context.Context, symbols []string) {
	for i, sym := range symbols {
		if s.backfill != nil {
			if err := s.backfill(ctx, sym); err != nil {
				s.logger.Warn("startup backfill failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
		if i < len(symbols)-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// readLoop is task (a): parse, align openTimeMs, and deliver to onTick.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tick, err := s.client.Read()
		if err != nil {
			return err
		}

		c := tickToCandle(tick)
		s.onTick(ctx, c)
	}
}

func tickToCandle(t KlineTick) candle.Candle {
	openTimeMs := t.OpenTimeMs
	if t.Confirmed {
		openTimeMs = candle.AlignOpenTimeMs(t.OpenTimeMs)
	}
	return candle.New(
		t.Symbol,
		openTimeMs,
		decimalOrZero(t.Open),
		decimalOrZero(t.High),
		decimalOrZero(t.Low),
		decimalOrZero(t.Close),
		decimalOrZero(t.Volume),
		t.Confirmed,
	)
}

// reconcileLoop is task (b): every 60s, diff the desired watchlist against
// trackedPairs.
func (s *Session) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *Session) reconcileOnce(ctx context.Context) {
	desired, err := s.watchlist(ctx)
	if err != nil {
		s.logger.Warn("failed to load watchlist for reconciliation", zap.Error(err))
		return
	}

	desiredSet := make(map[string]bool, len(desired))
	for _, sym := range desired {
		desiredSet[strings.ToUpper(sym)] = true
	}

	s.mu.Lock()
	var removed, added []string
	for sym := range s.trackedPairs {
		if !desiredSet[sym] {
			removed = append(removed, sym)
		}
	}
	for sym := range desiredSet {
		if !s.trackedPairs[sym] {
			added = append(added, sym)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		if err := s.client.Unsubscribe(removed); err != nil {
			s.logger.Warn("unsubscribe batch failed", zap.Error(err))
		}
		s.mu.Lock()
		for _, sym := range removed {
			delete(s.trackedPairs, sym)
		}
		s.mu.Unlock()
	}

	if len(added) > 0 {
		if err := s.subscribeInBatches(added); err != nil {
			s.logger.Warn("subscribe batch failed", zap.Error(err))
			return
		}
		s.runBackfill(ctx, added)
	}
}

// connectionMonitor is task (c): tear down the connection if no message has
// arrived in 120s, letting the outer supervisor reconnect with its fixed
// 5s backoff.
func (s *Session) connectionMonitor(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.client.SinceLastMessage() >= connectionStaleTimeout {
				s.logger.Warn("connection stale, tearing down for reconnect", zap.Duration("since_last_message", s.client.SinceLastMessage()))
				s.client.Close()
				cancel()
				return
			}
		}
	}
}
