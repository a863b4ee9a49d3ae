// Package service wires the core components (C1-C9) into the running
// pipeline: the per-symbol shard dispatcher that gives each symbol a
// single-writer domain, and the Pipeline that drives a kline tick through
// the store, cache, and detectors in the order spec.md 4.9's reader loop
// specifies. Grounded on internal/supervisor/supervisor.go's
// goroutine-per-worker-plus-channel idiom, generalized from "one worker per
// exchange connection" to "one worker per symbol shard".
package service

import (
	"hash/fnv"
	"strings"
)

// Dispatcher routes work for a symbol to one of N worker goroutines, keyed
// by hash(symbol) mod N. Because the same symbol always lands on the same
// shard and each shard drains its queue strictly in arrival order, same-
// symbol updates are totally ordered without a per-symbol lock, matching
// spec.md 5's "each key is a single-writer domain" requirement.
type Dispatcher struct {
	shards []chan func()
	done   chan struct{}
}

func NewDispatcher(shardCount, queueDepth int) *Dispatcher {
	if shardCount <= 0 {
		shardCount = 1
	}
	d := &Dispatcher{
		shards: make([]chan func(), shardCount),
		done:   make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan func(), queueDepth)
		go d.runShard(d.shards[i])
	}
	return d
}

func (d *Dispatcher) runShard(work <-chan func()) {
	for {
		select {
		case fn, ok := <-work:
			if !ok {
				return
			}
			fn()
		case <-d.done:
			return
		}
	}
}

// Submit enqueues fn onto symbol's shard. It never blocks the caller beyond
// the shard's queue capacity, matching the cooperative-suspension model of
// spec.md 5.
func (d *Dispatcher) Submit(symbol string, fn func()) {
	d.shards[shardFor(symbol, len(d.shards))] <- fn
}

func (d *Dispatcher) Close() {
	close(d.done)
	for _, s := range d.shards {
		close(s)
	}
}

func shardFor(symbol string, shardCount int) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return int(h.Sum32()) % shardCount
}
