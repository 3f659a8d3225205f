// Package app runs the polling and publishing loop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deusflow/coinrelay/internal/config"
	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/news"
	"github.com/deusflow/coinrelay/internal/publisher"
	"github.com/deusflow/coinrelay/internal/storage"
)

type Collector interface {
	Collect(ctx context.Context) []news.Item
}

type Publisher interface {
	Publish(ctx context.Context, item news.Item) publisher.Result
	Ready() bool
}

type Options struct {
	Collector        Collector
	Publisher        Publisher
	Store            storage.Store
	Waits            config.Waits
	MaxPostsPerCycle int
	Metrics          *metrics.Metrics
}

// Status is a snapshot for the HTTP surface.
type Status struct {
	Running   bool      `json:"running"`
	Degraded  bool      `json:"degraded"`
	Missing   []string  `json:"missing,omitempty"`
	Cycles    int64     `json:"cycles"`
	LastCycle time.Time `json:"last_cycle"`
}

// State is the one-word form of Status.
func (s Status) State() string {
	switch {
	case s.Degraded:
		return "degraded"
	case s.Running:
		return "running"
	default:
		return "idle"
	}
}

// Bot processes one item at a time. Only Start and Status are safe to call
// concurrently.
type Bot struct {
	collector Collector
	publisher Publisher
	store     storage.Store
	waits     config.Waits
	maxPosts  int
	metrics   *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	int63n func(n int64) int64
	log    *slog.Logger

	running   atomic.Bool
	loops     sync.WaitGroup
	cycles    atomic.Int64
	mu        sync.Mutex
	lastCycle time.Time
}

func New(opts Options) *Bot {
	maxPosts := opts.MaxPostsPerCycle
	if maxPosts < 1 {
		maxPosts = 2
	}
	return &Bot{
		collector: opts.Collector,
		publisher: opts.Publisher,
		store:     opts.Store,
		waits:     opts.Waits,
		maxPosts:  maxPosts,
		metrics:   opts.Metrics,
		sleep:     sleepCtx,
		int63n:    rand.Int63n,
		log:       slog.Default().With("component", "bot"),
	}
}

// Start runs the loop in a goroutine. It reports false when the loop is
// already running.
func (b *Bot) Start(ctx context.Context) bool {
	if !b.running.CompareAndSwap(false, true) {
		return false
	}
	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		defer b.running.Store(false)
		b.Run(ctx)
	}()
	return true
}

// Wait blocks until a loop started by Start has returned. Services the loop
// uses must stay open until then.
func (b *Bot) Wait() {
	b.loops.Wait()
}

func (b *Bot) Status() Status {
	missing := b.missing()
	b.mu.Lock()
	last := b.lastCycle
	b.mu.Unlock()
	return Status{
		Running:   b.running.Load(),
		Degraded:  len(missing) > 0,
		Missing:   missing,
		Cycles:    b.cycles.Load(),
		LastCycle: last,
	}
}

func (b *Bot) missing() []string {
	var m []string
	if b.store == nil {
		m = append(m, "store")
	}
	if b.publisher == nil || !b.publisher.Ready() {
		m = append(m, "posting client")
	}
	if b.collector == nil {
		m = append(m, "collector")
	}
	return m
}

// Run loops until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.log.Info("bot started", "max_posts_per_cycle", b.maxPosts)
	defer b.log.Info("bot stopped")

	for ctx.Err() == nil {
		var wait time.Duration

		if missing := b.missing(); len(missing) > 0 {
			b.log.Error("bot degraded, skipping cycle", "missing", missing)
			wait = b.pick(b.waits.Critical())
		} else {
			var err error
			wait, err = b.safeCycle(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Error("cycle failed", "error", err)
				if b.metrics != nil {
					b.metrics.SetError(err.Error())
				}
				wait = b.pick(b.waits.Critical())
			}
		}

		b.log.Info("waiting before next poll", "wait", wait.Round(time.Second))
		if err := b.sleep(ctx, wait); err != nil {
			return
		}
	}
}

func (b *Bot) safeCycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in cycle", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.RunCycle(ctx)
}

// RunCycle polls once and publishes up to the per-cycle cap. It returns the
// wait before the next poll.
func (b *Bot) RunCycle(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var slept time.Duration
	defer func() {
		b.cycles.Add(1)
		b.mu.Lock()
		b.lastCycle = time.Now()
		b.mu.Unlock()
		if b.metrics != nil {
			busy := time.Since(start) - slept
			if busy < 0 {
				busy = 0
			}
			b.metrics.RecordCycleTime(busy)
			b.metrics.SetLastRun()
		}
	}()

	items := b.candidates(ctx, b.collector.Collect(ctx))
	if len(items) == 0 {
		b.log.Info("no new items")
		return b.pick(b.waits.NoNews()), ctx.Err()
	}

	posted := 0
	for _, item := range items {
		if posted >= b.maxPosts {
			b.log.Info("per-cycle post cap reached", "posted", posted)
			break
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		res := b.publisher.Publish(ctx, item)
		b.log.Info("publish result", "link", item.Link, "outcome", res.Outcome.String())

		var band config.Band
		switch res.Outcome {
		case publisher.Posted:
			posted++
			band = b.waits.Posted()
		case publisher.RateLimited:
			return b.pick(b.waits.RateLimited()), nil
		default:
			band = b.waits.Skipped()
		}

		d := b.pick(band)
		slept += d
		if err := b.sleep(ctx, d); err != nil {
			return 0, err
		}
	}

	return b.pick(b.waits.NoNews()), nil
}

// candidates drops items already in the store. A lookup error counts as
// already posted.
func (b *Bot) candidates(ctx context.Context, items []news.Item) []news.Item {
	out := items[:0:0]
	for _, item := range items {
		exists, err := b.store.Exists(ctx, item.Link)
		if err != nil {
			b.log.Warn("store lookup failed, skipping item", "link", item.Link, "error", err)
			continue
		}
		if !exists {
			out = append(out, item)
		}
	}
	b.log.Debug("candidates filtered", "fetched", len(items), "new", len(out))
	return out
}

// pick returns a uniformly random duration within band.
func (b *Bot) pick(band config.Band) time.Duration {
	if band.Max <= band.Min {
		return band.Min
	}
	return band.Min + time.Duration(b.int63n(int64(band.Max-band.Min)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
