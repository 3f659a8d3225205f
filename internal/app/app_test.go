package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/coinrelay/internal/config"
	"github.com/deusflow/coinrelay/internal/news"
	"github.com/deusflow/coinrelay/internal/publisher"
	"github.com/deusflow/coinrelay/internal/storage"
)

// Band minimums are distinct so a recorded sleep identifies its band.
var testWaits = config.Waits{
	PostedMin: 1 * time.Minute, PostedMax: 2 * time.Minute,
	SkippedMin: 3 * time.Minute, SkippedMax: 4 * time.Minute,
	NoNewsMin: 5 * time.Minute, NoNewsMax: 6 * time.Minute,
	CriticalMin: 7 * time.Minute, CriticalMax: 8 * time.Minute,
	RateLimitedMin: 9 * time.Minute, RateLimitedMax: 10 * time.Minute,
}

type fakeCollector struct {
	items []news.Item
	panic bool
	calls int
}

func (f *fakeCollector) Collect(context.Context) []news.Item {
	f.calls++
	if f.panic {
		panic("feed parser exploded")
	}
	return f.items
}

type scriptedPublisher struct {
	mu       sync.Mutex
	outcomes []publisher.Outcome
	ready    bool
	seen     []string
}

func (s *scriptedPublisher) Publish(_ context.Context, item news.Item) publisher.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, item.Link)
	out := publisher.SkippedError
	if len(s.outcomes) > 0 {
		out, s.outcomes = s.outcomes[0], s.outcomes[1:]
	}
	return publisher.Result{Outcome: out}
}

func (s *scriptedPublisher) Ready() bool { return s.ready }

type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(context.Context, news.Item) publisher.Result {
	close(p.started)
	<-p.release
	return publisher.Result{Outcome: publisher.Posted}
}

func (p *blockingPublisher) Ready() bool { return true }

type memStore struct {
	links map[string]bool
	err   error
}

func (m *memStore) Exists(_ context.Context, link string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.links[link], nil
}

func (m *memStore) Record(context.Context, string, string) error { return nil }

func (m *memStore) Count(context.Context) (int, error) { return len(m.links), nil }

func (m *memStore) Recent(context.Context, int) ([]storage.PostedRecord, error) { return nil, nil }

func (m *memStore) Close() error { return nil }

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	limit  int
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()
	if r.cancel != nil && n >= r.limit {
		r.cancel()
	}
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func items(n int) []news.Item {
	out := make([]news.Item, n)
	for i := range out {
		out[i] = news.Item{Link: fmt.Sprintf("https://x.test/%d", i), TranslatedTitle: "t"}
	}
	return out
}

func newTestBot(c Collector, p Publisher, s storage.Store, rec *sleepRecorder) *Bot {
	b := New(Options{Collector: c, Publisher: p, Store: s, Waits: testWaits, MaxPostsPerCycle: 2})
	b.sleep = rec.sleep
	b.int63n = func(int64) int64 { return 0 }
	return b
}

func TestRunCycle_NoNewsUsesNoNewsBand(t *testing.T) {
	rec := &sleepRecorder{}
	b := newTestBot(&fakeCollector{}, &scriptedPublisher{ready: true}, &memStore{}, rec)

	wait, err := b.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, testWaits.NoNewsMin, wait)
	assert.Empty(t, rec.recorded())
}

func TestRunCycle_CapsPostsPerCycle(t *testing.T) {
	rec := &sleepRecorder{}
	pub := &scriptedPublisher{ready: true, outcomes: []publisher.Outcome{publisher.Posted, publisher.SkippedDuplicate, publisher.Posted, publisher.Posted}}
	b := newTestBot(&fakeCollector{items: items(5)}, pub, &memStore{}, rec)

	wait, err := b.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Len(t, pub.seen, 3)
	assert.Equal(t, []time.Duration{testWaits.PostedMin, testWaits.SkippedMin, testWaits.PostedMin}, rec.recorded())
	assert.Equal(t, testWaits.NoNewsMin, wait)
}

func TestRunCycle_RateLimitedEndsCycle(t *testing.T) {
	rec := &sleepRecorder{}
	pub := &scriptedPublisher{ready: true, outcomes: []publisher.Outcome{publisher.SkippedError, publisher.RateLimited, publisher.Posted}}
	b := newTestBot(&fakeCollector{items: items(3)}, pub, &memStore{}, rec)

	wait, err := b.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Len(t, pub.seen, 2)
	assert.Equal(t, []time.Duration{testWaits.SkippedMin}, rec.recorded())
	assert.Equal(t, testWaits.RateLimitedMin, wait)
}

func TestRunCycle_PrefiltersStoredAndUnreadable(t *testing.T) {
	rec := &sleepRecorder{}
	pub := &scriptedPublisher{ready: true, outcomes: []publisher.Outcome{publisher.Posted}}
	store := &memStore{links: map[string]bool{"https://x.test/0": true, "https://x.test/2": true}}
	b := newTestBot(&fakeCollector{items: items(3)}, pub, store, rec)

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.test/1"}, pub.seen)

	pub.seen = nil
	store.err = errors.New("database is locked")
	wait, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.seen)
	assert.Equal(t, testWaits.NoNewsMin, wait)
}

func TestRun_PanicSleepsCriticalBand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &sleepRecorder{cancel: cancel, limit: 1}
	b := newTestBot(&fakeCollector{panic: true}, &scriptedPublisher{ready: true}, &memStore{}, rec)

	b.Run(ctx)

	assert.Equal(t, []time.Duration{testWaits.CriticalMin}, rec.recorded())
}

func TestRun_DegradedDoesNotPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &sleepRecorder{cancel: cancel, limit: 2}
	collector := &fakeCollector{items: items(1)}
	b := newTestBot(collector, &scriptedPublisher{ready: false}, &memStore{}, rec)

	b.Run(ctx)

	assert.Equal(t, 0, collector.calls)
	assert.Equal(t, []time.Duration{testWaits.CriticalMin, testWaits.CriticalMin}, rec.recorded())

	st := b.Status()
	assert.True(t, st.Degraded)
	assert.Equal(t, []string{"posting client"}, st.Missing)
	assert.Equal(t, "degraded", st.State())
}

func TestRun_DegradedWithoutStore(t *testing.T) {
	b := newTestBot(&fakeCollector{}, &scriptedPublisher{ready: true}, nil, &sleepRecorder{})

	assert.Equal(t, []string{"store"}, b.Status().Missing)
}

func TestRun_StopsOnCancelDuringItemSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &sleepRecorder{cancel: cancel, limit: 1}
	pub := &scriptedPublisher{ready: true, outcomes: []publisher.Outcome{publisher.Posted, publisher.Posted}}
	b := newTestBot(&fakeCollector{items: items(2)}, pub, &memStore{}, rec)

	b.Run(ctx)

	assert.Len(t, pub.seen, 1)
	assert.Equal(t, []time.Duration{testWaits.PostedMin}, rec.recorded())
}

func TestStart_OnlyOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	b := newTestBot(&fakeCollector{}, &scriptedPublisher{ready: true}, &memStore{}, &sleepRecorder{})
	b.sleep = func(ctx context.Context, d time.Duration) error {
		<-block
		return ctx.Err()
	}

	assert.True(t, b.Start(ctx))
	assert.False(t, b.Start(ctx))
	assert.True(t, b.Status().Running)
	assert.Equal(t, "running", b.Status().State())

	cancel()
	close(block)
	assert.Eventually(t, func() bool { return !b.Status().Running }, time.Second, 10*time.Millisecond)

	// a stopped bot can be started again
	assert.True(t, b.Start(ctx))
	assert.Eventually(t, func() bool { return !b.Status().Running }, time.Second, 10*time.Millisecond)
}

func TestWait_ReturnsAfterLoopStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	publishing := make(chan struct{})
	release := make(chan struct{})
	pub := &blockingPublisher{started: publishing, release: release}
	b := newTestBot(&fakeCollector{items: items(1)}, pub, &memStore{}, &sleepRecorder{})

	require.True(t, b.Start(ctx))
	<-publishing
	cancel()

	waited := make(chan struct{})
	go func() {
		b.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a publish was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the loop stopped")
	}
	assert.False(t, b.Status().Running)
}

func TestWait_WithoutStart(t *testing.T) {
	b := newTestBot(&fakeCollector{}, &scriptedPublisher{ready: true}, &memStore{}, &sleepRecorder{})
	b.Wait()
}

func TestPick_WithinBand(t *testing.T) {
	b := New(Options{Waits: config.DefaultWaits()})
	band := config.DefaultWaits().Posted()

	for i := 0; i < 100; i++ {
		d := b.pick(band)
		assert.GreaterOrEqual(t, d, band.Min)
		assert.LessOrEqual(t, d, band.Max)
	}
	assert.Equal(t, time.Minute, b.pick(config.Band{Min: time.Minute, Max: time.Minute}))
}
