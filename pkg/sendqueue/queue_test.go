package sendqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and fires immediately.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)

	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type record struct {
	messageID uint64
	day       string
	at        time.Time
}

type fakeTransmitter struct {
	clock *fakeClock

	mu      sync.Mutex
	records []record
	errs    map[uint64]error
	block   map[uint64]chan struct{}

	inFlight    int32
	maxInFlight int32
}

func newFakeTransmitter(clock *fakeClock) *fakeTransmitter {
	return &fakeTransmitter{
		clock: clock,
		errs:  make(map[uint64]error),
		block: make(map[uint64]chan struct{}),
	}
}

func (f *fakeTransmitter) Transmit(_ context.Context, entry *Entry) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	for {
		peak := atomic.LoadInt32(&f.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxInFlight, peak, n) {
			break
		}
	}

	f.mu.Lock()
	now := f.clock.Now()
	f.records = append(f.records, record{
		messageID: entry.MessageID,
		day:       now.Format(dayLayout),
		at:        now,
	})
	err := f.errs[entry.MessageID]
	block := f.block[entry.MessageID]
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	return err
}

func (f *fakeTransmitter) Records() []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record(nil), f.records...)
}

func newTestQueue(cfg Config) (*Queue, *fakeClock, *fakeTransmitter) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	clock := newFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	transmitter := newFakeTransmitter(clock)
	q := New(context.Background(), cfg, transmitter, WithClock(clock))
	return q, clock, transmitter
}

// enqueueBatch enqueues all ids before the consumption loop starts.
func enqueueBatch(t *testing.T, q *Queue, ids ...uint64) {
	t.Helper()

	q.mu.Lock()
	q.processing = true
	q.mu.Unlock()

	for _, id := range ids {
		if _, err := q.Enqueue(context.Background(), &Entry{MessageID: id}); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}

	q.wg.Add(1)
	go q.run()
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := q.Status()
		if !s.Processing && s.QueueLength == 0 && s.CurrentlyInFlight == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue did not drain: %+v", q.Status())
}

func TestQueue_FIFOAndInterval(t *testing.T) {
	q, clock, transmitter := newTestQueue(Config{
		MaxPerDay:            10,
		IntervalBetweenSends: 30 * time.Second,
		MaxConcurrentSends:   1,
	})

	enqueueBatch(t, q, 1, 2, 3)
	waitIdle(t, q)

	records := transmitter.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 transmissions, got %d", len(records))
	}
	for i, r := range records {
		if r.messageID != uint64(i+1) {
			t.Errorf("expected message %d at %d, got %d", i+1, i, r.messageID)
		}
	}

	for _, d := range clock.Sleeps() {
		if d != 30*time.Second {
			t.Errorf("expected 30s between sends, got %v", d)
		}
	}
	if n := len(clock.Sleeps()); n != 2 {
		t.Errorf("expected 2 pauses between 3 sends, got %d", n)
	}

	if peak := atomic.LoadInt32(&transmitter.maxInFlight); peak != 1 {
		t.Errorf("expected no overlapping sends, got %d at once", peak)
	}

	if s := q.Status(); s.SentToday != 3 || s.RemainingToday != 7 {
		t.Errorf("unexpected status: %+v", s)
	}
}

func TestQueue_IntervalAcrossIdle(t *testing.T) {
	q, clock, transmitter := newTestQueue(Config{
		MaxPerDay:            10,
		IntervalBetweenSends: 30 * time.Second,
		MaxConcurrentSends:   1,
	})

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitIdle(t, q)

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitIdle(t, q)

	records := transmitter.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 transmissions, got %d", len(records))
	}
	if gap := records[1].at.Sub(records[0].at); gap < 30*time.Second {
		t.Errorf("expected at least 30s between sends, got %v", gap)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Errorf("expected a single 30s pause, got %v", sleeps)
	}

	// the interval already elapsed while idle
	clock.Advance(time.Minute)

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitIdle(t, q)

	if n := len(clock.Sleeps()); n != 1 {
		t.Errorf("expected no pause after a long idle, got %v", clock.Sleeps())
	}
	if n := len(transmitter.Records()); n != 3 {
		t.Errorf("expected 3 transmissions, got %d", n)
	}
}

func TestQueue_EstimatedWait(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            10,
		IntervalBetweenSends: 30 * time.Second,
		MaxConcurrentSends:   1,
	})

	block := make(chan struct{})
	transmitter.block[1] = block

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// wait until the first entry is in flight so the pending list is empty
	deadline := time.Now().Add(2 * time.Second)
	for q.Status().CurrentlyInFlight != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	res, err := q.Enqueue(context.Background(), &Entry{MessageID: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.Position != 1 || res.EstimatedWait() != 30*time.Second {
		t.Errorf("unexpected enqueue result: %+v", res)
	}

	res, err = q.Enqueue(context.Background(), &Entry{MessageID: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.Position != 2 || res.EstimatedWait() != time.Minute {
		t.Errorf("unexpected enqueue result: %+v", res)
	}

	close(block)
	waitIdle(t, q)
}

func TestQueue_DuplicateRejected(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            10,
		IntervalBetweenSends: time.Second,
		MaxConcurrentSends:   1,
	})

	block := make(chan struct{})
	transmitter.block[1] = block

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}

	close(block)
	waitIdle(t, q)

	// once finished the message may be enqueued again
	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); err != nil {
		t.Errorf("expected re-enqueue after completion, got %v", err)
	}
	waitIdle(t, q)

	if n := len(transmitter.Records()); n != 2 {
		t.Errorf("expected 2 transmissions, got %d", n)
	}
}

func TestQueue_DailyLimitFastFail(t *testing.T) {
	q, clock, _ := newTestQueue(Config{
		MaxPerDay:            1,
		IntervalBetweenSends: time.Second,
		MaxConcurrentSends:   1,
	})

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitIdle(t, q)

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 2}); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}

	s := q.Status()
	if s.QueueLength != 0 || s.SentToday != 1 || s.RemainingToday != 0 {
		t.Errorf("queue must not change on rejection: %+v", s)
	}

	clock.Advance(24 * time.Hour)

	if s := q.Status(); s.SentToday != 0 || s.RemainingToday != 1 {
		t.Errorf("expected a fresh day in status: %+v", s)
	}

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 2}); err != nil {
		t.Errorf("expected enqueue on the next day, got %v", err)
	}
	waitIdle(t, q)
}

func TestQueue_PausesUntilNextDay(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            2,
		IntervalBetweenSends: 30 * time.Second,
		MaxConcurrentSends:   1,
	})

	enqueueBatch(t, q, 1, 2, 3)
	waitIdle(t, q)

	records := transmitter.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 transmissions, got %d", len(records))
	}
	if records[0].day != "2024-05-01" || records[1].day != "2024-05-01" {
		t.Errorf("expected first two sends on the first day, got %s and %s", records[0].day, records[1].day)
	}
	if records[2].day != "2024-05-02" {
		t.Errorf("expected third send on the next day, got %s", records[2].day)
	}

	if s := q.Status(); s.SentToday != 1 {
		t.Errorf("expected the counter to restart on the new day, got %+v", s)
	}
}

func TestQueue_FailuresNotCounted(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            5,
		IntervalBetweenSends: time.Second,
		MaxConcurrentSends:   1,
	})
	transmitter.errs[1] = errors.New("rejected")
	transmitter.errs[2] = ErrSkipped

	for i := uint64(1); i <= 3; i++ {
		if _, err := q.Enqueue(context.Background(), &Entry{MessageID: i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	waitIdle(t, q)

	if n := len(transmitter.Records()); n != 3 {
		t.Errorf("a failure must not stop the loop, got %d transmissions", n)
	}
	if s := q.Status(); s.SentToday != 1 {
		t.Errorf("expected only the successful send counted, got %+v", s)
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            100,
		IntervalBetweenSends: time.Millisecond,
		MaxConcurrentSends:   1,
	})

	var wg sync.WaitGroup
	for i := uint64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, err := q.Enqueue(context.Background(), &Entry{MessageID: id}); err != nil {
				t.Errorf("enqueue %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	waitIdle(t, q)

	seen := make(map[uint64]int)
	for _, r := range transmitter.Records() {
		seen[r.messageID]++
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 distinct transmissions, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %d transmitted %d times", id, n)
		}
	}
	if peak := atomic.LoadInt32(&transmitter.maxInFlight); peak != 1 {
		t.Errorf("expected a single consumer, got %d concurrent sends", peak)
	}
}

func TestQueue_Close(t *testing.T) {
	q, _, transmitter := newTestQueue(Config{
		MaxPerDay:            10,
		IntervalBetweenSends: time.Second,
		MaxConcurrentSends:   1,
	})

	block := make(chan struct{})
	transmitter.block[1] = block

	for i := uint64(1); i <= 3; i++ {
		if _, err := q.Enqueue(context.Background(), &Entry{MessageID: i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.Status().CurrentlyInFlight != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dropped, err := q.Close(ctx)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped entries, got %d", dropped)
	}

	if _, err := q.Enqueue(context.Background(), &Entry{MessageID: 9}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
	if n := len(transmitter.Records()); n != 1 {
		t.Errorf("expected only the in-flight entry transmitted, got %d", n)
	}
}

func TestQueue_ZeroIntervalKeepsOrder(t *testing.T) {
	transmitter := newFakeTransmitter(newFakeClock(time.Now()))
	q := New(context.Background(), Config{
		MaxPerDay:            10,
		IntervalBetweenSends: 0,
		MaxConcurrentSends:   1,
		Location:             time.UTC,
	}, transmitter)

	enqueueBatch(t, q, 1, 2, 3)
	waitIdle(t, q)

	records := transmitter.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 transmissions, got %d", len(records))
	}
	for i, r := range records {
		if r.messageID != uint64(i+1) {
			t.Errorf("expected message %d at %d, got %d", i+1, i, r.messageID)
		}
	}
	if peak := atomic.LoadInt32(&transmitter.maxInFlight); peak != 1 {
		t.Errorf("expected non-overlapping sends, got %d at once", peak)
	}
}
