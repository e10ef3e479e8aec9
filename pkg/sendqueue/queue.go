// Package sendqueue paces outbound email: one consumption loop pops entries
// in FIFO order, keeps at most MaxConcurrentSends transmissions in flight,
// waits IntervalBetweenSends between sends and stops for the day once
// MaxPerDay sends succeeded.
package sendqueue

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

var (
	ErrDailyLimitExceeded = errors.New("daily send limit reached")
	ErrAlreadyQueued      = errors.New("message already queued")
	ErrQueueClosed        = errors.New("send queue closed")
	// ErrSkipped is returned by a Transmitter that decided not to send.
	ErrSkipped = errors.New("transmission skipped")
)

type Entry struct {
	MessageID        uint64
	CampaignID       uint64
	RecipientAddress string
	Subject          string
	HtmlBody         string
}

type Transmitter interface {
	Transmit(ctx context.Context, entry *Entry) error
}

type Config struct {
	MaxPerDay            int
	IntervalBetweenSends time.Duration
	MaxConcurrentSends   int
	Location             *time.Location
}

type EnqueueResult struct {
	Position        int   `json:"position"`
	EstimatedWaitMs int64 `json:"estimated_wait_ms"`
}

func (r *EnqueueResult) EstimatedWait() time.Duration {
	return time.Duration(r.EstimatedWaitMs) * time.Millisecond
}

type Status struct {
	QueueLength       int  `json:"queue_length"`
	Processing        bool `json:"processing"`
	SentToday         int  `json:"sent_today"`
	RemainingToday    int  `json:"remaining_today"`
	DailyLimit        int  `json:"daily_limit"`
	CurrentlyInFlight int  `json:"currently_in_flight"`
}

type Queue struct {
	cfg         Config
	clock       Clock
	transmitter Transmitter

	// ctx is handed to transmissions and outlives Close
	ctx  context.Context
	stop chan struct{}
	wg   sync.WaitGroup

	slots     chan struct{}
	slotFreed chan struct{}

	mu         sync.Mutex
	pending    []*Entry
	queued     map[uint64]struct{} // pending or in flight
	processing bool
	closed     bool
	inFlight   int
	sentToday  int
	day        string
	// lastStart is when the previous entry was popped, kept across idle
	// periods so a restarted loop still honors the interval
	lastStart time.Time
}

type Option func(q *Queue)

func WithClock(clock Clock) Option {
	return func(q *Queue) {
		q.clock = clock
	}
}

func New(ctx context.Context, cfg Config, transmitter Transmitter, opts ...Option) *Queue {
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	q := &Queue{
		cfg:         cfg,
		clock:       realClock{},
		transmitter: transmitter,
		ctx:         ctx,
		stop:        make(chan struct{}),
		slots:       make(chan struct{}, cfg.MaxConcurrentSends),
		slotFreed:   make(chan struct{}, 1),
		queued:      make(map[uint64]struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.day = q.dayOf(q.clock.Now())

	return q
}

func (q *Queue) Enqueue(ctx context.Context, entry *Entry) (*EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	q.rollover(q.clock.Now())

	if q.sentToday >= q.cfg.MaxPerDay {
		return nil, ErrDailyLimitExceeded
	}

	if _, ok := q.queued[entry.MessageID]; ok {
		return nil, ErrAlreadyQueued
	}

	q.pending = append(q.pending, entry)
	q.queued[entry.MessageID] = struct{}{}

	position := len(q.pending)

	if !q.processing {
		q.processing = true
		q.wg.Add(1)
		go q.run()
	}

	log.Ctx(ctx).Debug().Msgf("message enqueued, message_id: %d, position: %d", entry.MessageID, position)

	return &EnqueueResult{
		Position:        position,
		EstimatedWaitMs: (time.Duration(position) * q.cfg.IntervalBetweenSends).Milliseconds(),
	}, nil
}

func (q *Queue) Status() *Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	sentToday := q.sentToday
	if q.dayOf(q.clock.Now()) != q.day {
		sentToday = 0
	}

	remaining := q.cfg.MaxPerDay - sentToday
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		QueueLength:       len(q.pending),
		Processing:        q.processing,
		SentToday:         sentToday,
		RemainingToday:    remaining,
		DailyLimit:        q.cfg.MaxPerDay,
		CurrentlyInFlight: q.inFlight,
	}
}

// Close stops the consumption loop, drops pending entries and waits for
// in-flight transmissions until ctx is done. It returns the number of
// dropped entries.
func (q *Queue) Close(ctx context.Context) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, nil
	}
	q.closed = true
	dropped := len(q.pending)
	for _, entry := range q.pending {
		delete(q.queued, entry.MessageID)
	}
	q.pending = nil
	q.mu.Unlock()

	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	if dropped > 0 {
		log.Ctx(ctx).Warn().Msgf("send queue closed, %d entries dropped and left queued", dropped)
	}

	select {
	case <-done:
		return dropped, nil
	case <-ctx.Done():
		return dropped, ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		entry, ok := q.next()
		if !ok {
			return
		}

		q.wg.Add(1)
		go q.transmit(entry)
	}
}

// next blocks until the head entry may be sent and pops it with a slot
// held. Entries start at least IntervalBetweenSends apart, also when the
// previous one was popped by an earlier loop. It returns false once the
// loop should exit.
func (q *Queue) next() (*Entry, bool) {
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return nil, false
		}

		now := q.clock.Now()
		q.rollover(now)

		if q.sentToday+q.inFlight >= q.cfg.MaxPerDay {
			waitInFlight := q.inFlight > 0
			q.mu.Unlock()

			var ok bool
			if waitInFlight {
				ok = q.waitSlotFreed()
			} else {
				log.Ctx(q.ctx).Info().Msgf("daily send limit of %d reached, pausing until the next day", q.cfg.MaxPerDay)
				ok = q.sleep(untilNextDay(now, q.cfg.Location))
			}
			if !ok {
				q.setIdle()
				return nil, false
			}
			continue
		}

		if wait := q.lastStart.Add(q.cfg.IntervalBetweenSends).Sub(now); !q.lastStart.IsZero() && wait > 0 {
			q.mu.Unlock()
			if !q.sleep(wait) {
				q.setIdle()
				return nil, false
			}
			continue
		}
		q.mu.Unlock()

		select {
		case q.slots <- struct{}{}:
		case <-q.stop:
			q.setIdle()
			return nil, false
		}

		q.mu.Lock()
		if q.closed || len(q.pending) == 0 || q.sentToday+q.inFlight >= q.cfg.MaxPerDay {
			q.mu.Unlock()
			<-q.slots
			continue
		}

		entry := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight++
		q.lastStart = q.clock.Now()
		q.mu.Unlock()

		return entry, true
	}
}

func (q *Queue) transmit(entry *Entry) {
	defer q.wg.Done()

	err := q.transmitter.Transmit(q.ctx, entry)

	q.mu.Lock()
	q.inFlight--
	delete(q.queued, entry.MessageID)
	if err == nil {
		q.rollover(q.clock.Now())
		q.sentToday++
	}
	q.mu.Unlock()

	<-q.slots

	select {
	case q.slotFreed <- struct{}{}:
	default:
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrSkipped):
		log.Ctx(q.ctx).Info().Msgf("transmission skipped, message_id: %d, reason: %v", entry.MessageID, err)
	default:
		log.Ctx(q.ctx).Error().Msgf("transmission failed, message_id: %d, err: %v", entry.MessageID, err)
	}
}

func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}

	select {
	case <-q.clock.After(d):
		return true
	case <-q.stop:
		return false
	}
}

func (q *Queue) waitSlotFreed() bool {
	select {
	case <-q.slotFreed:
		return true
	case <-q.stop:
		return false
	}
}

func (q *Queue) setIdle() {
	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

// rollover resets the daily counter on a new calendar date. Callers hold mu.
func (q *Queue) rollover(now time.Time) {
	if day := q.dayOf(now); day != q.day {
		q.day = day
		q.sentToday = 0
	}
}

func (q *Queue) dayOf(t time.Time) string {
	return t.In(q.cfg.Location).Format(dayLayout)
}
