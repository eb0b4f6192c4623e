package app

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
)

type deadlineState int

const (
	deadlineArmed deadlineState = iota
	deadlineFiring
	deadlineDone
)

type deadline struct {
	end   time.Time
	timer clockwork.Timer
	state deadlineState
}

// ExpireFunc is called when a session deadline passes. A non-nil error keeps
// the deadline armed so the next sweep retries it.
type ExpireFunc func(ctx context.Context, key domain.SessionKey) error

// DeadlineService tracks one absolute end time per session. Remaining time is
// always computed from that end time, so every member of a room sees the same
// countdown however often they reconnect.
type DeadlineService struct {
	clock    clockwork.Clock
	store    DeadlineStore
	sweep    time.Duration
	onExpire ExpireFunc

	mu      sync.Mutex
	entries map[domain.SessionKey]*deadline
}

func NewDeadlineService(clock clockwork.Clock, store DeadlineStore, sweep time.Duration, onExpire ExpireFunc) *DeadlineService {
	if sweep <= 0 {
		sweep = time.Second
	}
	return &DeadlineService{
		clock:    clock,
		store:    store,
		sweep:    sweep,
		onExpire: onExpire,
		entries:  make(map[domain.SessionKey]*deadline),
	}
}

// Start fixes the end time of key at now+duration unless a deadline already
// exists, locally or in the store, and returns the effective end time.
func (d *DeadlineService) Start(ctx context.Context, key domain.SessionKey, duration time.Duration) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		return e.end, nil
	}

	end := d.clock.Now().Add(duration)
	if d.store != nil {
		claimed, err := d.store.Claim(ctx, key, end)
		if err != nil {
			log.Warn().Err(err).Str("session", key.String()).Msg("deadline store unavailable, using local deadline")
		} else {
			end = claimed
		}
	}

	e := &deadline{end: end}
	d.entries[key] = e
	wait := end.Sub(d.clock.Now())
	if wait <= 0 {
		go d.fire(key)
	} else {
		e.timer = d.clock.AfterFunc(wait, func() { d.fire(key) })
	}

	log.Debug().
		Str("session", key.String()).
		Time("deadline", end).
		Dur("duration", wait).
		Msg("deadline scheduled")
	return end, nil
}

// Remaining returns the time left for key, zero once expired or unknown.
func (d *DeadlineService) Remaining(key domain.SessionKey) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return 0
	}
	left := e.end.Sub(d.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds rounds Remaining up to whole seconds.
func (d *DeadlineService) RemainingSeconds(key domain.SessionKey) int {
	return int(math.Ceil(d.Remaining(key).Seconds()))
}

// Cancel stops the timer for key and forgets its deadline.
func (d *DeadlineService) Cancel(key domain.SessionKey) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.entries, key)
	}
	d.mu.Unlock()
	if !ok || d.store == nil {
		return
	}
	if err := d.store.Clear(context.Background(), key); err != nil {
		log.Warn().Err(err).Str("session", key.String()).Msg("failed to clear stored deadline")
	}
}

// Run sweeps for deadlines that passed without a successful expiry until ctx
// is done.
func (d *DeadlineService) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			d.sweepDue()
		}
	}
}

func (d *DeadlineService) sweepDue() {
	now := d.clock.Now()
	var due []domain.SessionKey
	d.mu.Lock()
	for key, e := range d.entries {
		if e.state == deadlineArmed && !now.Before(e.end) {
			due = append(due, key)
		}
	}
	d.mu.Unlock()
	for _, key := range due {
		d.fire(key)
	}
}

func (d *DeadlineService) fire(key domain.SessionKey) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.state != deadlineArmed {
		d.mu.Unlock()
		return
	}
	e.state = deadlineFiring
	d.mu.Unlock()

	err := d.onExpire(context.Background(), key)

	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.entries[key]; !ok || current != e {
		return
	}
	if err != nil {
		e.state = deadlineArmed
		log.Error().Err(err).Str("session", key.String()).Msg("deadline expiry failed, will retry on next sweep")
		return
	}
	e.state = deadlineDone
}
