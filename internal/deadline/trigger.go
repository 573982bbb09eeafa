// Package deadline schedules one-shot callbacks against a bounded pool of
// reservations. Each key holds at most one reservation; rescheduling a key
// reuses its reservation and replaces the pending job.
package deadline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrReservationExhausted = errors.New("reservation capacity exhausted")
var ErrClosed = errors.New("trigger closed")

// Reservation is a slot taken from the pool. It stops being usable at
// ExpiresAt; a callback scheduled past that point is refused.
type Reservation struct {
	ID        string
	Key       string
	At        time.Time
	ExpiresAt time.Time
}

type slot struct {
	res Reservation
	job uuid.UUID
	gen uint64
}

type Trigger struct {
	mu       sync.Mutex
	sched    gocron.Scheduler
	log      *zap.Logger
	capacity int
	ttl      time.Duration
	now      func() time.Time
	slots    map[string]slot
	gen      uint64
	closed   bool
}

func New(log *zap.Logger, capacity int, ttl time.Duration) (*Trigger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if capacity <= 0 || ttl <= 0 {
		return nil, fmt.Errorf("deadline: capacity and ttl must be positive, got %d and %s", capacity, ttl)
	}

	sched, err := gocron.NewScheduler(
		gocron.WithLogger(gocronLogger{log.Sugar()}),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("deadline: new scheduler: %w", err)
	}
	sched.Start()

	return &Trigger{
		sched:    sched,
		log:      log,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		slots:    make(map[string]slot),
	}, nil
}

// Schedule arranges for fn to run once at at. fn runs on a scheduler
// goroutine after the slot has been given back.
func (t *Trigger) Schedule(key string, at time.Time, fn func()) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Reservation{}, ErrClosed
	}
	now := t.now()
	t.purgeLocked(now)

	res, replacing := t.slots[key]
	if replacing {
		t.removeJobLocked(res.job)
	} else {
		if len(t.slots) >= t.capacity {
			return Reservation{}, fmt.Errorf("%w: %d of %d in use", ErrReservationExhausted, len(t.slots), t.capacity)
		}
		res.res = Reservation{ID: uuid.NewString(), Key: key, ExpiresAt: now.Add(t.ttl)}
	}
	if at.After(res.res.ExpiresAt) {
		delete(t.slots, key)
		return Reservation{}, fmt.Errorf("%w: reservation for %s expires at %s, before %s",
			ErrReservationExhausted, key, res.res.ExpiresAt.Format(time.RFC3339), at.Format(time.RFC3339))
	}

	t.gen++
	gen := t.gen
	start := gocron.OneTimeJobStartImmediately()
	if at.After(now) {
		start = gocron.OneTimeJobStartDateTime(at)
	}

	job, err := t.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			if t.take(key, gen) {
				fn()
			}
		}),
		gocron.WithName(key),
	)
	if err != nil {
		delete(t.slots, key)
		return Reservation{}, fmt.Errorf("deadline: schedule %s: %w", key, err)
	}

	res.res.At = at
	res.job = job.ID()
	res.gen = gen
	t.slots[key] = res
	return res.res, nil
}

// Release gives back the reservation held for key, dropping its pending job.
func (t *Trigger) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[key]; ok {
		t.removeJobLocked(s.job)
		delete(t.slots, key)
	}
}

func (t *Trigger) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked(t.now())
	return len(t.slots)
}

func (t *Trigger) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	clear(t.slots)
	t.mu.Unlock()

	return t.sched.Shutdown()
}

// take frees the slot for key if it still belongs to generation gen.
func (t *Trigger) take(key string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok || s.gen != gen {
		return false
	}
	delete(t.slots, key)
	return true
}

func (t *Trigger) purgeLocked(now time.Time) {
	for key, s := range t.slots {
		if now.After(s.res.ExpiresAt) {
			t.log.Warn("reservation expired before its check ran", zap.String("key", key), zap.Time("expires_at", s.res.ExpiresAt))
			t.removeJobLocked(s.job)
			delete(t.slots, key)
		}
	}
}

func (t *Trigger) removeJobLocked(id uuid.UUID) {
	if err := t.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		t.log.Warn("remove scheduled job", zap.String("job", id.String()), zap.Error(err))
	}
}

type gocronLogger struct{ l *zap.SugaredLogger }

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Errorw(msg, args...) }
