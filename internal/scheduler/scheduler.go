// Package scheduler drives all of a session's feeds on a shared hourly
// request budget. Each registered feed gets one shot per tick and all pending
// shots drain together, so the user sees every timeline refresh at once; the
// tick interval grows linearly with the number of registered feeds so total
// load never exceeds the budget.
package scheduler

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MaxReqsPerHour is the self-imposed request budget, kept well below the
// remote cap of 150 to leave room for interactive commands.
const MaxReqsPerHour = 80

// RefreshDelay is the base interval of one request slot.
const RefreshDelay = time.Hour / MaxReqsPerHour

// Scheduler coordinates periodic refreshes. All methods must be called from
// the session event loop; timer expirations are marshalled back onto it
// through the Post function.
type Scheduler struct {
	clock clockwork.Clock
	delay time.Duration
	post  func(func())
	log   *zap.Logger

	handles []*Handle
	running bool
	timer   clockwork.Timer
	nextAt  time.Time
	epoch   int
}

// Handle is one registered feed's slot in the scheduler.
type Handle struct {
	s         *Scheduler
	fn        func()
	pending   bool
	destroyed bool
}

// New builds a stopped scheduler. post schedules a function on the session
// event loop; clock is real in production and fake under test.
func New(clock clockwork.Clock, post func(func()), log *zap.Logger) *Scheduler {
	return &Scheduler{
		clock: clock,
		delay: RefreshDelay,
		post:  post,
		log:   log.Named("scheduler"),
	}
}

// Register adds a callable to the active set. It joins the next tick.
func (s *Scheduler) Register(fn func()) *Handle {
	h := &Handle{s: s, fn: fn, pending: true}
	s.handles = append(s.handles, h)
	return h
}

// Resched marks the handle to run on the next tick. Calls between two ticks
// coalesce into one shot.
func (h *Handle) Resched() {
	if h.destroyed {
		return
	}
	h.pending = true
}

// Destroy removes the handle from the active set; it will never fire again.
func (h *Handle) Destroy() {
	h.destroyed = true
	for i, other := range h.s.handles {
		if other == h {
			h.s.handles = append(h.s.handles[:i], h.s.handles[i+1:]...)
			break
		}
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	return s.running
}

// Start begins ticking. The first tick fires immediately.
func (s *Scheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	s.scheduleTick(0)
}

// Stop cancels any pending tick.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Interval returns the current time between ticks: one request slot per
// registered feed.
func (s *Scheduler) Interval() time.Duration {
	n := len(s.handles)
	if n < 1 {
		n = 1
	}
	return s.delay * time.Duration(n)
}

// WaitRateLimit pushes the next tick out to the remote-reported reset time,
// when that is further away than one base request slot. Called by feeds when
// the API signals quota exhaustion.
func (s *Scheduler) WaitRateLimit(reset time.Time) {
	if !s.running {
		return
	}
	wait := reset.Sub(s.clock.Now())
	if wait <= s.delay {
		return
	}
	s.log.Info("rate limit exhausted, backing off",
		zap.Time("reset", reset), zap.Duration("wait", wait))
	if s.timer != nil {
		s.timer.Stop()
	}
	s.scheduleTick(wait)
}

func (s *Scheduler) scheduleTick(d time.Duration) {
	epoch := s.epoch
	s.nextAt = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() {
		s.post(func() { s.tick(epoch) })
	})
}

// tick drains one shot per pending handle, then arms the next tick. Shots
// snapshot the handle list first so a handle destroyed by an earlier shot in
// the same drain is skipped.
func (s *Scheduler) tick(epoch int) {
	if !s.running || epoch != s.epoch {
		return
	}
	batch := make([]*Handle, len(s.handles))
	copy(batch, s.handles)
	for _, h := range batch {
		if h.destroyed || !h.pending {
			continue
		}
		h.pending = false
		h.fn()
	}
	s.scheduleTick(s.Interval())
}
