package program

import (
	"sync"
	"time"

	"homerules/internal/condition"
	"homerules/internal/trigger"
	"homerules/internal/utils"

	"github.com/rs/zerolog"
)

// PassFunc evaluates the program once. changed holds the conditions reported since the
// previous pass; all is set when some notification asked for every device.
type PassFunc func(tctx *trigger.Context, changed condition.Set, all bool)

// Scheduler coalesces condition notifications into debounced evaluation passes.
// At most one pass is in flight; notifications arriving meanwhile join it.
type Scheduler struct {
	delay  time.Duration
	now    func() time.Time
	sleep  func(time.Duration)
	submit func(func())
	pass   PassFunc
	logger zerolog.Logger

	mu      sync.Mutex
	pending *pendingRun
	passes  int
}

type pendingRun struct {
	again   bool
	last    time.Time
	changed condition.Set
	all     bool
	tctx    *trigger.Context
}

func newPendingRun(now time.Time) *pendingRun {
	return &pendingRun{
		again:   true,
		last:    now,
		changed: make(condition.Set),
		tctx:    trigger.NewContext(),
	}
}

// NewScheduler creates a scheduler. submit must hand the function to another goroutine.
func NewScheduler(delay time.Duration, submit func(func()), pass PassFunc) *Scheduler {
	if submit == nil {
		submit = func(f func()) { go f() }
	}
	return &Scheduler{
		delay:  delay,
		now:    time.Now,
		sleep:  time.Sleep,
		submit: submit,
		pass:   pass,
		logger: utils.Component("SCHEDULER"),
	}
}

// SetClock replaces the time source and the sleep function
func (s *Scheduler) SetClock(now func() time.Time, sleep func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.sleep = sleep
}

// Notify records a change of c; a nil c requests a pass over every device.
// Trigger firings are added to the pending pass's trigger context.
func (s *Scheduler) Notify(c condition.Condition, isTrigger bool, props condition.PropertySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr := s.pending
	start := pr == nil
	if start {
		pr = newPendingRun(s.now())
		s.pending = pr
	}
	pr.again = true
	pr.last = s.now()
	if c == nil {
		pr.all = true
	} else {
		pr.changed[c] = true
		if isTrigger {
			pr.tctx.AddCondition(c, props)
		}
	}
	if start {
		s.logger.Debug().Msg("create pending run")
		s.submit(func() { s.execute(pr) })
	} else {
		s.logger.Debug().Msg("join pending run")
	}
}

// Pending reports whether a pass is scheduled or running
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Passes returns the number of passes run so far
func (s *Scheduler) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *Scheduler) execute(pr *pendingRun) {
	for {
		s.waitQuiet(pr)

		s.mu.Lock()
		changed, all, tctx := pr.changed, pr.all, pr.tctx
		pr.changed = make(condition.Set)
		pr.all = false
		pr.tctx = trigger.NewContext()
		pr.again = false
		s.passes++
		s.mu.Unlock()

		s.runPass(tctx, changed, all)

		s.mu.Lock()
		if !pr.again {
			s.pending = nil
			s.mu.Unlock()
			return
		}
		pr.last = s.now()
		s.mu.Unlock()
		s.logger.Debug().Msg("run again")
	}
}

// waitQuiet sleeps until no notification arrived for the debounce delay
func (s *Scheduler) waitQuiet(pr *pendingRun) {
	for {
		s.mu.Lock()
		wait := s.delay - s.now().Sub(pr.last)
		sleep := s.sleep
		s.mu.Unlock()
		if wait <= 0 {
			return
		}
		sleep(wait)
	}
}

func (s *Scheduler) runPass(tctx *trigger.Context, changed condition.Set, all bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("problem running program")
		}
	}()
	s.pass(tctx, changed, all)
}
