package condition

import (
	"sort"
	"sync"
	"time"

	"homerules/internal/device"
	"homerules/internal/utils"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward, running due timers in time order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

type fakeCron struct {
	mu   sync.Mutex
	jobs map[string]func()
	spec map[string]string
}

func newFakeCron() *fakeCron {
	return &fakeCron{jobs: make(map[string]func()), spec: make(map[string]string)}
}

func (f *fakeCron) AddOrUpdate(id, spec string, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = fn
	f.spec[id] = spec
	return nil
}

func (f *fakeCron) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	delete(f.spec, id)
}

func (f *fakeCron) job(id string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rslt []EventKind
	for _, ev := range r.events {
		rslt = append(rslt, ev.Kind)
	}
	return rslt
}

type fixture struct {
	reg   *device.Registry
	clock *fakeClock
	cron  *fakeCron
	env   *Env
}

var monday9 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		reg:   device.NewRegistry(),
		clock: newFakeClock(monday9),
		cron:  newFakeCron(),
	}
	f.reg.SetClock(f.clock.Now)
	f.reg.AddDevice(&device.Device{
		ID:      "thermo",
		Name:    "Thermostat",
		Enabled: true,
		Parameters: []*device.Parameter{
			{Name: "temp", Type: device.TypeReal},
			{Name: "mode", Type: device.TypeEnum, Values: []string{"heat", "cool", "off"}},
		},
	})
	f.reg.AddDevice(&device.Device{
		ID:      "door",
		Enabled: true,
		Parameters: []*device.Parameter{
			{Name: "open", Type: device.TypeBoolean},
		},
	})
	f.env = &Env{
		Devices:   f.reg,
		Cron:      f.cron,
		Now:       f.clock.Now,
		AfterFunc: f.clock.AfterFunc,
	}
	return f
}

func ref(dev, param string) utils.Fields {
	return utils.Fields{"DEVICE": dev, "PARAMETER": param}
}

func doorOpen(trigger bool) utils.Fields {
	return utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("door", "open"), "STATE": "on", "TRIGGER": trigger}
}
