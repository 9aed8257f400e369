package program

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homerules/internal/condition"
	"homerules/internal/device"
	"homerules/internal/utils"
)

type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) submit(f func()) {
	q.mu.Lock()
	q.fns = append(q.fns, f)
	q.mu.Unlock()
}

func (q *queue) next() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fns) == 0 {
		return nil
	}
	f := q.fns[0]
	q.fns = q.fns[1:]
	return f
}

func (q *queue) drain() {
	for f := q.next(); f != nil; f = q.next() {
		f()
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type command struct {
	device string
	values map[string]any
}

type commander struct {
	mu    sync.Mutex
	calls []command
	hook  func(ctx context.Context, deviceID string) error
}

func (c *commander) SendCommand(ctx context.Context, deviceID string, values map[string]any) error {
	c.mu.Lock()
	c.calls = append(c.calls, command{device: deviceID, values: values})
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, deviceID)
	}
	return nil
}

func (c *commander) reset() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

func (c *commander) sent() []command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command(nil), c.calls...)
}

type memStore struct {
	objs map[string]utils.Fields
}

func (m *memStore) LoadObject(_ context.Context, id string) (utils.Fields, error) {
	obj, ok := m.objs[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	return obj, nil
}

func (m *memStore) SaveObject(_ context.Context, id string, obj utils.Fields) error {
	m.objs[id] = obj
	return nil
}

var monday9 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg   *device.Registry
	cmd   *commander
	queue *queue
	prog  *Program
}

func newFixture() *fixture {
	reg := device.NewRegistry()
	now := func() time.Time { return monday9 }
	reg.SetClock(now)
	for _, id := range []string{"lamp", "fan", "door", "thermo"} {
		reg.AddDevice(&device.Device{
			ID:      id,
			Enabled: true,
			Parameters: []*device.Parameter{
				{Name: "open", Type: device.TypeBoolean},
				{Name: "level", Type: device.TypeInteger},
				{Name: "temp", Type: device.TypeReal},
			},
		})
	}
	f := &fixture{reg: reg, cmd: &commander{}, queue: &queue{}}
	f.prog = New(Config{
		ID:        "test",
		Env:       &condition.Env{Devices: reg, Now: now},
		Commander: f.cmd,
		Submit:    f.queue.submit,
	})
	return f
}

func (f *fixture) rule(id string, prio float64, dev string, conds ...utils.Fields) utils.Fields {
	if len(conds) == 0 {
		conds = []utils.Fields{{"TYPE": "Always"}}
	}
	return utils.Fields{
		"ID":         id,
		"NAME":       id,
		"PRIORITY":   prio,
		"CONDITIONS": conds,
		"ACTIONS":    []utils.Fields{{"DEVICE": dev, "VALUES": utils.Fields{"level": id}}},
	}
}

func (f *fixture) add(m utils.Fields) error {
	r, err := f.prog.CreateRule(m)
	if err != nil {
		return err
	}
	err = f.prog.AddRule(r)
	f.queue.drain()
	return err
}

func doorOpen(trigger bool) utils.Fields {
	return utils.Fields{
		"TYPE":     "Parameter",
		"PARAMREF": utils.Fields{"DEVICE": "door", "PARAMETER": "open"},
		"STATE":    "on",
		"TRIGGER":  trigger,
	}
}

func tempRange() utils.Fields {
	return utils.Fields{
		"TYPE":     "Range",
		"PARAMREF": utils.Fields{"DEVICE": "thermo", "PARAMETER": "temp"},
		"LOW":      10,
		"HIGH":     20,
	}
}
