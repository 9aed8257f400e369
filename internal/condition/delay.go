package condition

import (
	"sync"
	"time"
)

// delay runs a function after a duration unless it is cancelled or replaced first
type delay struct {
	env   *Env
	mu    sync.Mutex
	gen   int
	timer Stopper
}

func (d *delay) set(after time.Duration, f func()) {
	if after <= 0 {
		d.cancel()
		f()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.env.afterFunc(after, func() {
		d.mu.Lock()
		live := gen == d.gen
		if live {
			d.timer = nil
		}
		d.mu.Unlock()
		if live {
			f()
		}
	})
}

func (d *delay) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *delay) pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
