package rule

import (
	"context"
	"sync"

	"homerules/internal/condition"

	"github.com/rs/zerolog"
)

type runnerKey struct{}

// Runner executes one firing of a rule's actions in order and can be aborted between actions
type Runner struct {
	rule   *Rule
	props  condition.PropertySet
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.Mutex
	aborted bool
	err     error
	onDone  []func(*Runner)
}

func newRunner(parent context.Context, r *Rule, props condition.PropertySet) *Runner {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	rr := &Runner{
		rule:   r,
		props:  props,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger,
	}
	rr.ctx = context.WithValue(ctx, runnerKey{}, rr)
	return rr
}

// Rule returns the rule being executed
func (rr *Runner) Rule() *Rule { return rr.rule }

// Props returns the property set the actions receive
func (rr *Runner) Props() condition.PropertySet { return rr.props }

// OnDone registers a callback run after the last action
func (rr *Runner) OnDone(fn func(*Runner)) {
	rr.mu.Lock()
	rr.onDone = append(rr.onDone, fn)
	rr.mu.Unlock()
}

// Run performs the actions. An action error skips the rest and is recorded.
func (rr *Runner) Run() {
	defer rr.finish()
	for _, a := range rr.rule.Actions {
		if rr.Aborted() {
			rr.logger.Info().Str("rule", rr.rule.DisplayLabel()).Msg("rule aborted")
			return
		}
		rr.logger.Debug().Str("rule", rr.rule.DisplayLabel()).Str("action", a.Label()).Msg("apply rule action")
		if err := a.Perform(rr.ctx, rr.props); err != nil {
			if rr.Aborted() {
				rr.logger.Info().Str("rule", rr.rule.DisplayLabel()).Str("action", a.Label()).Msg("rule aborted during action")
				return
			}
			ae := &ActionError{Action: a.Label(), Err: err}
			rr.mu.Lock()
			rr.err = ae
			rr.mu.Unlock()
			rr.logger.Error().Err(err).Str("rule", rr.rule.DisplayLabel()).Str("action", a.Label()).Msg("action failed")
			return
		}
	}
}

func (rr *Runner) finish() {
	rr.cancel()
	rr.rule.runnerDone(rr)
	rr.mu.Lock()
	cbs := rr.onDone
	rr.mu.Unlock()
	close(rr.done)
	for _, fn := range cbs {
		fn(rr)
	}
}

// Abort stops the remaining actions. The context of the action in progress is only
// cancelled when the request does not come from that action itself.
func (rr *Runner) Abort(ctx context.Context) {
	rr.mu.Lock()
	rr.aborted = true
	rr.mu.Unlock()
	if ctx != nil {
		if self, ok := ctx.Value(runnerKey{}).(*Runner); ok && self == rr {
			return
		}
	}
	rr.cancel()
}

// Aborted reports whether abort was requested
func (rr *Runner) Aborted() bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.aborted
}

// Done is closed once the runner has finished
func (rr *Runner) Done() <-chan struct{} { return rr.done }

// Err returns the recorded action failure
func (rr *Runner) Err() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.err
}

// Wait blocks until the runner finishes or ctx ends
func (rr *Runner) Wait(ctx context.Context) error {
	select {
	case <-rr.done:
		return rr.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
