package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homerules/internal/condition"
	"homerules/internal/db"
	"homerules/internal/device"
	"homerules/internal/mqtt"
	"homerules/internal/program"
	"homerules/internal/rule"
	"homerules/internal/scheduler"
	"homerules/internal/taskqueue"
	"homerules/internal/utils"
	"homerules/internal/workers"

	"github.com/rs/zerolog"
)

// DeviceStore provides device definitions and keeps their last state
type DeviceStore interface {
	LoadDevices(ctx context.Context) ([]*device.Device, map[string]map[string]any, error)
	UpdateDeviceState(ctx context.Context, id string, state json.RawMessage) error
}

// StateCache keeps device states across restarts
type StateCache interface {
	Save(ctx context.Context, deviceID string, state map[string]any) error
	LoadAll(ctx context.Context) (map[string]map[string]any, error)
}

// StateSource delivers device state reports
type StateSource interface {
	SubscribeStates(h mqtt.StateHandler) error
}

// AuditQueue records fired rules
type AuditQueue interface {
	EnqueueRuleApplied(ctx context.Context, p taskqueue.RuleAppliedPayload) error
}

// CalendarRefresher is a calendar source that reloads its entries
type CalendarRefresher interface {
	Refresh(ctx context.Context) error
}

const calendarJobID = "calendar-refresh"

// Options configures an engine. Nil stores are skipped.
type Options struct {
	ProgramID string
	Debounce  time.Duration
	Workers   int

	Devices   DeviceStore
	Objects   program.ObjectStore
	Cache     StateCache
	States    StateSource
	Commander rule.Commander
	Audit     AuditQueue
	Calendar  condition.CalendarSource
}

// Engine is the core control engine
type Engine struct {
	opts     Options
	registry *device.Registry
	program  *program.Program
	pool     *workers.Pool
	cron     *scheduler.Scheduler
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// NewEngine creates a new engine instance
func NewEngine(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		registry: device.NewRegistry(),
		pool:     workers.New(opts.Workers),
		cron:     scheduler.NewScheduler(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   utils.Component("ENGINE"),
	}
	e.program = program.New(program.Config{
		ID: opts.ProgramID,
		Env: &condition.Env{
			Devices:  e.registry,
			Cron:     e.cron,
			Calendar: opts.Calendar,
			Now:      e.registry.Now,
		},
		Commander: opts.Commander,
		Debounce:  opts.Debounce,
		Submit:    e.pool.Submit,
	})
	return e
}

// Registry returns the device registry
func (e *Engine) Registry() *device.Registry { return e.registry }

// Program returns the rule program
func (e *Engine) Program() *program.Program { return e.program }

// Start loads devices and rules, then begins listening for device states
func (e *Engine) Start(ctx context.Context) error {
	if err := e.loadDevices(ctx); err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	e.cron.Start()
	if err := e.startCalendar(ctx); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}

	if e.opts.Objects != nil {
		err := e.program.Load(ctx, e.opts.Objects)
		switch {
		case errors.Is(err, db.ErrNotFound):
			e.logger.Info().Str("program", e.program.ID()).Msg("no stored program, starting empty")
		case err != nil:
			return err
		default:
			e.logger.Info().Int("rules", len(e.program.Rules())).Msg("program loaded")
		}
		e.program.AddProgramListener(func() { e.pool.Submit(e.save) })
	}
	if e.opts.Audit != nil {
		e.program.AddApplyListener(e.onApply)
	}
	if e.opts.States != nil {
		if err := e.opts.States.SubscribeStates(e.onDeviceUpdate); err != nil {
			return fmt.Errorf("subscribe states: %w", err)
		}
	}
	e.program.Scheduler().Notify(nil, false, nil)
	e.logger.Info().Int("devices", len(e.registry.Devices())).Msg("engine started")
	return nil
}

// Stop stops the engine
func (e *Engine) Stop() {
	e.program.Close()
	e.cron.Stop()
	e.cancel()
	e.pool.Close()
	e.logger.Info().Msg("engine stopped")
}

// startCalendar loads the calendar and keeps it fresh every five minutes
func (e *Engine) startCalendar(ctx context.Context) error {
	if e.opts.Calendar == nil {
		e.logger.Warn().Msg("no calendar source, calendar conditions stay invalid")
		return nil
	}
	r, ok := e.opts.Calendar.(CalendarRefresher)
	if !ok {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	return e.cron.AddOrUpdate(calendarJobID, "*/5 * * * *", func() {
		if err := r.Refresh(e.ctx); err != nil {
			e.logger.Error().Err(err).Msg("calendar refresh failed")
		}
	})
}

func (e *Engine) loadDevices(ctx context.Context) error {
	if e.opts.Devices == nil {
		return nil
	}
	devices, states, err := e.opts.Devices.LoadDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		e.registry.AddDevice(d)
	}
	for id, st := range states {
		e.registry.UpdateState(id, st)
	}
	if e.opts.Cache != nil {
		cached, err := e.opts.Cache.LoadAll(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("state cache unavailable")
		}
		for id, st := range cached {
			e.registry.UpdateState(id, st)
		}
	}
	e.logger.Debug().Int("devices", len(devices)).Int("states", len(states)).Msg("devices loaded")
	return nil
}

// onDeviceUpdate handles device state reports
func (e *Engine) onDeviceUpdate(deviceID string, state map[string]any) {
	changed := e.registry.UpdateState(deviceID, state)
	if len(changed) == 0 {
		return
	}
	e.logger.Debug().Str("device", deviceID).Strs("changed", changed).Msg("device state changed")
	current := e.registry.State(deviceID)
	e.pool.Submit(func() { e.persistState(deviceID, current) })
}

func (e *Engine) persistState(deviceID string, state map[string]any) {
	if e.opts.Cache != nil {
		if err := e.opts.Cache.Save(e.ctx, deviceID, state); err != nil {
			e.logger.Warn().Err(err).Str("device", deviceID).Msg("error caching state")
		}
	}
	if e.opts.Devices != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return
		}
		if err := e.opts.Devices.UpdateDeviceState(e.ctx, deviceID, raw); err != nil {
			e.logger.Warn().Err(err).Str("device", deviceID).Msg("error storing state")
		}
	}
}

func (e *Engine) save() {
	if err := e.program.Save(e.ctx, e.opts.Objects); err != nil {
		e.logger.Error().Err(err).Msg("error saving program")
	}
}

// onApply runs under the program lock, so the enqueue happens on the pool
func (e *Engine) onApply(r *rule.Rule, props condition.PropertySet) {
	p := taskqueue.RuleAppliedPayload{
		ProgramID: e.program.ID(),
		RuleID:    r.ID,
		RuleName:  r.DisplayLabel(),
		DeviceID:  r.DeviceID,
		Props:     props.Clone(),
		AppliedAt: e.registry.Now(),
	}
	e.pool.Submit(func() {
		if err := e.opts.Audit.EnqueueRuleApplied(e.ctx, p); err != nil {
			e.logger.Warn().Err(err).Str("rule", p.RuleID).Msg("error recording rule application")
		}
	})
}
