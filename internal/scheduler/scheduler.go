package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"homerules/internal/utils"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages time-based triggers keyed by the id of their owner
type Scheduler struct {
	cron      *cron.Cron
	jobMap    map[string]cron.EntryID // Maps owner ID to cron entry ID
	jobMapMux sync.RWMutex            // Protects jobMap
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobMap: make(map[string]cron.EntryID),
		logger: utils.Component("SCHEDULER"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("cron scheduler stopped")
}

// AddOrUpdate schedules fn under id, replacing any job already registered for it
func (s *Scheduler) AddOrUpdate(id, spec string, fn func()) error {
	s.Remove(id)

	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("cron", spec).Msg("failed to add schedule")
		return err
	}

	s.jobMapMux.Lock()
	s.jobMap[id] = entryID
	s.jobMapMux.Unlock()

	s.logger.Debug().Str("id", id).Str("cron", spec).Int("entry", int(entryID)).Msg("schedule added")
	return nil
}

// Remove removes the job registered under id
func (s *Scheduler) Remove(id string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[id]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, id)
		s.logger.Debug().Str("id", id).Int("entry", int(entryID)).Msg("schedule removed")
	}
}

// Count returns the number of currently scheduled jobs
func (s *Scheduler) Count() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}

var cronDays = map[string]string{
	"SUN": "0", "MON": "1", "TUE": "2", "WED": "3", "THU": "4", "FRI": "5", "SAT": "6",
}

// TimeToCron converts an "HH:MM" time and an optional "MON,WED" day list to a cron expression
func TimeToCron(hhmm, days string) (string, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &minute); err != nil {
		return "", fmt.Errorf("failed to parse time string %q: %w", hhmm, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid time values: hour=%d, minute=%d", hour, minute)
	}

	dow := "*"
	if strings.TrimSpace(days) != "" {
		var nums []string
		for _, d := range strings.Split(days, ",") {
			n, ok := cronDays[strings.ToUpper(strings.TrimSpace(d))]
			if !ok {
				return "", fmt.Errorf("bad day name %q", d)
			}
			nums = append(nums, n)
		}
		dow = strings.Join(nums, ",")
	}

	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow), nil
}
