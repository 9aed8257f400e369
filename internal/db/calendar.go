package db

import (
	"context"
	"sync"
	"time"

	"homerules/internal/utils"

	"github.com/rs/zerolog"
)

// CalendarEntry is one row of the calendar_events table
type CalendarEntry struct {
	Calendar    string
	Title       string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
}

// Fields returns the keys calendar conditions match against
func (e CalendarEntry) Fields() map[string]string {
	return map[string]string{
		"CALENDAR":    e.Calendar,
		"TITLE":       e.Title,
		"WHERE":       e.Location,
		"DESCRIPTION": e.Description,
	}
}

// Calendar serves calendar conditions from an in-memory copy of upcoming entries
type Calendar struct {
	db      *DB
	horizon time.Duration
	mu      sync.RWMutex
	entries []CalendarEntry
	logger  zerolog.Logger
}

// Calendar returns a calendar source backed by this database; call Refresh to fill it
func (d *DB) Calendar() *Calendar {
	return &Calendar{db: d, horizon: 24 * time.Hour, logger: utils.Component("CALENDAR")}
}

// Refresh reloads the entries overlapping the next horizon
func (c *Calendar) Refresh(ctx context.Context) error {
	now := time.Now()
	rows, err := c.db.pool.Query(ctx,
		"SELECT calendar, title, location, description, starts_at, ends_at FROM calendar_events WHERE ends_at > $1 AND starts_at < $2 ORDER BY starts_at",
		now, now.Add(c.horizon))
	if err != nil {
		return err
	}
	defer rows.Close()

	var entries []CalendarEntry
	for rows.Next() {
		var e CalendarEntry
		if err := rows.Scan(&e.Calendar, &e.Title, &e.Location, &e.Description, &e.Start, &e.End); err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.SetEntries(entries)
	c.logger.Debug().Int("entries", len(entries)).Msg("calendar refreshed")
	return nil
}

// SetEntries replaces the cached entries
func (c *Calendar) SetEntries(entries []CalendarEntry) {
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// ActiveEvents returns the cached entries running at t
func (c *Calendar) ActiveEvents(t time.Time) []map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var rslt []map[string]string
	for _, e := range c.entries {
		if !t.Before(e.Start) && t.Before(e.End) {
			rslt = append(rslt, e.Fields())
		}
	}
	return rslt
}
