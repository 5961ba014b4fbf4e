package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

// ManualAddOutcome is the typed result of a manual calendar addition.
// Re-adding an existing date is reported, never silently swallowed.
type ManualAddOutcome int

const (
	ManualAdded ManualAddOutcome = iota
	ManualAlreadyPresent
	ManualRenamed
)

type fixedHoliday struct {
	month time.Month
	day   int
	name  string
}

type movingHoliday struct {
	month   time.Month
	weekday time.Weekday
	// nth is 1-based from the start of the month; -1 means last.
	nth  int
	name string
}

var fixedHolidays = []fixedHoliday{
	{time.January, 1, "New Year's Day"},
	{time.June, 19, "Juneteenth"},
	{time.July, 4, "Independence Day"},
	{time.November, 11, "Veterans Day"},
	{time.December, 25, "Christmas Day"},
}

var movingHolidays = []movingHoliday{
	{time.January, time.Monday, 3, "Martin Luther King Jr. Day"},
	{time.February, time.Monday, 3, "Presidents' Day"},
	{time.May, time.Monday, -1, "Memorial Day"},
	{time.September, time.Monday, 1, "Labor Day"},
	{time.October, time.Monday, 2, "Indigenous Peoples' Day"},
	{time.November, time.Thursday, 4, "Thanksgiving"},
}

// Calendar is the process-wide set of non-charging dates: fixed
// holidays, derived moving holidays, and manual additions. It is a
// value constructed at startup and carried by the services that need
// it; nothing reaches for module-level state.
type Calendar struct {
	mu     sync.RWMutex
	manual map[string]string
}

// NewCalendar seeds manual holidays from configuration entries of the
// form "2006-01-02=Name".
func NewCalendar(manualEntries []string) (*Calendar, error) {
	c := &Calendar{manual: make(map[string]string)}
	for _, entry := range manualEntries {
		parts := strings.SplitN(entry, "=", 2)
		date := strings.TrimSpace(parts[0])
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid manual holiday entry "+entry)
		}
		name := "Studio Holiday"
		if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
			name = strings.TrimSpace(parts[1])
		}
		c.manual[parsed.Format("2006-01-02")] = name
	}
	return c, nil
}

// AddManual registers a specific-date holiday, idempotent on the
// (year, month, day). Re-adding under a different name renames the
// entry and reports it so the caller can decide what to surface.
func (c *Calendar) AddManual(year int, month time.Month, day int, name string) ManualAddOutcome {
	key := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.manual[key]
	if ok && existing == name {
		return ManualAlreadyPresent
	}
	c.manual[key] = name
	if ok {
		return ManualRenamed
	}
	return ManualAdded
}

// IsHoliday reports whether the date is non-charging.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.NameOf(t)
	return ok
}

// NameOf returns the holiday name for a date, if any. Manual entries
// are authoritative and override derived names.
func (c *Calendar) NameOf(t time.Time) (string, bool) {
	key := t.Format("2006-01-02")
	c.mu.RLock()
	name, ok := c.manual[key]
	c.mu.RUnlock()
	if ok {
		return name, true
	}
	for _, h := range fixedHolidays {
		if t.Month() == h.month && t.Day() == h.day {
			return h.name, true
		}
	}
	for _, h := range movingHolidays {
		if t.Month() != h.month || t.Weekday() != h.weekday {
			continue
		}
		if h.nth == -1 {
			if t.Day() > daysIn(t.Year(), h.month)-7 {
				return h.name, true
			}
			continue
		}
		if (t.Day()-1)/7+1 == h.nth {
			return h.name, true
		}
	}
	return "", false
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
