// Package schedule resolves class timetables onto the current day and
// drives recognition on and off at period boundaries.
package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/your-org/rollcall/internal/models"
)

// Schedule is the set of periods of one day, sorted by start.
type Schedule struct {
	Day     time.Time
	Periods []models.ActivePeriod
	Current *models.ActivePeriod
	Next    *models.ActivePeriod
}

// Build flattens every class period onto the day of now in loc. Periods
// with unparsable times or ending before they start are skipped.
func Build(classes []models.ClassTimetable, now time.Time, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	s := &Schedule{Day: day}
	for _, c := range classes {
		for _, p := range c.Periods {
			start, err := atClock(day, p.StartTime)
			if err != nil {
				slog.Warn("skipping period", "class_id", c.ClassID, "start_time", p.StartTime, "error", err)
				continue
			}
			end, err := atClock(day, p.EndTime)
			if err != nil {
				slog.Warn("skipping period", "class_id", c.ClassID, "end_time", p.EndTime, "error", err)
				continue
			}
			if end.Before(start) {
				slog.Warn("skipping period ending before it starts",
					"class_id", c.ClassID, "start_time", p.StartTime, "end_time", p.EndTime)
				continue
			}
			s.Periods = append(s.Periods, models.ActivePeriod{
				ClassID:             c.ClassID,
				Start:               start,
				End:                 end,
				AutoAttendanceCheck: p.AutoAttendanceCheck,
				BoardCheckin:        p.BoardCheckin,
			})
		}
	}
	sort.SliceStable(s.Periods, func(i, j int) bool {
		return s.Periods[i].Start.Before(s.Periods[j].Start)
	})
	s.Refresh(now)
	return s
}

// Refresh recomputes Current and Next for now. When periods overlap the
// earliest-starting one is current.
func (s *Schedule) Refresh(now time.Time) {
	s.Current, s.Next = nil, nil
	for i := range s.Periods {
		p := &s.Periods[i]
		if s.Current == nil && p.Contains(now) {
			s.Current = p
		}
		if s.Next == nil && p.Start.After(now) {
			s.Next = p
		}
	}
}

// SameDay reports whether t falls on the schedule's day.
func (s *Schedule) SameDay(t time.Time) bool {
	t = t.In(s.Day.Location())
	y, m, d := t.Date()
	sy, sm, sd := s.Day.Date()
	return y == sy && m == sm && d == sd
}

var clockLayouts = []string{"15:04:05", "15:04"}

func atClock(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, clock)
		if err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, day.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid clock time %q", clock)
}
