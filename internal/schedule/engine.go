package schedule

import (
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/rollcall/internal/models"
)

// Activator receives period boundaries.
type Activator interface {
	Activate(p models.ActivePeriod)
	Deactivate(classID string)
}

type Timer interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Engine arms one-shot timers for the periods of the current schedule.
type Engine struct {
	target    Activator
	loc       *time.Location
	afterFunc AfterFunc

	mu       sync.Mutex
	classes  []models.ClassTimetable
	schedule *Schedule
	timers   []Timer
	active   string
}

func NewEngine(target Activator, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{target: target, loc: loc, afterFunc: realAfterFunc}
}

// Load builds the schedule for now from classes and starts it.
func (e *Engine) Load(classes []models.ClassTimetable, now time.Time) *Schedule {
	s := Build(classes, now, e.loc)
	e.mu.Lock()
	e.classes = classes
	e.mu.Unlock()
	e.Start(s, now)
	return s
}

// Start applies s and activates its current period right away.
func (e *Engine) Start(s *Schedule, now time.Time) {
	e.Apply(s, now)
	if s.Current != nil {
		e.activate(*s.Current)
	}
}

// Apply cancels every armed timer and arms start and end timers for the
// periods of s that have not ended yet.
func (e *Engine) Apply(s *Schedule, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.schedule = s

	for _, p := range s.Periods {
		if !p.End.After(now) {
			continue
		}
		if p.Start.After(now) {
			e.timers = append(e.timers, e.afterFunc(p.Start.Sub(now), func() { e.activate(p) }))
		}
		classID := p.ClassID
		e.timers = append(e.timers, e.afterFunc(p.End.Sub(now), func() { e.deactivate(classID) }))
	}
	slog.Info("schedule applied", "periods", len(s.Periods), "timers", len(e.timers))
}

// Reconcile corrects drift: it rebuilds the schedule on a new day and
// re-asserts the activation state the schedule implies for now.
func (e *Engine) Reconcile(now time.Time) {
	e.mu.Lock()
	s, classes := e.schedule, e.classes
	e.mu.Unlock()
	if s == nil {
		return
	}

	if !s.SameDay(now) {
		slog.Info("day changed, rebuilding schedule")
		s = Build(classes, now, e.loc)
		e.Apply(s, now)
	} else {
		e.mu.Lock()
		s.Refresh(now)
		e.mu.Unlock()
	}

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	switch {
	case s.Current != nil && s.Current.ClassID != active:
		e.activate(*s.Current)
	case s.Current == nil && active != "":
		e.deactivate(active)
	}
}

// Current returns a copy of the applied schedule, or nil before the first
// Apply.
func (e *Engine) Current() *Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.schedule == nil {
		return nil
	}
	cp := *e.schedule
	return &cp
}

// Stop cancels every armed timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}

func (e *Engine) activate(p models.ActivePeriod) {
	e.mu.Lock()
	e.active = p.ClassID
	e.mu.Unlock()
	slog.Info("period started", "class_id", p.ClassID, "end", p.End)
	e.target.Activate(p)
}

func (e *Engine) deactivate(classID string) {
	e.mu.Lock()
	if e.active == classID {
		e.active = ""
	}
	e.mu.Unlock()
	slog.Info("period ended", "class_id", classID)
	e.target.Deactivate(classID)
}
