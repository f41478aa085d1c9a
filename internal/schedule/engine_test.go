package schedule

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/models"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) armed() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].d < out[j].d })
	return out
}

type recorder struct {
	mu     sync.Mutex
	calls  []string
	active string
}

func (r *recorder) Activate(p models.ActivePeriod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "+"+p.ClassID)
	r.active = p.ClassID
}

func (r *recorder) Deactivate(classID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "-"+classID)
	if r.active == classID {
		r.active = ""
	}
}

func newTestEngine() (*Engine, *recorder, *fakeClock) {
	rec := &recorder{}
	clock := &fakeClock{}
	e := NewEngine(rec, time.UTC)
	e.afterFunc = clock.AfterFunc
	return e, rec, clock
}

func TestEngineStartMidPeriod(t *testing.T) {
	e, rec, clock := newTestEngine()
	e.Load(timetable(), at(10, 30))

	if len(rec.calls) != 1 || rec.calls[0] != "+A" {
		t.Fatalf("calls = %v, want immediate +A", rec.calls)
	}

	armed := clock.armed()
	want := []time.Duration{90 * time.Minute, 210 * time.Minute, 270 * time.Minute}
	if len(armed) != len(want) {
		t.Fatalf("armed %d timers, want %d", len(armed), len(want))
	}
	for i, d := range want {
		if armed[i].d != d {
			t.Errorf("timer %d fires after %v, want %v", i, armed[i].d, d)
		}
	}

	for _, tm := range armed {
		tm.f()
	}
	got := rec.calls
	if len(got) != 4 || got[1] != "-A" || got[2] != "+B" || got[3] != "-B" {
		t.Errorf("calls = %v, want [+A -A +B -B]", got)
	}
}

func TestEngineBetweenAndAfterPeriods(t *testing.T) {
	e, rec, clock := newTestEngine()
	e.Load(timetable(), at(13, 0))
	if len(rec.calls) != 0 {
		t.Errorf("activated between periods: %v", rec.calls)
	}
	if n := len(clock.armed()); n != 2 {
		t.Errorf("armed %d timers at 13:00, want 2", n)
	}

	e2, rec2, clock2 := newTestEngine()
	e2.Load(timetable(), at(16, 0))
	if len(rec2.calls) != 0 || len(clock2.armed()) != 0 {
		t.Errorf("after last period: calls %v, timers %d", rec2.calls, len(clock2.armed()))
	}
}

func TestEngineApplyCancelsPreviousTimers(t *testing.T) {
	e, _, clock := newTestEngine()
	e.Load(timetable(), at(7, 0))
	first := clock.armed()
	if len(first) != 4 {
		t.Fatalf("armed %d timers, want 4", len(first))
	}

	e.Apply(Build(timetable(), at(7, 0), time.UTC), at(7, 0))
	for _, tm := range first {
		if !tm.stopped {
			t.Fatal("previous timer still armed after Apply")
		}
	}
	if len(clock.armed()) != 4 {
		t.Errorf("armed %d timers after re-apply, want 4", len(clock.armed()))
	}

	e.Stop()
	if len(clock.armed()) != 0 {
		t.Error("Stop left timers armed")
	}
}

func TestEngineReconcile(t *testing.T) {
	e, rec, _ := newTestEngine()
	e.Load(timetable(), at(7, 0))

	// missed start timer
	e.Reconcile(at(8, 30))
	if rec.active != "A" {
		t.Fatalf("active = %q after reconcile in period, want A", rec.active)
	}
	e.Reconcile(at(9, 0))
	if len(rec.calls) != 1 {
		t.Errorf("reconcile re-activated an already active class: %v", rec.calls)
	}

	// missed end timer
	e.Reconcile(at(12, 30))
	if rec.active != "" {
		t.Errorf("active = %q after period end, want none", rec.active)
	}

	next := at(9, 0).Add(24 * time.Hour)
	e.Reconcile(next)
	if s := e.Current(); !s.SameDay(next) || classOf(s.Current) != "A" {
		t.Errorf("schedule not rebuilt for new day: day %v current %q", s.Day, classOf(s.Current))
	}
	if rec.active != "A" {
		t.Errorf("active = %q on new day, want A", rec.active)
	}
}
