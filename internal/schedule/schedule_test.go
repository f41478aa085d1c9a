package schedule

import (
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/models"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 9, 1, hour, min, 0, 0, time.UTC)
}

func timetable() []models.ClassTimetable {
	return []models.ClassTimetable{
		{ClassID: "B", Periods: []models.PeriodSlot{{StartTime: "14:00", EndTime: "15:00"}}},
		{ClassID: "A", Periods: []models.PeriodSlot{{StartTime: "08:00", EndTime: "12:00", AutoAttendanceCheck: true}}},
	}
}

func classOf(p *models.ActivePeriod) string {
	if p == nil {
		return ""
	}
	return p.ClassID
}

func TestBuildScenario(t *testing.T) {
	tests := []struct {
		now           time.Time
		current, next string
	}{
		{at(10, 30), "A", "B"},
		{at(13, 0), "", "B"},
		{at(16, 0), "", ""},
		{at(8, 0), "A", "B"},
		{at(12, 0), "A", "B"},
		{at(7, 59), "", "A"},
	}
	for _, tt := range tests {
		s := Build(timetable(), tt.now, time.UTC)
		if got := classOf(s.Current); got != tt.current {
			t.Errorf("%s: Current = %q, want %q", tt.now.Format("15:04"), got, tt.current)
		}
		if got := classOf(s.Next); got != tt.next {
			t.Errorf("%s: Next = %q, want %q", tt.now.Format("15:04"), got, tt.next)
		}
	}
}

func TestBuildSortsAndSkipsInvalid(t *testing.T) {
	classes := append(timetable(), models.ClassTimetable{
		ClassID: "C",
		Periods: []models.PeriodSlot{
			{StartTime: "nine", EndTime: "10:00"},
			{StartTime: "11:00", EndTime: "10:00"},
			{StartTime: "09:15:30", EndTime: "09:45"},
		},
	})
	s := Build(classes, at(6, 0), time.UTC)

	var order []string
	for _, p := range s.Periods {
		order = append(order, p.ClassID)
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "C" || order[2] != "B" {
		t.Fatalf("periods = %v, want [A C B]", order)
	}
	if s.Periods[1].Start.Second() != 30 {
		t.Errorf("seconds not parsed: %v", s.Periods[1].Start)
	}
	if !s.Periods[0].AutoAttendanceCheck {
		t.Error("flag lost")
	}
}

func TestBuildOverlapFirstWins(t *testing.T) {
	classes := []models.ClassTimetable{
		{ClassID: "late", Periods: []models.PeriodSlot{{StartTime: "09:00", EndTime: "11:00"}}},
		{ClassID: "early", Periods: []models.PeriodSlot{{StartTime: "08:00", EndTime: "10:00"}}},
	}
	s := Build(classes, at(9, 30), time.UTC)
	if classOf(s.Current) != "early" {
		t.Errorf("Current = %q, want early", classOf(s.Current))
	}
}

func TestBuildUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 06:30 UTC is 09:30 local
	s := Build([]models.ClassTimetable{
		{ClassID: "A", Periods: []models.PeriodSlot{{StartTime: "09:00", EndTime: "10:00"}}},
	}, at(6, 30), loc)
	if classOf(s.Current) != "A" {
		t.Errorf("Current = %q, want A", classOf(s.Current))
	}
}

func TestRefresh(t *testing.T) {
	s := Build(timetable(), at(10, 30), time.UTC)
	s.Refresh(at(14, 30))
	if classOf(s.Current) != "B" || s.Next != nil {
		t.Errorf("after refresh Current = %q, Next = %q", classOf(s.Current), classOf(s.Next))
	}
}
