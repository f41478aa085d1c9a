package models

import "time"

// ClassTimetable is a class and its recurring daily periods as reported by
// the roster source. Times are wall-clock "HH:MM" or "HH:MM:SS".
type ClassTimetable struct {
	ClassID string       `json:"class_id"`
	Name    string       `json:"name"`
	Periods []PeriodSlot `json:"periods"`
}

type PeriodSlot struct {
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	AutoAttendanceCheck bool   `json:"auto_attendance_check"`
	BoardCheckin        bool   `json:"board_checkin"`
}

// ActivePeriod is a PeriodSlot resolved onto a concrete day.
type ActivePeriod struct {
	ClassID             string    `json:"class_id"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	AutoAttendanceCheck bool      `json:"auto_attendance_check"`
	BoardCheckin        bool      `json:"board_checkin"`
}

// Contains reports whether t lies within [Start, End].
func (p ActivePeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}
