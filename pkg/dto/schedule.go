package dto

type PeriodResponse struct {
	ClassID             string `json:"class_id"`
	Start               string `json:"start"`
	End                 string `json:"end"`
	AutoAttendanceCheck bool   `json:"auto_attendance_check"`
	BoardCheckin        bool   `json:"board_checkin"`
}

type ScheduleResponse struct {
	Enabled     bool             `json:"enabled"`
	ActiveClass string           `json:"active_class,omitempty"`
	Day         string           `json:"day,omitempty"`
	Current     *PeriodResponse  `json:"current,omitempty"`
	Next        *PeriodResponse  `json:"next,omitempty"`
	Periods     []PeriodResponse `json:"periods"`
}
