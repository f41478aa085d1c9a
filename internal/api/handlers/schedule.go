package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/schedule"
	"github.com/your-org/rollcall/pkg/dto"
)

type ScheduleSource interface {
	Current() *schedule.Schedule
}

type RecognitionState interface {
	Enabled() bool
	Scope() string
}

type ScheduleHandler struct {
	schedule ScheduleSource
	state    RecognitionState
}

func NewScheduleHandler(s ScheduleSource, state RecognitionState) *ScheduleHandler {
	return &ScheduleHandler{schedule: s, state: state}
}

func (h *ScheduleHandler) Get(c *gin.Context) {
	resp := dto.ScheduleResponse{
		Enabled:     h.state.Enabled(),
		ActiveClass: h.state.Scope(),
		Periods:     []dto.PeriodResponse{},
	}

	if s := h.schedule.Current(); s != nil {
		resp.Day = s.Day.Format(time.DateOnly)
		resp.Current = periodResponse(s.Current)
		resp.Next = periodResponse(s.Next)
		for i := range s.Periods {
			resp.Periods = append(resp.Periods, *periodResponse(&s.Periods[i]))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func periodResponse(p *models.ActivePeriod) *dto.PeriodResponse {
	if p == nil {
		return nil
	}
	return &dto.PeriodResponse{
		ClassID:             p.ClassID,
		Start:               p.Start.Format(time.RFC3339),
		End:                 p.End.Format(time.RFC3339),
		AutoAttendanceCheck: p.AutoAttendanceCheck,
		BoardCheckin:        p.BoardCheckin,
	}
}
