package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/lock"
	"github.com/your-org/rollcall/internal/rostersync"
	"github.com/your-org/rollcall/pkg/dto"
)

type Syncer interface {
	SyncAll(ctx context.Context) ([]rostersync.Summary, error)
	SyncClass(ctx context.Context, classID string) (rostersync.Summary, error)
}

type SyncHandler struct {
	syncer Syncer
}

func NewSyncHandler(s Syncer) *SyncHandler {
	return &SyncHandler{syncer: s}
}

// Trigger runs a roster sync. ?class_id= limits it to one class. A full sync
// in which only some scopes failed answers 200 with the error on each failed
// scope.
func (h *SyncHandler) Trigger(c *gin.Context) {
	var (
		sums []rostersync.Summary
		err  error
	)
	if classID := c.Query("class_id"); classID != "" {
		var sum rostersync.Summary
		sum, err = h.syncer.SyncClass(c.Request.Context(), classID)
		sums = []rostersync.Summary{sum}
	} else {
		sums, err = h.syncer.SyncAll(c.Request.Context())
	}

	if err != nil && (len(sums) == 0 || c.Query("class_id") != "") {
		status := http.StatusBadGateway
		if errors.Is(err, rostersync.ErrInProgress) || errors.Is(err, lock.ErrLockHeld) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SyncResponse{Scopes: make([]dto.ScopeSummary, 0, len(sums))}
	for _, s := range sums {
		var msg string
		if s.Err != nil {
			msg = s.Err.Error()
		}
		resp.Scopes = append(resp.Scopes, dto.ScopeSummary{
			Scope:         s.Scope,
			Added:         s.Added,
			Updated:       s.Updated,
			Unchanged:     s.Unchanged,
			Deleted:       s.Deleted,
			AssetFailures: s.Failures,
			Built:         s.Built,
			Error:         msg,
		})
	}
	c.JSON(http.StatusOK, resp)
}
