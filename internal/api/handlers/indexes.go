package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/pkg/dto"
)

type IndexBuilder interface {
	Build(ctx context.Context, scope string) (bool, error)
}

type IndexInspector interface {
	Info(scope string, kind index.Kind) (buildID string, size int, builtAt time.Time, err error)
	Invalidate(scope string)
}

type IndexHandler struct {
	builder   IndexBuilder
	inspector IndexInspector
}

func NewIndexHandler(b IndexBuilder, i IndexInspector) *IndexHandler {
	return &IndexHandler{builder: b, inspector: i}
}

// Build rebuilds the indexes of :scope from the identity store.
func (h *IndexHandler) Build(c *gin.Context) {
	scope := c.Param("scope")
	built, err := h.builder.Build(c.Request.Context(), scope)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.inspector.Invalidate(scope)

	resp := h.describe(scope)
	resp.Built = built
	c.JSON(http.StatusOK, resp)
}

// Get describes the persisted indexes of :scope.
func (h *IndexHandler) Get(c *gin.Context) {
	resp := h.describe(c.Param("scope"))
	if resp.Faces == nil && resp.Voices == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no index for scope"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *IndexHandler) describe(scope string) dto.BuildResponse {
	resp := dto.BuildResponse{Scope: scope}
	resp.Faces = h.info(scope, index.KindFace)
	resp.Voices = h.info(scope, index.KindVoice)
	return resp
}

func (h *IndexHandler) info(scope string, kind index.Kind) *dto.IndexInfo {
	id, size, builtAt, err := h.inspector.Info(scope, kind)
	if err != nil {
		if !errors.Is(err, index.ErrIndexNotFound) {
			slog.Warn("read index info", "scope", scope, "kind", kind, "error", err)
		}
		return nil
	}
	return &dto.IndexInfo{BuildID: id, Vectors: size, BuiltAt: builtAt.UTC().Format(time.RFC3339)}
}
