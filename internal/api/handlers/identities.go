package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/pkg/dto"
)

type IdentityReader interface {
	GetIdentity(ctx context.Context, scope string, externalID int64) (*models.Identity, error)
}

type IdentityHandler struct {
	store IdentityReader
}

func NewIdentityHandler(store IdentityReader) *IdentityHandler {
	return &IdentityHandler{store: store}
}

// Get shows one synced identity and the state of its reference media.
func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid external id"})
		return
	}

	ident, err := h.store.GetIdentity(c.Request.Context(), c.Param("scope"), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	resp := dto.IdentityResponse{
		ExternalID:   ident.ExternalID,
		DisplayName:  ident.DisplayName,
		Scope:        ident.Scope,
		IdentityType: string(ident.IdentityType),
		Version:      ident.Version,
		SyncedAt:     ident.SyncedAt.UTC().Format(time.RFC3339),
		Media:        make([]dto.MediaResponse, 0, len(ident.Media)),
	}
	for _, m := range ident.Media {
		resp.Media = append(resp.Media, dto.MediaResponse{
			AssetType:    string(m.AssetType),
			FileName:     m.FileName,
			HasEmbedding: m.Embedding != nil,
			Error:        m.Error,
		})
	}
	c.JSON(http.StatusOK, resp)
}
