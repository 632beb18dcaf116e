package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"casedraft-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DraftService is the read side of drafts
type DraftService interface {
	ListDrafts(ctx context.Context, caseID uuid.UUID, identity models.Identity) ([]*models.Draft, error)
	GetDraft(ctx context.Context, id uuid.UUID, identity models.Identity) (*models.Draft, error)
	OpenDraftDocument(ctx context.Context, id uuid.UUID, identity models.Identity) (io.ReadCloser, *models.Draft, error)
}

// DraftHandler handles HTTP requests for drafts
type DraftHandler struct {
	drafts DraftService
}

// NewDraftHandler creates a new draft handler
func NewDraftHandler(drafts DraftService) *DraftHandler {
	return &DraftHandler{drafts: drafts}
}

// Register mounts the draft routes
func (h *DraftHandler) Register(api *gin.RouterGroup) {
	api.GET("/cases/:id/drafts", h.ListDrafts)
	api.GET("/drafts/:id", h.GetDraft)
	api.GET("/drafts/:id/document", h.DownloadDraft)
}

// ListDrafts handles GET /api/cases/:id/drafts
func (h *DraftHandler) ListDrafts(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	drafts, err := h.drafts.ListDrafts(c.Request.Context(), id, identityFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, drafts)
}

// GetDraft handles GET /api/drafts/:id
func (h *DraftHandler) GetDraft(c *gin.Context) {
	id, ok := parseID(c, "draft")
	if !ok {
		return
	}
	draft, err := h.drafts.GetDraft(c.Request.Context(), id, identityFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, draft)
}

// DownloadDraft handles GET /api/drafts/:id/document
func (h *DraftHandler) DownloadDraft(c *gin.Context) {
	id, ok := parseID(c, "draft")
	if !ok {
		return
	}
	r, draft, err := h.drafts.OpenDraftDocument(c.Request.Context(), id, identityFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer r.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", documentFilename(draft)))
	c.DataFromReader(http.StatusOK, -1, "text/markdown; charset=utf-8", r, nil)
}

func documentFilename(d *models.Draft) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '/' || r == '\\' || r < 0x20:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(d.Title))
	if name == "" {
		name = "draft-" + d.ID.String()
	}
	return name + ".md"
}
