package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/internal/service"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/response"
)

type revisionService interface {
	History(ctx context.Context, ref revision.EntityRef, query dto.RevisionHistoryQuery) ([]models.Revision, *models.Pagination, error)
	Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error)
	LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error)
	Get(ctx context.Context, id string) (*models.Revision, error)
	Compare(ctx context.Context, fromID, toID string) (*dto.RevisionComparison, error)
	Verify(ctx context.Context, ref revision.EntityRef) (*models.RevisionVerification, error)
	ManualByRef(ctx context.Context, ref revision.EntityRef, input service.ManualRevisionInput) (*models.Revision, error)
	PublishByRef(ctx context.Context, ref revision.EntityRef, description string) (*models.Revision, error)
	RevertByRef(ctx context.Context, ref revision.EntityRef, revisionID string, opts service.RevertOptions) (*models.Revision, error)
}

type historyExporter interface {
	ExportHistory(ctx context.Context, ref revision.EntityRef, format string) (*dto.RevisionExport, error)
	Store(ctx context.Context, ref revision.EntityRef, format string) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// RevisionHandler exposes the revision ledger.
type RevisionHandler struct {
	service  revisionService
	exporter historyExporter
}

// NewRevisionHandler builds a new handler. exporter may be nil to disable
// export endpoints.
func NewRevisionHandler(service revisionService, exporter historyExporter) *RevisionHandler {
	return &RevisionHandler{service: service, exporter: exporter}
}

func refFromPath(c *gin.Context) revision.EntityRef {
	return revision.Ref(c.Param("type"), c.Param("id"))
}

// History godoc
// @Summary List revisions of an entity
// @Tags Revisions
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Param action query string false "Action filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /revisions/{type}/{id} [get]
func (h *RevisionHandler) History(c *gin.Context) {
	query := dto.RevisionHistoryQuery{Action: c.Query("action")}
	var err error
	if query.Limit, err = intQuery(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}
	if query.Offset, err = intQuery(c, "offset"); err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.service.History(c.Request.Context(), refFromPath(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Latest godoc
// @Summary Get the head revision of an entity
// @Tags Revisions
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /revisions/{type}/{id}/latest [get]
func (h *RevisionHandler) Latest(c *gin.Context) {
	rev, err := h.service.Latest(c.Request.Context(), refFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// LatestPublished godoc
// @Summary Get the latest published revision of an entity
// @Tags Revisions
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /revisions/{type}/{id}/published [get]
func (h *RevisionHandler) LatestPublished(c *gin.Context) {
	rev, err := h.service.LatestPublished(c.Request.Context(), refFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// Register mounts the revision routes. Lookups by revision id live outside
// /revisions so that every entity type name stays routable.
func (h *RevisionHandler) Register(readers, writers gin.IRoutes) {
	readers.GET("/revision-ids/:revisionId", h.Get)
	readers.GET("/revisions/compare", h.Compare)
	readers.GET("/revisions/:type/:id", h.History)
	readers.GET("/revisions/:type/:id/latest", h.Latest)
	readers.GET("/revisions/:type/:id/published", h.LatestPublished)
	readers.GET("/revisions/:type/:id/verify", h.Verify)
	readers.GET("/revisions/:type/:id/export", h.Export)
	writers.POST("/revisions/:type/:id/manual", h.Manual)
	writers.POST("/revisions/:type/:id/publish", h.Publish)
	writers.POST("/revisions/:type/:id/revert", h.Revert)
}

// Get godoc
// @Summary Get a revision by id
// @Tags Revisions
// @Produce json
// @Param revisionId path string true "Revision ID"
// @Success 200 {object} response.Envelope
// @Router /revision-ids/{revisionId} [get]
func (h *RevisionHandler) Get(c *gin.Context) {
	rev, err := h.service.Get(c.Request.Context(), c.Param("revisionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev, nil)
}

// Compare godoc
// @Summary Compare two revisions of the same entity
// @Tags Revisions
// @Produce json
// @Param from query string true "Older revision ID"
// @Param to query string true "Newer revision ID"
// @Success 200 {object} response.Envelope
// @Router /revisions/compare [get]
func (h *RevisionHandler) Compare(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to are required"))
		return
	}
	result, err := h.service.Compare(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Verify godoc
// @Summary Verify the revision chain of an entity
// @Tags Revisions
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /revisions/{type}/{id}/verify [get]
func (h *RevisionHandler) Verify(c *gin.Context) {
	report, err := h.service.Verify(c.Request.Context(), refFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Manual godoc
// @Summary Record a manual revision
// @Tags Revisions
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Param payload body dto.ManualRevisionRequest true "Manual revision payload"
// @Success 201 {object} response.Envelope
// @Router /revisions/{type}/{id}/manual [post]
func (h *RevisionHandler) Manual(c *gin.Context) {
	var req dto.ManualRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revision payload"))
		return
	}
	rev, err := h.service.ManualByRef(c.Request.Context(), refFromPath(c), service.ManualRevisionInput{
		Action:      models.RevisionAction(req.Action),
		Description: req.Description,
		Metadata:    req.Metadata,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rev)
}

// Publish godoc
// @Summary Publish the current state of an entity
// @Tags Revisions
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Param payload body dto.PublishRequest false "Publish payload"
// @Success 201 {object} response.Envelope
// @Router /revisions/{type}/{id}/publish [post]
func (h *RevisionHandler) Publish(c *gin.Context) {
	var req dto.PublishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
			return
		}
	}
	rev, err := h.service.PublishByRef(c.Request.Context(), refFromPath(c), req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rev)
}

// Revert godoc
// @Summary Revert an entity to a recorded revision
// @Tags Revisions
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Param payload body dto.RevertRequest true "Revert payload"
// @Success 201 {object} response.Envelope
// @Router /revisions/{type}/{id}/revert [post]
func (h *RevisionHandler) Revert(c *gin.Context) {
	var req dto.RevertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revert payload"))
		return
	}
	rev, err := h.service.RevertByRef(c.Request.Context(), refFromPath(c), req.RevisionID, service.RevertOptions{
		Description: req.Description,
		Publish:     req.Publish,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rev)
}

// Export godoc
// @Summary Export the revision history of an entity
// @Tags Revisions
// @Produce text/csv,application/pdf,json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Param format query string false "csv or pdf"
// @Param delivery query string false "inline (default) or link"
// @Success 200 {file} file
// @Router /revisions/{type}/{id}/export [get]
func (h *RevisionHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	ref := refFromPath(c)
	format := c.DefaultQuery("format", service.ExportFormatCSV)
	if c.Query("delivery") == "link" {
		result, err := h.exporter.Store(c.Request.Context(), ref, format)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Created(c, result)
		return
	}
	out, err := h.exporter.ExportHistory(c.Request.Context(), ref, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Payload)
}

// Download godoc
// @Summary Download a stored export through its signed token
// @Tags Revisions
// @Produce text/csv,application/pdf
// @Param token path string true "Signed export token"
// @Success 200 {file} file
// @Router /exports/{token} [get]
func (h *RevisionHandler) Download(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	file, relPath, err := h.exporter.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	contentType := "text/csv"
	if filepath.Ext(relPath) == ".pdf" {
		contentType = "application/pdf"
	}
	response.Stream(c, filepath.Base(relPath), contentType, info.Size(), file)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return value, nil
}
