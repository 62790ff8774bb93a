package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/response"
)

type pageService interface {
	List(ctx context.Context, query dto.PageQuery) ([]models.Page, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Page, error)
	Create(ctx context.Context, req dto.CreatePageRequest) (*models.Page, error)
	Update(ctx context.Context, id string, req dto.UpdatePageRequest) (*models.Page, error)
	Delete(ctx context.Context, id string) error
}

// PageHandler manages CMS pages. Every write is captured in the revision
// ledger by the service.
type PageHandler struct {
	service pageService
}

// NewPageHandler builds a new handler.
func NewPageHandler(service pageService) *PageHandler {
	return &PageHandler{service: service}
}

// List godoc
// @Summary List pages
// @Tags Pages
// @Produce json
// @Param search query string false "Search by title or slug"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /pages [get]
func (h *PageHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	items, pagination, err := h.service.List(c.Request.Context(), dto.PageQuery{
		Search:   c.Query("search"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a page
// @Tags Pages
// @Produce json
// @Param id path string true "Page ID"
// @Success 200 {object} response.Envelope
// @Router /pages/{id} [get]
func (h *PageHandler) Get(c *gin.Context) {
	page, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// Create godoc
// @Summary Create a page
// @Tags Pages
// @Accept json
// @Produce json
// @Param payload body dto.CreatePageRequest true "Page payload"
// @Success 201 {object} response.Envelope
// @Router /pages [post]
func (h *PageHandler) Create(c *gin.Context) {
	var req dto.CreatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid page payload"))
		return
	}
	page, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, page)
}

// Update godoc
// @Summary Update a page
// @Tags Pages
// @Accept json
// @Produce json
// @Param id path string true "Page ID"
// @Param payload body dto.UpdatePageRequest true "Page payload"
// @Success 200 {object} response.Envelope
// @Router /pages/{id} [put]
func (h *PageHandler) Update(c *gin.Context) {
	var req dto.UpdatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid page payload"))
		return
	}
	page, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// Delete godoc
// @Summary Delete a page
// @Tags Pages
// @Param id path string true "Page ID"
// @Success 204
// @Router /pages/{id} [delete]
func (h *PageHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
