package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/response"
)

type settingService interface {
	List(ctx context.Context) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Put(ctx context.Context, key string, req dto.PutSettingRequest) (*models.Setting, error)
	Delete(ctx context.Context, key string) error
}

// SettingHandler manages key/value site settings.
type SettingHandler struct {
	service settingService
}

// NewSettingHandler builds a new handler.
func NewSettingHandler(service settingService) *SettingHandler {
	return &SettingHandler{service: service}
}

// List godoc
// @Summary List settings
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings [get]
func (h *SettingHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get a setting
// @Tags Settings
// @Produce json
// @Param key path string true "Setting key"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [get]
func (h *SettingHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Put godoc
// @Summary Create or replace a setting
// @Tags Settings
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body dto.PutSettingRequest true "Setting payload"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [put]
func (h *SettingHandler) Put(c *gin.Context) {
	var req dto.PutSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid setting payload"))
		return
	}
	item, err := h.service.Put(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete a setting
// @Tags Settings
// @Param key path string true "Setting key"
// @Success 204
// @Router /settings/{key} [delete]
func (h *SettingHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("key")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
