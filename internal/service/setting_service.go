package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

type settingRepository interface {
	List(ctx context.Context) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
	Delete(ctx context.Context, key string) error
}

// SettingService manages revisionable key/value settings.
type SettingService struct {
	repo      settingRepository
	revisions revisionTracker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSettingService constructs the setting service.
func NewSettingService(repo settingRepository, revisions revisionTracker, validate *validator.Validate, logger *zap.Logger) *SettingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingService{repo: repo, revisions: revisions, validator: validate, logger: logger}
}

// List returns every setting.
func (s *SettingService) List(ctx context.Context) ([]models.Setting, error) {
	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	if settings == nil {
		settings = []models.Setting{}
	}
	return settings, nil
}

// Get returns a setting by key.
func (s *SettingService) Get(ctx context.Context, key string) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "setting key is required")
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "setting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}
	return setting, nil
}

// Put creates or replaces a setting. The first write records a create
// revision, later writes record updates.
func (s *SettingService) Put(ctx context.Context, key string, req dto.PutSettingRequest) (*models.Setting, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid setting payload")
	}
	if !json.Valid(req.Value) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "value must be valid JSON")
	}
	action := models.RevisionActionUpdate
	setting, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, appErrors.ErrNotFound):
		action = models.RevisionActionCreate
		setting = &models.Setting{Key: strings.TrimSpace(key)}
	case err != nil:
		return nil, err
	}
	setting.Value = append(json.RawMessage(nil), req.Value...)
	setting.Description = nil
	if desc := strings.TrimSpace(req.Description); desc != "" {
		setting.Description = &desc
	}
	setting.UpdatedBy = revision.ActorFromContext(ctx)
	if err := s.save(ctx, action, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// Delete removes a setting and records its final value.
func (s *SettingService) Delete(ctx context.Context, key string) error {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.revisions.Track(ctx, models.RevisionActionDelete, setting, func(ctx context.Context) error {
		return s.repo.Delete(ctx, setting.Key)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "setting not found")
		}
		return wrapUnlessTyped(err, "failed to delete setting")
	}
	return nil
}

// Load implements revision.EntityHandler.
func (s *SettingService) Load(ctx context.Context, key string) (revision.Revisionable, error) {
	return s.Get(ctx, key)
}

// Restore implements revision.EntityHandler.
func (s *SettingService) Restore(ctx context.Context, entity revision.Revisionable, data revision.Snapshot) (revision.Revisionable, error) {
	current, ok := entity.(*models.Setting)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("setting handler cannot restore %T", entity))
	}
	restored := *current
	if err := restored.ApplySnapshot(data); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "recorded setting state cannot be restored")
	}
	restored.UpdatedBy = revision.ActorFromContext(ctx)
	if err := s.save(ctx, models.RevisionActionUpdate, &restored); err != nil {
		return nil, err
	}
	*current = restored
	return current, nil
}

func (s *SettingService) save(ctx context.Context, action models.RevisionAction, setting *models.Setting) error {
	if _, err := s.revisions.Track(ctx, action, setting, func(ctx context.Context) error {
		return s.repo.Upsert(ctx, setting)
	}); err != nil {
		return wrapUnlessTyped(err, "failed to save setting")
	}
	return nil
}

func wrapUnlessTyped(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
