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

type pageRepository interface {
	FindByID(ctx context.Context, id string) (*models.Page, error)
	List(ctx context.Context, filter models.PageFilter) ([]models.Page, int, error)
	Create(ctx context.Context, page *models.Page) error
	Update(ctx context.Context, page *models.Page) error
	Delete(ctx context.Context, id string) error
}

type revisionTracker interface {
	Track(ctx context.Context, action models.RevisionAction, entity revision.Revisionable, persist func(ctx context.Context) error) (*models.Revision, error)
}

// PageService handles page use-cases. Every write is tracked in the revision
// ledger, and the service restores pages on revert.
type PageService struct {
	repo      pageRepository
	revisions revisionTracker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPageService constructs the page service.
func NewPageService(repo pageRepository, revisions revisionTracker, validate *validator.Validate, logger *zap.Logger) *PageService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageService{repo: repo, revisions: revisions, validator: validate, logger: logger}
}

// List returns pages and pagination metadata.
func (s *PageService) List(ctx context.Context, query dto.PageQuery) ([]models.Page, *models.Pagination, error) {
	filter := models.PageFilter{Search: strings.TrimSpace(query.Search), Page: query.Page, PageSize: query.PageSize}
	pages, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pages")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	if pages == nil {
		pages = []models.Page{}
	}
	return pages, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a page by id.
func (s *PageService) Get(ctx context.Context, id string) (*models.Page, error) {
	page, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "page not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load page")
	}
	return page, nil
}

// Create stores a new page together with its first revision.
func (s *PageService) Create(ctx context.Context, req dto.CreatePageRequest) (*models.Page, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid page payload")
	}
	blocks, err := documentOrDefault(req.Blocks, "[]", "blocks")
	if err != nil {
		return nil, err
	}
	meta, err := documentOrDefault(req.Meta, "{}", "meta")
	if err != nil {
		return nil, err
	}
	actor := revision.ActorFromContext(ctx)
	page := &models.Page{
		Slug:      strings.TrimSpace(req.Slug),
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		Blocks:    blocks,
		Meta:      meta,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	if _, err := s.revisions.Track(ctx, models.RevisionActionCreate, page, func(ctx context.Context) error {
		return s.repo.Create(ctx, page)
	}); err != nil {
		return nil, s.writeError(err, "failed to create page")
	}
	return page, nil
}

// Update applies a partial update and records an update revision.
func (s *PageService) Update(ctx context.Context, id string, req dto.UpdatePageRequest) (*models.Page, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid page payload")
	}
	page, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Slug != nil {
		slug := strings.TrimSpace(*req.Slug)
		if slug == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "slug cannot be empty")
		}
		page.Slug = slug
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		page.Title = title
	}
	if req.Body != nil {
		page.Body = *req.Body
	}
	if len(req.Blocks) > 0 {
		if page.Blocks, err = documentOrDefault(req.Blocks, "[]", "blocks"); err != nil {
			return nil, err
		}
	}
	if len(req.Meta) > 0 {
		if page.Meta, err = documentOrDefault(req.Meta, "{}", "meta"); err != nil {
			return nil, err
		}
	}
	page.UpdatedBy = revision.ActorFromContext(ctx)
	if err := s.save(ctx, models.RevisionActionUpdate, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Delete removes a page and records its final state.
func (s *PageService) Delete(ctx context.Context, id string) error {
	page, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.revisions.Track(ctx, models.RevisionActionDelete, page, func(ctx context.Context) error {
		return s.repo.Delete(ctx, page.ID)
	}); err != nil {
		return s.writeError(err, "failed to delete page")
	}
	return nil
}

// Load implements revision.EntityHandler.
func (s *PageService) Load(ctx context.Context, id string) (revision.Revisionable, error) {
	return s.Get(ctx, id)
}

// Restore implements revision.EntityHandler. It writes the recorded state
// back onto the live page.
func (s *PageService) Restore(ctx context.Context, entity revision.Revisionable, data revision.Snapshot) (revision.Revisionable, error) {
	current, ok := entity.(*models.Page)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("page handler cannot restore %T", entity))
	}
	restored := *current
	if err := restored.ApplySnapshot(data); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "recorded page state cannot be restored")
	}
	restored.UpdatedBy = revision.ActorFromContext(ctx)
	if err := s.save(ctx, models.RevisionActionUpdate, &restored); err != nil {
		return nil, err
	}
	*current = restored
	s.logger.Debug("page restored", zap.String("page_id", restored.ID))
	return current, nil
}

func (s *PageService) save(ctx context.Context, action models.RevisionAction, page *models.Page) error {
	if _, err := s.revisions.Track(ctx, action, page, func(ctx context.Context) error {
		return s.repo.Update(ctx, page)
	}); err != nil {
		return s.writeError(err, "failed to update page")
	}
	return nil
}

func (s *PageService) writeError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "page not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func documentOrDefault(raw json.RawMessage, fallback, field string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(fallback), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be valid JSON", field))
	}
	return json.RawMessage(trimmed), nil
}
