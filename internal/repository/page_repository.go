package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/pkg/database"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

const pageColumns = `id, slug, title, body, blocks, meta, created_by, updated_by, created_at, updated_at`

// PageRepository persists pages. Every method joins the transaction carried
// by ctx so page writes commit together with their revisions.
type PageRepository struct {
	db *sqlx.DB
}

// NewPageRepository constructs the repository.
func NewPageRepository(db *sqlx.DB) *PageRepository {
	return &PageRepository{db: db}
}

// FindByID returns a page or sql.ErrNoRows.
func (r *PageRepository) FindByID(ctx context.Context, id string) (*models.Page, error) {
	const query = `SELECT ` + pageColumns + ` FROM pages WHERE id = $1`
	var page models.Page
	if err := database.Conn(ctx, r.db).GetContext(ctx, &page, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find page by id: %w", err)
	}
	return &page, nil
}

// List returns pages matching the filter with the total count.
func (r *PageRepository) List(ctx context.Context, filter models.PageFilter) ([]models.Page, int, error) {
	baseQuery := `FROM pages WHERE 1=1`
	var args []interface{}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		baseQuery += fmt.Sprintf(" AND (LOWER(title) LIKE $%d OR LOWER(slug) LIKE $%d)", len(args), len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY updated_at DESC LIMIT %d OFFSET %d", pageColumns, baseQuery, pageSize, offset)
	var pages []models.Page
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &pages, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list pages: %w", err)
	}

	var total int
	if err := database.Conn(ctx, r.db).GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count pages: %w", err)
	}
	return pages, total, nil
}

// Create inserts a page. A duplicate slug surfaces as ErrConflict.
func (r *PageRepository) Create(ctx context.Context, page *models.Page) error {
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	const query = `INSERT INTO pages (` + pageColumns + `) VALUES (:id, :slug, :title, :body, :blocks, :meta, :created_by, :updated_by, :created_at, :updated_at)`
	if _, err := database.Conn(ctx, r.db).NamedExecContext(ctx, query, page); err != nil {
		if isUniqueViolation(err) {
			return appErrors.WrapAs(err, appErrors.ErrConflict, "slug already in use")
		}
		return fmt.Errorf("create page: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a page.
func (r *PageRepository) Update(ctx context.Context, page *models.Page) error {
	page.UpdatedAt = time.Now().UTC()
	const query = `UPDATE pages SET slug = :slug, title = :title, body = :body, blocks = :blocks, meta = :meta, updated_by = :updated_by, updated_at = :updated_at WHERE id = :id`
	res, err := database.Conn(ctx, r.db).NamedExecContext(ctx, query, page)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.WrapAs(err, appErrors.ErrConflict, "slug already in use")
		}
		return fmt.Errorf("update page: %w", err)
	}
	return requireAffected(res, "update page")
}

// Delete removes a page.
func (r *PageRepository) Delete(ctx context.Context, id string) error {
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return requireAffected(res, "delete page")
}

func requireAffected(res sql.Result, label string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
