package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/pkg/database"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// MaxHistoryLimit caps one page of revision history.
const MaxHistoryLimit = 500

const (
	defaultHistoryLimit = 50
	uniqueViolation     = "23505"
)

const revisionColumns = `id, entity_type, entity_id, actor_id, action, version, data, changes, metadata, description, is_published, published_at, created_at`

// RevisionRepository is the append-only revision ledger. It deliberately has
// no update or delete methods; the database trigger enforces the same rule.
type RevisionRepository struct {
	db *sqlx.DB
}

// NewRevisionRepository constructs the ledger repository.
func NewRevisionRepository(db *sqlx.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// Append inserts a new revision. A version collision surfaces as ErrConflict.
func (r *RevisionRepository) Append(ctx context.Context, rev *models.Revision) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO revisions (` + revisionColumns + `)
VALUES (:id, :entity_type, :entity_id, :actor_id, :action, :version, :data, :changes, :metadata, :description, :is_published, :published_at, :created_at)`
	if _, err := database.Conn(ctx, r.db).NamedExecContext(ctx, query, rev); err != nil {
		if isUniqueViolation(err) {
			return appErrors.WrapAs(err, appErrors.ErrConflict, fmt.Sprintf("version %d of %s#%s already exists", rev.Version, rev.EntityType, rev.EntityID))
		}
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

// Latest returns the head revision of an entity or sql.ErrNoRows.
func (r *RevisionRepository) Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	const query = `SELECT ` + revisionColumns + ` FROM revisions WHERE entity_type = $1 AND entity_id = $2 ORDER BY version DESC LIMIT 1`
	return r.getOne(ctx, "latest revision", query, ref.Type, ref.ID)
}

// LatestPublished returns the most recent published revision or sql.ErrNoRows.
func (r *RevisionRepository) LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	const query = `SELECT ` + revisionColumns + ` FROM revisions WHERE entity_type = $1 AND entity_id = $2 AND is_published = TRUE ORDER BY version DESC LIMIT 1`
	return r.getOne(ctx, "latest published revision", query, ref.Type, ref.ID)
}

// GetByID fetches a single revision or sql.ErrNoRows.
func (r *RevisionRepository) GetByID(ctx context.Context, id string) (*models.Revision, error) {
	const query = `SELECT ` + revisionColumns + ` FROM revisions WHERE id = $1`
	return r.getOne(ctx, "revision by id", query, id)
}

// History lists revisions newest first.
func (r *RevisionRepository) History(ctx context.Context, ref revision.EntityRef, filter models.RevisionFilter) ([]models.Revision, error) {
	query := `SELECT ` + revisionColumns + ` FROM revisions WHERE entity_type = $1 AND entity_id = $2`
	args := []interface{}{ref.Type, ref.ID}
	if filter.Action != nil {
		args = append(args, string(*filter.Action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY version DESC LIMIT %d OFFSET %d", limit, offset)

	var revisions []models.Revision
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &revisions, query, args...); err != nil {
		return nil, fmt.Errorf("list revision history: %w", err)
	}
	return revisions, nil
}

// Chain returns every revision of an entity oldest first.
func (r *RevisionRepository) Chain(ctx context.Context, ref revision.EntityRef) ([]models.Revision, error) {
	const query = `SELECT ` + revisionColumns + ` FROM revisions WHERE entity_type = $1 AND entity_id = $2 ORDER BY version ASC`
	var revisions []models.Revision
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &revisions, query, ref.Type, ref.ID); err != nil {
		return nil, fmt.Errorf("load revision chain: %w", err)
	}
	return revisions, nil
}

// Entities lists every entity with at least one revision, optionally
// restricted to one entity type.
func (r *RevisionRepository) Entities(ctx context.Context, entityType string) ([]revision.EntityRef, error) {
	query := `SELECT DISTINCT entity_type, entity_id FROM revisions`
	args := []interface{}{}
	if entityType != "" {
		args = append(args, entityType)
		query += ` WHERE entity_type = $1`
	}
	query += ` ORDER BY entity_type, entity_id`
	var rows []struct {
		Type string `db:"entity_type"`
		ID   string `db:"entity_id"`
	}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list revisioned entities: %w", err)
	}
	refs := make([]revision.EntityRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, revision.Ref(row.Type, row.ID))
	}
	return refs, nil
}

// CountByEntity returns how many revisions match ref and the optional action.
func (r *RevisionRepository) CountByEntity(ctx context.Context, ref revision.EntityRef, action *models.RevisionAction) (int, error) {
	query := `SELECT COUNT(*) FROM revisions WHERE entity_type = $1 AND entity_id = $2`
	args := []interface{}{ref.Type, ref.ID}
	if action != nil {
		args = append(args, string(*action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	var total int
	if err := database.Conn(ctx, r.db).GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return total, nil
}

// MaxVersion returns the highest stored version of ref, or zero.
func (r *RevisionRepository) MaxVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	const query = `SELECT COALESCE(MAX(version), 0) FROM revisions WHERE entity_type = $1 AND entity_id = $2`
	var version int64
	if err := database.Conn(ctx, r.db).GetContext(ctx, &version, query, ref.Type, ref.ID); err != nil {
		return 0, fmt.Errorf("max revision version: %w", err)
	}
	return version, nil
}

// LockEntity takes a transaction-scoped advisory lock on ref. Writers of the
// same entity queue on the lock until the holder commits; other entities hash
// to other locks.
func (r *RevisionRepository) LockEntity(ctx context.Context, ref revision.EntityRef) error {
	if database.ScopeFrom(ctx) == nil {
		return appErrors.Clone(appErrors.ErrTransaction, "locking a revision sequence requires a transaction")
	}
	const lock = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, lock, ref.Type+":"+ref.ID); err != nil {
		return fmt.Errorf("lock revision sequence: %w", err)
	}
	return nil
}

// NextVersion locks ref and returns the next free version.
func (r *RevisionRepository) NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	if err := r.LockEntity(ctx, ref); err != nil {
		return 0, err
	}
	current, err := r.MaxVersion(ctx, ref)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (r *RevisionRepository) getOne(ctx context.Context, label, query string, args ...interface{}) (*models.Revision, error) {
	var rev models.Revision
	if err := database.Conn(ctx, r.db).GetContext(ctx, &rev, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s: %w", label, err)
	}
	return &rev, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
