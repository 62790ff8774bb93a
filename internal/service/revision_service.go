package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/repository"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/pkg/database"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/logger"
)

type revisionLedger interface {
	Append(ctx context.Context, rev *models.Revision) error
	Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error)
	LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error)
	GetByID(ctx context.Context, id string) (*models.Revision, error)
	History(ctx context.Context, ref revision.EntityRef, filter models.RevisionFilter) ([]models.Revision, error)
	Chain(ctx context.Context, ref revision.EntityRef) ([]models.Revision, error)
	CountByEntity(ctx context.Context, ref revision.EntityRef, action *models.RevisionAction) (int, error)
}

type versionSequencer interface {
	NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error)
}

type revisionEventPublisher interface {
	Publish(ctx context.Context, rev models.Revision)
}

// RevisionServiceConfig tunes the coordinator.
type RevisionServiceConfig struct {
	ConflictRetries int
	HistoryLimit    int
	CacheTTL        time.Duration
}

// RevisionServiceParams groups constructor dependencies.
type RevisionServiceParams struct {
	Ledger    revisionLedger
	Sequencer versionSequencer
	Tx        database.TxRunner
	Registry  *revision.Registry
	Cache     *CacheService
	Events    revisionEventPublisher
	Metrics   *MetricsService
	Logger    *zap.Logger
	Config    RevisionServiceConfig
}

// RevisionService is the only writer of the revision ledger. It captures
// revisions on entity mutations, records manual actions and reverts entities
// to recorded states.
type RevisionService struct {
	ledger    revisionLedger
	sequencer versionSequencer
	tx        database.TxRunner
	registry  *revision.Registry
	cache     *CacheService
	events    revisionEventPublisher
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       RevisionServiceConfig
	now       func() time.Time
}

// NewRevisionService constructs the coordinator with sane defaults.
func NewRevisionService(params RevisionServiceParams) *RevisionService {
	cfg := params.Config
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > repository.MaxHistoryLimit {
		cfg.HistoryLimit = 50
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := params.Registry
	if registry == nil {
		registry = revision.NewRegistry()
	}
	return &RevisionService{
		ledger:    params.Ledger,
		sequencer: params.Sequencer,
		tx:        params.Tx,
		registry:  registry,
		cache:     params.Cache,
		events:    params.Events,
		metrics:   params.Metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Registry returns the entity handler registry used for reverts.
func (s *RevisionService) Registry() *revision.Registry {
	return s.registry
}

// ManualRevisionInput carries caller supplied values for a manual revision.
type ManualRevisionInput struct {
	Action      models.RevisionAction
	Description string
	Metadata    map[string]any
	IsPublished bool
}

// RevertOptions tunes a revert.
type RevertOptions struct {
	Description string
	// Publish marks the revert revision as published. Reverts are drafts by default.
	Publish bool
}

type appendInput struct {
	action      models.RevisionAction
	data        revision.Snapshot
	description string
	metadata    map[string]any
	isPublished bool
	// reload captures the live entity from the registry once the entity
	// lock is held instead of the caller's copy.
	reload bool
}

// Capture records the current state of entity after a create, update or
// delete. It joins the transaction carried by ctx and is a no-op when capture
// is suppressed.
func (s *RevisionService) Capture(ctx context.Context, action models.RevisionAction, entity revision.Revisionable) (*models.Revision, error) {
	if revision.CaptureSuppressed(ctx) {
		return nil, nil
	}
	switch action {
	case models.RevisionActionCreate, models.RevisionActionUpdate, models.RevisionActionDelete:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %s is not a capture action", action))
	}
	var rev *models.Revision
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rev, err = s.append(ctx, entity, appendInput{
			action:      action,
			isPublished: action == models.RevisionActionCreate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// Track is the save path of revisionable entities: persist and the captured
// revision commit together or not at all. Version conflicts rerun the whole
// unit when this call owns the transaction.
func (s *RevisionService) Track(ctx context.Context, action models.RevisionAction, entity revision.Revisionable, persist func(ctx context.Context) error) (*models.Revision, error) {
	var rev *models.Revision
	err := s.retryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if persist != nil {
				if err := persist(ctx); err != nil {
					return err
				}
			}
			var err error
			rev, err = s.Capture(ctx, action, entity)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// CreateManualRevision records an explicit action such as publish for the
// given state of entity. It does not depend on capture suppression.
func (s *RevisionService) CreateManualRevision(ctx context.Context, entity revision.Revisionable, input ManualRevisionInput) (*models.Revision, error) {
	return s.createManual(ctx, entity, input, false)
}

func (s *RevisionService) createManual(ctx context.Context, entity revision.Revisionable, input ManualRevisionInput, reload bool) (*models.Revision, error) {
	input.Action = models.RevisionAction(strings.ToLower(strings.TrimSpace(string(input.Action))))
	if !input.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must match ^[a-z][a-z0-9_]{1,31}$")
	}
	if input.Action == models.RevisionActionRevert {
		return nil, appErrors.Clone(appErrors.ErrValidation, "use revert to restore a revision")
	}
	var rev *models.Revision
	err := s.retryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			rev, err = s.append(ctx, entity, appendInput{
				action:      input.Action,
				description: input.Description,
				metadata:    input.Metadata,
				isPublished: input.IsPublished,
				reload:      reload,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// Revert restores entity to the state recorded by revisionID through the
// entity type's registered handler, then appends exactly one revert revision.
// A failing restore leaves both the entity and the ledger untouched.
func (s *RevisionService) Revert(ctx context.Context, entity revision.Revisionable, revisionID string, opts RevertOptions) (*models.Revision, error) {
	rev, err := s.revert(ctx, entity, revisionID, opts)
	if err != nil {
		s.metrics.RecordRevert(RevertFailed)
		return nil, err
	}
	s.metrics.RecordRevert(RevertSucceeded)
	return rev, nil
}

func (s *RevisionService) revert(ctx context.Context, entity revision.Revisionable, revisionID string, opts RevertOptions) (*models.Revision, error) {
	if entity == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "entity not found")
	}
	ref := entity.RevisionRef()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	target, err := s.Get(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if target.EntityType != ref.Type || target.EntityID != ref.ID {
		return nil, appErrors.Clone(appErrors.ErrMismatch, fmt.Sprintf("revision %s belongs to %s#%s, not %s", target.ID, target.EntityType, target.EntityID, ref))
	}
	handler, err := s.registry.Lookup(ref.Type)
	if err != nil {
		return nil, err
	}
	targetData, err := revision.DecodeSnapshot(target.Data)
	if err != nil {
		return nil, err
	}

	var rev *models.Revision
	err = s.retryOnConflict(ctx, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			restored, err := handler.Restore(revision.SuppressCapture(ctx), entity, targetData.Clone())
			if err != nil {
				return err
			}
			if restored == nil {
				restored = entity
			}
			rev, err = s.append(ctx, restored, appendInput{
				action:      models.RevisionActionRevert,
				data:        targetData,
				description: opts.Description,
				metadata: map[string]any{
					"reverted_to_version":     target.Version,
					"reverted_to_revision_id": target.ID,
				},
				isPublished: opts.Publish,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	logger.For(ctx, s.logger).Info("entity reverted",
		zap.String("entity", ref.String()),
		zap.Int64("target_version", target.Version),
		zap.Int64("version", rev.Version),
	)
	return rev, nil
}

// RevertByRef resolves the live entity through the registry and reverts it.
func (s *RevisionService) RevertByRef(ctx context.Context, ref revision.EntityRef, revisionID string, opts RevertOptions) (*models.Revision, error) {
	entity, err := s.load(ctx, ref)
	if err != nil {
		s.metrics.RecordRevert(RevertFailed)
		return nil, err
	}
	return s.Revert(ctx, entity, revisionID, opts)
}

// PublishByRef records a publish revision of the live entity's current state.
func (s *RevisionService) PublishByRef(ctx context.Context, ref revision.EntityRef, description string) (*models.Revision, error) {
	return s.ManualByRef(ctx, ref, ManualRevisionInput{
		Action:      models.RevisionActionPublish,
		Description: description,
		IsPublished: true,
	})
}

// ManualByRef records a manual revision of the live entity's current state.
// The entity is read again under the entity lock so a concurrent update can
// not slip between the read and the recorded revision.
func (s *RevisionService) ManualByRef(ctx context.Context, ref revision.EntityRef, input ManualRevisionInput) (*models.Revision, error) {
	entity, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.createManual(ctx, entity, input, true)
}

// History lists revisions of ref newest first with the total count.
func (s *RevisionService) History(ctx context.Context, ref revision.EntityRef, query dto.RevisionHistoryQuery) ([]models.Revision, *models.Pagination, error) {
	if err := ref.Validate(); err != nil {
		return nil, nil, err
	}
	filter := models.RevisionFilter{Limit: query.Limit, Offset: query.Offset}
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.HistoryLimit
	}
	if filter.Limit > repository.MaxHistoryLimit {
		filter.Limit = repository.MaxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if action := strings.TrimSpace(query.Action); action != "" {
		typed := models.RevisionAction(strings.ToLower(action))
		if !typed.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid action filter")
		}
		filter.Action = &typed
	}
	items, err := s.ledger.History(ctx, ref, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list revisions")
	}
	total, err := s.ledger.CountByEntity(ctx, ref, filter.Action)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count revisions")
	}
	if items == nil {
		items = []models.Revision{}
	}
	pagination := &models.Pagination{PageSize: len(items), TotalCount: total}
	if size := filter.Limit; size > 0 {
		pagination.Page = filter.Offset/size + 1
		pagination.PageSize = size
	}
	return items, pagination, nil
}

// Latest returns the head revision of ref.
func (s *RevisionService) Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	return s.head(ctx, ref, repository.HeadLatest, s.ledger.Latest)
}

// LatestPublished returns the most recent published revision of ref.
func (s *RevisionService) LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	return s.head(ctx, ref, repository.HeadPublished, s.ledger.LatestPublished)
}

// Get returns a revision by id.
func (s *RevisionService) Get(ctx context.Context, id string) (*models.Revision, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "revision id is required")
	}
	rev, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "revision not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load revision")
	}
	return rev, nil
}

// Compare diffs two revisions of the same entity.
func (s *RevisionService) Compare(ctx context.Context, fromID, toID string) (*dto.RevisionComparison, error) {
	from, err := s.Get(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.Get(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.EntityType != to.EntityType || from.EntityID != to.EntityID {
		return nil, appErrors.Clone(appErrors.ErrMismatch, "revisions belong to different entities")
	}
	fromData, err := revision.DecodeSnapshot(from.Data)
	if err != nil {
		return nil, err
	}
	toData, err := revision.DecodeSnapshot(to.Data)
	if err != nil {
		return nil, err
	}
	unified, err := revision.RenderUnified(fmt.Sprintf("v%d", from.Version), fromData, fmt.Sprintf("v%d", to.Version), toData)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render comparison")
	}
	return &dto.RevisionComparison{
		From:    from,
		To:      to,
		Changes: revision.Diff(fromData, toData),
		Unified: unified,
	}, nil
}

// Verify recomputes every stored change set of ref from the data chain and
// reports versions that are out of order or whose changes disagree.
func (s *RevisionService) Verify(ctx context.Context, ref revision.EntityRef) (*models.RevisionVerification, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	chain, err := s.ledger.Chain(ctx, ref)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load revision chain")
	}
	return VerifyChain(ref, chain, s.now()), nil
}

// VerifyChain checks a chain ordered oldest first.
func VerifyChain(ref revision.EntityRef, chain []models.Revision, checkedAt time.Time) *models.RevisionVerification {
	result := &models.RevisionVerification{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Revisions:  len(chain),
		CheckedAt:  checkedAt,
	}
	issue := func(version int64, kind, detail string) {
		result.Issues = append(result.Issues, models.RevisionChainIssue{Version: version, Kind: kind, Detail: detail})
	}

	var (
		prevData    revision.Snapshot
		prevVersion int64
	)
	for i, rev := range chain {
		if i > 0 {
			switch {
			case rev.Version <= prevVersion:
				issue(rev.Version, models.ChainIssueVersionOrder, fmt.Sprintf("follows version %d", prevVersion))
			case rev.Version > prevVersion+1:
				for missing := prevVersion + 1; missing < rev.Version; missing++ {
					result.Gaps = append(result.Gaps, missing)
				}
			}
		}
		prevVersion = rev.Version

		data, err := revision.DecodeSnapshot(rev.Data)
		if err != nil {
			issue(rev.Version, models.ChainIssueUndecodable, err.Error())
			prevData = nil
			continue
		}
		stored, err := revision.DecodeChangeSet(rev.Changes)
		if err != nil {
			issue(rev.Version, models.ChainIssueUndecodable, err.Error())
			prevData = data
			continue
		}
		expected := revision.ChangeSet{}
		if i > 0 {
			if prevData == nil {
				prevData = data
				continue
			}
			expected = revision.Diff(prevData, data)
		}
		if !expected.Equal(stored) {
			issue(rev.Version, models.ChainIssueChangeMismatch, fmt.Sprintf("stored %d changed paths, recomputed %d", len(stored), len(expected)))
		}
		prevData = data
	}
	result.Valid = len(result.Issues) == 0
	return result
}

// append builds and stores the next revision of entity. It must run inside a
// unit of work. The version is taken before the previous revision is read so
// the read happens under the entity lock.
func (s *RevisionService) append(ctx context.Context, entity revision.Revisionable, in appendInput) (*models.Revision, error) {
	if entity == nil {
		return nil, appErrors.Clone(appErrors.ErrSnapshot, "entity is nil")
	}
	ref := entity.RevisionRef()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	data := in.data
	if data == nil && !in.reload {
		captured, err := revision.Capture(entity)
		if err != nil {
			return nil, err
		}
		data = captured
	}

	version, err := s.sequencer.NextVersion(ctx, ref)
	if err != nil {
		return nil, err
	}
	if data == nil {
		live, err := s.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		if data, err = revision.Capture(live); err != nil {
			return nil, err
		}
	}
	prev, err := s.ledger.Latest(ctx, ref)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load previous revision: %w", err)
	}

	changes := revision.ChangeSet{}
	if prev != nil {
		if prev.Version >= version {
			return nil, &versionConflictError{err: appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("version %d of %s is behind the ledger head %d", version, ref, prev.Version))}
		}
		prevData, err := revision.DecodeSnapshot(prev.Data)
		if err != nil {
			return nil, err
		}
		changes = revision.Diff(prevData, data)
	}

	encodedData, err := data.Encode()
	if err != nil {
		return nil, err
	}
	encodedChanges, err := changes.Encode()
	if err != nil {
		return nil, err
	}
	metadata := in.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encodedMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrSnapshot, "metadata cannot be encoded")
	}

	now := s.now()
	rev := &models.Revision{
		EntityType:  ref.Type,
		EntityID:    ref.ID,
		ActorID:     revision.ActorFromContext(ctx),
		Action:      in.action,
		Version:     version,
		Data:        encodedData,
		Changes:     encodedChanges,
		Metadata:    encodedMetadata,
		IsPublished: in.isPublished,
		CreatedAt:   now,
	}
	if desc := strings.TrimSpace(in.description); desc != "" {
		rev.Description = &desc
	}
	if in.isPublished {
		rev.PublishedAt = &now
	}
	if err := s.ledger.Append(ctx, rev); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, &versionConflictError{err: err}
		}
		return nil, err
	}

	committed := *rev
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.afterCommit(ctx, committed)
	})
	return rev, nil
}

func (s *RevisionService) afterCommit(ctx context.Context, rev models.Revision) {
	ref := revision.Ref(rev.EntityType, rev.EntityID)
	s.cache.InvalidateHeads(ctx, ref)
	s.metrics.RecordRevisionAppended(rev.EntityType, rev.Action)
	if s.events != nil {
		s.events.Publish(ctx, rev)
	}
	logger.For(ctx, s.logger).Debug("revision appended",
		zap.String("entity", ref.String()),
		zap.String("action", string(rev.Action)),
		zap.Int64("version", rev.Version),
	)
}

// versionConflictError marks a lost race for a version number, as opposed to
// conflicts raised by the entity's own persistence.
type versionConflictError struct {
	err error
}

func (e *versionConflictError) Error() string { return e.err.Error() }

func (e *versionConflictError) Unwrap() error { return e.err }

// retryOnConflict reruns fn after a version conflict. Inside an outer unit of
// work the failed statement has already poisoned the transaction, so the
// conflict is returned to the owner of that unit instead.
func (s *RevisionService) retryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 1
	if database.ScopeFrom(ctx) == nil {
		attempts += s.cfg.ConflictRetries
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrTransaction, "")
		}
		err = fn(ctx)
		var conflict *versionConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		s.metrics.RecordRevisionConflict()
		logger.For(ctx, s.logger).Warn("revision version conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *RevisionService) head(ctx context.Context, ref revision.EntityRef, kind string, load func(context.Context, revision.EntityRef) (*models.Revision, error)) (*models.Revision, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	key := repository.HeadKey(ref, kind)
	var cached models.Revision
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	generation, cacheable := s.cache.HeadGeneration(ctx, ref)
	rev, err := load(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s revision for %s", kind, ref))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load revision")
	}
	if cacheable {
		s.cache.SetHead(ctx, ref, kind, generation, rev, s.cfg.CacheTTL)
	}
	return rev, nil
}

func (s *RevisionService) load(ctx context.Context, ref revision.EntityRef) (revision.Revisionable, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	handler, err := s.registry.Lookup(ref.Type)
	if err != nil {
		return nil, err
	}
	entity, err := handler.Load(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s not found", ref))
	}
	return entity, nil
}
