package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/repository"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/pkg/database"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// memoryLedger is an in-memory ledger and SQL-style sequencer.
type memoryLedger struct {
	mu        sync.Mutex
	revisions []models.Revision
	seq       int
	appendErr error
}

func (l *memoryLedger) Append(ctx context.Context, rev *models.Revision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	for _, existing := range l.revisions {
		if existing.EntityType == rev.EntityType && existing.EntityID == rev.EntityID && existing.Version == rev.Version {
			return appErrors.Clone(appErrors.ErrConflict, "duplicate version")
		}
	}
	l.seq++
	if rev.ID == "" {
		rev.ID = fmt.Sprintf("rev-%d", l.seq)
	}
	l.revisions = append(l.revisions, *rev)
	return nil
}

func (l *memoryLedger) Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	return l.head(ref, false)
}

func (l *memoryLedger) LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	return l.head(ref, true)
}

func (l *memoryLedger) head(ref revision.EntityRef, published bool) (*models.Revision, error) {
	chain := l.chain(ref)
	for i := len(chain) - 1; i >= 0; i-- {
		if !published || chain[i].IsPublished {
			rev := chain[i]
			return &rev, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (l *memoryLedger) GetByID(ctx context.Context, id string) (*models.Revision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rev := range l.revisions {
		if rev.ID == id {
			found := rev
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (l *memoryLedger) History(ctx context.Context, ref revision.EntityRef, filter models.RevisionFilter) ([]models.Revision, error) {
	chain := l.chain(ref)
	var out []models.Revision
	for i := len(chain) - 1; i >= 0; i-- {
		if filter.Action != nil && chain[i].Action != *filter.Action {
			continue
		}
		out = append(out, chain[i])
	}
	if filter.Offset >= len(out) {
		return []models.Revision{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *memoryLedger) Chain(ctx context.Context, ref revision.EntityRef) ([]models.Revision, error) {
	return l.chain(ref), nil
}

func (l *memoryLedger) CountByEntity(ctx context.Context, ref revision.EntityRef, action *models.RevisionAction) (int, error) {
	count := 0
	for _, rev := range l.chain(ref) {
		if action == nil || rev.Action == *action {
			count++
		}
	}
	return count, nil
}

func (l *memoryLedger) NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	if database.ScopeFrom(ctx) == nil {
		return 0, appErrors.Clone(appErrors.ErrTransaction, "no transaction")
	}
	chain := l.chain(ref)
	if len(chain) == 0 {
		return 1, nil
	}
	return chain[len(chain)-1].Version + 1, nil
}

func (l *memoryLedger) MaxVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	chain := l.chain(ref)
	if len(chain) == 0 {
		return 0, nil
	}
	return chain[len(chain)-1].Version, nil
}

func (l *memoryLedger) chain(ref revision.EntityRef) []models.Revision {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Revision
	for _, rev := range l.revisions {
		if rev.EntityType == ref.Type && rev.EntityID == ref.ID {
			out = append(out, rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (l *memoryLedger) snapshot() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Revision(nil), l.revisions...)
}

func (l *memoryLedger) restore(state any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revisions = state.([]models.Revision)
}

// memoryPages is an in-memory page repository.
type memoryPages struct {
	mu        sync.Mutex
	pages     map[string]models.Page
	seq       int
	updateErr error
}

func newMemoryPages() *memoryPages {
	return &memoryPages{pages: map[string]models.Page{}}
}

func (r *memoryPages) FindByID(ctx context.Context, id string) (*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, ok := r.pages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &page, nil
}

func (r *memoryPages) List(ctx context.Context, filter models.PageFilter) ([]models.Page, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Page, 0, len(r.pages))
	for _, page := range r.pages {
		out = append(out, page)
	}
	return out, len(out), nil
}

func (r *memoryPages) Create(ctx context.Context, page *models.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pages {
		if existing.Slug == page.Slug {
			return appErrors.Clone(appErrors.ErrConflict, "slug already in use")
		}
	}
	if page.ID == "" {
		r.seq++
		page.ID = fmt.Sprintf("%d", r.seq)
	}
	page.CreatedAt = time.Now().UTC()
	page.UpdatedAt = page.CreatedAt
	r.pages[page.ID] = *page
	return nil
}

func (r *memoryPages) Update(ctx context.Context, page *models.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.pages[page.ID]; !ok {
		return sql.ErrNoRows
	}
	page.UpdatedAt = time.Now().UTC()
	r.pages[page.ID] = *page
	return nil
}

func (r *memoryPages) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pages[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.pages, id)
	return nil
}

func (r *memoryPages) snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]models.Page, len(r.pages))
	for k, v := range r.pages {
		copied[k] = v
	}
	return copied
}

func (r *memoryPages) restore(state any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = state.(map[string]models.Page)
}

type txState interface {
	snapshot() any
	restore(state any)
}

// memoryTx serialises units of work and rolls every store back on failure.
type memoryTx struct {
	mu     sync.Mutex
	stores []txState
}

func (t *memoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if database.ScopeFrom(ctx) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	saved := make([]any, len(t.stores))
	for i, store := range t.stores {
		saved[i] = store.snapshot()
	}
	txCtx, scope := database.NewScope(ctx, nil)
	if err := fn(txCtx); err != nil {
		for i, store := range t.stores {
			store.restore(saved[i])
		}
		return err
	}
	scope.Committed(ctx)
	return nil
}

// staleSequencer hands out an outdated version for the first stale calls.
type staleSequencer struct {
	next  versionSequencer
	stale int
	mu    sync.Mutex
}

func (s *staleSequencer) NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale > 0 {
		s.stale--
		return 1, nil
	}
	return s.next.NextVersion(ctx, ref)
}

type revisionFixture struct {
	ledger    *memoryLedger
	pageRepo  *memoryPages
	revisions *RevisionService
	pages     *PageService
}

func newRevisionFixture(t *testing.T, mutate func(*RevisionServiceParams)) *revisionFixture {
	t.Helper()
	ledger := &memoryLedger{}
	pageRepo := newMemoryPages()
	params := RevisionServiceParams{
		Ledger:    ledger,
		Sequencer: ledger,
		Tx:        &memoryTx{stores: []txState{ledger, pageRepo}},
		Registry:  revision.NewRegistry(),
		Config:    RevisionServiceConfig{ConflictRetries: 1},
	}
	if mutate != nil {
		mutate(&params)
	}
	revisions := NewRevisionService(params)
	pages := NewPageService(pageRepo, revisions, nil, nil)
	require.NoError(t, revisions.Registry().Register(models.EntityTypePage, pages))
	return &revisionFixture{ledger: ledger, pageRepo: pageRepo, revisions: revisions, pages: pages}
}

func decodeChanges(t *testing.T, rev *models.Revision) revision.ChangeSet {
	t.Helper()
	cs, err := revision.DecodeChangeSet(rev.Changes)
	require.NoError(t, err)
	return cs
}

func titleOf(t *testing.T, rev *models.Revision) any {
	t.Helper()
	data, err := revision.DecodeSnapshot(rev.Data)
	require.NoError(t, err)
	return data["title"]
}

func TestRevisionLifecycleCreateUpdatePublishRevert(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := revision.WithActor(context.Background(), "editor-1")

	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	ref := page.RevisionRef()

	v1, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version)
	assert.Equal(t, models.RevisionActionCreate, v1.Action)
	assert.True(t, v1.IsPublished)
	assert.NotNil(t, v1.PublishedAt)
	assert.Empty(t, decodeChanges(t, v1))
	require.NotNil(t, v1.ActorID)
	assert.Equal(t, "editor-1", *v1.ActorID)

	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)
	v2, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)
	assert.Equal(t, models.RevisionActionUpdate, v2.Action)
	assert.False(t, v2.IsPublished)
	assert.Equal(t, revision.ChangeSet{"title": {Op: revision.OpChanged, From: "A", To: "B"}}, decodeChanges(t, v2))

	v3, err := fx.revisions.PublishByRef(ctx, ref, "go live")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v3.Version)
	assert.Equal(t, models.RevisionActionPublish, v3.Action)
	assert.True(t, v3.IsPublished)
	assert.Equal(t, "B", titleOf(t, v3))
	assert.Empty(t, decodeChanges(t, v3))
	require.NotNil(t, v3.Description)
	assert.Equal(t, "go live", *v3.Description)

	v4, err := fx.revisions.Revert(ctx, page, v1.ID, RevertOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), v4.Version)
	assert.Equal(t, models.RevisionActionRevert, v4.Action)
	assert.False(t, v4.IsPublished)
	assert.JSONEq(t, string(v1.Data), string(v4.Data))
	assert.Equal(t, revision.ChangeSet{"title": {Op: revision.OpChanged, From: "B", To: "A"}}, decodeChanges(t, v4))

	var meta struct {
		Version    int64  `json:"reverted_to_version"`
		RevisionID string `json:"reverted_to_revision_id"`
	}
	require.NoError(t, json.Unmarshal(v4.Metadata, &meta))
	assert.Equal(t, int64(1), meta.Version)
	assert.Equal(t, v1.ID, meta.RevisionID)

	live, err := fx.pages.Get(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", live.Title)

	liveData, err := revision.Capture(live)
	require.NoError(t, err)
	headData, err := revision.DecodeSnapshot(v4.Data)
	require.NoError(t, err)
	assert.True(t, liveData.Equal(headData))

	// restoring the page must not have captured an extra update revision
	chain, err := fx.ledger.Chain(ctx, ref)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	published, err := fx.revisions.LatestPublished(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), published.Version)
}

func TestTrackRollsBackEntityWhenAppendFails(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	fx.ledger.appendErr = errors.New("ledger unavailable")

	_, err := fx.pages.Create(context.Background(), dto.CreatePageRequest{Slug: "about", Title: "About"})
	require.Error(t, err)

	pages, total, err := fx.pageRepo.List(context.Background(), models.PageFilter{})
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Zero(t, total)
	assert.Empty(t, fx.ledger.snapshot())
}

func TestTrackLeavesLedgerUntouchedWhenPersistFails(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "about", Title: "About"})
	require.NoError(t, err)

	fx.pageRepo.updateErr = errors.New("constraint violated")
	title := "Changed"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.Error(t, err)

	chain, err := fx.ledger.Chain(ctx, page.RevisionRef())
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestRevertFailureWritesNothing(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)
	v1, err := fx.ledger.head(page.RevisionRef(), true)
	require.NoError(t, err)

	fx.pageRepo.updateErr = errors.New("validation hook rejected")
	_, err = fx.revisions.Revert(ctx, page, v1.ID, RevertOptions{})
	require.Error(t, err)

	chain, err := fx.ledger.Chain(ctx, page.RevisionRef())
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	live, err := fx.pageRepo.FindByID(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", live.Title)
}

func TestRevertRejectsForeignAndUnknownRevisions(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	home, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "Home"})
	require.NoError(t, err)
	about, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "about", Title: "About"})
	require.NoError(t, err)

	aboutV1, err := fx.revisions.Latest(ctx, about.RevisionRef())
	require.NoError(t, err)

	_, err = fx.revisions.Revert(ctx, home, aboutV1.ID, RevertOptions{})
	require.ErrorIs(t, err, appErrors.ErrMismatch)

	_, err = fx.revisions.Revert(ctx, home, "missing", RevertOptions{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = fx.revisions.RevertByRef(ctx, revision.Ref(models.EntityTypePage, "nope"), aboutV1.ID, RevertOptions{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = fx.revisions.RevertByRef(ctx, revision.Ref("widget", "1"), aboutV1.ID, RevertOptions{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRevertCanPublish(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	v1, err := fx.revisions.Latest(ctx, page.RevisionRef())
	require.NoError(t, err)

	rev, err := fx.revisions.RevertByRef(ctx, page.RevisionRef(), v1.ID, RevertOptions{Publish: true, Description: "roll back"})
	require.NoError(t, err)
	assert.True(t, rev.IsPublished)
	assert.Empty(t, decodeChanges(t, rev))
}

func TestCaptureIsNoopWhenSuppressed(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	page := &models.Page{ID: "7", Slug: "s", Title: "T"}

	rev, err := fx.revisions.Capture(revision.SuppressCapture(context.Background()), models.RevisionActionUpdate, page)
	require.NoError(t, err)
	assert.Nil(t, rev)
	assert.Empty(t, fx.ledger.snapshot())

	// suppression never leaks into calls made with an unrelated context
	rev, err = fx.revisions.Capture(context.Background(), models.RevisionActionUpdate, page)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, int64(1), rev.Version)
}

func TestCaptureRejectsNonCaptureActions(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	_, err := fx.revisions.Capture(context.Background(), models.RevisionActionPublish, &models.Page{ID: "1"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCaptureSurfacesSnapshotErrors(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	page := &models.Page{ID: "1", Slug: "s", Title: "T"}
	_, err := fx.revisions.CreateManualRevision(context.Background(), brokenEntity{page}, ManualRevisionInput{Action: "review"})
	require.ErrorIs(t, err, appErrors.ErrSnapshot)
	assert.Empty(t, fx.ledger.snapshot())
}

type brokenEntity struct {
	*models.Page
}

func (b brokenEntity) SnapshotData() map[string]any {
	return map[string]any{"title": b.Title, "hook": func() {}}
}

func TestCreateManualRevisionValidatesAction(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	page := &models.Page{ID: "1", Slug: "s", Title: "T"}

	_, err := fx.revisions.CreateManualRevision(context.Background(), page, ManualRevisionInput{Action: "Bad Action!"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = fx.revisions.CreateManualRevision(context.Background(), page, ManualRevisionInput{Action: models.RevisionActionRevert})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	rev, err := fx.revisions.CreateManualRevision(context.Background(), page, ManualRevisionInput{
		Action:   "approve",
		Metadata: map[string]any{"ticket": "OPS-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RevisionAction("approve"), rev.Action)
	assert.JSONEq(t, `{"ticket":"OPS-1"}`, string(rev.Metadata))
	assert.False(t, rev.IsPublished)
}

func TestVersionConflictIsRetried(t *testing.T) {
	var seq *staleSequencer
	fx := newRevisionFixture(t, func(p *RevisionServiceParams) {
		seq = &staleSequencer{next: p.Sequencer}
		p.Sequencer = seq
	})
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)

	seq.stale = 1
	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)

	head, err := fx.revisions.Latest(ctx, page.RevisionRef())
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.Version)
	assert.Equal(t, "B", titleOf(t, head))
}

func TestVersionConflictWithoutRetriesSurfaces(t *testing.T) {
	var seq *staleSequencer
	fx := newRevisionFixture(t, func(p *RevisionServiceParams) {
		seq = &staleSequencer{next: p.Sequencer}
		p.Sequencer = seq
		p.Config.ConflictRetries = 0
	})
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)

	seq.stale = 1
	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.ErrorIs(t, err, appErrors.ErrConflict)

	live, err := fx.pageRepo.FindByID(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", live.Title)
}

func TestSlugConflictIsNotRetried(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	_, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	_, err = fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "B"})
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	for _, title := range []string{"B", "C", "D"} {
		title := title
		_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
		require.NoError(t, err)
	}

	items, pagination, err := fx.revisions.History(ctx, page.RevisionRef(), dto.RevisionHistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(4), items[0].Version)
	assert.Equal(t, int64(3), items[1].Version)
	assert.Equal(t, 4, pagination.TotalCount)
	assert.Equal(t, 1, pagination.Page)

	items, pagination, err = fx.revisions.History(ctx, page.RevisionRef(), dto.RevisionHistoryQuery{Action: "create"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	_, _, err = fx.revisions.History(ctx, page.RevisionRef(), dto.RevisionHistoryQuery{Action: "Not Valid"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestHistoryClampsOversizedPages(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)

	items, pagination, err := fx.revisions.History(ctx, page.RevisionRef(), dto.RevisionHistoryQuery{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, repository.MaxHistoryLimit, pagination.PageSize)
	assert.Equal(t, 1, pagination.Page)

	_, pagination, err = fx.revisions.History(ctx, page.RevisionRef(), dto.RevisionHistoryQuery{Limit: 1000, Offset: 1000})
	require.NoError(t, err)
	assert.Equal(t, repository.MaxHistoryLimit, pagination.PageSize)
	assert.Equal(t, 3, pagination.Page)
}

func TestCompareRevisions(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)
	other, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "other", Title: "O"})
	require.NoError(t, err)

	chain, err := fx.ledger.Chain(ctx, page.RevisionRef())
	require.NoError(t, err)
	cmp, err := fx.revisions.Compare(ctx, chain[0].ID, chain[1].ID)
	require.NoError(t, err)
	assert.Equal(t, revision.ChangeSet{"title": {Op: revision.OpChanged, From: "A", To: "B"}}, cmp.Changes)
	assert.Contains(t, cmp.Unified, `-title = "A"`)
	assert.Contains(t, cmp.Unified, `+title = "B"`)

	otherHead, err := fx.revisions.Latest(ctx, other.RevisionRef())
	require.NoError(t, err)
	_, err = fx.revisions.Compare(ctx, chain[0].ID, otherHead.ID)
	require.ErrorIs(t, err, appErrors.ErrMismatch)
}

func TestVerifyReportsHealthyChain(t *testing.T) {
	fx := newRevisionFixture(t, nil)
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)

	report, err := fx.revisions.Verify(ctx, page.RevisionRef())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Revisions)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Gaps)
}

func TestVerifyChainFindsMismatchesAndGaps(t *testing.T) {
	ref := revision.Ref("page", "1")
	chain := []models.Revision{
		{Version: 1, Data: []byte(`{"a":1}`), Changes: []byte(`{}`)},
		{Version: 2, Data: []byte(`{"a":2}`), Changes: []byte(`{"a":{"op":"changed","from":1,"to":2}}`)},
		{Version: 4, Data: []byte(`{"a":3}`), Changes: []byte(`{}`)},
		{Version: 4, Data: []byte(`{"a":3}`), Changes: []byte(`{}`)},
	}
	report := VerifyChain(ref, chain, time.Unix(0, 0))
	assert.False(t, report.Valid)
	assert.Equal(t, []int64{3}, report.Gaps)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, models.ChainIssueChangeMismatch, report.Issues[0].Kind)
	assert.Equal(t, int64(4), report.Issues[0].Version)
	assert.Equal(t, models.ChainIssueVersionOrder, report.Issues[1].Kind)
}

func TestHeadReadsAreCachedAndInvalidatedAfterCommit(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	cacheRepo := repository.NewCacheRepository(client, nil)
	t.Cleanup(func() { _ = cacheRepo.Close() })
	metrics := NewMetricsService()
	cache := NewCacheService(cacheRepo, metrics, time.Minute, nil, true)

	fx := newRevisionFixture(t, func(p *RevisionServiceParams) {
		p.Cache = cache
		p.Metrics = metrics
	})
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	ref := page.RevisionRef()

	first, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.True(t, mini.Exists(repository.HeadKey(ref, repository.HeadLatest)))
	cached, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cached.ID)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheHits)

	title := "B"
	_, err = fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
	require.NoError(t, err)
	assert.False(t, mini.Exists(repository.HeadKey(ref, repository.HeadLatest)))

	head, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.Version)

	_, err = fx.revisions.LatestPublished(ctx, revision.Ref(models.EntityTypePage, "missing"))
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

// hookedLedger runs afterRead once, right after a Latest read returns.
type hookedLedger struct {
	*memoryLedger
	mu        sync.Mutex
	afterRead func()
}

func (l *hookedLedger) Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	rev, err := l.memoryLedger.Latest(ctx, ref)
	l.mu.Lock()
	hook := l.afterRead
	l.afterRead = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return rev, err
}

func TestHeadReadDoesNotCacheRevisionSupersededWhileLoading(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	cacheRepo := repository.NewCacheRepository(client, nil)
	t.Cleanup(func() { _ = cacheRepo.Close() })
	cache := NewCacheService(cacheRepo, NewMetricsService(), time.Minute, nil, true)

	var hooked *hookedLedger
	fx := newRevisionFixture(t, func(p *RevisionServiceParams) {
		hooked = &hookedLedger{memoryLedger: p.Ledger.(*memoryLedger)}
		p.Ledger = hooked
		p.Cache = cache
	})
	ctx := context.Background()
	page, err := fx.pages.Create(ctx, dto.CreatePageRequest{Slug: "home", Title: "A"})
	require.NoError(t, err)
	ref := page.RevisionRef()

	// an update commits between the ledger read and the cache write
	title := "B"
	hooked.afterRead = func() {
		_, err := fx.pages.Update(ctx, page.ID, dto.UpdatePageRequest{Title: &title})
		require.NoError(t, err)
	}
	stale, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Version)
	assert.False(t, mini.Exists(repository.HeadKey(ref, repository.HeadLatest)))

	head, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.Version)
	assert.True(t, mini.Exists(repository.HeadKey(ref, repository.HeadLatest)))

	cached, err := fx.revisions.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Version)
}
