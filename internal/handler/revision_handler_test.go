package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/internal/service"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

type revisionServiceMock struct {
	lastRef    revision.EntityRef
	lastQuery  dto.RevisionHistoryQuery
	lastManual service.ManualRevisionInput
	lastRevert service.RevertOptions
	lastTarget string
	err        error
}

func (m *revisionServiceMock) History(ctx context.Context, ref revision.EntityRef, query dto.RevisionHistoryQuery) ([]models.Revision, *models.Pagination, error) {
	m.lastRef, m.lastQuery = ref, query
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.Revision{{ID: "r2", Version: 2}, {ID: "r1", Version: 1}}, &models.Pagination{Page: 1, PageSize: 50, TotalCount: 2}, nil
}

func (m *revisionServiceMock) Latest(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	m.lastRef = ref
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: "r2", EntityType: ref.Type, EntityID: ref.ID, Version: 2}, nil
}

func (m *revisionServiceMock) LatestPublished(ctx context.Context, ref revision.EntityRef) (*models.Revision, error) {
	m.lastRef = ref
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: "r1", Version: 1, IsPublished: true}, nil
}

func (m *revisionServiceMock) Get(ctx context.Context, id string) (*models.Revision, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: id}, nil
}

func (m *revisionServiceMock) Compare(ctx context.Context, fromID, toID string) (*dto.RevisionComparison, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.RevisionComparison{From: &models.Revision{ID: fromID}, To: &models.Revision{ID: toID}}, nil
}

func (m *revisionServiceMock) Verify(ctx context.Context, ref revision.EntityRef) (*models.RevisionVerification, error) {
	m.lastRef = ref
	return &models.RevisionVerification{EntityType: ref.Type, EntityID: ref.ID, Valid: true}, m.err
}

func (m *revisionServiceMock) ManualByRef(ctx context.Context, ref revision.EntityRef, input service.ManualRevisionInput) (*models.Revision, error) {
	m.lastRef, m.lastManual = ref, input
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: "r3", Action: input.Action, Version: 3}, nil
}

func (m *revisionServiceMock) PublishByRef(ctx context.Context, ref revision.EntityRef, description string) (*models.Revision, error) {
	m.lastRef = ref
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: "r3", Action: models.RevisionActionPublish, IsPublished: true}, nil
}

func (m *revisionServiceMock) RevertByRef(ctx context.Context, ref revision.EntityRef, revisionID string, opts service.RevertOptions) (*models.Revision, error) {
	m.lastRef, m.lastTarget, m.lastRevert = ref, revisionID, opts
	if m.err != nil {
		return nil, m.err
	}
	return &models.Revision{ID: "r4", Action: models.RevisionActionRevert, IsPublished: opts.Publish}, nil
}

type exporterMock struct {
	dir    string
	format string
	err    error
}

func (m *exporterMock) ExportHistory(ctx context.Context, ref revision.EntityRef, format string) (*dto.RevisionExport, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &dto.RevisionExport{Filename: "page_1_history.csv", ContentType: "text/csv", Payload: []byte("Version\n1\n")}, nil
}

func (m *exporterMock) Store(ctx context.Context, ref revision.EntityRef, format string) (*service.ExportResult, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportResult{Filename: "page_1_history.pdf", Token: "tok", URL: "/api/v1/exports/tok", Format: format}, nil
}

func (m *exporterMock) Open(token string) (*os.File, string, error) {
	if token != "tok" {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid export token")
	}
	path := filepath.Join(m.dir, "page_1_history.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.3"), 0o600); err != nil {
		return nil, "", err
	}
	file, err := os.Open(path)
	return file, "page_1_history.pdf", err
}

func newRevisionTestContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	c.Params = gin.Params{{Key: "type", Value: "page"}, {Key: "id", Value: "1"}}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestRevisionHandlerHistoryParsesFilters(t *testing.T) {
	svc := &revisionServiceMock{}
	handler := NewRevisionHandler(svc, nil)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1?action=update&limit=10&offset=5", nil)

	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, revision.Ref("page", "1"), svc.lastRef)
	assert.Equal(t, dto.RevisionHistoryQuery{Action: "update", Limit: 10, Offset: 5}, svc.lastQuery)
	envelope := decodeEnvelope(t, w)
	assert.Contains(t, string(envelope["pagination"]), `"total_count":2`)
}

func TestRevisionHandlerHistoryRejectsBadLimit(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{}, nil)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1?limit=-1", nil)
	handler.History(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevisionHandlerLatestMapsNotFound(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "no revisions")}, nil)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1/latest", nil)
	handler.Latest(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevisionHandlerCompareRequiresBothIDs(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{}, nil)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/compare?from=a", nil)
	handler.Compare(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newRevisionTestContext(http.MethodGet, "/revisions/compare?from=a&to=b", nil)
	handler.Compare(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRevisionHandlerManualAndRevert(t *testing.T) {
	svc := &revisionServiceMock{}
	handler := NewRevisionHandler(svc, nil)

	body, _ := json.Marshal(dto.ManualRevisionRequest{Action: "import", Description: "bulk", Metadata: map[string]any{"source": "csv"}})
	c, w := newRevisionTestContext(http.MethodPost, "/revisions/page/1/manual", body)
	handler.Manual(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.RevisionAction("import"), svc.lastManual.Action)
	assert.Equal(t, "csv", svc.lastManual.Metadata["source"])

	body, _ = json.Marshal(dto.RevertRequest{RevisionID: "r1", Publish: true})
	c, w = newRevisionTestContext(http.MethodPost, "/revisions/page/1/revert", body)
	handler.Revert(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "r1", svc.lastTarget)
	assert.True(t, svc.lastRevert.Publish)
}

func TestRevisionHandlerRevertInvalidBody(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{}, nil)
	c, w := newRevisionTestContext(http.MethodPost, "/revisions/page/1/revert", []byte(`invalid`))
	handler.Revert(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevisionHandlerRevertMismatchConflicts(t *testing.T) {
	svc := &revisionServiceMock{err: appErrors.Clone(appErrors.ErrMismatch, "revision belongs to another entity")}
	handler := NewRevisionHandler(svc, nil)
	body, _ := json.Marshal(dto.RevertRequest{RevisionID: "other"})
	c, w := newRevisionTestContext(http.MethodPost, "/revisions/page/1/revert", body)
	handler.Revert(c)
	assert.Equal(t, appErrors.ErrMismatch.Status, w.Code)
}

func TestRevisionHandlerPublishAcceptsEmptyBody(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{}, nil)
	c, w := newRevisionTestContext(http.MethodPost, "/revisions/page/1/publish", nil)
	handler.Publish(c)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRevisionHandlerExportInline(t *testing.T) {
	exporter := &exporterMock{}
	handler := NewRevisionHandler(&revisionServiceMock{}, exporter)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1/export", nil)
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "page_1_history.csv")
	assert.Equal(t, "Version\n1\n", w.Body.String())
}

func TestRevisionHandlerExportLinkAndDownload(t *testing.T) {
	exporter := &exporterMock{dir: t.TempDir()}
	handler := NewRevisionHandler(&revisionServiceMock{}, exporter)

	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1/export?format=pdf&delivery=link", nil)
	handler.Export(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pdf", exporter.format)
	assert.Contains(t, w.Body.String(), "/api/v1/exports/tok")

	c, w = newRevisionTestContext(http.MethodGet, "/exports/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())

	c, w = newRevisionTestContext(http.MethodGet, "/exports/forged", nil)
	c.Params = gin.Params{{Key: "token", Value: "forged"}}
	handler.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRevisionHandlerExportDisabled(t *testing.T) {
	handler := NewRevisionHandler(&revisionServiceMock{}, nil)
	c, w := newRevisionTestContext(http.MethodGet, "/revisions/page/1/export", nil)
	handler.Export(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevisionRoutesKeepEntityTypeIDRoutable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &revisionServiceMock{}
	r := gin.New()
	NewRevisionHandler(svc, nil).Register(r, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/revisions/id/42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, revision.Ref("id", "42"), svc.lastRef)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/revisions/id/42/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, revision.Ref("id", "42"), svc.lastRef)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/revision-ids/r7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Contains(t, string(envelope["data"]), `"r7"`)
}
