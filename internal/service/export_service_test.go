package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/export"
	"github.com/noah-isme/revision-engine/pkg/storage"
)

func seededLedger() *memoryLedger {
	actor := "editor-1"
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return &memoryLedger{revisions: []models.Revision{
		{ID: "r1", EntityType: "page", EntityID: "1", Action: models.RevisionActionCreate, Version: 1, Data: []byte(`{"title":"A"}`), Changes: []byte(`{}`), IsPublished: true, CreatedAt: created},
		{ID: "r2", EntityType: "page", EntityID: "1", ActorID: &actor, Action: models.RevisionActionUpdate, Version: 2, Data: []byte(`{"title":"B"}`), Changes: []byte(`{"title":{"op":"changed","from":"A","to":"B"}}`), CreatedAt: created.Add(time.Hour)},
	}}
}

func newExportServiceForTest(t *testing.T) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	return NewExportService(seededLedger(), store, signer, cfg, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
}

func TestExportHistoryCSV(t *testing.T) {
	svc := newExportServiceForTest(t)
	out, err := svc.ExportHistory(context.Background(), revision.Ref("page", "1"), "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.True(t, strings.HasPrefix(out.Filename, "page_1_history_"))
	assert.True(t, strings.HasSuffix(out.Filename, ".csv"))

	records, err := csv.NewReader(bytes.NewReader(out.Payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, historyExportHeaders, records[0])
	assert.Equal(t, []string{"2", "update", "editor-1", "false", "title", "", "2024-05-01T09:00:00Z"}, records[1])
	assert.Equal(t, []string{"1", "create", "system", "true", "-", "", "2024-05-01T08:00:00Z"}, records[2])
}

func TestExportHistoryPDF(t *testing.T) {
	svc := newExportServiceForTest(t)
	out, err := svc.ExportHistory(context.Background(), revision.Ref("page", "1"), "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.True(t, bytes.HasPrefix(out.Payload, []byte("%PDF")))
}

func TestExportHistoryRejectsUnknownFormatAndEmptyHistory(t *testing.T) {
	svc := newExportServiceForTest(t)
	_, err := svc.ExportHistory(context.Background(), revision.Ref("page", "1"), "xlsx")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.ExportHistory(context.Background(), revision.Ref("page", "404"), "csv")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportStoreAndOpenSignedLink(t *testing.T) {
	svc := newExportServiceForTest(t)
	result, err := svc.Store(context.Background(), revision.Ref("page", "1"), "csv")
	require.NoError(t, err)
	assert.Equal(t, "csv", result.Format)
	assert.Equal(t, "/api/v1/exports/"+result.Token, result.URL)
	assert.WithinDuration(t, time.Now().Add(time.Hour), result.ExpiresAt, time.Minute)

	file, relPath, err := svc.Open(result.Token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, result.Filename, relPath)
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Changed Fields")

	_, _, err = svc.Open(result.Token + "x")
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	deleted, err := svc.Cleanup(time.Nanosecond)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)
}

func TestExportStoreDisabledWithoutStorage(t *testing.T) {
	svc := NewExportService(seededLedger(), nil, nil, ExportConfig{}, nil, nil, nil)
	_, err := svc.Store(context.Background(), revision.Ref("page", "1"), "csv")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, _, err = svc.Open("token")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
