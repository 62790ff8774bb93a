package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/dto"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/export"
	"github.com/noah-isme/revision-engine/pkg/storage"
)

// Export formats supported by ExportHistory.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type revisionChainReader interface {
	Chain(ctx context.Context, ref revision.EntityRef) ([]models.Revision, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult describes a stored export reachable through a signed link.
type ExportResult struct {
	Filename  string    `json:"filename"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportService renders revision histories and optionally keeps them on disk
// behind signed download links.
type ExportService struct {
	ledger  revisionChainReader
	storage fileStorage
	signer  *storage.SignedURLSigner
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService. files and signer may be nil
// when only inline exports are served.
func NewExportService(ledger revisionChainReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		ledger:  ledger,
		storage: files,
		signer:  signer,
		csv:     csv,
		pdf:     pdf,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ExportHistory renders the full history of ref, newest first.
func (s *ExportService) ExportHistory(ctx context.Context, ref revision.EntityRef, format string) (*dto.RevisionExport, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", format))
	}
	chain, err := s.ledger.Chain(ctx, ref)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load revision chain")
	}
	if len(chain) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no revisions for %s", ref))
	}

	dataset := buildHistoryDataset(chain)
	base := fmt.Sprintf("%s_%s_history_%s", sanitizeFilename(ref.Type), sanitizeFilename(ref.ID), s.now().Format("20060102_150405"))
	if format == ExportFormatPDF {
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Revision history %s", ref))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
		}
		return &dto.RevisionExport{Filename: base + ".pdf", ContentType: "application/pdf", Payload: payload}, nil
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.RevisionExport{Filename: base + ".csv", ContentType: "text/csv", Payload: payload}, nil
}

// Store renders the history of ref and keeps it for ResultTTL behind a signed
// link.
func (s *ExportService) Store(ctx context.Context, ref revision.EntityRef, format string) (*ExportResult, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "stored exports are disabled")
	}
	rendered, err := s.ExportHistory(ctx, ref, format)
	if err != nil {
		return nil, err
	}
	relPath, err := s.storage.Save(rendered.Filename, rendered.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(ref.String(), relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("revision history exported", zap.String("entity", ref.String()), zap.String("file", relPath))
	return &ExportResult{
		Filename:  rendered.Filename,
		Token:     token,
		URL:       fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:    strings.TrimPrefix(filepath.Ext(rendered.Filename), "."),
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a signed token to the stored file.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	if s.storage == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	obj, err := s.signer.Parse(token, false)
	if err != nil {
		message := "invalid export token"
		if errors.Is(err, storage.ErrTokenExpired) {
			message = "export link expired"
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, message)
	}
	file, err := s.storage.Open(obj.Path)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, obj.Path, nil
}

// Cleanup removes stored exports older than ttl, or ResultTTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

var (
	historyExportHeaders = []string{"Version", "Action", "Actor", "Published", "Changed Fields", "Description", "Created At"}
	historyExportWeights = []float64{0.7, 0.9, 1.3, 0.9, 2.6, 2.2, 1.6}
)

func buildHistoryDataset(chain []models.Revision) export.Dataset {
	rows := make([]map[string]string, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		rev := chain[i]
		changed := "-"
		if cs, err := revision.DecodeChangeSet(rev.Changes); err == nil && !cs.Empty() {
			changed = strings.Join(cs.Paths(), ", ")
		}
		rows = append(rows, map[string]string{
			"Version":        fmt.Sprintf("%d", rev.Version),
			"Action":         string(rev.Action),
			"Actor":          derefOr(rev.ActorID, "system"),
			"Published":      fmt.Sprintf("%t", rev.IsPublished),
			"Changed Fields": changed,
			"Description":    derefOr(rev.Description, ""),
			"Created At":     rev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: historyExportHeaders, Rows: rows, Weights: historyExportWeights}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_", "#", "-", ".", "-")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func derefOr(ptr *string, fallback string) string {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
