package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/export"
	"github.com/pirouette-labs/studio-ledger-api/pkg/storage"
)

type summaryProvider interface {
	SummaryFor(ctx context.Context, date string) ([]models.SummaryRow, error)
}

type impactProvider interface {
	AnalyzeHolidayImpact(ctx context.Context, date, name string) (*models.HolidayImpact, error)
}

type statementProvider interface {
	GetBalance(ctx context.Context, studentID string) (int, error)
	CreditsFor(ctx context.Context, studentID string) ([]models.HolidayCredit, error)
}

type statementRoster interface {
	Get(ctx context.Context, id string) (*models.Student, int64, error)
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

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	summaries  summaryProvider
	impacts    impactProvider
	statements statementProvider
	roster     statementRoster
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(summaries summaryProvider, impacts impactProvider, statements statementProvider, roster statementRoster, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
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
		summaries:  summaries,
		impacts:    impacts,
		statements: statements,
		roster:     roster,
		storage:    store,
		csv:        csv,
		pdf:        pdf,
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/exports/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := job.Params.Date
	if job.Type == models.ReportTypeStatement {
		scope = job.Params.StudentID
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), sanitizeFilename(scope), timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeDaySummary:
		return s.buildDaySummaryDataset(ctx, job.Params)
	case models.ReportTypeReconciliation:
		return s.buildReconciliationDataset(ctx, job.Params)
	case models.ReportTypeStatement:
		return s.buildStatementDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildDaySummaryDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	rows, err := s.summaries.SummaryFor(ctx, params.Date)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		record := map[string]string{
			"Student ID": row.Student.ID,
			"First Name": row.Student.FirstName,
			"Last Name":  row.Student.LastName,
			"Status":     "",
			"Attributes": "",
			"Balance":    fmt.Sprintf("%d", row.Student.Balance),
		}
		if row.Attendance != nil {
			record["Status"] = string(row.Attendance.Status)
			record["Attributes"] = joinAttributes(row.Attendance.Attributes)
		}
		dataRows = append(dataRows, record)
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "First Name", "Last Name", "Status", "Attributes", "Balance"},
		Rows:    dataRows,
	}
	return dataset, fmt.Sprintf("Attendance Summary %s", params.Date), nil
}

func (s *ExportService) buildReconciliationDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	impact, err := s.impacts.AnalyzeHolidayImpact(ctx, params.Date, "")
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(impact.Entries))
	for _, entry := range impact.Entries {
		dataRows = append(dataRows, map[string]string{
			"Student ID": entry.StudentID,
			"Source":     string(entry.Source),
			"Origin Tag": entry.OriginTag,
			"Amount":     fmt.Sprintf("%d", entry.Amount),
			"Outcome":    adjustmentOutcome(entry),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Source", "Origin Tag", "Amount", "Outcome"},
		Rows:    dataRows,
	}
	return dataset, fmt.Sprintf("Holiday Reconciliation %s", params.Date), nil
}

func (s *ExportService) buildStatementDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	student, _, err := s.roster.Get(ctx, params.StudentID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	balance, err := s.statements.GetBalance(ctx, params.StudentID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	credits, err := s.statements.CreditsFor(ctx, params.StudentID)
	if err != nil {
		return export.Dataset{}, "", err
	}

	postings := make([]models.LedgerPosting, 0, len(student.Postings))
	for _, posting := range student.Postings {
		postings = append(postings, posting)
	}
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].At.Equal(postings[j].At) {
			return postings[i].OriginTag < postings[j].OriginTag
		}
		return postings[i].At.Before(postings[j].At)
	})

	dataRows := make([]map[string]string, 0, len(postings)+len(credits)+1)
	for _, posting := range postings {
		dataRows = append(dataRows, map[string]string{
			"Entry":      "posting",
			"Origin Tag": posting.OriginTag,
			"Direction":  string(posting.Direction),
			"Amount":     fmt.Sprintf("%d", posting.Amount),
			"At":         posting.At.UTC().Format(time.RFC3339),
		})
	}
	for _, credit := range credits {
		dataRows = append(dataRows, map[string]string{
			"Entry":      "holiday credit",
			"Origin Tag": credit.OriginTag,
			"Direction":  "credit",
			"Amount":     fmt.Sprintf("%d", credit.Amount),
			"At":         credit.Date,
		})
	}
	dataRows = append(dataRows, map[string]string{
		"Entry":      "balance",
		"Origin Tag": "",
		"Direction":  "",
		"Amount":     fmt.Sprintf("%d", balance),
		"At":         time.Now().UTC().Format(time.RFC3339),
	})

	dataset := export.Dataset{
		Headers: []string{"Entry", "Origin Tag", "Direction", "Amount", "At"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Ledger Statement %s %s", student.FirstName, student.LastName)
	return dataset, title, nil
}

func joinAttributes(attrs models.AttributeSet) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ", ")
}

func adjustmentOutcome(adj models.HolidayAdjustment) string {
	switch {
	case adj.Applied:
		return "applied"
	case adj.Reissued:
		return "reissued"
	case adj.Skipped:
		return "skipped"
	case adj.Failed:
		return "failed: " + adj.Cause
	default:
		return "pending"
	}
}
