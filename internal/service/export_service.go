package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/export"
)

type rosterReader interface {
	ListDetailsBySession(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error)
}

type exportSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

// ExportFormat enumerates supported roster outputs.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus response metadata.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportService renders session rosters as CSV or PDF downloads.
type ExportService struct {
	enrollments rosterReader
	sessions    exportSessionReader
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(enrollments rosterReader, sessions exportSessionReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		enrollments: enrollments,
		sessions:    sessions,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
	}
}

// SessionRoster renders the full enrollment roster of a session.
func (s *ExportService) SessionRoster(ctx context.Context, sessionID string, format ExportFormat) (*ExportResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	enrollments, err := s.enrollments.ListDetailsBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session roster")
	}

	dataset := export.Dataset{
		Headers: []string{"Reg Number", "Student", "Course", "Title", "Status"},
	}
	for _, e := range enrollments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Reg Number": e.StudentRegNumber,
			"Student":    e.StudentName,
			"Course":     e.CourseCode,
			"Title":      e.CourseTitle,
			"Status":     string(e.Status),
		})
	}

	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("roster-%s.csv", session.ID),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, fmt.Sprintf("Enrollment Roster %s", session.Name))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("roster-%s.pdf", session.ID),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
}
