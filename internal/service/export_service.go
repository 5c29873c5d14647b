package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/export"
)

const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var calendarHeaders = []string{"Date", "Start", "End", "State", "Kind", "Title", "Class ID", "Student ID", "Status", "Note"}

type availabilityResolver interface {
	Resolve(ctx context.Context, claims *models.JWTClaims, query dto.AvailabilityQuery) (*models.AvailabilityResult, error)
	Location() *time.Location
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered calendar file.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
	Rows        int
}

// ExportService renders resolved availability as a downloadable calendar.
type ExportService struct {
	resolver  availabilityResolver
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(resolver availabilityResolver, csv csvRenderer, pdf pdfRenderer, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(0)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("Tutor scheduling calendar")
	}
	return &ExportService{
		resolver:  resolver,
		csv:       csv,
		pdf:       pdf,
		validator: validate,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// ExportCalendar resolves the window for the caller and renders it.
func (s *ExportService) ExportCalendar(ctx context.Context, claims *models.JWTClaims, query dto.AvailabilityExportQuery) (*ExportResult, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid export query")
	}
	if !(claims.Is(query.TeacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the teacher or staff can export this calendar")
	}
	format := strings.ToLower(query.Format)
	if format == "" {
		format = ExportFormatCSV
	}

	result, err := s.resolver.Resolve(ctx, claims, query.AvailabilityQuery)
	if err != nil {
		return nil, err
	}
	dataset := buildCalendarDataset(result, s.resolver.Location())

	var payload []byte
	var contentType string
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case ExportFormatPDF:
		title := fmt.Sprintf("Availability %s to %s", result.From, result.To)
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format "+format)
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render calendar")
	}

	s.logger.Info("calendar exported",
		zap.String("teacher_id", query.TeacherID),
		zap.String("format", format),
		zap.Int("rows", dataset.Len()),
	)
	return &ExportResult{
		Filename:    s.buildFilename(query.TeacherID, result.From, result.To, format),
		ContentType: contentType,
		Payload:     payload,
		Rows:        dataset.Len(),
	}, nil
}

func (s *ExportService) buildFilename(teacherID, from, to, format string) string {
	timestamp := s.nowFn().UTC().Format("20060102_150405")
	return fmt.Sprintf("availability_%s_%s_%s_%s.%s", sanitizeFilename(teacherID), from, to, timestamp, format)
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

// buildCalendarDataset flattens every list into one chronological table.
func buildCalendarDataset(result *models.AvailabilityResult, loc *time.Location) export.Dataset {
	slots := make([]models.Slot, 0, len(result.Vacant)+len(result.Reserved)+len(result.Excepted))
	slots = append(slots, result.Vacant...)
	slots = append(slots, result.Reserved...)
	slots = append(slots, result.Excepted...)
	sortSlots(slots)

	rows := make([]map[string]string, 0, len(slots))
	for _, slot := range slots {
		row := map[string]string{
			"Date":  slot.Date,
			"Start": slot.Start.In(loc).Format("15:04"),
			"End":   slot.End.In(loc).Format("15:04"),
			"State": string(slot.State),
			"Kind":  string(slot.Kind),
			"Title": deref(slot.Title),
			"Note":  string(slot.ExceptReason),
		}
		if slot.Booking != nil {
			row["Class ID"] = slot.Booking.ID
			row["Student ID"] = slot.Booking.StudentID
			row["Status"] = string(slot.Booking.Status)
		}
		if slot.State == models.SlotReserved && slot.RuleID == "" {
			row["Note"] = "outside availability"
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: calendarHeaders, Rows: rows}
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
