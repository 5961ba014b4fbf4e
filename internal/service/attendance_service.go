package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pirouette-labs/studio-ledger-api/internal/fee"
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/internal/repository"
	"github.com/pirouette-labs/studio-ledger-api/pkg/config"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

type attendanceDayRepository interface {
	GetDay(ctx context.Context, date string) (*models.DaySheet, int64, error)
	SaveDayIfRevision(ctx context.Context, date string, sheet *models.DaySheet, revision int64) (int64, error)
	WatchDay(ctx context.Context, date string) (docstore.Subscription, error)
}

type rosterRepository interface {
	Get(ctx context.Context, id string) (*models.Student, int64, error)
	ListEligible(ctx context.Context) ([]models.Student, error)
}

type balanceLedger interface {
	AddBalance(ctx context.Context, studentID string, amount int, originTag string) (int, error)
	ReduceBalance(ctx context.Context, studentID string, amount int, originTag string) (int, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// AttendanceService maintains attendance records and is the only
// caller of balance mutations in the context of an attendance change:
// it prices the previous and new record and posts the difference.
type AttendanceService struct {
	days     attendanceDayRepository
	roster   rosterRepository
	ledger   balanceLedger
	fees     *fee.Engine
	cache    summaryCache
	cacheTTL time.Duration
	retry    config.RetryConfig
	metrics  *MetricsService
	logger   *zap.Logger
	collator *collate.Collator
}

// NewAttendanceService constructs the attendance ledger. cache may be
// nil, which disables summary caching.
func NewAttendanceService(days attendanceDayRepository, roster rosterRepository, ledger balanceLedger, fees *fee.Engine, cache summaryCache, cacheTTL time.Duration, retry config.RetryConfig, metrics *MetricsService, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fees == nil {
		fees = fee.NewEngine(fee.DefaultTable())
	}
	if retry.Budget <= 0 {
		retry.Budget = 3
	}
	if retry.BackoffFactor <= 1 {
		retry.BackoffFactor = 1.5
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 50 * time.Millisecond
	}
	return &AttendanceService{
		days:     days,
		roster:   roster,
		ledger:   ledger,
		fees:     fees,
		cache:    cache,
		cacheTTL: cacheTTL,
		retry:    retry,
		metrics:  metrics,
		logger:   logger,
		collator: collate.New(language.English, collate.IgnoreCase),
	}
}

// SetAttendance writes the (date, studentId) record and posts the fee
// difference against the previous record. Cancellation is honored
// only before the persistence step: once the write is issued the
// operation runs to completion so the ledger posting always
// accompanies the attendance change.
func (s *AttendanceService) SetAttendance(ctx context.Context, date, studentID string, status models.AttendanceStatus, attrs models.AttributeSet) (*models.AttendanceRecord, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if err := s.fees.ValidateStatus(status); err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if !a.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported attribute "+string(a))
		}
	}
	if _, _, err := s.roster.Get(ctx, studentID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrCancelled, "")
	}

	if status == models.StatusHoliday {
		// A direct holiday write erases the fee without a credit audit
		// row; only the reconciliation sweep leaves one.
		s.logger.Warn("attendance set to holiday outside reconciliation",
			zap.String("date", date), zap.String("student_id", studentID))
	}

	detached := context.WithoutCancel(ctx)
	record, prev, err := s.writeRecord(detached, date, studentID, &status, attrs)
	if err != nil {
		return nil, err
	}
	if err := s.postDelta(detached, date, studentID, prev, record, record.Rev); err != nil {
		return nil, err
	}
	s.invalidateSummary(detached, date)
	return record, nil
}

// RemoveAttendance destroys the record, refunding the full previous
// fee. A missing record is NotFound.
func (s *AttendanceService) RemoveAttendance(ctx context.Context, date, studentID string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return appErrors.Clone(appErrors.ErrCancelled, "")
	}

	detached := context.WithoutCancel(ctx)
	rev, prev, err := s.deleteRecord(detached, date, studentID)
	if err != nil {
		return err
	}
	if err := s.postDelta(detached, date, studentID, prev, nil, rev); err != nil {
		return err
	}
	s.invalidateSummary(detached, date)
	return nil
}

// SetAttendanceBulk applies the same status and attributes to many
// students, sharded per student with no global lock. The report tells
// which ids succeeded; the call fails outright only when every item
// failed, with the dominant cause.
func (s *AttendanceService) SetAttendanceBulk(ctx context.Context, date string, studentIDs []string, status models.AttendanceStatus, attrs models.AttributeSet) (*models.BulkReport, error) {
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptySelection, "")
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if err := s.fees.ValidateStatus(status); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(studentIDs))
	report := &models.BulkReport{Date: date}
	causes := make(map[string]int)
	var dominant error
	for _, id := range studentIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		outcome := models.BulkItemOutcome{StudentID: id}
		if _, err := s.SetAttendance(ctx, date, id, status, attrs); err != nil {
			outcome.Cause = appErrors.FromError(err).Code
			report.Failed++
			causes[outcome.Cause]++
			if dominant == nil || causes[outcome.Cause] > causes[appErrors.FromError(dominant).Code] {
				dominant = err
			}
		} else {
			outcome.Applied = true
			report.Succeeded++
		}
		report.Items = append(report.Items, outcome)
	}
	if report.Succeeded == 0 {
		return nil, dominant
	}
	return report, nil
}

// DayRecords snapshots the attendance map for a date.
func (s *AttendanceService) DayRecords(ctx context.Context, date string) (map[string]models.AttendanceRecord, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	sheet, _, err := s.days.GetDay(ctx, date)
	if err != nil {
		return nil, err
	}
	return sheet.Records, nil
}

// ListEligibleStudents returns the tracked roster ordered by first
// name, case-insensitively and locale-aware.
func (s *AttendanceService) ListEligibleStudents(ctx context.Context) ([]models.Student, error) {
	students, err := s.roster.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(students, func(i, j int) bool {
		if c := s.collator.CompareString(students[i].FirstName, students[j].FirstName); c != 0 {
			return c < 0
		}
		return s.collator.CompareString(students[i].LastName, students[j].LastName) < 0
	})
	return students, nil
}

// SummaryFor joins the eligible roster with the attendance map for a
// date. Students without a record surface with nil attendance.
func (s *AttendanceService) SummaryFor(ctx context.Context, date string) ([]models.SummaryRow, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	if s.cache != nil {
		var cached []models.SummaryRow
		if err := s.cache.Get(ctx, repository.SummaryKey(date), &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	students, err := s.ListEligibleStudents(ctx)
	if err != nil {
		return nil, err
	}
	sheet, _, err := s.days.GetDay(ctx, date)
	if err != nil {
		return nil, err
	}

	rows := make([]models.SummaryRow, 0, len(students))
	for _, student := range students {
		row := models.SummaryRow{Student: student}
		if record, ok := sheet.Records[student.ID]; ok {
			r := record
			row.Attendance = &r
		}
		rows = append(rows, row)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.SummaryKey(date), rows, s.cacheTTL); err != nil {
			s.logger.Warn("summary cache set failed", zap.String("date", date), zap.Error(err))
		}
	}
	return rows, nil
}

// WatchDay hands out a scoped subscription to the date's change
// stream. The subscription is released when the caller closes it or
// cancels ctx, whichever comes first.
func (s *AttendanceService) WatchDay(ctx context.Context, date string) (docstore.Subscription, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return s.days.WatchDay(ctx, date)
}

// writeRecord upserts the record under an optimistic revision loop
// and returns the stored record plus the previous one (nil when new).
func (s *AttendanceService) writeRecord(ctx context.Context, date, studentID string, status *models.AttendanceStatus, attrs models.AttributeSet) (*models.AttendanceRecord, *models.AttendanceRecord, error) {
	delay := s.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < s.retry.Budget; attempt++ {
		sheet, docRev, err := s.days.GetDay(ctx, date)
		if err != nil {
			return nil, nil, err
		}
		var prev *models.AttendanceRecord
		if existing, ok := sheet.Records[studentID]; ok {
			p := existing
			prev = &p
		}
		rev := sheet.Revs[studentID] + 1
		record := models.AttendanceRecord{
			Status:     *status,
			Attributes: attrs.Normalize(),
			Timestamp:  time.Now().UTC(),
			Rev:        rev,
		}
		sheet.Records[studentID] = record
		sheet.Revs[studentID] = rev

		if _, err := s.days.SaveDayIfRevision(ctx, date, sheet, docRev); err != nil {
			if retryable(err) {
				if appErrors.Is(err, appErrors.ErrConflict) {
					s.metrics.RecordPostingConflict()
				}
				lastErr = err
				sleep(ctx, delay)
				delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
				continue
			}
			return nil, nil, err
		}
		return &record, prev, nil
	}
	cause := appErrors.FromError(lastErr)
	return nil, nil, appErrors.Wrap(lastErr, cause.Code, cause.Status, "attendance write retries exhausted")
}

// deleteRecord removes the record under the same optimistic loop,
// returning the revision consumed by the removal and the prior record.
func (s *AttendanceService) deleteRecord(ctx context.Context, date, studentID string) (int64, *models.AttendanceRecord, error) {
	delay := s.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < s.retry.Budget; attempt++ {
		sheet, docRev, err := s.days.GetDay(ctx, date)
		if err != nil {
			return 0, nil, err
		}
		existing, ok := sheet.Records[studentID]
		if !ok {
			return 0, nil, appErrors.Clone(appErrors.ErrNotFound, "no attendance record for "+studentID+" on "+date)
		}
		prev := existing
		rev := sheet.Revs[studentID] + 1
		delete(sheet.Records, studentID)
		// The revision counter outlives the record so a later
		// re-creation cannot reuse an already-posted origin tag.
		sheet.Revs[studentID] = rev

		if _, err := s.days.SaveDayIfRevision(ctx, date, sheet, docRev); err != nil {
			if retryable(err) {
				if appErrors.Is(err, appErrors.ErrConflict) {
					s.metrics.RecordPostingConflict()
				}
				lastErr = err
				sleep(ctx, delay)
				delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
				continue
			}
			return 0, nil, err
		}
		return rev, &prev, nil
	}
	cause := appErrors.FromError(lastErr)
	return 0, nil, appErrors.Wrap(lastErr, cause.Code, cause.Status, "attendance removal retries exhausted")
}

func (s *AttendanceService) postDelta(ctx context.Context, date, studentID string, prev, next *models.AttendanceRecord, rev int64) error {
	delta, err := s.fees.Delta(prev, next)
	if err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	originTag := fmt.Sprintf("attendance:%s:%s:rev%d", date, studentID, rev)
	if delta > 0 {
		_, err = s.ledger.AddBalance(ctx, studentID, delta, originTag)
	} else {
		_, err = s.ledger.ReduceBalance(ctx, studentID, -delta, originTag)
	}
	return err
}

func (s *AttendanceService) invalidateSummary(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, repository.SummaryKey(date)); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.String("date", date), zap.Error(err))
	}
}

func validateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	return nil
}
