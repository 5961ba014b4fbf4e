package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pirouette-labs/studio-ledger-api/internal/fee"
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

type holidayAttendance interface {
	DayRecords(ctx context.Context, date string) (map[string]models.AttendanceRecord, error)
	SetAttendance(ctx context.Context, date, studentID string, status models.AttendanceStatus, attrs models.AttributeSet) (*models.AttendanceRecord, error)
}

type holidayLedger interface {
	GetBalance(ctx context.Context, studentID string) (int, error)
	ReduceBalance(ctx context.Context, studentID string, amount int, originTag string) (int, error)
	RecordHolidayCredit(ctx context.Context, credit *models.HolidayCredit) error
	CreditByOrigin(ctx context.Context, studentID, originTag string) (*models.HolidayCredit, error)
	PostingsByOrigin(ctx context.Context, studentID, originTag string) ([]models.LedgerPosting, error)
}

type holidayPayments interface {
	ListForDate(ctx context.Context, date string) ([]models.Payment, error)
}

// HolidayService reconciles a newly declared holiday against both
// ledgers: attendance-derived charges for the date are unwound and
// prepayments for the date are refunded as credit. Every adjustment
// leaves an origin-tagged audit row so the sweep can run any number
// of times without double-crediting.
type HolidayService struct {
	calendar   *Calendar
	attendance holidayAttendance
	ledger     holidayLedger
	payments   holidayPayments
	fees       *fee.Engine
	metrics    *MetricsService
	logger     *zap.Logger
}

func NewHolidayService(calendar *Calendar, attendance holidayAttendance, ledger holidayLedger, payments holidayPayments, fees *fee.Engine, metrics *MetricsService, logger *zap.Logger) *HolidayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fees == nil {
		fees = fee.NewEngine(fee.DefaultTable())
	}
	return &HolidayService{
		calendar:   calendar,
		attendance: attendance,
		ledger:     ledger,
		payments:   payments,
		fees:       fees,
		metrics:    metrics,
		logger:     logger,
	}
}

// DeclareHoliday marks the date as a holiday and runs both sweeps.
// The declaration is destructive to charges already on the books, so
// it refuses to run without an explicit confirmation; callers preview
// with AnalyzeHolidayImpact first. Per-student failures are isolated:
// one student's conflict never aborts the sweep for the rest.
func (s *HolidayService) DeclareHoliday(ctx context.Context, date, name string, confirmed bool) (*models.HolidayReport, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "holiday name must not be empty")
	}
	if !confirmed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "holiday declaration requires confirmation")
	}

	day, _ := time.Parse("2006-01-02", date)
	switch s.calendar.AddManual(day.Year(), day.Month(), day.Day(), name) {
	case ManualAlreadyPresent:
		s.logger.Info("holiday already on calendar, re-running reconciliation",
			zap.String("date", date), zap.String("name", name))
	case ManualRenamed:
		// Earlier credits keep the name they were issued under.
		s.logger.Warn("holiday renamed on calendar",
			zap.String("date", date), zap.String("name", name))
	}

	started := time.Now()
	report := &models.HolidayReport{Date: date, HolidayName: name}

	if err := s.sweepAttendance(ctx, date, name, report, false); err != nil {
		return nil, err
	}
	if err := s.sweepPayments(ctx, date, name, report, false); err != nil {
		return nil, err
	}

	s.metrics.ObserveSweep(time.Since(started))
	s.logger.Info("holiday reconciliation finished",
		zap.String("date", date),
		zap.String("name", name),
		zap.Int("applied", report.AppliedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("total_credited", report.TotalCredited))
	return report, nil
}

// AnalyzeHolidayImpact previews a declaration without writing
// anything: no calendar change, no attendance rewrites, no postings.
func (s *HolidayService) AnalyzeHolidayImpact(ctx context.Context, date, name string) (*models.HolidayImpact, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	report := &models.HolidayReport{Date: date, HolidayName: name}
	if err := s.sweepAttendance(ctx, date, name, report, true); err != nil {
		return nil, err
	}
	if err := s.sweepPayments(ctx, date, name, report, true); err != nil {
		return nil, err
	}

	impact := &models.HolidayImpact{Date: date, Entries: report.Adjustments}
	affected := make(map[string]struct{})
	for _, adj := range report.Adjustments {
		if !adj.Applied && !adj.Reissued {
			continue
		}
		affected[adj.StudentID] = struct{}{}
		switch adj.Source {
		case models.AdjustmentFromAttendance:
			impact.AttendanceCredit += adj.Amount
		case models.AdjustmentFromPayment:
			impact.PaymentCredit += adj.Amount
		}
	}
	impact.StudentsAffected = len(affected)
	return impact, nil
}

// sweepAttendance walks the day sheet deterministically. Each
// charged record is rewritten to holiday (which refunds its fee via
// the fee delta) and an audit credit is issued under the stable tag
// attendance:<date>:<studentId>. Records already priced at zero still
// get a zero-amount credit so the audit trail shows the date was
// reconciled for that student.
func (s *HolidayService) sweepAttendance(ctx context.Context, date, name string, report *models.HolidayReport, dryRun bool) error {
	records, err := s.attendance.DayRecords(ctx, date)
	if err != nil {
		return err
	}
	studentIDs := make([]string, 0, len(records))
	for id := range records {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)

	for _, studentID := range studentIDs {
		record := records[studentID]
		originTag := fmt.Sprintf("attendance:%s:%s", date, studentID)
		amount, err := s.fees.FeeFor(&record)
		if err != nil {
			report.Adjustments = append(report.Adjustments, failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, err))
			report.FailedCount++
			continue
		}
		if record.Status == models.StatusHoliday && amount == 0 {
			// An earlier run may have rewritten the record but died
			// before recording the credit; the record now prices at
			// zero, but the refund posting still carries the fee that
			// was reversed.
			recovered, rerr := s.reversedFee(ctx, studentID, originTag)
			if rerr != nil && !appErrors.Is(rerr, appErrors.ErrNotFound) {
				report.Adjustments = append(report.Adjustments, failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, rerr))
				report.FailedCount++
				continue
			}
			amount = recovered
		}
		adj := models.HolidayAdjustment{
			StudentID: studentID,
			Source:    models.AdjustmentFromAttendance,
			OriginTag: originTag,
			Amount:    amount,
		}

		existing, lookupErr := s.ledger.CreditByOrigin(ctx, studentID, originTag)
		switch {
		case lookupErr == nil:
			// Already swept once. Reissue only when the refund clearly
			// never landed: the earlier credit was non-zero, the
			// balance sits at zero, and the posting trail is gone.
			reissue, rerr := s.shouldReissue(ctx, studentID, existing)
			if rerr != nil {
				adj = failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, rerr)
				report.FailedCount++
				break
			}
			if !reissue {
				adj.Skipped = true
				adj.Cause = appErrors.ErrDuplicateOrigin.Code
				report.SkippedCount++
				break
			}
			if dryRun {
				adj.Amount = existing.Amount
				adj.Reissued = true
				report.AppliedCount++
				report.TotalCredited += existing.Amount
				break
			}
			if err := s.applyAttendanceCredit(ctx, date, studentID, name, existing.Amount, reissueTag(originTag, existing), record, true); err != nil {
				adj = failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, err)
				report.FailedCount++
				break
			}
			adj.Amount = existing.Amount
			adj.Reissued = true
			report.AppliedCount++
			report.TotalCredited += existing.Amount
			s.metrics.RecordCreditIssued("attendance", existing.Amount)
		case appErrors.Is(lookupErr, appErrors.ErrNotFound):
			if dryRun {
				adj.Applied = true
				report.AppliedCount++
				report.TotalCredited += amount
				break
			}
			if err := s.applyAttendanceCredit(ctx, date, studentID, name, amount, originTag, record, false); err != nil {
				adj = failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, err)
				report.FailedCount++
				break
			}
			adj.Applied = true
			report.AppliedCount++
			report.TotalCredited += amount
			s.metrics.RecordCreditIssued("attendance", amount)
		default:
			adj = failedAdjustment(studentID, models.AdjustmentFromAttendance, originTag, lookupErr)
			report.FailedCount++
		}
		report.Adjustments = append(report.Adjustments, adj)
	}
	return nil
}

// applyAttendanceCredit rewrites the record to holiday and records
// the audit credit. The rewrite goes through the attendance ledger so
// the fee refund posts exactly like any other status change. When the
// record is already a holiday the rewrite is skipped; a reissue then
// posts the refund directly (repostRefund), while a first-time credit
// for a rewritten record is audit-only, its refund already landed.
func (s *HolidayService) applyAttendanceCredit(ctx context.Context, date, studentID, name string, amount int, creditTag string, record models.AttendanceRecord, repostRefund bool) error {
	if record.Status != models.StatusHoliday {
		if _, err := s.attendance.SetAttendance(ctx, date, studentID, models.StatusHoliday, nil); err != nil {
			return err
		}
	} else if repostRefund && amount > 0 {
		if _, err := s.ledger.ReduceBalance(ctx, studentID, amount, creditTag); err != nil {
			return err
		}
	}
	return s.ledger.RecordHolidayCredit(ctx, &models.HolidayCredit{
		StudentID:   studentID,
		Amount:      amount,
		Date:        date,
		HolidayName: name,
		OriginTag:   creditTag,
		Reason:      "attendance charge unwound for holiday",
	})
}

// sweepPayments credits back prepayments whose applies-to date is the
// holiday, under the stable tag payment:<paymentId>.
func (s *HolidayService) sweepPayments(ctx context.Context, date, name string, report *models.HolidayReport, dryRun bool) error {
	payments, err := s.payments.ListForDate(ctx, date)
	if err != nil {
		return err
	}
	for _, payment := range payments {
		originTag := "payment:" + payment.PaymentID
		adj := models.HolidayAdjustment{
			StudentID: payment.StudentID,
			Source:    models.AdjustmentFromPayment,
			OriginTag: originTag,
			Amount:    payment.Amount,
		}

		existing, lookupErr := s.ledger.CreditByOrigin(ctx, payment.StudentID, originTag)
		switch {
		case lookupErr == nil:
			reissue, rerr := s.shouldReissue(ctx, payment.StudentID, existing)
			if rerr != nil {
				adj = failedAdjustment(payment.StudentID, models.AdjustmentFromPayment, originTag, rerr)
				report.FailedCount++
				break
			}
			if !reissue {
				adj.Skipped = true
				adj.Cause = appErrors.ErrDuplicateOrigin.Code
				report.SkippedCount++
				break
			}
			if dryRun {
				adj.Reissued = true
				report.AppliedCount++
				report.TotalCredited += existing.Amount
				adj.Amount = existing.Amount
				break
			}
			if err := s.applyPaymentCredit(ctx, payment, date, name, existing.Amount, reissueTag(originTag, existing)); err != nil {
				adj = failedAdjustment(payment.StudentID, models.AdjustmentFromPayment, originTag, err)
				report.FailedCount++
				break
			}
			adj.Amount = existing.Amount
			adj.Reissued = true
			report.AppliedCount++
			report.TotalCredited += existing.Amount
			s.metrics.RecordCreditIssued("payment", existing.Amount)
		case appErrors.Is(lookupErr, appErrors.ErrNotFound):
			if dryRun {
				adj.Applied = true
				report.AppliedCount++
				report.TotalCredited += payment.Amount
				break
			}
			if err := s.applyPaymentCredit(ctx, payment, date, name, payment.Amount, originTag); err != nil {
				adj = failedAdjustment(payment.StudentID, models.AdjustmentFromPayment, originTag, err)
				report.FailedCount++
				break
			}
			adj.Applied = true
			report.AppliedCount++
			report.TotalCredited += payment.Amount
			s.metrics.RecordCreditIssued("payment", payment.Amount)
		default:
			adj = failedAdjustment(payment.StudentID, models.AdjustmentFromPayment, originTag, lookupErr)
			report.FailedCount++
		}
		report.Adjustments = append(report.Adjustments, adj)
	}
	return nil
}

func (s *HolidayService) applyPaymentCredit(ctx context.Context, payment models.Payment, date, name string, amount int, creditTag string) error {
	if amount > 0 {
		if _, err := s.ledger.ReduceBalance(ctx, payment.StudentID, amount, creditTag); err != nil {
			return err
		}
	}
	return s.ledger.RecordHolidayCredit(ctx, &models.HolidayCredit{
		StudentID:   payment.StudentID,
		Amount:      amount,
		Date:        date,
		HolidayName: name,
		OriginTag:   creditTag,
		Reason:      "prepayment refunded for holiday",
	})
}

// shouldReissue decides whether a repeat sweep re-applies an existing
// credit. A zero balance alone is not evidence of a reset: a clean
// sweep over a charge-only student ends at zero too, and a plain
// replay must stay a no-op. What distinguishes the two is the posting
// trail on the student document. A bulk reset overwrites the document
// and wipes it; only then is the reduction issued again under a fresh
// tag.
func (s *HolidayService) shouldReissue(ctx context.Context, studentID string, existing *models.HolidayCredit) (bool, error) {
	if existing.Amount == 0 {
		return false, nil
	}
	balance, err := s.ledger.GetBalance(ctx, studentID)
	if err != nil {
		return false, err
	}
	if balance != 0 {
		return false, nil
	}
	postings, err := s.ledger.PostingsByOrigin(ctx, studentID, existing.OriginTag)
	if err != nil {
		return false, err
	}
	return len(postings) == 0, nil
}

// reversedFee recovers the amount the last refund posting under the
// origin reversed, or zero when none exists.
func (s *HolidayService) reversedFee(ctx context.Context, studentID, originTag string) (int, error) {
	postings, err := s.ledger.PostingsByOrigin(ctx, studentID, originTag)
	if err != nil {
		return 0, err
	}
	for _, p := range postings {
		if p.Direction == models.PostingRefund {
			return p.Amount, nil
		}
	}
	return 0, nil
}

func reissueTag(originTag string, existing *models.HolidayCredit) string {
	return fmt.Sprintf("%s:reissue:%s", originTag, existing.CreditID)
}

func failedAdjustment(studentID string, source models.AdjustmentSource, originTag string, err error) models.HolidayAdjustment {
	return models.HolidayAdjustment{
		StudentID: studentID,
		Source:    source,
		OriginTag: originTag,
		Failed:    true,
		Cause:     appErrors.FromError(err).Code,
	}
}
