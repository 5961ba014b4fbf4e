package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/config"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

type balanceStudentRepository interface {
	Get(ctx context.Context, id string) (*models.Student, int64, error)
	SaveIfRevision(ctx context.Context, student *models.Student, revision int64) (int64, error)
}

type balanceCreditRepository interface {
	List(ctx context.Context, studentID string) ([]models.HolidayCredit, error)
	FindByOrigin(ctx context.Context, studentID, originTag string) (*models.HolidayCredit, error)
	Append(ctx context.Context, credit *models.HolidayCredit) error
	Update(ctx context.Context, credit *models.HolidayCredit) error
}

// BalanceService owns per-student monetary state: the signed balance
// and the append-only holiday credit log. Every balance mutation is
// keyed by an origin tag, which makes postings idempotent under the
// change stream's at-least-once redelivery. Nothing outside this
// service writes balance or credits.
type BalanceService struct {
	students balanceStudentRepository
	credits  balanceCreditRepository
	retry    config.RetryConfig
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewBalanceService constructs the balance ledger.
func NewBalanceService(students balanceStudentRepository, credits balanceCreditRepository, retry config.RetryConfig, metrics *MetricsService, logger *zap.Logger) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
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
	return &BalanceService{students: students, credits: credits, retry: retry, metrics: metrics, logger: logger}
}

// AddBalance posts a charge. A posting already applied under the same
// origin tag is a no-op. Returns the resulting balance.
func (s *BalanceService) AddBalance(ctx context.Context, studentID string, amount int, originTag string) (int, error) {
	return s.post(ctx, studentID, amount, models.PostingCharge, originTag)
}

// ReduceBalance posts a refund; the balance may go negative, which is
// the representation of available credit. Returns the resulting
// balance.
func (s *BalanceService) ReduceBalance(ctx context.Context, studentID string, amount int, originTag string) (int, error) {
	return s.post(ctx, studentID, amount, models.PostingRefund, originTag)
}

// GetBalance returns the current signed balance.
func (s *BalanceService) GetBalance(ctx context.Context, studentID string) (int, error) {
	student, _, err := s.students.Get(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return student.Balance, nil
}

// RecordHolidayCredit appends to the student's credit log. The tag
// must be fresh; reversal audit rows are never overwritten.
func (s *BalanceService) RecordHolidayCredit(ctx context.Context, credit *models.HolidayCredit) error {
	if credit.Amount < 0 {
		return appErrors.Clone(appErrors.ErrInvalidAmount, "credit amount must not be negative")
	}
	if _, err := s.credits.FindByOrigin(ctx, credit.StudentID, credit.OriginTag); err == nil {
		return appErrors.Clone(appErrors.ErrDuplicateOrigin, "credit already recorded for "+credit.OriginTag)
	} else if !appErrors.Is(err, appErrors.ErrNotFound) {
		return err
	}
	if credit.CreditID == "" {
		credit.CreditID = uuid.NewString()
	}
	if err := s.credits.Append(ctx, credit); err != nil {
		return err
	}
	s.logger.Info("holiday credit recorded",
		zap.String("student_id", credit.StudentID),
		zap.String("origin_tag", credit.OriginTag),
		zap.Int("amount", credit.Amount))
	return nil
}

// PostingsByOrigin returns the applied postings recorded under the
// origin tag or any tag derived from it (rev and reissue suffixes),
// most recent first. An empty result for a tag that carries a credit
// means the student document was rewritten out of band.
func (s *BalanceService) PostingsByOrigin(ctx context.Context, studentID, originTag string) ([]models.LedgerPosting, error) {
	student, _, err := s.students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	var out []models.LedgerPosting
	for tag, posting := range student.Postings {
		if tag == originTag || strings.HasPrefix(tag, originTag+":") {
			out = append(out, posting)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

// CreditByOrigin looks a credit up by its origin tag.
func (s *BalanceService) CreditByOrigin(ctx context.Context, studentID, originTag string) (*models.HolidayCredit, error) {
	return s.credits.FindByOrigin(ctx, studentID, originTag)
}

// CreditsFor lists a student's credit log, FIFO by date.
func (s *BalanceService) CreditsFor(ctx context.Context, studentID string) ([]models.HolidayCredit, error) {
	return s.credits.List(ctx, studentID)
}

// ConsumeCredits allocates amount dollars across the student's
// unused and partially-used credits, FIFO by date, marking usage.
// Consumption touches audit rows only: the balance reflected the
// credit when it was issued.
func (s *BalanceService) ConsumeCredits(ctx context.Context, studentID string, amount int) error {
	if amount <= 0 {
		return appErrors.Clone(appErrors.ErrInvalidAmount, "consumption amount must be positive")
	}
	credits, err := s.credits.List(ctx, studentID)
	if err != nil {
		return err
	}
	remaining := 0
	for _, c := range credits {
		remaining += c.Remaining()
	}
	if remaining < amount {
		return appErrors.Clone(appErrors.ErrInsufficientCredit, "unused credit below requested amount")
	}

	left := amount
	marked := make([]*models.HolidayCredit, 0, len(credits))
	for i := range credits {
		if left == 0 {
			break
		}
		c := &credits[i]
		take := c.Remaining()
		if take == 0 {
			continue
		}
		if take > left {
			take = left
		}
		c.UsedAmount += take
		c.Used = c.UsedAmount == c.Amount
		left -= take
		marked = append(marked, c)
	}

	// Writes are per-credit, so an interruption can leave a partial
	// allocation. Persisting newest-first means the oldest credit
	// commits last: a half-written consumption shows newer rows marked
	// ahead of older ones, which FIFO never produces, instead of
	// passing for a smaller completed consumption.
	for i := len(marked) - 1; i >= 0; i-- {
		if err := s.credits.Update(ctx, marked[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *BalanceService) post(ctx context.Context, studentID string, amount int, direction models.PostingDirection, originTag string) (int, error) {
	if amount <= 0 {
		return 0, appErrors.Clone(appErrors.ErrInvalidAmount, "posting amount must be positive")
	}

	delay := s.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < s.retry.Budget; attempt++ {
		student, revision, err := s.students.Get(ctx, studentID)
		if err != nil {
			return 0, err
		}
		if _, applied := student.Postings[originTag]; applied {
			return student.Balance, nil
		}

		if student.Postings == nil {
			student.Postings = make(map[string]models.LedgerPosting)
		}
		if direction == models.PostingCharge {
			student.Balance += amount
		} else {
			student.Balance -= amount
		}
		student.Postings[originTag] = models.LedgerPosting{
			OriginTag: originTag,
			Amount:    amount,
			Direction: direction,
			At:        time.Now().UTC(),
		}

		if _, err := s.students.SaveIfRevision(ctx, student, revision); err != nil {
			if retryable(err) {
				if appErrors.Is(err, appErrors.ErrConflict) {
					s.metrics.RecordPostingConflict()
				}
				lastErr = err
				sleep(ctx, delay)
				delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
				continue
			}
			return 0, err
		}

		s.metrics.RecordPosting(string(direction))
		s.logger.Info("ledger posting applied",
			zap.String("student_id", studentID),
			zap.String("origin_tag", originTag),
			zap.String("direction", string(direction)),
			zap.Int("amount", amount),
			zap.Int("balance", student.Balance))
		return student.Balance, nil
	}
	cause := appErrors.FromError(lastErr)
	return 0, appErrors.Wrap(lastErr, cause.Code, cause.Status, "posting retries exhausted")
}

// retryable reports whether another optimistic attempt can help:
// revision races and transient substrate outages. Validation errors
// never retry.
func retryable(err error) bool {
	return appErrors.Is(err, appErrors.ErrConflict) || appErrors.Is(err, appErrors.ErrUnavailable)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
