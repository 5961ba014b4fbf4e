package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/internal/repository"
	"github.com/pirouette-labs/studio-ledger-api/pkg/config"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

func fastRetry() config.RetryConfig {
	return config.RetryConfig{Budget: 3, BackoffFactor: 1.5, BaseDelay: time.Millisecond}
}

func seedStudent(t *testing.T, store *docstore.Memory, id string, balance int) *repository.StudentRepository {
	t.Helper()
	students := repository.NewStudentRepository(store)
	err := students.Save(context.Background(), &models.Student{
		ID:               id,
		FirstName:        "Maya",
		LastName:         "Ortiz",
		EnrollmentStatus: models.EnrollmentEnrolled,
		Balance:          balance,
	})
	require.NoError(t, err)
	return students
}

func newBalanceService(t *testing.T, store *docstore.Memory) *BalanceService {
	t.Helper()
	return NewBalanceService(
		repository.NewStudentRepository(store),
		repository.NewCreditRepository(store),
		fastRetry(), nil, nil)
}

// flakyStore fails a number of conditional writes before delegating.
type flakyStore struct {
	*docstore.Memory
	failures int
}

func (f *flakyStore) SetIfRevision(ctx context.Context, collection, id string, body map[string]interface{}, expectedRevision int64) (*docstore.Document, error) {
	if f.failures > 0 {
		f.failures--
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "substrate timeout")
	}
	return f.Memory.SetIfRevision(ctx, collection, id, body, expectedRevision)
}

func TestAddBalanceChargesAndRefunds(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	balance, err := svc.AddBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	balance, err = svc.ReduceBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev2")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestPostingIdempotentOnOriginTag(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	first, err := svc.AddBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev1")
	require.NoError(t, err)
	// Redelivered event posts the same tag again.
	second, err := svc.AddBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

func TestPostingsByOriginMatchesDerivedTags(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	_, err := svc.AddBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev1")
	require.NoError(t, err)
	_, err = svc.ReduceBalance(ctx, "s1", 5, "attendance:2026-01-20:s1:rev2")
	require.NoError(t, err)
	_, err = svc.ReduceBalance(ctx, "s1", 20, "payment:p1")
	require.NoError(t, err)

	postings, err := svc.PostingsByOrigin(ctx, "s1", "attendance:2026-01-20:s1")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, models.PostingRefund, postings[0].Direction)

	postings, err = svc.PostingsByOrigin(ctx, "s1", "payment:p1")
	require.NoError(t, err)
	require.Len(t, postings, 1)

	postings, err = svc.PostingsByOrigin(ctx, "s1", "attendance:2026-01-21:s1")
	require.NoError(t, err)
	assert.Empty(t, postings)
}

func TestPostingRejectsNonPositiveAmount(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)

	_, err := svc.AddBalance(context.Background(), "s1", 0, "tag")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidAmount))
	_, err = svc.ReduceBalance(context.Background(), "s1", -3, "tag")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidAmount))
}

func TestPostingUnknownStudent(t *testing.T) {
	store := docstore.NewMemory()
	svc := newBalanceService(t, store)

	_, err := svc.AddBalance(context.Background(), "ghost", 5, "tag")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestPostingRetriesTransientOutage(t *testing.T) {
	mem := docstore.NewMemory()
	seedStudent(t, mem, "s1", 0)
	store := &flakyStore{Memory: mem, failures: 1}
	svc := NewBalanceService(
		repository.NewStudentRepository(store),
		repository.NewCreditRepository(store),
		fastRetry(), nil, nil)

	balance, err := svc.AddBalance(context.Background(), "s1", 5, "attendance:2026-01-20:s1:rev1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
}

func TestPostingSurfacesUnavailableAfterExhaustion(t *testing.T) {
	mem := docstore.NewMemory()
	seedStudent(t, mem, "s1", 0)
	store := &flakyStore{Memory: mem, failures: 3}
	svc := NewBalanceService(
		repository.NewStudentRepository(store),
		repository.NewCreditRepository(store),
		fastRetry(), nil, nil)

	_, err := svc.AddBalance(context.Background(), "s1", 5, "attendance:2026-01-20:s1:rev1")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnavailable))
}

func TestBalanceMayGoNegative(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)

	balance, err := svc.ReduceBalance(context.Background(), "s1", 25, "payment:p1")
	require.NoError(t, err)
	assert.Equal(t, -25, balance)
}

func TestRecordHolidayCreditDuplicateOrigin(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	credit := &models.HolidayCredit{
		StudentID:   "s1",
		Amount:      5,
		Date:        "2026-01-19",
		HolidayName: "Martin Luther King Jr. Day",
		OriginTag:   "attendance:2026-01-19:s1",
	}
	require.NoError(t, svc.RecordHolidayCredit(ctx, credit))
	assert.NotEmpty(t, credit.CreditID)

	dup := &models.HolidayCredit{StudentID: "s1", Amount: 5, Date: "2026-01-19", OriginTag: "attendance:2026-01-19:s1"}
	err := svc.RecordHolidayCredit(ctx, dup)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateOrigin))
}

func TestRecordHolidayCreditAllowsZeroAmount(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)

	err := svc.RecordHolidayCredit(context.Background(), &models.HolidayCredit{
		StudentID: "s1",
		Amount:    0,
		Date:      "2026-01-19",
		OriginTag: "attendance:2026-01-19:s1",
	})
	require.NoError(t, err)
}

func TestConsumeCreditsFIFO(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	for _, c := range []models.HolidayCredit{
		{StudentID: "s1", Amount: 5, Date: "2026-01-19", OriginTag: "attendance:2026-01-19:s1"},
		{StudentID: "s1", Amount: 25, Date: "2026-02-16", OriginTag: "payment:p1"},
	} {
		credit := c
		require.NoError(t, svc.RecordHolidayCredit(ctx, &credit))
	}

	require.NoError(t, svc.ConsumeCredits(ctx, "s1", 8))

	credits, err := svc.CreditsFor(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, credits, 2)
	// Oldest first: the January credit is fully used, February partially.
	assert.True(t, credits[0].Used)
	assert.Equal(t, 5, credits[0].UsedAmount)
	assert.False(t, credits[1].Used)
	assert.Equal(t, 3, credits[1].UsedAmount)
}

// failingCreditRepo fails the update of one specific credit.
type failingCreditRepo struct {
	*repository.CreditRepository
	failID string
}

func (f *failingCreditRepo) Update(ctx context.Context, credit *models.HolidayCredit) error {
	if credit.CreditID == f.failID {
		return appErrors.Clone(appErrors.ErrUnavailable, "substrate timeout")
	}
	return f.CreditRepository.Update(ctx, credit)
}

func TestConsumeCreditsInterruptedLeavesOldestUnmarked(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	credits := repository.NewCreditRepository(store)
	ctx := context.Background()

	oldest := &models.HolidayCredit{StudentID: "s1", Amount: 5, Date: "2026-01-19", OriginTag: "attendance:2026-01-19:s1"}
	newest := &models.HolidayCredit{StudentID: "s1", Amount: 25, Date: "2026-02-16", OriginTag: "payment:p1"}
	seedSvc := NewBalanceService(repository.NewStudentRepository(store), credits, fastRetry(), nil, nil)
	require.NoError(t, seedSvc.RecordHolidayCredit(ctx, oldest))
	require.NoError(t, seedSvc.RecordHolidayCredit(ctx, newest))

	svc := NewBalanceService(
		repository.NewStudentRepository(store),
		&failingCreditRepo{CreditRepository: credits, failID: oldest.CreditID},
		fastRetry(), nil, nil)

	err := svc.ConsumeCredits(ctx, "s1", 8)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnavailable))

	// The oldest credit commits last, so the interruption shows newer
	// usage ahead of older usage instead of a smaller completed run.
	stored, listErr := credits.List(ctx, "s1")
	require.NoError(t, listErr)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].UsedAmount)
	assert.Equal(t, 3, stored[1].UsedAmount)
}

func TestConsumeCreditsInsufficient(t *testing.T) {
	store := docstore.NewMemory()
	seedStudent(t, store, "s1", 0)
	svc := newBalanceService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.RecordHolidayCredit(ctx, &models.HolidayCredit{
		StudentID: "s1", Amount: 5, Date: "2026-01-19", OriginTag: "attendance:2026-01-19:s1",
	}))

	err := svc.ConsumeCredits(ctx, "s1", 6)
	assert.True(t, appErrors.Is(err, appErrors.ErrInsufficientCredit))

	// Nothing was marked.
	credits, err := svc.CreditsFor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, credits[0].UsedAmount)
}
