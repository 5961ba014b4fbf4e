package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

// CreditRepository owns the students/{id}/holidayCredits subcollection.
// Credits are append-only: Update only ever marks consumption.
type CreditRepository struct {
	store docstore.Gateway
}

// NewCreditRepository constructs a CreditRepository.
func NewCreditRepository(store docstore.Gateway) *CreditRepository {
	return &CreditRepository{store: store}
}

func creditCollection(studentID string) string {
	return fmt.Sprintf("students/%s/holidayCredits", studentID)
}

// List returns a student's credits, FIFO by date then credit id.
func (r *CreditRepository) List(ctx context.Context, studentID string) ([]models.HolidayCredit, error) {
	docs, err := r.store.Query(ctx, creditCollection(studentID), nil, &docstore.Ordering{Field: "date"})
	if err != nil {
		return nil, err
	}
	credits := make([]models.HolidayCredit, 0, len(docs))
	for _, doc := range docs {
		var credit models.HolidayCredit
		if err := decodeDoc(doc.Body, &credit); err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	sort.SliceStable(credits, func(i, j int) bool {
		if credits[i].Date != credits[j].Date {
			return credits[i].Date < credits[j].Date
		}
		return credits[i].CreditID < credits[j].CreditID
	})
	return credits, nil
}

// FindByOrigin returns the credit carrying the origin tag, or
// ErrNotFound.
func (r *CreditRepository) FindByOrigin(ctx context.Context, studentID, originTag string) (*models.HolidayCredit, error) {
	docs, err := r.store.Query(ctx, creditCollection(studentID),
		[]docstore.Predicate{{Field: "origin_tag", Value: originTag}}, nil)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no credit with origin "+originTag)
	}
	var credit models.HolidayCredit
	if err := decodeDoc(docs[0].Body, &credit); err != nil {
		return nil, err
	}
	return &credit, nil
}

// Append stores a new credit. The credit id must be fresh; a clash
// surfaces as Conflict from the store.
func (r *CreditRepository) Append(ctx context.Context, credit *models.HolidayCredit) error {
	body, err := encodeDoc(credit)
	if err != nil {
		return err
	}
	_, err = r.store.SetIfRevision(ctx, creditCollection(credit.StudentID), credit.CreditID, body, 0)
	return err
}

// Update rewrites an existing credit after consumption marking.
func (r *CreditRepository) Update(ctx context.Context, credit *models.HolidayCredit) error {
	body, err := encodeDoc(credit)
	if err != nil {
		return err
	}
	_, err = r.store.Set(ctx, creditCollection(credit.StudentID), credit.CreditID, body)
	return err
}
