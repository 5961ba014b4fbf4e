package repository

import (
	"context"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

const studentsCollection = "students"

// StudentRepository reads and writes students/{studentId} documents.
// Balance mutations go through revisioned writes so concurrent admin
// sessions cannot lose postings.
type StudentRepository struct {
	store docstore.Gateway
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(store docstore.Gateway) *StudentRepository {
	return &StudentRepository{store: store}
}

// Get fetches a student together with the document revision the
// caller must present on a conditional save.
func (r *StudentRepository) Get(ctx context.Context, id string) (*models.Student, int64, error) {
	doc, err := r.store.Get(ctx, studentsCollection, id)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "student "+id+" not found")
		}
		return nil, 0, err
	}
	var student models.Student
	if err := decodeDoc(doc.Body, &student); err != nil {
		return nil, 0, err
	}
	student.ID = doc.ID
	return &student, doc.Revision, nil
}

// SaveIfRevision writes the student back conditionally.
func (r *StudentRepository) SaveIfRevision(ctx context.Context, student *models.Student, revision int64) (int64, error) {
	body, err := encodeDoc(student)
	if err != nil {
		return 0, err
	}
	doc, err := r.store.SetIfRevision(ctx, studentsCollection, student.ID, body, revision)
	if err != nil {
		return 0, err
	}
	return doc.Revision, nil
}

// Save writes the student unconditionally. Roster management and test
// seeding use it; ledger code never does.
func (r *StudentRepository) Save(ctx context.Context, student *models.Student) error {
	body, err := encodeDoc(student)
	if err != nil {
		return err
	}
	_, err = r.store.Set(ctx, studentsCollection, student.ID, body)
	return err
}

// ListEligible returns roster members whose enrollment status admits
// attendance tracking. Ordering is left to the caller, which applies
// locale-aware collation.
func (r *StudentRepository) ListEligible(ctx context.Context) ([]models.Student, error) {
	var out []models.Student
	for _, status := range []models.EnrollmentStatus{models.EnrollmentEnrolled, models.EnrollmentPendingPayment} {
		docs, err := r.store.Query(ctx, studentsCollection,
			[]docstore.Predicate{{Field: "enrollment_status", Value: string(status)}}, nil)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			var student models.Student
			if err := decodeDoc(doc.Body, &student); err != nil {
				return nil, err
			}
			student.ID = doc.ID
			out = append(out, student)
		}
	}
	return out, nil
}
