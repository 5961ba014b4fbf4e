package repository

import (
	"context"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

const attendanceCollection = "attendance"

// AttendanceRepository owns the attendance/{yyyy-mm-dd} day sheets.
type AttendanceRepository struct {
	store docstore.Gateway
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(store docstore.Gateway) *AttendanceRepository {
	return &AttendanceRepository{store: store}
}

// GetDay fetches the sheet for a date. A missing document decodes to
// an empty sheet at revision zero, which a conditional save treats as
// a create.
func (r *AttendanceRepository) GetDay(ctx context.Context, date string) (*models.DaySheet, int64, error) {
	doc, err := r.store.Get(ctx, attendanceCollection, date)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return models.NewDaySheet(), 0, nil
		}
		return nil, 0, err
	}
	var sheet models.DaySheet
	if err := decodeDoc(doc.Body, &sheet); err != nil {
		return nil, 0, err
	}
	if sheet.Records == nil {
		sheet.Records = make(map[string]models.AttendanceRecord)
	}
	if sheet.Revs == nil {
		sheet.Revs = make(map[string]int64)
	}
	return &sheet, doc.Revision, nil
}

// SaveDayIfRevision writes the sheet back conditionally.
func (r *AttendanceRepository) SaveDayIfRevision(ctx context.Context, date string, sheet *models.DaySheet, revision int64) (int64, error) {
	body, err := encodeDoc(sheet)
	if err != nil {
		return 0, err
	}
	doc, err := r.store.SetIfRevision(ctx, attendanceCollection, date, body, revision)
	if err != nil {
		return 0, err
	}
	return doc.Revision, nil
}

// WatchDay subscribes to change notifications for a date's sheet.
func (r *AttendanceRepository) WatchDay(ctx context.Context, date string) (docstore.Subscription, error) {
	return r.store.Watch(ctx, attendanceCollection, date)
}
