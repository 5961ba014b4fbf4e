// Package fee derives per-session dollar amounts from attendance
// records. It is pure: no I/O, no state beyond the configured table.
package fee

import (
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

// Table prices attendance outcomes in whole dollars.
type Table struct {
	Absent       int
	Late         int
	NoShoes      int
	NotInUniform int
}

// DefaultTable mirrors the studio's standing policy.
func DefaultTable() Table {
	return Table{Absent: 5, Late: 1, NoShoes: 1, NotInUniform: 1}
}

// Engine evaluates the fee rule against a table.
type Engine struct {
	table Table
}

// NewEngine builds an engine; a zero table falls back to the default.
func NewEngine(table Table) *Engine {
	if table == (Table{}) {
		table = DefaultTable()
	}
	return &Engine{table: table}
}

// ValidateStatus rejects anything outside the closed status set. The
// pseudo-status "late" is rejected explicitly: lateness is an
// attribute, and UI input carrying it as a status must surface the
// same error.
func (e *Engine) ValidateStatus(status models.AttendanceStatus) error {
	if status == "late" {
		return appErrors.Clone(appErrors.ErrInvalidStatus, `"late" is an attribute, not a status`)
	}
	if !status.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidStatus, "unsupported status "+string(status))
	}
	return nil
}

// Fee maps a record to a non-negative dollar amount. Absences price at
// the flat absent fee regardless of attributes; medical absences and
// holidays are free; present records price each flagged attribute.
func (e *Engine) Fee(status models.AttendanceStatus, attrs models.AttributeSet) (int, error) {
	if err := e.ValidateStatus(status); err != nil {
		return 0, err
	}
	switch status {
	case models.StatusAbsent:
		return e.table.Absent, nil
	case models.StatusMedicalAbsence, models.StatusHoliday:
		return 0, nil
	}
	total := 0
	if attrs.Has(models.AttrLate) {
		total += e.table.Late
	}
	if attrs.Has(models.AttrNoShoes) {
		total += e.table.NoShoes
	}
	if attrs.Has(models.AttrNotInUniform) {
		total += e.table.NotInUniform
	}
	return total, nil
}

// FeeFor prices an optional record; a nil record is "no record", fee 0.
func (e *Engine) FeeFor(record *models.AttendanceRecord) (int, error) {
	if record == nil {
		return 0, nil
	}
	return e.Fee(record.Status, record.Attributes)
}

// Delta returns fee(new) - fee(prev), treating nil as "no record".
// Positive is a charge, negative a refund. The engine never inspects
// which attribute changed, only the resulting fees.
func (e *Engine) Delta(prev, next *models.AttendanceRecord) (int, error) {
	prevFee, err := e.FeeFor(prev)
	if err != nil {
		return 0, err
	}
	nextFee, err := e.FeeFor(next)
	if err != nil {
		return 0, err
	}
	return nextFee - prevFee, nil
}
