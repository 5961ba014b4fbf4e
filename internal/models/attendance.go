package models

import "time"

// AttendanceStatus is the closed status vocabulary on the wire.
type AttendanceStatus string

const (
	StatusPresent        AttendanceStatus = "present"
	StatusAbsent         AttendanceStatus = "absent"
	StatusMedicalAbsence AttendanceStatus = "medicalAbsence"
	StatusHoliday        AttendanceStatus = "holiday"
)

// Valid returns true when the status is a supported value. Lateness is
// an attribute, not a status, so "late" is rejected here.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusMedicalAbsence, StatusHoliday:
		return true
	default:
		return false
	}
}

// Attribute is a priced flag on a present record.
type Attribute string

const (
	AttrLate         Attribute = "late"
	AttrNoShoes      Attribute = "noShoes"
	AttrNotInUniform Attribute = "notInUniform"
)

// Valid returns true when the attribute is a supported value.
func (a Attribute) Valid() bool {
	switch a {
	case AttrLate, AttrNoShoes, AttrNotInUniform:
		return true
	default:
		return false
	}
}

// AttributeSet is the set of attributes stored on a record. Attributes
// are stored regardless of status; the fee rule decides whether they
// are priced.
type AttributeSet []Attribute

// Has reports membership.
func (s AttributeSet) Has(a Attribute) bool {
	for _, v := range s {
		if v == a {
			return true
		}
	}
	return false
}

// Normalize dedupes and orders the set so equal sets compare equal on
// the wire.
func (s AttributeSet) Normalize() AttributeSet {
	order := []Attribute{AttrLate, AttrNoShoes, AttrNotInUniform}
	out := make(AttributeSet, 0, len(order))
	for _, a := range order {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// AttendanceRecord is the authoritative (date, studentId) tuple. Rev
// increases monotonically on every write for the pair and survives
// record removal, so ledger origin tags never collide.
type AttendanceRecord struct {
	Status     AttendanceStatus `json:"status"`
	Attributes AttributeSet     `json:"attributes"`
	Timestamp  time.Time        `json:"timestamp"`
	Rev        int64            `json:"rev"`
}

// DaySheet is the attendance/{yyyy-mm-dd} document body: the record
// map plus per-student revision counters.
type DaySheet struct {
	Records map[string]AttendanceRecord `json:"records"`
	Revs    map[string]int64            `json:"revs"`
}

// NewDaySheet builds an empty sheet.
func NewDaySheet() *DaySheet {
	return &DaySheet{
		Records: make(map[string]AttendanceRecord),
		Revs:    make(map[string]int64),
	}
}

// SummaryRow joins a roster member with their attendance for a date.
// Attendance is nil when no record exists.
type SummaryRow struct {
	Student    Student           `json:"student"`
	Attendance *AttendanceRecord `json:"attendance"`
}

// BulkItemOutcome reports a single student's result within a bulk write.
type BulkItemOutcome struct {
	StudentID string `json:"student_id"`
	Applied   bool   `json:"applied"`
	Cause     string `json:"cause,omitempty"`
}

// BulkReport summarises a bulk attendance write.
type BulkReport struct {
	Date      string            `json:"date"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BulkItemOutcome `json:"items"`
}
