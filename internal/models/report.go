package models

// AdjustmentSource tells which sweep produced an adjustment.
type AdjustmentSource string

const (
	AdjustmentFromAttendance AdjustmentSource = "attendance"
	AdjustmentFromPayment    AdjustmentSource = "payment"
)

// HolidayAdjustment is one per-student entry in a reconciliation
// report. Exactly one of Applied, Skipped, Reissued or Failed holds.
type HolidayAdjustment struct {
	StudentID string           `json:"student_id"`
	Source    AdjustmentSource `json:"source"`
	OriginTag string           `json:"origin_tag"`
	Amount    int              `json:"amount"`
	Applied   bool             `json:"applied"`
	Skipped   bool             `json:"skipped"`
	Reissued  bool             `json:"reissued"`
	Failed    bool             `json:"failed"`
	Cause     string           `json:"cause,omitempty"`
}

// HolidayReport is the structured result of a holiday declaration.
type HolidayReport struct {
	Date          string              `json:"date"`
	HolidayName   string              `json:"holiday_name"`
	Adjustments   []HolidayAdjustment `json:"adjustments"`
	TotalCredited int                 `json:"total_credited"`
	AppliedCount  int                 `json:"applied_count"`
	SkippedCount  int                 `json:"skipped_count"`
	FailedCount   int                 `json:"failed_count"`
}

// HolidayImpact is the dry-run preview shown before confirmation.
type HolidayImpact struct {
	Date             string              `json:"date"`
	StudentsAffected int                 `json:"students_affected"`
	AttendanceCredit int                 `json:"attendance_credit"`
	PaymentCredit    int                 `json:"payment_credit"`
	Entries          []HolidayAdjustment `json:"entries"`
}
