package models

import "time"

// EnrollmentStatus is the roster lifecycle state.
type EnrollmentStatus string

const (
	EnrollmentEnrolled       EnrollmentStatus = "Enrolled"
	EnrollmentPendingPayment EnrollmentStatus = "Pending Payment"
	EnrollmentInactive       EnrollmentStatus = "Inactive"
	EnrollmentRemoved        EnrollmentStatus = "Removed"
)

// Eligible reports whether daily attendance is tracked for the status.
func (s EnrollmentStatus) Eligible() bool {
	return s == EnrollmentEnrolled || s == EnrollmentPendingPayment
}

// PostingDirection distinguishes charges from refunds.
type PostingDirection string

const (
	PostingCharge PostingDirection = "charge"
	PostingRefund PostingDirection = "refund"
)

// LedgerPosting is a single balance-changing event, correlated by its
// origin tag. Postings are kept on the student document so the
// idempotence check and the balance update commit atomically.
type LedgerPosting struct {
	OriginTag string           `json:"origin_tag"`
	Amount    int              `json:"amount"`
	Direction PostingDirection `json:"direction"`
	At        time.Time        `json:"at"`
}

// Student is the students/{studentId} document. Balance is signed:
// positive owes, negative is credit available.
type Student struct {
	ID               string                   `json:"id"`
	FirstName        string                   `json:"first_name"`
	LastName         string                   `json:"last_name"`
	EnrollmentStatus EnrollmentStatus         `json:"enrollment_status"`
	Balance          int                      `json:"balance"`
	Postings         map[string]LedgerPosting `json:"postings,omitempty"`
}

// Pagination carries standard paging metadata in response envelopes.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
