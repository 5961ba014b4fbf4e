package models

// Payment is read-only to the engine; authoring lives with an
// external collaborator. AppliesToDate is the explicit association
// between a payment and a class date; legacy rows predating the field
// carry the date only inside free-text notes.
type Payment struct {
	PaymentID     string `json:"payment_id"`
	StudentID     string `json:"student_id"`
	Amount        int    `json:"amount"`
	Date          string `json:"date"`
	AppliesToDate string `json:"applies_to_date,omitempty"`
	Method        string `json:"method,omitempty"`
	Notes         string `json:"notes,omitempty"`
}
