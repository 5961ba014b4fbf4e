package models

// HolidayCredit is an append-only audit entry recording the amount
// refunded to a student because a date was reclassified as a holiday.
// Entries are never deleted, only marked used.
type HolidayCredit struct {
	CreditID    string `json:"credit_id"`
	StudentID   string `json:"student_id"`
	Amount      int    `json:"amount"`
	Date        string `json:"date"`
	HolidayName string `json:"holiday_name"`
	OriginTag   string `json:"origin_tag"`
	Reason      string `json:"reason"`
	Used        bool   `json:"used"`
	UsedAmount  int    `json:"used_amount"`
}

// Remaining returns the unconsumed portion of the credit.
func (c HolidayCredit) Remaining() int {
	return c.Amount - c.UsedAmount
}
