package repository

import (
	"context"
	"strings"
	"time"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
)

const paymentsCollection = "payments"

// PaymentRepository reads the payment log. The engine never writes
// payments; their authoring lives with an external collaborator.
type PaymentRepository struct {
	store docstore.Gateway
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(store docstore.Gateway) *PaymentRepository {
	return &PaymentRepository{store: store}
}

// ListForDate returns payments associated with a class date: those
// explicitly applied to it, those dated on it, and legacy rows whose
// free-text notes render the date in one of the known forms. The
// notes match is a fallback only; applies_to_date is authoritative.
func (r *PaymentRepository) ListForDate(ctx context.Context, date string) ([]models.Payment, error) {
	seen := make(map[string]struct{})
	var out []models.Payment

	collect := func(docs []docstore.Document) error {
		for _, doc := range docs {
			if _, ok := seen[doc.ID]; ok {
				continue
			}
			var payment models.Payment
			if err := decodeDoc(doc.Body, &payment); err != nil {
				return err
			}
			payment.PaymentID = doc.ID
			seen[doc.ID] = struct{}{}
			out = append(out, payment)
		}
		return nil
	}

	for _, field := range []string{"applies_to_date", "date"} {
		docs, err := r.store.Query(ctx, paymentsCollection,
			[]docstore.Predicate{{Field: field, Value: date}}, nil)
		if err != nil {
			return nil, err
		}
		if err := collect(docs); err != nil {
			return nil, err
		}
	}

	// Legacy fallback: scan notes. The payment log of a single studio
	// stays small enough for a full pass.
	all, err := r.store.Query(ctx, paymentsCollection, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, doc := range all {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		var payment models.Payment
		if err := decodeDoc(doc.Body, &payment); err != nil {
			return nil, err
		}
		payment.PaymentID = doc.ID
		if payment.AppliesToDate == "" && referencesDate(payment.Notes, date) {
			seen[doc.ID] = struct{}{}
			out = append(out, payment)
		}
	}
	return out, nil
}

// dateRenderings is the fixed set of ways admins have historically
// written a class date inside payment notes.
var dateRenderings = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2",
	"Jan 2",
}

func referencesDate(notes, date string) bool {
	if notes == "" {
		return false
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	lower := strings.ToLower(notes)
	for _, layout := range dateRenderings {
		rendered := strings.ToLower(parsed.Format(layout))
		idx := strings.Index(lower, rendered)
		for idx >= 0 {
			// Reject partial matches like "jan 2" inside "jan 21".
			end := idx + len(rendered)
			if end >= len(lower) || lower[end] < '0' || lower[end] > '9' {
				return true
			}
			next := strings.Index(lower[idx+1:], rendered)
			if next < 0 {
				break
			}
			idx += 1 + next
		}
	}
	return false
}
