package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
)

func storePayment(t *testing.T, store *docstore.Memory, id string, body map[string]interface{}) {
	t.Helper()
	_, err := store.Set(context.Background(), paymentsCollection, id, body)
	require.NoError(t, err)
}

func TestListForDateAppliesToDateIsAuthoritative(t *testing.T) {
	store := docstore.NewMemory()
	storePayment(t, store, "p1", map[string]interface{}{
		"student_id": "s1", "amount": 20, "date": "2026-01-10", "applies_to_date": "2026-01-20",
	})
	// Explicitly applied elsewhere; the notes mention must not override.
	storePayment(t, store, "p2", map[string]interface{}{
		"student_id": "s2", "amount": 15, "date": "2026-01-10", "applies_to_date": "2026-02-03",
		"notes": "makeup for Jan 20 class",
	})
	repo := NewPaymentRepository(store)

	payments, err := repo.ListForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "p1", payments[0].PaymentID)
	assert.Equal(t, 20, payments[0].Amount)
}

func TestListForDateMatchesPaymentDate(t *testing.T) {
	store := docstore.NewMemory()
	storePayment(t, store, "p1", map[string]interface{}{
		"student_id": "s1", "amount": 20, "date": "2026-01-20",
	})
	storePayment(t, store, "p2", map[string]interface{}{
		"student_id": "s2", "amount": 10, "date": "2026-01-21",
	})
	repo := NewPaymentRepository(store)

	payments, err := repo.ListForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "p1", payments[0].PaymentID)
}

func TestListForDateLegacyNotesRenderings(t *testing.T) {
	store := docstore.NewMemory()
	notes := []string{
		"prepaid for 2026-01-20",
		"covers 1/20/2026 lesson",
		"covers 01/20/2026 lesson",
		"covers 1/20/26",
		"paid ahead for January 20, 2026",
		"paid ahead for Jan 20, 2026",
		"ballet January 20",
		"ballet jan 20 and stretching",
	}
	for i, note := range notes {
		storePayment(t, store, string(rune('a'+i)), map[string]interface{}{
			"student_id": "s1", "amount": 5, "date": "2026-01-05", "notes": note,
		})
	}
	repo := NewPaymentRepository(store)

	payments, err := repo.ListForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)
	assert.Len(t, payments, len(notes))
}

func TestListForDateRejectsPartialDateMatch(t *testing.T) {
	store := docstore.NewMemory()
	// "Jan 2" must not match inside "Jan 21".
	storePayment(t, store, "p1", map[string]interface{}{
		"student_id": "s1", "amount": 5, "date": "2026-01-05", "notes": "ballet Jan 21",
	})
	// A later clean mention still counts even after a partial one.
	storePayment(t, store, "p2", map[string]interface{}{
		"student_id": "s2", "amount": 5, "date": "2026-01-05", "notes": "Jan 21 makeup, moved to Jan 2",
	})
	repo := NewPaymentRepository(store)

	payments, err := repo.ListForDate(context.Background(), "2026-01-02")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "p2", payments[0].PaymentID)
}

func TestListForDateDeduplicatesAcrossSources(t *testing.T) {
	store := docstore.NewMemory()
	storePayment(t, store, "p1", map[string]interface{}{
		"student_id": "s1", "amount": 20, "date": "2026-01-20", "applies_to_date": "2026-01-20",
		"notes": "class on 2026-01-20",
	})
	repo := NewPaymentRepository(store)

	payments, err := repo.ListForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
