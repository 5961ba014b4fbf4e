package docstore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

func newDocstoreMock(t *testing.T) (*Postgres, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	store, err := NewPostgres(sqlx.NewDb(db, "sqlmock"), "", nil)
	require.NoError(t, err)
	return store, mock, func() { db.Close() }
}

func docRows(collection, id, body string, revision int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"collection", "id", "body", "revision", "updated_at"}).
		AddRow(collection, id, []byte(body), revision, time.Now())
}

func TestPostgresGet(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT collection, id, body, revision, updated_at FROM documents WHERE collection").
		WithArgs("students", "s1").
		WillReturnRows(docRows("students", "s1", `{"balance": 5}`, 3))

	doc, err := store.Get(context.Background(), "students", "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, doc.Revision)
	assert.EqualValues(t, 5, doc.Body["balance"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAbsent(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT collection, id, body, revision, updated_at FROM documents").
		WithArgs("students", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"collection", "id", "body", "revision", "updated_at"}))

	_, err := store.Get(context.Background(), "students", "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetUpserts(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("students", "s1", sqlmock.AnyArg()).
		WillReturnRows(docRows("students", "s1", `{"balance": 0}`, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(notifyChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := store.Set(context.Background(), "students", "s1", map[string]interface{}{"balance": 0})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetIfRevisionConflict(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE documents").
		WithArgs("students", "s1", sqlmock.AnyArg(), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"collection", "id", "body", "revision", "updated_at"}))

	_, err := store.SetIfRevision(context.Background(), "students", "s1", map[string]interface{}{"balance": 5}, 2)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetIfRevisionCreate(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("students", "s1", sqlmock.AnyArg()).
		WillReturnRows(docRows("students", "s1", `{"balance": 0}`, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(notifyChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := store.SetIfRevision(context.Background(), "students", "s1", map[string]interface{}{"balance": 0}, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc.Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("students", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(notifyChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), "students", "s1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryWithPredicate(t *testing.T) {
	store, mock, cleanup := newDocstoreMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"collection", "id", "body", "revision", "updated_at"}).
		AddRow("payments", "p1", []byte(`{"student_id": "s1", "amount": 20}`), 1, time.Now()).
		AddRow("payments", "p2", []byte(`{"student_id": "s1", "amount": 10}`), 1, time.Now())
	mock.ExpectQuery("SELECT collection, id, body, revision, updated_at FROM documents WHERE collection").
		WithArgs("payments", []byte(`{"student_id":"s1"}`)).
		WillReturnRows(rows)

	docs, err := store.Query(context.Background(), "payments",
		[]Predicate{{Field: "student_id", Value: "s1"}}, &Ordering{Field: "amount"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "p1", docs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWatchRequiresListener(t *testing.T) {
	store, _, cleanup := newDocstoreMock(t)
	defer cleanup()

	_, err := store.Watch(context.Background(), "attendance", "2026-01-20")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnavailable))
}
