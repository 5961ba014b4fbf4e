package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

const notifyChannel = "docstore_changes"

// Postgres stores documents in a single jsonb table and fans change
// notifications out through LISTEN/NOTIFY.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger

	mu       sync.Mutex
	subs     map[string][]*postgresSub
	listener *pq.Listener
	stopped  bool
}

// NewPostgres wraps the pooled client. dsn feeds the change listener,
// which needs a dedicated connection outside the pool.
func NewPostgres(db *sqlx.DB, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{
		db:     db,
		logger: logger,
		subs:   make(map[string][]*postgresSub),
	}
	if dsn != "" {
		p.listener = pq.NewListener(dsn, 2*time.Second, time.Minute, nil)
		if err := p.listener.Listen(notifyChannel); err != nil {
			return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
		}
		go p.dispatch()
	}
	return p, nil
}

// Schema returns the DDL the store expects. Deployment applies it once.
func Schema() string {
	return `CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    body JSONB NOT NULL,
    revision BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
)`
}

type documentRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	Body       []byte    `db:"body"`
	Revision   int64     `db:"revision"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r documentRow) toDocument() (*Document, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return &Document{Collection: r.Collection, ID: r.ID, Body: body, Revision: r.Revision, UpdatedAt: r.UpdatedAt}, nil
}

// Get fetches a document.
func (p *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	const query = `SELECT collection, id, body, revision, updated_at FROM documents WHERE collection = $1 AND id = $2`
	var row documentRow
	if err := p.db.GetContext(ctx, &row, query, collection, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document "+collection+"/"+id+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "get document")
	}
	return row.toDocument()
}

// Set writes unconditionally, creating the document when absent.
func (p *Postgres) Set(ctx context.Context, collection, id string, body map[string]interface{}) (*Document, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document body: %w", err)
	}
	const query = `INSERT INTO documents (collection, id, body, revision, updated_at)
        VALUES ($1, $2, $3, 1, now())
        ON CONFLICT (collection, id)
        DO UPDATE SET body = EXCLUDED.body, revision = documents.revision + 1, updated_at = now()
        RETURNING collection, id, body, revision, updated_at`
	var row documentRow
	if err := p.db.GetContext(ctx, &row, query, collection, id, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "set document")
	}
	p.announce(ctx, collection, id, row.Revision)
	return row.toDocument()
}

// SetIfRevision writes only when the stored revision matches.
func (p *Postgres) SetIfRevision(ctx context.Context, collection, id string, body map[string]interface{}, expectedRevision int64) (*Document, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document body: %w", err)
	}

	var row documentRow
	if expectedRevision == 0 {
		const insert = `INSERT INTO documents (collection, id, body, revision, updated_at)
            VALUES ($1, $2, $3, 1, now())
            ON CONFLICT (collection, id) DO NOTHING
            RETURNING collection, id, body, revision, updated_at`
		err = p.db.GetContext(ctx, &row, insert, collection, id, payload)
	} else {
		const update = `UPDATE documents
            SET body = $3, revision = revision + 1, updated_at = now()
            WHERE collection = $1 AND id = $2 AND revision = $4
            RETURNING collection, id, body, revision, updated_at`
		err = p.db.GetContext(ctx, &row, update, collection, id, payload, expectedRevision)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "revision mismatch on "+collection+"/"+id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "conditional set document")
	}
	p.announce(ctx, collection, id, row.Revision)
	return row.toDocument()
}

// Delete removes a document; absent documents are a no-op.
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	const query = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := p.db.ExecContext(ctx, query, collection, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "delete document")
	}
	p.announce(ctx, collection, id, 0)
	return nil
}

// Query returns documents whose body contains every predicate value.
func (p *Postgres) Query(ctx context.Context, collection string, predicates []Predicate, ordering *Ordering) ([]Document, error) {
	query := `SELECT collection, id, body, revision, updated_at FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	for _, pred := range predicates {
		filter, err := json.Marshal(map[string]interface{}{pred.Field: pred.Value})
		if err != nil {
			return nil, fmt.Errorf("encode predicate %s: %w", pred.Field, err)
		}
		query += fmt.Sprintf(" AND body @> $%d", len(args)+1)
		args = append(args, filter)
	}
	if ordering != nil && isSafeField(ordering.Field) {
		direction := "ASC"
		if ordering.Desc {
			direction = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY body->>'%s' %s", ordering.Field, direction)
	} else {
		query += " ORDER BY id ASC"
	}

	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "query documents")
	}
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, nil
}

type postgresSub struct {
	store   *Postgres
	key     string
	changes chan Change
	done    chan struct{}
	once    sync.Once
}

func (s *postgresSub) Changes() <-chan Change { return s.changes }

func (s *postgresSub) Close() {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
		close(s.changes)
	})
}

// Watch subscribes to changes of a single document.
func (p *Postgres) Watch(ctx context.Context, collection, id string) (Subscription, error) {
	if p.listener == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "change listener not configured")
	}
	sub := &postgresSub{
		store:   p,
		key:     collection + "/" + id,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
	p.mu.Lock()
	p.subs[sub.key] = append(p.subs[sub.key], sub)
	p.mu.Unlock()

	// The waiter exits on Close too, so a released subscription does
	// not pin a goroutine for the lifetime of a long-lived context.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Close stops the change listener.
func (p *Postgres) Close() error {
	p.mu.Lock()
	p.stopped = true
	listener := p.listener
	p.mu.Unlock()
	if listener != nil {
		return listener.Close()
	}
	return nil
}

type notifyPayload struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Revision   int64  `json:"revision"`
}

func (p *Postgres) announce(ctx context.Context, collection, id string, revision int64) {
	payload, err := json.Marshal(notifyPayload{Collection: collection, ID: id, Revision: revision})
	if err != nil {
		return
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		p.logger.Warn("notify failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
	}
}

func (p *Postgres) dispatch() {
	for notification := range p.listener.Notify {
		if notification == nil {
			// Reconnect marker; subscribers tolerate gaps via redelivery.
			continue
		}
		var payload notifyPayload
		if err := json.Unmarshal([]byte(notification.Extra), &payload); err != nil {
			p.logger.Warn("malformed change notification", zap.Error(err))
			continue
		}
		p.mu.Lock()
		subs := append([]*postgresSub(nil), p.subs[payload.Collection+"/"+payload.ID]...)
		p.mu.Unlock()
		for _, sub := range subs {
			select {
			case sub.changes <- Change{Collection: payload.Collection, ID: payload.ID, Revision: payload.Revision}:
			default:
			}
		}
	}
}

func (p *Postgres) unsubscribe(target *postgresSub) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[target.key]
	for i, sub := range subs {
		if sub == target {
			p.subs[target.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func isSafeField(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		if !strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", r) {
			return false
		}
	}
	return true
}
