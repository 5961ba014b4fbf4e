package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

// Memory is an in-process Gateway with the same semantics as the
// Postgres store, including a redelivery-capable watch stream. The
// test suite and the backfill tool's dry-run mode run against it.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]*Document
	subs map[string][]*memorySub
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]*Document),
		subs: make(map[string][]*memorySub),
	}
}

type memorySub struct {
	store   *Memory
	key     string
	changes chan Change
	done    chan struct{}
	once    sync.Once
}

func (s *memorySub) Changes() <-chan Change { return s.changes }

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
		close(s.changes)
	})
}

// Get fetches a document copy.
func (m *Memory) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document "+collection+"/"+id+" not found")
	}
	return copyDocument(doc), nil
}

// Set writes unconditionally.
func (m *Memory) Set(_ context.Context, collection, id string, body map[string]interface{}) (*Document, error) {
	m.mu.Lock()
	doc := m.write(collection, id, body)
	out := copyDocument(doc)
	m.mu.Unlock()
	m.notify(collection, id, out.Revision)
	return out, nil
}

// SetIfRevision writes only when the stored revision matches.
func (m *Memory) SetIfRevision(_ context.Context, collection, id string, body map[string]interface{}, expectedRevision int64) (*Document, error) {
	m.mu.Lock()
	current, exists := m.data[collection][id]
	var currentRev int64
	if exists {
		currentRev = current.Revision
	}
	if currentRev != expectedRevision {
		m.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrConflict, "revision mismatch on "+collection+"/"+id)
	}
	doc := m.write(collection, id, body)
	out := copyDocument(doc)
	m.mu.Unlock()
	m.notify(collection, id, out.Revision)
	return out, nil
}

// Delete removes a document; absent documents are a no-op.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	if col, ok := m.data[collection]; ok {
		delete(col, id)
	}
	m.mu.Unlock()
	m.notify(collection, id, 0)
	return nil
}

// Query returns copies of documents matching every predicate.
func (m *Memory) Query(_ context.Context, collection string, predicates []Predicate, ordering *Ordering) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Document
	for _, doc := range m.data[collection] {
		if matches(doc.Body, predicates) {
			out = append(out, *copyDocument(doc))
		}
	}
	if ordering != nil {
		field, desc := ordering.Field, ordering.Desc
		sort.SliceStable(out, func(i, j int) bool {
			less := compareValues(out[i].Body[field], out[j].Body[field])
			if desc {
				return !less
			}
			return less
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out, nil
}

// Watch subscribes to changes of a single document.
func (m *Memory) Watch(ctx context.Context, collection, id string) (Subscription, error) {
	sub := &memorySub{
		store:   m,
		key:     collection + "/" + id,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[sub.key] = append(m.subs[sub.key], sub)
	m.mu.Unlock()

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

// Redeliver pushes a synthetic notification for an existing document.
// Tests use it to exercise at-least-once consumption.
func (m *Memory) Redeliver(collection, id string) {
	m.mu.Lock()
	var rev int64
	if doc, ok := m.data[collection][id]; ok {
		rev = doc.Revision
	}
	m.mu.Unlock()
	m.notify(collection, id, rev)
}

func (m *Memory) write(collection, id string, body map[string]interface{}) *Document {
	col, ok := m.data[collection]
	if !ok {
		col = make(map[string]*Document)
		m.data[collection] = col
	}
	var rev int64
	if existing, ok := col[id]; ok {
		rev = existing.Revision
	}
	doc := &Document{
		Collection: collection,
		ID:         id,
		Body:       deepCopy(body),
		Revision:   rev + 1,
		UpdatedAt:  time.Now().UTC(),
	}
	col[id] = doc
	return doc
}

func (m *Memory) notify(collection, id string, revision int64) {
	m.mu.Lock()
	subs := append([]*memorySub(nil), m.subs[collection+"/"+id]...)
	m.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.changes <- Change{Collection: collection, ID: id, Revision: revision}:
		default:
			// Slow consumer; the stream is at-least-once, not lossless.
		}
	}
}

func (m *Memory) unsubscribe(target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[target.key]
	for i, sub := range subs {
		if sub == target {
			m.subs[target.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func matches(body map[string]interface{}, predicates []Predicate) bool {
	for _, p := range predicates {
		val, ok := body[p.Field]
		if !ok || !equalValues(val, p.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b interface{}) bool {
	// Documents round-trip through JSON, so numbers compare as float64.
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareValues(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func deepCopy(body map[string]interface{}) map[string]interface{} {
	raw, err := json.Marshal(body)
	if err != nil {
		// Bodies are nested maps of scalars; marshal cannot fail for them.
		out := make(map[string]interface{}, len(body))
		for k, v := range body {
			out[k] = v
		}
		return out
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return body
	}
	return out
}

func copyDocument(doc *Document) *Document {
	return &Document{
		Collection: doc.Collection,
		ID:         doc.ID,
		Body:       deepCopy(doc.Body),
		Revision:   doc.Revision,
		UpdatedAt:  doc.UpdatedAt,
	}
}
