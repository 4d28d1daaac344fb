package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Mock Gateway
type gatewayCall struct {
	Action  domain.Action
	Payload any
}

type mockGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	responses map[domain.Action]string
	errs      map[domain.Action]error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		responses: make(map[domain.Action]string),
		errs:      make(map[domain.Action]error),
	}
}

func (m *mockGateway) respond(action domain.Action, body string) *mockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[action] = body
	delete(m.errs, action)
	return m
}

func (m *mockGateway) fail(action domain.Action, err error) *mockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[action] = err
	return m
}

func (m *mockGateway) Call(ctx context.Context, action domain.Action, payload any) (domain.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{Action: action, Payload: payload})
	if err := m.errs[action]; err != nil {
		return domain.Response{}, err
	}
	body, ok := m.responses[action]
	if !ok {
		body = `{"success":true}`
	}
	return domain.Response{Action: action, Body: json.RawMessage(body)}, nil
}

func (m *mockGateway) count(action domain.Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Action == action {
			n++
		}
	}
	return n
}

func (m *mockGateway) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Mock LocalCartStore
type memLocalStore struct {
	mu      sync.Mutex
	carts   map[string]domain.StoredCart
	orders  map[string]domain.OrderRecord
	saveErr error
	loadErr error
	saves   int
}

func newMemLocalStore() *memLocalStore {
	return &memLocalStore{
		carts:  make(map[string]domain.StoredCart),
		orders: make(map[string]domain.OrderRecord),
	}
}

func (m *memLocalStore) LoadCart(ctx context.Context, ns string) (*domain.StoredCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	c, ok := m.carts[ns]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memLocalStore) SaveCart(ctx context.Context, ns string, cart domain.StoredCart) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return false, m.saveErr
	}
	if cur, ok := m.carts[ns]; ok && cur.Version >= cart.Version {
		return false, nil
	}
	m.carts[ns] = cart
	return true, nil
}

func (m *memLocalStore) ClearCart(ctx context.Context, ns string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.carts[ns]; ok && cur.Version >= version {
		return nil
	}
	m.carts[ns] = domain.StoredCart{Version: version, UpdatedAt: time.Now()}
	return nil
}

func (m *memLocalStore) SaveLastOrder(ctx context.Context, ns string, order domain.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[ns] = order
	return nil
}

func (m *memLocalStore) LastOrder(ctx context.Context, ns string) (*domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ns]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memLocalStore) cart(ns string) (domain.StoredCart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[ns]
	return c, ok
}

// Mock CloudCartStore
type memCloudStore struct {
	mu      sync.Mutex
	records map[string]domain.CloudCartRecord
	getErr  error
}

func newMemCloudStore() *memCloudStore {
	return &memCloudStore{records: make(map[string]domain.CloudCartRecord)}
}

func (m *memCloudStore) UpsertCart(ctx context.Context, rec domain.CloudCartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[rec.UserID]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return nil
	}
	m.records[rec.UserID] = rec
	return nil
}

func (m *memCloudStore) GetCart(ctx context.Context, userID string) (*domain.CloudCartRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// recordingQueue keeps tasks in memory instead of running them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []PersistTask
}

func (q *recordingQueue) Enqueue(task PersistTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return true
}

func (q *recordingQueue) kinds() []TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TaskKind, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Kind
	}
	return out
}

func (q *recordingQueue) ofKind(kind TaskKind) []PersistTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []PersistTask
	for _, t := range q.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedRandom never shuffles and returns a constant jitter.
type fixedRandom struct {
	value float64
}

func (r fixedRandom) Float64() float64                   { return r.value }
func (r fixedRandom) Shuffle(n int, swap func(i, j int)) {}

// staticCatalog serves a fixed snapshot.
type staticCatalog struct {
	snap *domain.CatalogSnapshot
	err  error
}

func (s staticCatalog) Get(ctx context.Context) (*domain.CatalogSnapshot, error) {
	return s.snap, s.err
}
