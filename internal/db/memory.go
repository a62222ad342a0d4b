package db

import (
	"context"
	"maps"
	"sync"
	"time"

	"paygate/internal/types"
)

type eventKey struct {
	provider types.Provider
	id       string
}

// MemoryStore is an in-process Store for local runs and tests. Transactions
// are serialized and staged, so a failed RunInTx leaves no trace.
type MemoryStore struct {
	mu            sync.Mutex
	ledger        map[eventKey]types.ProcessedEventRecord
	events        map[eventKey]types.PaymentEvent
	orders        map[string]*types.PaymentOrder
	payments      map[eventKey]types.Payment
	subscriptions map[eventKey]types.Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledger:        map[eventKey]types.ProcessedEventRecord{},
		events:        map[eventKey]types.PaymentEvent{},
		orders:        map[string]*types.PaymentOrder{},
		payments:      map[eventKey]types.Payment{},
		subscriptions: map[eventKey]types.Subscription{},
	}
}

func (m *MemoryStore) GetProcessed(_ context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ledger[eventKey{provider, eventID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) GetEvent(_ context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventKey{provider, eventID}]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *types.PaymentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return types.NewAppError(types.ErrCodeConflictDuplicate, "order already recorded", nil)
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*types.PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) FindOrderByProviderRef(_ context.Context, provider types.Provider, providerOrderID string) (*types.PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Provider == provider && o.ProviderOrderID == providerOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

// Payments returns captured payments for assertions in tests.
func (m *MemoryStore) Payments() []types.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, p)
	}
	return out
}

// Subscription returns the stored subscription, if any.
func (m *MemoryStore) Subscription(provider types.Provider, ref string) (types.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[eventKey{provider, ref}]
	return s, ok
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		ledger:        maps.Clone(m.ledger),
		events:        maps.Clone(m.events),
		payments:      maps.Clone(m.payments),
		subscriptions: maps.Clone(m.subscriptions),
		paid:          map[string]time.Time{},
		orders:        m.orders,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.ledger = tx.ledger
	m.events = tx.events
	m.payments = tx.payments
	m.subscriptions = tx.subscriptions
	for id := range tx.paid {
		cp := *m.orders[id]
		cp.Status = types.OrderStatusPaid
		m.orders[id] = &cp
	}
	return nil
}

type memTx struct {
	ledger        map[eventKey]types.ProcessedEventRecord
	events        map[eventKey]types.PaymentEvent
	payments      map[eventKey]types.Payment
	subscriptions map[eventKey]types.Subscription
	orders        map[string]*types.PaymentOrder
	paid          map[string]time.Time
}

func (t *memTx) InsertProcessed(_ context.Context, rec types.ProcessedEventRecord) (bool, error) {
	k := eventKey{rec.Provider, rec.ProviderEventID}
	if _, exists := t.ledger[k]; exists {
		return false, nil
	}
	t.ledger[k] = rec
	return true, nil
}

func (t *memTx) SaveEvent(_ context.Context, ev types.PaymentEvent) error {
	k := eventKey{ev.Provider, ev.ProviderEventID}
	if _, exists := t.events[k]; !exists {
		t.events[k] = ev
	}
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p types.Payment) (bool, error) {
	k := eventKey{p.Provider, p.PaymentRef}
	if _, exists := t.payments[k]; exists {
		return false, nil
	}
	t.payments[k] = p
	return true, nil
}

func (t *memTx) MarkOrderPaid(_ context.Context, provider types.Provider, providerOrderID string, at time.Time) (bool, error) {
	for id, o := range t.orders {
		if o.Provider == provider && o.ProviderOrderID == providerOrderID && o.Status == types.OrderStatusCreated {
			if _, done := t.paid[id]; done {
				return false, nil
			}
			t.paid[id] = at
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpsertSubscription(_ context.Context, s types.Subscription) error {
	k := eventKey{s.Provider, s.SubscriptionRef}
	cur, exists := t.subscriptions[k]
	if exists && cur.UpdatedAt.After(s.UpdatedAt) {
		return nil
	}
	if exists {
		if s.SubjectID == "" {
			s.SubjectID = cur.SubjectID
		}
		if s.TenantID == "" {
			s.TenantID = cur.TenantID
		}
	}
	t.subscriptions[k] = s
	return nil
}

var _ Store = (*MemoryStore)(nil)
