package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dukerupert/tuition/internal/domain"
)

// Memory is an in-process Store. It is safe for concurrent use and gives
// read-after-write consistency, which is all the billing flows need.
type Memory struct {
	mu        sync.RWMutex
	students  map[string]*domain.Student // "org/student"
	parents   map[string]*domain.Parent  // "org/parent"
	reverse   map[string]domain.StudentRef
	invoices  map[string]*domain.InvoiceHistoryEntry
	bootstrap string
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		students: make(map[string]*domain.Student),
		parents:  make(map[string]*domain.Parent),
		reverse:  make(map[string]domain.StudentRef),
		invoices: make(map[string]*domain.InvoiceHistoryEntry),
	}
}

func key(a, b string) string { return a + "/" + b }

// PutStudent seeds or replaces a student record.
func (m *Memory) PutStudent(s *domain.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[key(s.OrganizationID, s.StudentID)] = cloneStudent(s)
}

// PutParent seeds or replaces a parent record.
func (m *Memory) PutParent(p *domain.Parent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.parents[key(p.OrganizationID, p.ParentID)] = &cp
}

func (m *Memory) GetStudent(ctx context.Context, organizationID, studentID string) (*domain.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.students[key(organizationID, studentID)]
	if !ok {
		return nil, domain.NotFound("student.get", "student", key(organizationID, studentID))
	}
	return cloneStudent(s), nil
}

func (m *Memory) GetParent(ctx context.Context, organizationID, parentID string) (*domain.Parent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.parents[key(organizationID, parentID)]
	if !ok {
		return nil, domain.NotFound("parent.get", "parent", key(organizationID, parentID))
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpsertBillingMapping(ctx context.Context, organizationID, studentID, accountID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[key(organizationID, studentID)]
	if !ok {
		return domain.NotFound("mapping.upsert", "student", key(organizationID, studentID))
	}
	if s.BillingMap == nil {
		s.BillingMap = make(map[string]string)
	}
	s.BillingMap[accountID] = customerID
	return nil
}

func (m *Memory) SetBillingMappingIfAbsent(ctx context.Context, organizationID, studentID, accountID, customerID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[key(organizationID, studentID)]
	if !ok {
		return "", false, domain.NotFound("mapping.set_if_absent", "student", key(organizationID, studentID))
	}
	if existing, ok := s.BillingMap[accountID]; ok && existing != "" {
		return existing, false, nil
	}
	if s.BillingMap == nil {
		s.BillingMap = make(map[string]string)
	}
	s.BillingMap[accountID] = customerID
	return customerID, true, nil
}

func (m *Memory) IndexReverse(ctx context.Context, accountID, customerID string, ref domain.StudentRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverse[key(accountID, customerID)] = ref
	return nil
}

func (m *Memory) LookupReverse(ctx context.Context, accountID, customerID string) (*domain.StudentRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ref, ok := m.reverse[key(accountID, customerID)]
	if !ok {
		return nil, domain.NotFound("mapping.lookup_reverse", "customer", key(accountID, customerID))
	}
	return &ref, nil
}

func (m *Memory) RecordInvoice(ctx context.Context, entry *domain.InvoiceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.invoices[entry.InvoiceID]; exists {
		return nil
	}
	cp := *entry
	m.invoices[entry.InvoiceID] = &cp
	return nil
}

func (m *Memory) UpdateInvoiceStatus(ctx context.Context, entry *domain.InvoiceHistoryEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.invoices[entry.InvoiceID]
	if !ok {
		cp := *entry
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = cp.StatusUpdatedAt
		}
		m.invoices[entry.InvoiceID] = &cp
		return true, nil
	}
	if entry.StatusUpdatedAt.Before(existing.StatusUpdatedAt) {
		return false, nil
	}
	existing.Status = entry.Status
	existing.StatusUpdatedAt = entry.StatusUpdatedAt
	if entry.HostedInvoiceURL != "" {
		existing.HostedInvoiceURL = entry.HostedInvoiceURL
	}
	return true, nil
}

func (m *Memory) ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.InvoiceHistoryEntry
	for _, e := range m.invoices {
		if e.OrganizationID == organizationID && e.StudentID == studentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InvoiceID > out[j].InvoiceID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ClaimAdminBootstrap(ctx context.Context, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bootstrap != "" {
		return false, nil
	}
	m.bootstrap = uid
	return true, nil
}

func (m *Memory) ReleaseAdminBootstrap(ctx context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bootstrap == uid {
		m.bootstrap = ""
	}
	return nil
}

func (m *Memory) AdminBootstrapClaimed(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bootstrap != "", nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func cloneStudent(s *domain.Student) *domain.Student {
	cp := *s
	if s.BillingMap != nil {
		cp.BillingMap = make(map[string]string, len(s.BillingMap))
		for k, v := range s.BillingMap {
			cp.BillingMap[k] = v
		}
	}
	return &cp
}
