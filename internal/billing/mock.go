package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates Stripe's customer and invoice flows in memory, including
// idempotency keys, without calling the Stripe API. Safe for concurrent use.
type MockProvider struct {
	// SearchCustomersByEmailFunc allows customizing customer search behavior
	SearchCustomersByEmailFunc func(ctx context.Context, email string, limit int) ([]*Customer, error)

	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomerFunc allows customizing customer retrieval behavior
	GetCustomerFunc func(ctx context.Context, customerID string) (*Customer, error)

	// CreateDraftInvoiceFunc allows customizing draft invoice creation behavior
	CreateDraftInvoiceFunc func(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)

	// CreateInvoiceItemFunc allows customizing line item creation behavior
	CreateInvoiceItemFunc func(ctx context.Context, params CreateInvoiceItemParams) (*InvoiceItem, error)

	// GetInvoiceFunc allows customizing invoice retrieval behavior
	GetInvoiceFunc func(ctx context.Context, invoiceID string) (*Invoice, error)

	// FinalizeInvoiceFunc allows customizing finalization behavior
	FinalizeInvoiceFunc func(ctx context.Context, params FinalizeInvoiceParams) (*Invoice, error)

	// DeleteInvoiceFunc allows customizing draft deletion behavior
	DeleteInvoiceFunc func(ctx context.Context, invoiceID string) error

	// DeleteInvoiceItemFunc allows customizing line item deletion behavior
	DeleteInvoiceItemFunc func(ctx context.Context, itemID string) error

	// ConstructEventFunc allows customizing webhook verification behavior
	ConstructEventFunc func(payload []byte, signature string, secret string) (*Event, error)

	mu sync.Mutex

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	// Invoices stores created invoices for retrieval
	Invoices map[string]*Invoice

	// InvoiceItems stores created line items for retrieval
	InvoiceItems map[string]*InvoiceItem

	// Subscriptions stores subscriptions per customer ID
	Subscriptions map[string][]*Subscription

	idempotentCustomers map[string]*Customer
	idempotentFinalize  map[string]*Invoice

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:           make(map[string]*Customer),
		Invoices:            make(map[string]*Invoice),
		InvoiceItems:        make(map[string]*InvoiceItem),
		Subscriptions:       make(map[string][]*Subscription),
		idempotentCustomers: make(map[string]*Customer),
		idempotentFinalize:  make(map[string]*Invoice),
		CallLog:             []string{},
	}
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

// Calls returns a snapshot of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CallCount returns how many logged calls start with the given method name.
func (m *MockProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if strings.HasPrefix(c, method+"(") {
			n++
		}
	}
	return n
}

// AddCustomer seeds an existing customer.
func (m *MockProvider) AddCustomer(c *Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Customers[c.ID] = c
}

// AddSubscription seeds a subscription for its customer.
func (m *MockProvider) AddSubscription(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions[s.CustomerID] = append(m.Subscriptions[s.CustomerID], s)
}

// SearchCustomersByEmail searches mock customers by email.
func (m *MockProvider) SearchCustomersByEmail(ctx context.Context, email string, limit int) ([]*Customer, error) {
	m.record(fmt.Sprintf("SearchCustomersByEmail(%s)", email))

	if m.SearchCustomersByEmailFunc != nil {
		return m.SearchCustomersByEmailFunc(ctx, email, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var found []*Customer
	for _, c := range m.Customers {
		if c.Email == email {
			cp := *c
			found = append(found, &cp)
			if len(found) >= limit {
				break
			}
		}
	}
	return found, nil
}

// CreateCustomer creates a mock customer. A repeated idempotency key returns the
// customer created by the first call.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.record(fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if params.IdempotencyKey != "" {
		if c, ok := m.idempotentCustomers[params.IdempotencyKey]; ok {
			cp := *c
			return &cp, nil
		}
	}

	customer := &Customer{
		ID:        "cus_" + uuid.New().String()[:8],
		Email:     params.Email,
		Name:      params.Name,
		Metadata:  params.Metadata,
		CreatedAt: time.Now(),
	}
	m.Customers[customer.ID] = customer
	if params.IdempotencyKey != "" {
		m.idempotentCustomers[params.IdempotencyKey] = customer
	}

	cp := *customer
	return &cp, nil
}

// GetCustomer retrieves a mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.record(fmt.Sprintf("GetCustomer(%s)", customerID))

	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	cp := *customer
	return &cp, nil
}

// CreateDraftInvoice creates a mock draft invoice with a zero total.
func (m *MockProvider) CreateDraftInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	m.record(fmt.Sprintf("CreateDraftInvoice(%s)", params.CustomerID))

	if m.CreateDraftInvoiceFunc != nil {
		return m.CreateDraftInvoiceFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv := &Invoice{
		ID:         "in_" + uuid.New().String()[:8],
		CustomerID: params.CustomerID,
		Status:     "draft",
		Currency:   params.Currency,
		Metadata:   params.Metadata,
		CreatedAt:  time.Now(),
	}
	m.Invoices[inv.ID] = inv

	cp := *inv
	return &cp, nil
}

// CreateInvoiceItem creates a mock line item and adds it to its invoice total.
func (m *MockProvider) CreateInvoiceItem(ctx context.Context, params CreateInvoiceItemParams) (*InvoiceItem, error) {
	m.record(fmt.Sprintf("CreateInvoiceItem(%s, %d)", params.InvoiceID, params.AmountMinorUnits))

	if m.CreateInvoiceItemFunc != nil {
		return m.CreateInvoiceItemFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.Invoices[params.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, params.InvoiceID)
	}
	if inv.Status != "draft" {
		return nil, &StripeError{Message: "invoice is not a draft", Code: "invoice_not_editable", HTTPStatus: 400}
	}

	item := &InvoiceItem{
		ID:               "ii_" + uuid.New().String()[:8],
		InvoiceID:        params.InvoiceID,
		AmountMinorUnits: params.AmountMinorUnits,
		Currency:         params.Currency,
		Description:      params.Description,
	}
	m.InvoiceItems[item.ID] = item
	inv.Total += params.AmountMinorUnits

	cp := *item
	return &cp, nil
}

// GetInvoice retrieves a mock invoice.
func (m *MockProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.record(fmt.Sprintf("GetInvoice(%s)", invoiceID))

	if m.GetInvoiceFunc != nil {
		return m.GetInvoiceFunc(ctx, invoiceID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	cp := *inv
	return &cp, nil
}

// FinalizeInvoice marks a mock draft invoice open. A repeated idempotency key
// returns the first result without finalizing again.
func (m *MockProvider) FinalizeInvoice(ctx context.Context, params FinalizeInvoiceParams) (*Invoice, error) {
	m.record(fmt.Sprintf("FinalizeInvoice(%s)", params.InvoiceID))

	if m.FinalizeInvoiceFunc != nil {
		return m.FinalizeInvoiceFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if params.IdempotencyKey != "" {
		if inv, ok := m.idempotentFinalize[params.IdempotencyKey]; ok {
			cp := *inv
			return &cp, nil
		}
	}

	inv, ok := m.Invoices[params.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, params.InvoiceID)
	}
	if inv.Status != "draft" {
		return nil, &StripeError{Message: "invoice is already finalized", Code: "invoice_not_editable", HTTPStatus: 400}
	}

	inv.Status = "open"
	inv.HostedInvoiceURL = "https://invoice.stripe.com/i/" + inv.ID
	if params.IdempotencyKey != "" {
		snapshot := *inv
		m.idempotentFinalize[params.IdempotencyKey] = &snapshot
	}

	cp := *inv
	return &cp, nil
}

// DeleteInvoice deletes a mock draft invoice.
func (m *MockProvider) DeleteInvoice(ctx context.Context, invoiceID string) error {
	m.record(fmt.Sprintf("DeleteInvoice(%s)", invoiceID))

	if m.DeleteInvoiceFunc != nil {
		return m.DeleteInvoiceFunc(ctx, invoiceID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Invoices[invoiceID]; !ok {
		return fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	delete(m.Invoices, invoiceID)
	return nil
}

// DeleteInvoiceItem deletes a mock line item and removes it from its invoice total.
func (m *MockProvider) DeleteInvoiceItem(ctx context.Context, itemID string) error {
	m.record(fmt.Sprintf("DeleteInvoiceItem(%s)", itemID))

	if m.DeleteInvoiceItemFunc != nil {
		return m.DeleteInvoiceItemFunc(ctx, itemID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.InvoiceItems[itemID]
	if !ok {
		return &StripeError{Message: "no such invoiceitem", Code: "resource_missing", HTTPStatus: 404}
	}
	if inv, ok := m.Invoices[item.InvoiceID]; ok {
		inv.Total -= item.AmountMinorUnits
	}
	delete(m.InvoiceItems, itemID)
	return nil
}

// ListSubscriptions lists seeded mock subscriptions.
func (m *MockProvider) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	m.record(fmt.Sprintf("ListSubscriptions(%s)", customerID))

	m.mu.Lock()
	defer m.mu.Unlock()

	subs := make([]*Subscription, 0, len(m.Subscriptions[customerID]))
	for _, s := range m.Subscriptions[customerID] {
		cp := *s
		subs = append(subs, &cp)
	}
	return subs, nil
}

// ConstructEvent verifies the payload with the real Stripe signature scheme unless
// ConstructEventFunc is set.
func (m *MockProvider) ConstructEvent(payload []byte, signature string, secret string) (*Event, error) {
	m.record("ConstructEvent()")

	if m.ConstructEventFunc != nil {
		return m.ConstructEventFunc(payload, signature, secret)
	}
	return ConstructStripeEvent(payload, signature, secret)
}

// InvoiceCount returns the number of invoices currently held by the mock.
func (m *MockProvider) InvoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Invoices)
}

// InvoiceItemCount returns the number of line items currently held by the mock.
func (m *MockProvider) InvoiceItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InvoiceItems)
}

// CustomerCount returns the number of customers currently held by the mock.
func (m *MockProvider) CustomerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Customers)
}
