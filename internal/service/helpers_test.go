package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/dukerupert/tuition/internal/store"
)

const (
	testOrg     = "org1"
	testAccount = "org-a"
	testSecret  = "whsec_test_secret"
)

// fakeAccounts resolves accounts to mock providers.
type fakeAccounts struct {
	providers map[string]billing.Provider
	secrets   map[string]string
}

func (f *fakeAccounts) Resolve(accountID string) (billing.Provider, error) {
	p, ok := f.providers[accountID]
	if !ok {
		return nil, domain.UnknownAccount("test.resolve", accountID)
	}
	return p, nil
}

func (f *fakeAccounts) WebhookSecret(accountID string) (string, error) {
	if _, ok := f.providers[accountID]; !ok {
		return "", domain.UnknownAccount("test.webhook_secret", accountID)
	}
	s := f.secrets[accountID]
	if s == "" {
		return "", domain.MissingCredential("test.webhook_secret", accountID)
	}
	return s, nil
}

// fakeRetrier records reverse-index retries.
type fakeRetrier struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeRetrier) EnqueueReverseIndex(accountID, customerID string, _ domain.StudentRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, accountID+"/"+customerID)
	return true
}

// failingReverseStore fails every reverse-index write.
type failingReverseStore struct {
	*store.Memory
}

func (failingReverseStore) IndexReverse(context.Context, string, string, domain.StudentRef) error {
	return domain.Internal(errors.New("connection reset"), "mapping.index_reverse", "failed to save reverse index")
}

type fixture struct {
	mem      *store.Memory
	provider *billing.MockProvider
	accounts *fakeAccounts
	recorder *events.Recorder
	resolver *IdentityResolver
	workflow *InvoiceWorkflow
	billing  BillingService
	webhooks WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		mem:      store.NewMemory(),
		provider: billing.NewMockProvider(),
		recorder: &events.Recorder{},
	}
	f.accounts = &fakeAccounts{
		providers: map[string]billing.Provider{testAccount: f.provider},
		secrets:   map[string]string{testAccount: testSecret},
	}
	f.resolver = NewIdentityResolver(f.mem, f.mem, nil, nil, f.recorder, IdentityResolverConfig{})
	f.workflow = NewInvoiceWorkflow(InvoiceWorkflowConfig{})
	f.billing = NewBillingService(f.accounts, f.mem, f.resolver, f.workflow, f.recorder, BillingServiceConfig{Currency: "usd"})

	webhooks, err := NewWebhookService(f.accounts, f.mem, f.mem, f.recorder)
	if err != nil {
		t.Fatal(err)
	}
	f.webhooks = webhooks

	f.mem.PutStudent(&domain.Student{OrganizationID: testOrg, StudentID: "S1", DisplayName: "Ada Lovelace", ParentID: "P1"})
	f.mem.PutParent(&domain.Parent{OrganizationID: testOrg, ParentID: "P1", DisplayName: "Anne", Email: "p@x.com"})
	return f
}

func (f *fixture) student(t *testing.T, id string) *domain.Student {
	t.Helper()
	s, err := f.mem.GetStudent(context.Background(), testOrg, id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
