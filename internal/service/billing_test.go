package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoice_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.billing.CreateInvoice(ctx, CreateInvoiceRequest{
		OrganizationID: testOrg,
		StudentID:      "S1",
		ParentID:       "P1",
		Amount:         "25.00",
		Description:    "May tuition",
		AccountID:      testAccount,
	})
	require.NoError(t, err)

	// Search found nothing, so exactly one customer was created
	assert.Equal(t, 1, f.provider.CallCount("SearchCustomersByEmail"))
	assert.Equal(t, 1, f.provider.CallCount("CreateCustomer"))
	assert.Contains(t, f.provider.Calls(), "CreateInvoiceItem("+ref.InvoiceID+", 2500)")

	assert.Equal(t, "open", ref.Status)
	assert.NotEmpty(t, ref.HostedInvoiceURL)

	customerID := f.student(t, "S1").BillingMap[testAccount]
	require.NotEmpty(t, customerID)
	customer, err := f.provider.GetCustomer(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, "p@x.com", customer.Email)
	assert.Equal(t, "Ada Lovelace", customer.Name)

	history, err := f.billing.ListInvoices(ctx, testOrg, "S1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ref.InvoiceID, history[0].InvoiceID)
	assert.Equal(t, int64(2500), history[0].AmountMinorUnits)
	assert.Equal(t, customerID, history[0].CustomerID)

	assert.Equal(t, []string{events.SubjectCustomerMapped, events.SubjectInvoiceFinalized}, f.recorder.Subjects())

	// Second invoice reuses the mapping without touching customers
	_, err = f.billing.CreateInvoice(ctx, CreateInvoiceRequest{
		OrganizationID: testOrg, StudentID: "S1", ParentID: "P1",
		Amount: "25.00", Description: "June tuition", AccountID: testAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.CallCount("SearchCustomersByEmail"))
	assert.Equal(t, 1, f.provider.CallCount("CreateCustomer"))
}

func TestCreateInvoice_RoundsOnceAtTheBoundary(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"19.99", 1999},
		{"0.30", 30},
		{"10.005", 1001},
		{"25", 2500},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			f := newFixture(t)

			var got int64
			f.provider.CreateInvoiceItemFunc = func(ctx context.Context, params billing.CreateInvoiceItemParams) (*billing.InvoiceItem, error) {
				got = params.AmountMinorUnits
				f.provider.CreateInvoiceItemFunc = nil
				return f.provider.CreateInvoiceItem(ctx, params)
			}

			_, err := f.billing.CreateInvoice(context.Background(), CreateInvoiceRequest{
				OrganizationID: testOrg, StudentID: "S1", ParentID: "P1",
				Amount: tt.amount, Description: "Tuition", AccountID: testAccount,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateInvoice_AttachmentFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.provider.GetInvoiceFunc = func(_ context.Context, id string) (*billing.Invoice, error) {
		return &billing.Invoice{ID: id, Status: "draft", Total: 0}, nil
	}

	ref, err := f.billing.CreateInvoice(context.Background(), CreateInvoiceRequest{
		OrganizationID: testOrg, StudentID: "S1", ParentID: "P1",
		Amount: "25.00", Description: "May tuition", AccountID: testAccount,
	})

	require.Error(t, err)
	assert.Nil(t, ref)
	assert.Equal(t, domain.EATTACHMENT, domain.ErrorCode(err))
	assert.Equal(t, 0, f.provider.InvoiceCount())

	history, err := f.billing.ListInvoices(context.Background(), testOrg, "S1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotContains(t, f.recorder.Subjects(), events.SubjectInvoiceFinalized)
}

func TestCreateInvoice_RequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateInvoiceRequest
		wantCode string
	}{
		{
			name:     "unknown account",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P1", Amount: "10", AccountID: "org-z"},
			wantCode: domain.EUNKNOWNACCOUNT,
		},
		{
			name:     "unknown student",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S9", ParentID: "P1", Amount: "10", AccountID: testAccount},
			wantCode: domain.ENOTFOUND,
		},
		{
			name:     "unknown parent",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P9", Amount: "10", AccountID: testAccount},
			wantCode: domain.ENOTFOUND,
		},
		{
			name:     "zero amount",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P1", Amount: "0.001", AccountID: testAccount},
			wantCode: domain.EINVALID,
		},
		{
			name:     "not a number",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P1", Amount: "twenty", AccountID: testAccount},
			wantCode: domain.EINVALID,
		},
		{
			name:     "amount beyond int64 does not wrap",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P1", Amount: "184467440737095541.16", AccountID: testAccount},
			wantCode: domain.EINVALID,
		},
		{
			name:     "amount above provider maximum",
			req:      CreateInvoiceRequest{OrganizationID: testOrg, StudentID: "S1", ParentID: "P1", Amount: "1000000.00", AccountID: testAccount},
			wantCode: domain.EINVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			ref, err := f.billing.CreateInvoice(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, ref)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			assert.Empty(t, f.provider.Calls())
		})
	}
}

func TestCreateInvoice_ParentFromStudentRecord(t *testing.T) {
	f := newFixture(t)

	ref, err := f.billing.CreateInvoice(context.Background(), CreateInvoiceRequest{
		OrganizationID: testOrg, StudentID: "S1",
		Amount: "25.00", Description: "May tuition", AccountID: testAccount,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, ref.InvoiceID)
	assert.Contains(t, f.provider.Calls(), "SearchCustomersByEmail(p@x.com)")
}

func TestBillingErrors_NameTheStudentAndAccount(t *testing.T) {
	const where = "student org1/S1, account org-a"

	t.Run("customer resolution", func(t *testing.T) {
		f := newFixture(t)
		f.provider.SearchCustomersByEmailFunc = func(context.Context, string, int) ([]*billing.Customer, error) {
			return nil, errors.New("connection reset")
		}

		_, err := f.billing.CreateInvoice(context.Background(), CreateInvoiceRequest{
			OrganizationID: testOrg, StudentID: "S1", ParentID: "P1",
			Amount: "25.00", Description: "May tuition", AccountID: testAccount,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), where)
		assert.Equal(t, domain.ERESOLUTION, domain.ErrorCode(err))
		assert.NotContains(t, domain.ErrorMessage(err), "S1")
	})

	t.Run("invoice workflow", func(t *testing.T) {
		f := newFixture(t)
		f.provider.GetInvoiceFunc = func(_ context.Context, id string) (*billing.Invoice, error) {
			return &billing.Invoice{ID: id, Status: "draft", Total: 0}, nil
		}

		_, err := f.billing.CreateInvoice(context.Background(), CreateInvoiceRequest{
			OrganizationID: testOrg, StudentID: "S1", ParentID: "P1",
			Amount: "25.00", Description: "May tuition", AccountID: testAccount,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), where)
		assert.Equal(t, domain.EATTACHMENT, domain.ErrorCode(err))
	})

	t.Run("customer verification", func(t *testing.T) {
		f := newFixture(t)
		f.provider.GetCustomerFunc = func(context.Context, string) (*billing.Customer, error) {
			return nil, errors.New("connection reset")
		}

		err := f.billing.MapCustomer(context.Background(), MapCustomerRequest{
			OrganizationID: testOrg, StudentID: "S1", CustomerID: "cus_A", AccountID: testAccount, Verify: true,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), where)
		assert.Equal(t, domain.ERESOLUTION, domain.ErrorCode(err))
	})
}

func TestMapCustomer_MergesWithoutDisturbingOtherAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.UpsertBillingMapping(ctx, testOrg, "S1", "org-a", "cus_A"))

	f.accounts.providers["org-b"] = billing.NewMockProvider()
	err := f.billing.MapCustomer(ctx, MapCustomerRequest{
		OrganizationID: testOrg, StudentID: "S1", CustomerID: "cus_B", AccountID: "org-b",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"org-a": "cus_A", "org-b": "cus_B"}, f.student(t, "S1").BillingMap)

	ref, err := f.mem.LookupReverse(ctx, "org-b", "cus_B")
	require.NoError(t, err)
	assert.Equal(t, "S1", ref.StudentID)

	// Idempotent
	require.NoError(t, f.billing.MapCustomer(ctx, MapCustomerRequest{
		OrganizationID: testOrg, StudentID: "S1", CustomerID: "cus_B", AccountID: "org-b",
	}))
	assert.Equal(t, map[string]string{"org-a": "cus_A", "org-b": "cus_B"}, f.student(t, "S1").BillingMap)
}

func TestMapCustomer_Verify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddCustomer(&billing.Customer{ID: "cus_real", Email: "p@x.com"})

	t.Run("existing customer", func(t *testing.T) {
		err := f.billing.MapCustomer(ctx, MapCustomerRequest{
			OrganizationID: testOrg, StudentID: "S1", CustomerID: "cus_real", AccountID: testAccount, Verify: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "cus_real", f.student(t, "S1").BillingMap[testAccount])
	})

	t.Run("missing customer is not written", func(t *testing.T) {
		err := f.billing.MapCustomer(ctx, MapCustomerRequest{
			OrganizationID: testOrg, StudentID: "S1", CustomerID: "cus_ghost", AccountID: testAccount, Verify: true,
		})
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		assert.Equal(t, "cus_real", f.student(t, "S1").BillingMap[testAccount])
	})
}

func TestMapCustomer_UnknownStudent(t *testing.T) {
	f := newFixture(t)

	err := f.billing.MapCustomer(context.Background(), MapCustomerRequest{
		OrganizationID: testOrg, StudentID: "nobody", CustomerID: "cus_A", AccountID: testAccount,
	})

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestListSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.billing.ListSubscriptions(ctx, testOrg, "S1", testAccount)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	require.NoError(t, f.mem.UpsertBillingMapping(ctx, testOrg, "S1", testAccount, "cus_A"))
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f.provider.AddSubscription(&billing.Subscription{ID: "sub_1", CustomerID: "cus_A", Status: "active", CurrentPeriodEnd: end})

	subs, err := f.billing.ListSubscriptions(ctx, testOrg, "S1", testAccount)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionSummary{ID: "sub_1", Status: "active", CurrentPeriodEnd: end}, subs[0])
}
