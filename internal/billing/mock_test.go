package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_CreateCustomerIdempotency(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	params := CreateCustomerParams{Email: "p@x.com", Name: "Ada", IdempotencyKey: "k1"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.CreateCustomer(ctx, params)
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, m.CustomerCount())
	assert.Equal(t, 8, m.CallCount("CreateCustomer"))
}

func TestMockProvider_InvoiceTotals(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	inv, err := m.CreateDraftInvoice(ctx, CreateInvoiceParams{CustomerID: "cus_1", Currency: "usd"})
	require.NoError(t, err)

	item, err := m.CreateInvoiceItem(ctx, CreateInvoiceItemParams{InvoiceID: inv.ID, AmountMinorUnits: 1999})
	require.NoError(t, err)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1999), got.Total)

	require.NoError(t, m.DeleteInvoiceItem(ctx, item.ID))
	got, err = m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Total)
}

func TestMockProvider_FinalizeIdempotency(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	inv, err := m.CreateDraftInvoice(ctx, CreateInvoiceParams{CustomerID: "cus_1"})
	require.NoError(t, err)

	first, err := m.FinalizeInvoice(ctx, FinalizeInvoiceParams{InvoiceID: inv.ID, IdempotencyKey: "f1"})
	require.NoError(t, err)
	assert.Equal(t, "open", first.Status)

	again, err := m.FinalizeInvoice(ctx, FinalizeInvoiceParams{InvoiceID: inv.ID, IdempotencyKey: "f1"})
	require.NoError(t, err)
	assert.Equal(t, first.HostedInvoiceURL, again.HostedInvoiceURL)

	_, err = m.FinalizeInvoice(ctx, FinalizeInvoiceParams{InvoiceID: inv.ID, IdempotencyKey: "f2"})
	assert.Error(t, err, "a new key against a finalized invoice must fail")
}

func TestMockProvider_GetCustomerNotFound(t *testing.T) {
	m := NewMockProvider()
	_, err := m.GetCustomer(context.Background(), "cus_nope")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}
