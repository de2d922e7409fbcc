//go:build integration
// +build integration

package billing

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadTestConfig loads Stripe test credentials from .env.test
func loadTestConfig(t *testing.T) StripeConfig {
	t.Helper()

	// Load .env.test from project root
	if err := godotenv.Load("../../.env.test"); err != nil {
		t.Skipf("Skipping integration test: .env.test not found (%v)", err)
	}

	apiKey := os.Getenv("STRIPE_TEST_API_SECRET_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("STRIPE_SECRET_KEY")
	}
	if apiKey == "" || apiKey == "sk_test_your_key_here" {
		t.Skip("Skipping integration test: STRIPE_TEST_API_SECRET_KEY or STRIPE_SECRET_KEY not set in .env.test")
	}

	config := StripeConfig{
		APIKey:         apiKey,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}

	// Verify it's a test key, not a live key
	if !config.IsTestMode() {
		t.Fatal("DANGER: Live Stripe key detected! Integration tests must use test mode keys (sk_test_...)")
	}

	return config
}

// TestStripeIntegration_InvoiceLifecycle creates a customer, a draft, a line item,
// verifies the total and finalizes, against the real Stripe test API.
func TestStripeIntegration_InvoiceLifecycle(t *testing.T) {
	config := loadTestConfig(t)
	provider, err := NewStripeProvider(config)
	require.NoError(t, err, "Failed to create Stripe provider")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	runID := uuid.New().String()[:8]
	email := "integration+" + runID + "@example.com"

	customer, err := provider.CreateCustomer(ctx, CreateCustomerParams{
		Email:          email,
		Name:           "Integration Student " + runID,
		Metadata:       map[string]string{"student_id": "it-" + runID, "organization_id": "it-org"},
		IdempotencyKey: "it-customer-" + runID,
	})
	require.NoError(t, err)

	// Same key must return the same customer
	again, err := provider.CreateCustomer(ctx, CreateCustomerParams{
		Email:          email,
		Name:           "Integration Student " + runID,
		Metadata:       map[string]string{"student_id": "it-" + runID, "organization_id": "it-org"},
		IdempotencyKey: "it-customer-" + runID,
	})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, again.ID)

	draft, err := provider.CreateDraftInvoice(ctx, CreateInvoiceParams{
		CustomerID:   customer.ID,
		Currency:     "usd",
		DaysUntilDue: 7,
		Description:  "Integration test tuition",
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", draft.Status)

	_, err = provider.CreateInvoiceItem(ctx, CreateInvoiceItemParams{
		CustomerID:       customer.ID,
		InvoiceID:        draft.ID,
		AmountMinorUnits: 2500,
		Currency:         "usd",
		Description:      "Integration test tuition",
	})
	require.NoError(t, err)

	refreshed, err := provider.GetInvoice(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), refreshed.Total)

	final, err := provider.FinalizeInvoice(ctx, FinalizeInvoiceParams{
		InvoiceID:      draft.ID,
		IdempotencyKey: "it-finalize-" + runID,
	})
	require.NoError(t, err)
	assert.Equal(t, "open", final.Status)
	assert.NotEmpty(t, final.HostedInvoiceURL)

	found, err := provider.SearchCustomersByEmail(ctx, email, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, found)
}

// TestStripeIntegration_DraftCleanup verifies drafts and items can be deleted.
func TestStripeIntegration_DraftCleanup(t *testing.T) {
	config := loadTestConfig(t)
	provider, err := NewStripeProvider(config)
	require.NoError(t, err)

	ctx := context.Background()
	runID := uuid.New().String()[:8]

	customer, err := provider.CreateCustomer(ctx, CreateCustomerParams{Email: "cleanup+" + runID + "@example.com", Name: "Cleanup " + runID})
	require.NoError(t, err)

	draft, err := provider.CreateDraftInvoice(ctx, CreateInvoiceParams{CustomerID: customer.ID, Currency: "usd", DaysUntilDue: 7})
	require.NoError(t, err)

	item, err := provider.CreateInvoiceItem(ctx, CreateInvoiceItemParams{
		CustomerID: customer.ID, InvoiceID: draft.ID, AmountMinorUnits: 100, Currency: "usd", Description: "cleanup",
	})
	require.NoError(t, err)

	require.NoError(t, provider.DeleteInvoiceItem(ctx, item.ID))
	require.NoError(t, provider.DeleteInvoice(ctx, draft.ID))

	_, err = provider.GetInvoice(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}
