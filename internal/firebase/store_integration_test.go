//go:build integration

package firebase

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the Firestore emulator:
//
//	FIRESTORE_EMULATOR_HOST=localhost:8080 go test -tags=integration ./internal/firebase/...
func setupEmulatorStore(t *testing.T) (*Store, string) {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	app, err := NewApp(ctx, Config{ProjectID: "tuition-test"})
	require.NoError(t, err)

	s, err := NewStore(ctx, app)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	org := fmt.Sprintf("org-%d", time.Now().UnixNano())
	_, err = s.studentDoc(org, "S1").Set(ctx, map[string]interface{}{"displayName": "Ada"})
	require.NoError(t, err)

	return s, org
}

func TestStore_BillingMapMerge(t *testing.T) {
	s, org := setupEmulatorStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBillingMapping(ctx, org, "S1", "org-a", "cus_A"))
	require.NoError(t, s.UpsertBillingMapping(ctx, org, "S1", "org-b", "cus_B"))

	student, err := s.GetStudent(ctx, org, "S1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"org-a": "cus_A", "org-b": "cus_B"}, student.BillingMap)

	err = s.UpsertBillingMapping(ctx, org, "missing", "org-a", "cus_A")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestStore_SetBillingMappingIfAbsent_Concurrent(t *testing.T) {
	s, org := setupEmulatorStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		stored  = map[string]bool{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, ok, err := s.SetBillingMappingIfAbsent(ctx, org, "S1", "org-a", fmt.Sprintf("cus_%d", i))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			stored[id] = true
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, stored, 1)
}

func TestStore_InvoiceStatusMerge(t *testing.T) {
	s, org := setupEmulatorStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	entry := &domain.InvoiceHistoryEntry{
		InvoiceID: "in_1", OrganizationID: org, StudentID: "S1", AccountID: "org-a",
		Status: domain.InvoiceStatusOpen, CreatedAt: t0, StatusUpdatedAt: t0,
	}
	require.NoError(t, s.RecordInvoice(ctx, entry))

	paid := *entry
	paid.Status = domain.InvoiceStatusPaid
	paid.StatusUpdatedAt = t0.Add(time.Minute)
	applied, err := s.UpdateInvoiceStatus(ctx, &paid)
	require.NoError(t, err)
	assert.True(t, applied)

	stale := *entry
	stale.Status = domain.InvoiceStatusOpen
	applied, err = s.UpdateInvoiceStatus(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, applied)

	list, err := s.ListInvoices(ctx, org, "S1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.InvoiceStatusPaid, list[0].Status)
}

func TestStore_BootstrapGate(t *testing.T) {
	s, _ := setupEmulatorStore(t)
	ctx := context.Background()

	// The gate document is global; clear it for this run.
	_, _ = s.bootstrapDoc().Delete(ctx)

	won, err := s.ClaimAdminBootstrap(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ClaimAdminBootstrap(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, s.ReleaseAdminBootstrap(ctx, "u2"))
	claimed, err := s.AdminBootstrapClaimed(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, s.ReleaseAdminBootstrap(ctx, "u1"))
	claimed, err = s.AdminBootstrapClaimed(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)
}
