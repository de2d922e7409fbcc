package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to create a new mock store
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return New(db), mock, db
}

func TestGetStudent(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success with billing map", func(t *testing.T) {
		mock.ExpectQuery(`SELECT display_name, parent_id\s+FROM students`).
			WithArgs("org1", "S1").
			WillReturnRows(sqlmock.NewRows([]string{"display_name", "parent_id"}).AddRow("Ada Lovelace", "P1"))
		mock.ExpectQuery(`SELECT account_id, customer_id\s+FROM student_billing_accounts`).
			WithArgs("org1", "S1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "customer_id"}).
				AddRow("org-a", "cus_A").
				AddRow("org-b", "cus_B"))

		student, err := s.GetStudent(ctx, "org1", "S1")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", student.DisplayName)
		assert.Equal(t, "P1", student.ParentID)
		assert.Equal(t, map[string]string{"org-a": "cus_A", "org-b": "cus_B"}, student.BillingMap)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT display_name, parent_id\s+FROM students`).
			WithArgs("org1", "missing").
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetStudent(ctx, "org1", "missing")
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error maps to internal", func(t *testing.T) {
		mock.ExpectQuery(`SELECT display_name, parent_id\s+FROM students`).
			WithArgs("org1", "S1").
			WillReturnError(fmt.Errorf("connection refused"))

		_, err := s.GetStudent(ctx, "org1", "S1")
		require.Error(t, err)
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
		assert.Contains(t, err.Error(), "connection refused")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetParent(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT display_name, email\s+FROM parents`).
		WithArgs("org1", "P1").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "email"}).AddRow("Anne", "p@x.com"))

	parent, err := s.GetParent(context.Background(), "org1", "P1")
	require.NoError(t, err)
	assert.Equal(t, "p@x.com", parent.Email)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBillingMapping(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("upserts a single account row", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO student_billing_accounts .* ON CONFLICT \(organization_id, student_id, account_id\)\s+DO UPDATE SET customer_id = EXCLUDED.customer_id`).
			WithArgs("org1", "S1", "org-b", "cus_B").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.UpsertBillingMapping(ctx, "org1", "S1", "org-b", "cus_B"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown student maps to not found", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO student_billing_accounts`).
			WithArgs("org1", "nope", "org-a", "cus_A").
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

		err := s.UpsertBillingMapping(ctx, "org1", "nope", "org-a", "cus_A")
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSetBillingMappingIfAbsent(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("first writer creates", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO student_billing_accounts .* DO NOTHING\s+RETURNING customer_id`).
			WithArgs("org1", "S1", "org-a", "cus_new").
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow("cus_new"))

		stored, created, err := s.SetBillingMappingIfAbsent(ctx, "org1", "S1", "org-a", "cus_new")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "cus_new", stored)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing mapping wins", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO student_billing_accounts .* DO NOTHING`).
			WithArgs("org1", "S1", "org-a", "cus_late").
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
		mock.ExpectQuery(`SELECT customer_id\s+FROM student_billing_accounts`).
			WithArgs("org1", "S1", "org-a").
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow("cus_first"))

		stored, created, err := s.SetBillingMappingIfAbsent(ctx, "org1", "S1", "org-a", "cus_late")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "cus_first", stored)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReverseIndex(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO billing_customer_index`).
		WithArgs("org-a", "cus_A", "org1", "S1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.IndexReverse(ctx, "org-a", "cus_A", domain.StudentRef{OrganizationID: "org1", StudentID: "S1"}))

	mock.ExpectQuery(`SELECT organization_id, student_id\s+FROM billing_customer_index`).
		WithArgs("org-a", "cus_A").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "student_id"}).AddRow("org1", "S1"))
	ref, err := s.LookupReverse(ctx, "org-a", "cus_A")
	require.NoError(t, err)
	assert.Equal(t, domain.StudentRef{OrganizationID: "org1", StudentID: "S1"}, *ref)

	mock.ExpectQuery(`SELECT organization_id, student_id\s+FROM billing_customer_index`).
		WithArgs("org-a", "cus_X").
		WillReturnError(sql.ErrNoRows)
	_, err = s.LookupReverse(ctx, "org-a", "cus_X")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceStatus(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	entry := &domain.InvoiceHistoryEntry{
		InvoiceID: "in_1", OrganizationID: "org1", StudentID: "S1", AccountID: "org-a",
		CustomerID: "cus_A", Status: "paid", StatusUpdatedAt: at,
	}

	t.Run("newer event applies", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO invoice_history .* WHERE invoice_history.status_updated_at <= EXCLUDED.status_updated_at`).
			WithArgs("in_1", "org1", "S1", "org-a", "cus_A", int64(0), "", "", "paid", "", at, at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := s.UpdateInvoiceStatus(ctx, entry)
		require.NoError(t, err)
		assert.True(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale event is ignored", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO invoice_history`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := s.UpdateInvoiceStatus(ctx, entry)
		require.NoError(t, err)
		assert.False(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListInvoices(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	now := time.Now().UTC()

	cols := []string{
		"invoice_id", "organization_id", "student_id", "account_id", "customer_id",
		"amount_minor_units", "currency", "description", "status", "hosted_invoice_url",
		"created_at", "status_updated_at",
	}
	mock.ExpectQuery(`FROM invoice_history\s+WHERE organization_id = \$1 AND student_id = \$2\s+ORDER BY created_at DESC`).
		WithArgs("org1", "S1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("in_2", "org1", "S1", "org-a", "cus_A", int64(2500), "usd", "May tuition", "open", "https://x/2", now, now).
			AddRow("in_1", "org1", "S1", "org-a", "cus_A", int64(2500), "usd", "April tuition", "paid", "https://x/1", now, now))

	list, err := s.ListInvoices(context.Background(), "org1", "S1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "in_2", list[0].InvoiceID)
	assert.Equal(t, int64(2500), list[1].AmountMinorUnits)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrapGate(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO admin_bootstrap`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	won, err := s.ClaimAdminBootstrap(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, won)

	mock.ExpectExec(`INSERT INTO admin_bootstrap`).WithArgs("u2").WillReturnResult(sqlmock.NewResult(0, 0))
	won, err = s.ClaimAdminBootstrap(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, won)

	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	claimed, err := s.AdminBootstrapClaimed(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	mock.ExpectExec(`DELETE FROM admin_bootstrap WHERE uid = \$1`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.ReleaseAdminBootstrap(ctx, "u1"))

	require.NoError(t, mock.ExpectationsWereMet())
}
