// Package postgres implements store.Store on PostgreSQL through database/sql
// and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// Store implements store.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL with the pgx driver and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// DB returns the underlying handle (migrations).
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) GetStudent(ctx context.Context, organizationID, studentID string) (*domain.Student, error) {
	const op = "student.get"

	student := &domain.Student{OrganizationID: organizationID, StudentID: studentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, parent_id
		FROM students
		WHERE organization_id = $1 AND student_id = $2`,
		organizationID, studentID,
	).Scan(&student.DisplayName, &student.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "student", organizationID+"/"+studentID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load student")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, customer_id
		FROM student_billing_accounts
		WHERE organization_id = $1 AND student_id = $2`,
		organizationID, studentID,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load billing map")
	}
	defer rows.Close()

	for rows.Next() {
		var account, customer string
		if err := rows.Scan(&account, &customer); err != nil {
			return nil, domain.Internal(err, op, "failed to scan billing map")
		}
		if student.BillingMap == nil {
			student.BillingMap = make(map[string]string)
		}
		student.BillingMap[account] = customer
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read billing map")
	}

	return student, nil
}

func (s *Store) GetParent(ctx context.Context, organizationID, parentID string) (*domain.Parent, error) {
	const op = "parent.get"

	parent := &domain.Parent{OrganizationID: organizationID, ParentID: parentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, email
		FROM parents
		WHERE organization_id = $1 AND parent_id = $2`,
		organizationID, parentID,
	).Scan(&parent.DisplayName, &parent.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "parent", organizationID+"/"+parentID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load parent")
	}
	return parent, nil
}

// =============================================================================
// BILLING MAPPINGS
// =============================================================================

func (s *Store) UpsertBillingMapping(ctx context.Context, organizationID, studentID, accountID, customerID string) error {
	const op = "mapping.upsert"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO student_billing_accounts (organization_id, student_id, account_id, customer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, student_id, account_id)
		DO UPDATE SET customer_id = EXCLUDED.customer_id, updated_at = now()`,
		organizationID, studentID, accountID, customerID,
	)
	if isForeignKeyViolation(err) {
		return domain.NotFound(op, "student", organizationID+"/"+studentID)
	}
	if err != nil {
		return domain.Internal(err, op, "failed to save billing mapping")
	}
	return nil
}

func (s *Store) SetBillingMappingIfAbsent(ctx context.Context, organizationID, studentID, accountID, customerID string) (string, bool, error) {
	const op = "mapping.set_if_absent"

	var stored string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO student_billing_accounts (organization_id, student_id, account_id, customer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, student_id, account_id) DO NOTHING
		RETURNING customer_id`,
		organizationID, studentID, accountID, customerID,
	).Scan(&stored)
	switch {
	case err == nil:
		return stored, true, nil
	case isForeignKeyViolation(err):
		return "", false, domain.NotFound(op, "student", organizationID+"/"+studentID)
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, domain.Internal(err, op, "failed to save billing mapping")
	}

	// Conflict: another writer got there first
	err = s.db.QueryRowContext(ctx, `
		SELECT customer_id
		FROM student_billing_accounts
		WHERE organization_id = $1 AND student_id = $2 AND account_id = $3`,
		organizationID, studentID, accountID,
	).Scan(&stored)
	if err != nil {
		return "", false, domain.Internal(err, op, "failed to read existing billing mapping")
	}
	return stored, false, nil
}

func (s *Store) IndexReverse(ctx context.Context, accountID, customerID string, ref domain.StudentRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_customer_index (account_id, customer_id, organization_id, student_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, customer_id)
		DO UPDATE SET organization_id = EXCLUDED.organization_id, student_id = EXCLUDED.student_id, updated_at = now()`,
		accountID, customerID, ref.OrganizationID, ref.StudentID,
	)
	if err != nil {
		return domain.Internal(err, "mapping.index_reverse", "failed to save reverse index")
	}
	return nil
}

func (s *Store) LookupReverse(ctx context.Context, accountID, customerID string) (*domain.StudentRef, error) {
	const op = "mapping.lookup_reverse"

	var ref domain.StudentRef
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, student_id
		FROM billing_customer_index
		WHERE account_id = $1 AND customer_id = $2`,
		accountID, customerID,
	).Scan(&ref.OrganizationID, &ref.StudentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "customer", accountID+"/"+customerID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read reverse index")
	}
	return &ref, nil
}

// =============================================================================
// INVOICE HISTORY
// =============================================================================

func (s *Store) RecordInvoice(ctx context.Context, e *domain.InvoiceHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_history (
			invoice_id, organization_id, student_id, account_id, customer_id,
			amount_minor_units, currency, description, status, hosted_invoice_url,
			created_at, status_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (invoice_id) DO NOTHING`,
		e.InvoiceID, e.OrganizationID, e.StudentID, e.AccountID, e.CustomerID,
		e.AmountMinorUnits, e.Currency, e.Description, e.Status, e.HostedInvoiceURL,
		e.CreatedAt, e.StatusUpdatedAt,
	)
	if err != nil {
		return domain.Internal(err, "history.record", "failed to save invoice history")
	}
	return nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, e *domain.InvoiceHistoryEntry) (bool, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.StatusUpdatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_history (
			invoice_id, organization_id, student_id, account_id, customer_id,
			amount_minor_units, currency, description, status, hosted_invoice_url,
			created_at, status_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (invoice_id) DO UPDATE SET
			status = EXCLUDED.status,
			status_updated_at = EXCLUDED.status_updated_at,
			hosted_invoice_url = COALESCE(NULLIF(EXCLUDED.hosted_invoice_url, ''), invoice_history.hosted_invoice_url)
		WHERE invoice_history.status_updated_at <= EXCLUDED.status_updated_at`,
		e.InvoiceID, e.OrganizationID, e.StudentID, e.AccountID, e.CustomerID,
		e.AmountMinorUnits, e.Currency, e.Description, e.Status, e.HostedInvoiceURL,
		createdAt, e.StatusUpdatedAt,
	)
	if err != nil {
		return false, domain.Internal(err, "history.update_status", "failed to update invoice status")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Internal(err, "history.update_status", "failed to read update result")
	}
	return n > 0, nil
}

func (s *Store) ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error) {
	const op = "history.list"

	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, organization_id, student_id, account_id, customer_id,
		       amount_minor_units, currency, description, status, hosted_invoice_url,
		       created_at, status_updated_at
		FROM invoice_history
		WHERE organization_id = $1 AND student_id = $2
		ORDER BY created_at DESC, invoice_id DESC`,
		organizationID, studentID,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list invoices")
	}
	defer rows.Close()

	var out []*domain.InvoiceHistoryEntry
	for rows.Next() {
		e := &domain.InvoiceHistoryEntry{}
		if err := rows.Scan(
			&e.InvoiceID, &e.OrganizationID, &e.StudentID, &e.AccountID, &e.CustomerID,
			&e.AmountMinorUnits, &e.Currency, &e.Description, &e.Status, &e.HostedInvoiceURL,
			&e.CreatedAt, &e.StatusUpdatedAt,
		); err != nil {
			return nil, domain.Internal(err, op, "failed to scan invoice")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read invoices")
	}
	return out, nil
}

// =============================================================================
// ADMIN BOOTSTRAP GATE
// =============================================================================

func (s *Store) ClaimAdminBootstrap(ctx context.Context, uid string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_bootstrap (id, uid)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO NOTHING`,
		uid,
	)
	if err != nil {
		return false, domain.Internal(err, "bootstrap.claim", "failed to claim bootstrap gate")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Internal(err, "bootstrap.claim", "failed to read claim result")
	}
	return n == 1, nil
}

func (s *Store) ReleaseAdminBootstrap(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_bootstrap WHERE uid = $1`, uid); err != nil {
		return domain.Internal(err, "bootstrap.release", "failed to release bootstrap gate")
	}
	return nil
}

func (s *Store) AdminBootstrapClaimed(ctx context.Context) (bool, error) {
	var claimed bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM admin_bootstrap)`).Scan(&claimed); err != nil {
		return false, domain.Internal(err, "bootstrap.status", "failed to read bootstrap gate")
	}
	return claimed, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
