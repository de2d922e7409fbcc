// Package store defines the persistence contracts for student records, billing
// mappings, invoice history and the admin bootstrap gate.
//
// Backends live in their own packages (postgres, firebase); Memory is the
// in-process implementation used in development and tests.
package store

import (
	"context"

	"github.com/dukerupert/tuition/internal/domain"
)

// Students reads organization-owned student and parent records.
type Students interface {
	// GetStudent returns the student with its full billing map.
	// Returns a domain NotFound error when absent.
	GetStudent(ctx context.Context, organizationID, studentID string) (*domain.Student, error)

	// GetParent returns the parent record used as the billing contact.
	// Returns a domain NotFound error when absent.
	GetParent(ctx context.Context, organizationID, parentID string) (*domain.Parent, error)
}

// BillingMappings records which provider customer represents a student in each
// billing account, plus the reverse lookup used by billing events.
type BillingMappings interface {
	// UpsertBillingMapping sets billingMap[accountID] = customerID without touching
	// other accounts' entries. Returns NotFound if the student does not exist.
	UpsertBillingMapping(ctx context.Context, organizationID, studentID, accountID, customerID string) error

	// SetBillingMappingIfAbsent writes the mapping only when none exists for the
	// account. It returns the id held after the write and whether this call wrote it.
	SetBillingMappingIfAbsent(ctx context.Context, organizationID, studentID, accountID, customerID string) (stored string, created bool, err error)

	// IndexReverse records that customerID in accountID belongs to ref.
	IndexReverse(ctx context.Context, accountID, customerID string, ref domain.StudentRef) error

	// LookupReverse finds the student owning customerID in accountID.
	// Returns a domain NotFound error when no entry exists.
	LookupReverse(ctx context.Context, accountID, customerID string) (*domain.StudentRef, error)
}

// InvoiceHistory is the append-only local record of finalized invoices.
type InvoiceHistory interface {
	// RecordInvoice appends an entry keyed by invoice id. Recording the same
	// invoice twice is a no-op.
	RecordInvoice(ctx context.Context, entry *domain.InvoiceHistoryEntry) error

	// UpdateInvoiceStatus merges a status change keyed by invoice id, creating the
	// entry if it does not exist. An update whose StatusUpdatedAt is older than the
	// stored one is ignored. Returns whether the update was applied.
	UpdateInvoiceStatus(ctx context.Context, entry *domain.InvoiceHistoryEntry) (applied bool, err error)

	// ListInvoices returns a student's invoices, newest first.
	ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error)
}

// BootstrapGate is the single-writer gate guarding first-admin promotion.
type BootstrapGate interface {
	// ClaimAdminBootstrap atomically claims the gate for uid. Exactly one caller
	// ever wins; later callers get false.
	ClaimAdminBootstrap(ctx context.Context, uid string) (won bool, err error)

	// ReleaseAdminBootstrap clears the gate if uid holds it.
	ReleaseAdminBootstrap(ctx context.Context, uid string) error

	// AdminBootstrapClaimed reports whether the gate has been claimed.
	AdminBootstrapClaimed(ctx context.Context) (bool, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	Students
	BillingMappings
	InvoiceHistory
	BootstrapGate

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
