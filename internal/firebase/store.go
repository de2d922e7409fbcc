package firebase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/store"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection layout:
//
//	organizations/{org}/students/{student}               Student
//	organizations/{org}/students/{student}/invoices/{id} InvoiceHistoryEntry
//	organizations/{org}/parents/{parent}                 Parent
//	billingAccounts/{account}/customers/{customer}       StudentRef
//	system/adminBootstrap                                bootstrapDoc
const (
	colOrganizations   = "organizations"
	colStudents        = "students"
	colParents         = "parents"
	colInvoices        = "invoices"
	colBillingAccounts = "billingAccounts"
	colCustomers       = "customers"
	colSystem          = "system"
	docAdminBootstrap  = "adminBootstrap"
	fieldBillingMap    = "billingMap"
)

type bootstrapDoc struct {
	UID       string    `firestore:"uid"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// Store implements store.Store on Cloud Firestore.
type Store struct {
	client *firestore.Client
}

var _ store.Store = (*Store)(nil)

// NewStore opens a Firestore client from the app.
func NewStore(ctx context.Context, app *firebase.App) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firestore: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) studentDoc(organizationID, studentID string) *firestore.DocumentRef {
	return s.client.Collection(colOrganizations).Doc(organizationID).Collection(colStudents).Doc(studentID)
}

func (s *Store) parentDoc(organizationID, parentID string) *firestore.DocumentRef {
	return s.client.Collection(colOrganizations).Doc(organizationID).Collection(colParents).Doc(parentID)
}

func (s *Store) invoiceDoc(organizationID, studentID, invoiceID string) *firestore.DocumentRef {
	return s.studentDoc(organizationID, studentID).Collection(colInvoices).Doc(invoiceID)
}

func (s *Store) reverseDoc(accountID, customerID string) *firestore.DocumentRef {
	return s.client.Collection(colBillingAccounts).Doc(accountID).Collection(colCustomers).Doc(customerID)
}

func (s *Store) bootstrapDoc() *firestore.DocumentRef {
	return s.client.Collection(colSystem).Doc(docAdminBootstrap)
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) GetStudent(ctx context.Context, organizationID, studentID string) (*domain.Student, error) {
	const op = "student.get"

	snap, err := s.studentDoc(organizationID, studentID).Get(ctx)
	if isNotFound(err) {
		return nil, domain.NotFound(op, "student", organizationID+"/"+studentID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load student")
	}

	var student domain.Student
	if err := snap.DataTo(&student); err != nil {
		return nil, domain.Internal(err, op, "failed to decode student")
	}
	student.OrganizationID = organizationID
	student.StudentID = studentID
	return &student, nil
}

func (s *Store) GetParent(ctx context.Context, organizationID, parentID string) (*domain.Parent, error) {
	const op = "parent.get"

	snap, err := s.parentDoc(organizationID, parentID).Get(ctx)
	if isNotFound(err) {
		return nil, domain.NotFound(op, "parent", organizationID+"/"+parentID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load parent")
	}

	var parent domain.Parent
	if err := snap.DataTo(&parent); err != nil {
		return nil, domain.Internal(err, op, "failed to decode parent")
	}
	parent.OrganizationID = organizationID
	parent.ParentID = parentID
	return &parent, nil
}

// =============================================================================
// BILLING MAPPINGS
// =============================================================================

// UpsertBillingMapping updates the single billingMap.<account> field path, so
// concurrent writers for other accounts are never clobbered. Update fails with
// NotFound on a missing document instead of creating one.
func (s *Store) UpsertBillingMapping(ctx context.Context, organizationID, studentID, accountID, customerID string) error {
	const op = "mapping.upsert"

	_, err := s.studentDoc(organizationID, studentID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{fieldBillingMap, accountID}, Value: customerID},
	})
	if isNotFound(err) {
		return domain.NotFound(op, "student", organizationID+"/"+studentID)
	}
	if err != nil {
		return domain.Internal(err, op, "failed to save billing mapping")
	}
	return nil
}

func (s *Store) SetBillingMappingIfAbsent(ctx context.Context, organizationID, studentID, accountID, customerID string) (string, bool, error) {
	const op = "mapping.set_if_absent"

	ref := s.studentDoc(organizationID, studentID)
	var (
		stored  string
		created bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reset per attempt; the transaction function may be retried
		stored, created = "", false

		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var student domain.Student
		if err := snap.DataTo(&student); err != nil {
			return err
		}
		if existing, ok := student.CustomerID(accountID); ok {
			stored = existing
			return nil
		}

		stored, created = customerID, true
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{fieldBillingMap, accountID}, Value: customerID},
		})
	})
	if isNotFound(err) {
		return "", false, domain.NotFound(op, "student", organizationID+"/"+studentID)
	}
	if err != nil {
		return "", false, domain.Internal(err, op, "failed to save billing mapping")
	}
	return stored, created, nil
}

func (s *Store) IndexReverse(ctx context.Context, accountID, customerID string, ref domain.StudentRef) error {
	if _, err := s.reverseDoc(accountID, customerID).Set(ctx, ref); err != nil {
		return domain.Internal(err, "mapping.index_reverse", "failed to save reverse index")
	}
	return nil
}

func (s *Store) LookupReverse(ctx context.Context, accountID, customerID string) (*domain.StudentRef, error) {
	const op = "mapping.lookup_reverse"

	snap, err := s.reverseDoc(accountID, customerID).Get(ctx)
	if isNotFound(err) {
		return nil, domain.NotFound(op, "customer", accountID+"/"+customerID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read reverse index")
	}

	var ref domain.StudentRef
	if err := snap.DataTo(&ref); err != nil {
		return nil, domain.Internal(err, op, "failed to decode reverse index")
	}
	return &ref, nil
}

// =============================================================================
// INVOICE HISTORY
// =============================================================================

func (s *Store) RecordInvoice(ctx context.Context, e *domain.InvoiceHistoryEntry) error {
	_, err := s.invoiceDoc(e.OrganizationID, e.StudentID, e.InvoiceID).Create(ctx, e)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return domain.Internal(err, "history.record", "failed to save invoice history")
	}
	return nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, e *domain.InvoiceHistoryEntry) (bool, error) {
	const op = "history.update_status"

	ref := s.invoiceDoc(e.OrganizationID, e.StudentID, e.InvoiceID)
	var applied bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false

		snap, err := tx.Get(ref)
		if isNotFound(err) {
			entry := *e
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = entry.StatusUpdatedAt
			}
			applied = true
			return tx.Create(ref, &entry)
		}
		if err != nil {
			return err
		}

		var current domain.InvoiceHistoryEntry
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.StatusUpdatedAt.After(e.StatusUpdatedAt) {
			return nil
		}

		updates := []firestore.Update{
			{Path: "status", Value: e.Status},
			{Path: "statusUpdatedAt", Value: e.StatusUpdatedAt},
		}
		if e.HostedInvoiceURL != "" {
			updates = append(updates, firestore.Update{Path: "hostedInvoiceUrl", Value: e.HostedInvoiceURL})
		}
		applied = true
		return tx.Update(ref, updates)
	})
	if err != nil {
		return false, domain.Internal(err, op, "failed to update invoice status")
	}
	return applied, nil
}

func (s *Store) ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error) {
	const op = "history.list"

	iter := s.studentDoc(organizationID, studentID).Collection(colInvoices).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var out []*domain.InvoiceHistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, domain.Internal(err, op, "failed to list invoices")
		}
		e := &domain.InvoiceHistoryEntry{}
		if err := snap.DataTo(e); err != nil {
			return nil, domain.Internal(err, op, "failed to decode invoice")
		}
		e.InvoiceID = snap.Ref.ID
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// ADMIN BOOTSTRAP GATE
// =============================================================================

// ClaimAdminBootstrap relies on Create failing with AlreadyExists, which makes
// the first writer the only winner.
func (s *Store) ClaimAdminBootstrap(ctx context.Context, uid string) (bool, error) {
	_, err := s.bootstrapDoc().Create(ctx, bootstrapDoc{UID: uid, ClaimedAt: time.Now().UTC()})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, domain.Internal(err, "bootstrap.claim", "failed to claim bootstrap gate")
	}
	return true, nil
}

func (s *Store) ReleaseAdminBootstrap(ctx context.Context, uid string) error {
	ref := s.bootstrapDoc()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		var doc bootstrapDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.UID != uid {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return domain.Internal(err, "bootstrap.release", "failed to release bootstrap gate")
	}
	return nil
}

func (s *Store) AdminBootstrapClaimed(ctx context.Context) (bool, error) {
	_, err := s.bootstrapDoc().Get(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, domain.Internal(err, "bootstrap.status", "failed to read bootstrap gate")
	}
	return true, nil
}

// Ping reads the bootstrap document; a missing document still proves the
// backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.bootstrapDoc().Get(ctx)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}
