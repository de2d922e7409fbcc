package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/dukerupert/tuition/internal/lock"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCustomerSearchLimit = 10
	defaultResolveTimeout      = 30 * time.Second
)

// ReverseIndexRetrier takes over reverse-index writes that failed inline.
type ReverseIndexRetrier interface {
	EnqueueReverseIndex(accountID, customerID string, ref domain.StudentRef) bool
}

// IdentityResolverConfig tunes the resolver. Zero values take defaults.
type IdentityResolverConfig struct {
	SearchLimit int
	Timeout     time.Duration
}

// IdentityResolver finds or creates the provider customer that represents a
// student in one billing account, and records the mapping.
//
// At most one provider customer is ever mapped per (student, account):
// concurrent calls in this process share one resolution, calls across
// processes serialize on a lock, and the store write is conditional so a
// late writer adopts the id already stored. Customer creation carries an
// idempotency key derived from (organization, student, account), so a retry
// after a failed store write gets the same customer back from the provider.
type IdentityResolver struct {
	students  store.Students
	mappings  store.BillingMappings
	locker    lock.Locker
	retrier   ReverseIndexRetrier
	publisher events.Publisher
	cfg       IdentityResolverConfig
	group     singleflight.Group
}

// NewIdentityResolver creates a resolver. locker, retrier and publisher may be
// nil.
func NewIdentityResolver(
	students store.Students,
	mappings store.BillingMappings,
	locker lock.Locker,
	retrier ReverseIndexRetrier,
	publisher events.Publisher,
	cfg IdentityResolverConfig,
) *IdentityResolver {
	if locker == nil {
		locker = lock.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultCustomerSearchLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultResolveTimeout
	}
	return &IdentityResolver{
		students:  students,
		mappings:  mappings,
		locker:    locker,
		retrier:   retrier,
		publisher: publisher,
		cfg:       cfg,
	}
}

// ResolveCustomer returns the provider customer id for student in accountID.
// client must be bound to accountID.
func (r *IdentityResolver) ResolveCustomer(
	ctx context.Context,
	client billing.Provider,
	student *domain.Student,
	parentEmail string,
	accountID string,
) (string, error) {
	// Fast path: no provider calls
	if id, ok := student.CustomerID(accountID); ok {
		r.countResolved(accountID, "cached")
		return id, nil
	}

	if parentEmail == "" {
		return "", ErrParentEmailMissing
	}

	key := student.OrganizationID + "/" + student.StudentID + "/" + accountID

	// The shared resolution must not die with whichever caller started it.
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolveLocked(resolveCtx, client, student, parentEmail, accountID, key)
	})
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.ResolutionFailed.WithLabelValues(accountID).Inc()
		}
		return "", err
	}
	return v.(string), nil
}

func (r *IdentityResolver) resolveLocked(
	ctx context.Context,
	client billing.Provider,
	student *domain.Student,
	parentEmail, accountID, key string,
) (string, error) {
	const op = "identity.resolve"

	log := zerolog.Ctx(ctx).With().
		Str("organization_id", student.OrganizationID).
		Str("student_id", student.StudentID).
		Str("account_id", accountID).
		Logger()

	release, err := r.locker.Acquire(ctx, key)
	if err != nil {
		return "", domain.ResolutionFailed(err, op, "Could not acquire customer resolution lock")
	}
	defer release()

	// Another process may have finished while we waited for the lock
	current, err := r.students.GetStudent(ctx, student.OrganizationID, student.StudentID)
	if err != nil {
		return "", err
	}
	if id, ok := current.CustomerID(accountID); ok {
		r.countResolved(accountID, "concurrent")
		return id, nil
	}

	customerID, outcome, err := r.findOrCreate(ctx, client, current, parentEmail, accountID)
	if err != nil {
		return "", err
	}

	stored, created, err := r.mappings.SetBillingMappingIfAbsent(ctx, current.OrganizationID, current.StudentID, accountID, customerID)
	if err != nil {
		return "", err
	}
	if !created {
		if stored != customerID {
			log.Warn().
				Str("customer_id", customerID).
				Str("stored_customer_id", stored).
				Msg("Mapping written concurrently; adopting stored customer")
		}
		r.countResolved(accountID, "concurrent")
		return stored, nil
	}

	ref := domain.StudentRef{OrganizationID: current.OrganizationID, StudentID: current.StudentID}
	r.indexReverse(ctx, log, accountID, stored, ref)

	r.countResolved(accountID, outcome)
	log.Info().Str("customer_id", stored).Str("outcome", outcome).Msg("Customer resolved")

	if err := r.publisher.Publish(ctx, events.SubjectCustomerMapped, "", events.CustomerMapped{
		OrganizationID: current.OrganizationID,
		StudentID:      current.StudentID,
		AccountID:      accountID,
		CustomerID:     stored,
		Source:         "resolved",
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish customer mapped event")
	}

	return stored, nil
}

// findOrCreate searches by parent email, picks the first candidate whose name
// exactly matches the student's display name, and creates a customer when none
// does.
func (r *IdentityResolver) findOrCreate(
	ctx context.Context,
	client billing.Provider,
	student *domain.Student,
	parentEmail, accountID string,
) (string, string, error) {
	const op = "identity.find_or_create"

	candidates, err := client.SearchCustomersByEmail(ctx, parentEmail, r.cfg.SearchLimit)
	if err != nil {
		return "", "", domain.ResolutionFailed(err, op, "Failed to search billing customers")
	}
	if match := selectCustomer(candidates, student.DisplayName); match != nil {
		return match.ID, "matched", nil
	}

	customer, err := client.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email: parentEmail,
		Name:  student.DisplayName,
		Metadata: map[string]string{
			"student_id":      student.StudentID,
			"organization_id": student.OrganizationID,
			"billing_account": accountID,
		},
		IdempotencyKey: customerIdempotencyKey(student.OrganizationID, student.StudentID, accountID),
	})
	if err != nil {
		return "", "", domain.ResolutionFailed(err, op, "Failed to create billing customer")
	}
	return customer.ID, "created", nil
}

// MapCustomer upserts a manual mapping and its reverse index.
func (r *IdentityResolver) MapCustomer(ctx context.Context, organizationID, studentID, accountID, customerID string) error {
	if err := r.mappings.UpsertBillingMapping(ctx, organizationID, studentID, accountID, customerID); err != nil {
		return err
	}

	log := zerolog.Ctx(ctx).With().
		Str("organization_id", organizationID).
		Str("student_id", studentID).
		Str("account_id", accountID).
		Logger()

	r.indexReverse(ctx, log, accountID, customerID, domain.StudentRef{OrganizationID: organizationID, StudentID: studentID})

	if telemetry.Business != nil {
		telemetry.Business.MappingsUpserted.WithLabelValues(accountID).Inc()
	}

	if err := r.publisher.Publish(ctx, events.SubjectCustomerMapped, "", events.CustomerMapped{
		OrganizationID: organizationID,
		StudentID:      studentID,
		AccountID:      accountID,
		CustomerID:     customerID,
		Source:         "manual",
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish customer mapped event")
	}
	return nil
}

// indexReverse writes the reverse index; failures go to the retry worker since
// the forward mapping is already durable.
func (r *IdentityResolver) indexReverse(ctx context.Context, log zerolog.Logger, accountID, customerID string, ref domain.StudentRef) {
	err := r.mappings.IndexReverse(ctx, accountID, customerID, ref)
	if err == nil {
		return
	}

	log.Warn().Err(err).Str("customer_id", customerID).Msg("Reverse index write failed")
	if r.retrier == nil || !r.retrier.EnqueueReverseIndex(accountID, customerID, ref) {
		log.Error().Err(err).Str("customer_id", customerID).
			Msg("Reverse index write not queued for retry")
	}
}

func (r *IdentityResolver) countResolved(accountID, outcome string) {
	if telemetry.Business != nil {
		telemetry.Business.CustomersResolved.WithLabelValues(accountID, outcome).Inc()
	}
}

// selectCustomer returns the first candidate whose name equals displayName
// exactly, or nil.
func selectCustomer(candidates []*billing.Customer, displayName string) *billing.Customer {
	for _, c := range candidates {
		if c != nil && c.Name == displayName {
			return c
		}
	}
	return nil
}

var customerKeySpace = uuid.MustParse("6c1f5a0e-8d2b-4f4e-9a57-3b0c2e71d9a4")

// customerIdempotencyKey derives a stable key per (organization, student, account).
// Each part is length-prefixed so no two tuples share a key.
func customerIdempotencyKey(organizationID, studentID, accountID string) string {
	name := fmt.Sprintf("%d:%s%d:%s%d:%s",
		len(organizationID), organizationID, len(studentID), studentID, len(accountID), accountID)
	return "customer:" + uuid.NewSHA1(customerKeySpace, []byte(name)).String()
}
