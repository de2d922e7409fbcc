// Package events publishes billing domain events for downstream consumers
// (notifications, reconciliation jobs). Publication is best effort: callers log
// failures and never fail a request because the bus is unavailable.
package events

import (
	"context"
	"sync"
	"time"
)

// Subjects, relative to the configured prefix.
const (
	SubjectInvoiceFinalized = "invoice.finalized"
	SubjectInvoiceStatus    = "invoice.status"
	SubjectCustomerMapped   = "customer.mapped"
)

// InvoiceFinalized is published after the invoice workflow returns a reference.
type InvoiceFinalized struct {
	InvoiceID        string    `json:"invoiceId"`
	OrganizationID   string    `json:"organizationId"`
	StudentID        string    `json:"studentId"`
	AccountID        string    `json:"accountId"`
	CustomerID       string    `json:"customerId"`
	AmountMinorUnits int64     `json:"amountMinorUnits"`
	Currency         string    `json:"currency"`
	HostedInvoiceURL string    `json:"hostedInvoiceUrl"`
	FinalizedAt      time.Time `json:"finalizedAt"`
}

// InvoiceStatusChanged is published after a webhook status merge was applied.
type InvoiceStatusChanged struct {
	InvoiceID      string    `json:"invoiceId"`
	OrganizationID string    `json:"organizationId"`
	StudentID      string    `json:"studentId"`
	AccountID      string    `json:"accountId"`
	Status         string    `json:"status"`
	EventID        string    `json:"eventId"`
	EventAt        time.Time `json:"eventAt"`
}

// CustomerMapped is published when a student's provider customer is set,
// whether by resolution or by a manual mapping.
type CustomerMapped struct {
	OrganizationID string `json:"organizationId"`
	StudentID      string `json:"studentId"`
	AccountID      string `json:"accountId"`
	CustomerID     string `json:"customerId"`
	Source         string `json:"source"` // "resolved" or "manual"
}

// Publisher sends an event to subject. msgID, when set, lets the bus drop
// duplicates of the same logical event.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, event any) error
	Close() error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Close() error                                       { return nil }

// Published is one event captured by a Recorder.
type Published struct {
	Subject string
	MsgID   string
	Event   any
}

// Recorder keeps published events in memory. Useful in tests and in local
// development without a bus.
type Recorder struct {
	mu     sync.Mutex
	events []Published

	// Err, when set, is returned from every Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, subject, msgID string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Subject: subject, MsgID: msgID, Event: event})
	return r.Err
}

func (r *Recorder) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}

// Subjects returns the subjects published so far, in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Subject
	}
	return out
}
