package domain

// Student is a billable individual within an organization.
//
// BillingMap maps a billing account identifier to the provider customer id that
// represents this student within that account. A missing key means the student
// has not yet been resolved for that account.
type Student struct {
	OrganizationID string            `json:"organizationId" firestore:"-"`
	StudentID      string            `json:"studentId" firestore:"-"`
	DisplayName    string            `json:"displayName" firestore:"displayName"`
	ParentID       string            `json:"parentId,omitempty" firestore:"parentId,omitempty"`
	BillingMap     map[string]string `json:"billingMap,omitempty" firestore:"billingMap,omitempty"`
}

// CustomerID returns the provider customer id mapped for accountID, if any.
func (s *Student) CustomerID(accountID string) (string, bool) {
	if s == nil || s.BillingMap == nil {
		return "", false
	}
	id, ok := s.BillingMap[accountID]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Parent supplies the billing contact used to resolve a student's provider customer.
// It is read-only to this service.
type Parent struct {
	OrganizationID string `json:"organizationId" firestore:"-"`
	ParentID       string `json:"parentId" firestore:"-"`
	DisplayName    string `json:"displayName" firestore:"displayName"`
	Email          string `json:"email" firestore:"email"`
}

// StudentRef identifies the student that owns a provider customer, as recorded
// in the reverse index.
type StudentRef struct {
	OrganizationID string `json:"organizationId" firestore:"organizationId"`
	StudentID      string `json:"studentId" firestore:"studentId"`
}
