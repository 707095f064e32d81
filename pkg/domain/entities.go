// Package domain defines the persistent blood-bank entities, value types, and
// rule evaluation primitives used by bloodledger.
package domain

import (
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDonor identifies a donor record.
	EntityDonor EntityType = "donor"
	// EntityDonation identifies an immutable donation record.
	EntityDonation EntityType = "donation"
	// EntityInventory identifies a per-blood-type stock entry.
	EntityInventory EntityType = "inventory"
	// EntityRequest identifies a request for blood units.
	EntityRequest EntityType = "request"
	// EntityEvent identifies a donation drive event.
	EntityEvent EntityType = "event"
)

// Consent records whether a donor agreed to be contacted for future donations.
type Consent string

// Donation consent values.
const (
	ConsentYes Consent = "Yes"
	ConsentNo  Consent = "No"
)

// Valid reports whether the consent value is one of the known values.
func (c Consent) Valid() bool {
	return c == ConsentYes || c == ConsentNo
}

// DonorStatus is the stored eligibility flag of a donor.
type DonorStatus string

// Donor eligibility statuses.
const (
	DonorEligible   DonorStatus = "Eligible"
	DonorIneligible DonorStatus = "Ineligible"
)

// Urgency ranks how quickly a request must be served.
type Urgency string

// Request urgency levels.
const (
	UrgencyLow    Urgency = "Low"
	UrgencyMedium Urgency = "Medium"
	UrgencyHigh   Urgency = "High"
)

// Valid reports whether the urgency is one of the known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// RequestStatus captures the lifecycle of a request.
type RequestStatus string

// Request statuses. Approved and Rejected are terminal for deletion purposes.
const (
	RequestPending  RequestStatus = "Pending"
	RequestApproved RequestStatus = "Approved"
	RequestRejected RequestStatus = "Rejected"
)

// Valid reports whether the status is one of the known values.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected:
		return true
	}
	return false
}

// Deletable reports whether a request in this status may be removed.
func (s RequestStatus) Deletable() bool {
	return s == RequestApproved || s == RequestRejected
}

// NeverDonated is the LastDonation sentinel for donors without donations.
const NeverDonated = "Never"

// Base contains common fields for all mutable domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Donor is a registered blood donor. TotalDonations, Points, LastDonation,
// Status and NextEligibleDate are donation-derived and only change through
// the donation ledger.
type Donor struct {
	Base
	NationalID       string      `json:"national_id"`
	OwnerID          string      `json:"owner_id,omitempty"`
	Name             string      `json:"name"`
	Email            string      `json:"email"`
	Phone            string      `json:"phone"`
	Address          string      `json:"address"`
	BloodType        BloodType   `json:"blood_type"`
	Age              int         `json:"age"`
	Weight           float64     `json:"weight"`
	Consent          Consent     `json:"consent"`
	LastDonation     string      `json:"last_donation"`
	Status           DonorStatus `json:"status"`
	NextEligibleDate *time.Time  `json:"next_eligible_date,omitempty"`
	TotalDonations   int         `json:"total_donations"`
	Points           int         `json:"points"`
	PhotoRef         string      `json:"photo_ref,omitempty"`
}

// Donation is an immutable record of units given by a donor.
type Donation struct {
	ID        string    `json:"id"`
	DonorID   string    `json:"donor_id"`
	DonorName string    `json:"donor_name"`
	Amount    int       `json:"amount"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryEntry is the stock counter for a single blood type.
type InventoryEntry struct {
	BloodType   BloodType `json:"blood_type"`
	Units       int       `json:"units"`
	LastUpdated time.Time `json:"last_updated"`
	Version     int64     `json:"version"`
}

// Request asks for units of a blood type on behalf of a patient.
type Request struct {
	Base
	PatientName string        `json:"patient_name"`
	RequesterID string        `json:"requester_id"`
	BloodType   BloodType     `json:"blood_type"`
	Units       int           `json:"units"`
	Urgency     Urgency       `json:"urgency"`
	Status      RequestStatus `json:"status"`
	RequestDate time.Time     `json:"request_date"`
}

// Event is a donation drive or awareness event.
type Event struct {
	Base
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location,omitempty"`
	Organizer   string    `json:"organizer,omitempty"`
	Photos      []string  `json:"photos"`
}

// Clone returns a deep copy of the donor.
func (d Donor) Clone() Donor {
	if d.NextEligibleDate != nil {
		next := *d.NextEligibleDate
		d.NextEligibleDate = &next
	}
	return d
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	e.Photos = slices.Clone(e.Photos)
	if e.Photos == nil {
		e.Photos = []string{}
	}
	return e
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
