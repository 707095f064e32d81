package domain

import "context"

// Transaction exposes the ledger operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView

	CreateDonor(Donor) (Donor, error)
	UpdateDonor(id string, mutator func(*Donor) error) (Donor, error)
	DeleteDonor(id string) error
	FindDonor(id string) (Donor, bool)
	FindDonorByNationalID(nationalID string) (Donor, bool)

	CreateDonation(Donation) (Donation, error)
	DeleteDonation(id string) error
	ListDonationsByDonor(donorID string) []Donation

	FindInventory(bt BloodType) (InventoryEntry, bool)
	AdjustInventory(bt BloodType, delta int) (InventoryEntry, error)

	CreateRequest(Request) (Request, error)
	UpdateRequest(id string, mutator func(*Request) error) (Request, error)
	DeleteRequest(id string) error
	FindRequest(id string) (Request, bool)

	CreateEvent(Event) (Event, error)
	UpdateEvent(id string, mutator func(*Event) error) (Event, error)
	DeleteEvent(id string) error
	FindEvent(id string) (Event, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListEvents() []Event
	FindDonorByNationalID(nationalID string) (Donor, bool)
	FindRequest(id string) (Request, bool)
	FindEvent(id string) (Event, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
