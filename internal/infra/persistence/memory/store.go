// Package memory provides the authoritative in-memory transactional store.
// Durable backends wrap it and persist committed state through commit hooks.
package memory

import (
	"bloodledger/pkg/domain"
	"context"
	"errors"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Donor aliases domain.Donor for in-memory persistence operations.
	Donor = domain.Donor
	// Donation aliases domain.Donation.
	Donation = domain.Donation
	// InventoryEntry aliases domain.InventoryEntry.
	InventoryEntry = domain.InventoryEntry
	// Request aliases domain.Request.
	Request = domain.Request
	// Event aliases domain.Event.
	Event = domain.Event
	// BloodType aliases domain.BloodType.
	BloodType = domain.BloodType
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// DefaultTimeout bounds store calls whose context carries no deadline.
const DefaultTimeout = 5 * time.Second

// writerWeight is acquired by writers so they exclude every reader.
const writerWeight = 1 << 16

// CommitHook runs under the store lock after rules pass and before the new
// state becomes visible. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, changes []Change, snapshot Snapshot) error

type memoryState struct {
	donors    map[string]Donor
	byNatID   map[string]string
	donations map[string]Donation
	inventory map[BloodType]InventoryEntry
	requests  map[string]Request
	events    map[string]Event
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Donors    map[string]Donor             `json:"donors"`
	Donations map[string]Donation          `json:"donations"`
	Inventory map[BloodType]InventoryEntry `json:"inventory"`
	Requests  map[string]Request           `json:"requests"`
	Events    map[string]Event             `json:"events"`
}

func newMemoryState() memoryState {
	return memoryState{
		donors:    make(map[string]Donor),
		byNatID:   make(map[string]string),
		donations: make(map[string]Donation),
		inventory: make(map[BloodType]InventoryEntry),
		requests:  make(map[string]Request),
		events:    make(map[string]Event),
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		donors:    make(map[string]Donor, len(s.donors)),
		byNatID:   maps.Clone(s.byNatID),
		donations: maps.Clone(s.donations),
		inventory: maps.Clone(s.inventory),
		requests:  maps.Clone(s.requests),
		events:    make(map[string]Event, len(s.events)),
	}
	for id, d := range s.donors {
		cloned.donors[id] = d.Clone()
	}
	for id, e := range s.events {
		cloned.events[id] = e.Clone()
	}
	return cloned
}

func snapshotFromState(s memoryState) Snapshot {
	c := s.clone()
	return Snapshot{
		Donors:    c.donors,
		Donations: c.donations,
		Inventory: c.inventory,
		Requests:  c.requests,
		Events:    c.events,
	}
}

func stateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	for id, d := range snap.Donors {
		d.ID = id
		state.donors[id] = d.Clone()
		if d.NationalID != "" {
			state.byNatID[d.NationalID] = id
		}
	}
	for id, d := range snap.Donations {
		d.ID = id
		state.donations[id] = d
	}
	for bt, entry := range snap.Inventory {
		entry.BloodType = bt
		state.inventory[bt] = entry
	}
	for id, r := range snap.Requests {
		r.ID = id
		state.requests[id] = r
	}
	for id, e := range snap.Events {
		e.ID = id
		state.events[id] = e.Clone()
	}
	return state
}

// Store provides an in-memory transactional store for the ledger.
// Writers acquire the full semaphore weight, readers a single unit.
type Store struct {
	sem     *semaphore.Weighted
	state   memoryState
	engine  *RulesEngine
	nowFn   func() time.Time
	idFn    func() string
	timeout time.Duration
	hooks   []CommitHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// WithTimeout sets the bound applied to calls without a context deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCommitHook registers a hook invoked before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		sem:     semaphore.NewWeighted(writerWeight),
		state:   newMemoryState(),
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
		idFn:    newID,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newID returns a time-ordered UUID so identifier order follows insertion order.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AddCommitHook registers a hook after construction. Wrapping backends use it
// before any transaction runs.
func (s *Store) AddCommitHook(hook CommitHook) {
	if hook != nil {
		s.hooks = append(s.hooks, hook)
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState(ctx context.Context) (Snapshot, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.acquire(ctx, 1); err != nil {
		return Snapshot{}, err
	}
	defer s.sem.Release(1)
	return snapshotFromState(s.state), nil
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(ctx context.Context, snapshot Snapshot) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.acquire(ctx, writerWeight); err != nil {
		return err
	}
	defer s.sem.Release(writerWeight)
	s.state = stateFromSnapshot(snapshot)
	return nil
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) acquire(ctx context.Context, weight int64) error {
	if err := ctx.Err(); err != nil {
		return timeoutError(err)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return timeoutError(err)
	}
	return nil
}

func timeoutError(err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.Wrap(err, domain.KindTransient, "store call cancelled")
	}
	return domain.Wrap(err, domain.KindTransient, "store call timed out")
}

// RunInTransaction executes fn against a cloned state. Rules and commit hooks
// run before the clone replaces the live state; any failure discards it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.acquire(ctx, writerWeight); err != nil {
		return Result{}, err
	}
	defer s.sem.Release(writerWeight)

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, timeoutError(err)
	}
	if len(tx.changes) > 0 && len(s.hooks) > 0 {
		snap := snapshotFromState(tx.state)
		for _, hook := range s.hooks {
			if err := hook(ctx, tx.changes, snap); err != nil {
				return result, err
			}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only view of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn(newTransactionView(&s.state))
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func sortDonors(donors []Donor) {
	sort.Slice(donors, func(i, j int) bool {
		if !donors[i].CreatedAt.Equal(donors[j].CreatedAt) {
			return donors[i].CreatedAt.Before(donors[j].CreatedAt)
		}
		return donors[i].ID < donors[j].ID
	})
}

func (v transactionView) ListDonors() []Donor {
	out := make([]Donor, 0, len(v.state.donors))
	for _, d := range v.state.donors {
		out = append(out, d.Clone())
	}
	sortDonors(out)
	return out
}

func (v transactionView) ListDonations() []Donation {
	out := make([]Donation, 0, len(v.state.donations))
	for _, d := range v.state.donations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (v transactionView) ListInventory() []InventoryEntry {
	out := make([]InventoryEntry, 0, len(v.state.inventory))
	for _, e := range v.state.inventory {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BloodType < out[j].BloodType })
	return out
}

func (v transactionView) ListRequests() []Request {
	out := make([]Request, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestDate.Equal(out[j].RequestDate) {
			return out[i].RequestDate.After(out[j].RequestDate)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (v transactionView) ListEvents() []Event {
	out := make([]Event, 0, len(v.state.events))
	for _, e := range v.state.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindDonor(id string) (Donor, bool) {
	d, ok := v.state.donors[id]
	if !ok {
		return Donor{}, false
	}
	return d.Clone(), true
}

func (v transactionView) FindDonorByNationalID(nationalID string) (Donor, bool) {
	id, ok := v.state.byNatID[nationalID]
	if !ok {
		return Donor{}, false
	}
	return v.FindDonor(id)
}

func (v transactionView) FindInventory(bt BloodType) (InventoryEntry, bool) {
	e, ok := v.state.inventory[bt]
	return e, ok
}

func (v transactionView) FindRequest(id string) (Request, bool) {
	r, ok := v.state.requests[id]
	return r, ok
}

func (v transactionView) FindEvent(id string) (Event, bool) {
	e, ok := v.state.events[id]
	if !ok {
		return Event{}, false
	}
	return e.Clone(), true
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) view() transactionView {
	return transactionView{state: &tx.state}
}

// FindDonor exposes donor lookup within the transaction scope.
func (tx *transaction) FindDonor(id string) (Donor, bool) { return tx.view().FindDonor(id) }

// FindDonorByNationalID resolves a donor through the identity index.
func (tx *transaction) FindDonorByNationalID(nationalID string) (Donor, bool) {
	return tx.view().FindDonorByNationalID(nationalID)
}

// FindInventory exposes stock lookup within the transaction scope.
func (tx *transaction) FindInventory(bt BloodType) (InventoryEntry, bool) {
	return tx.view().FindInventory(bt)
}

// FindRequest exposes request lookup within the transaction scope.
func (tx *transaction) FindRequest(id string) (Request, bool) { return tx.view().FindRequest(id) }

// FindEvent exposes event lookup within the transaction scope.
func (tx *transaction) FindEvent(id string) (Event, bool) { return tx.view().FindEvent(id) }

// CreateDonor stores a new donor, enforcing national ID uniqueness.
func (tx *transaction) CreateDonor(d Donor) (Donor, error) {
	if d.ID == "" {
		d.ID = tx.store.idFn()
	}
	if _, exists := tx.state.donors[d.ID]; exists {
		return Donor{}, domain.Conflict(domain.EntityDonor, d.ID, "donor already exists")
	}
	if d.NationalID == "" {
		return Donor{}, domain.Errorf(domain.KindInvalidArgument, "donor national id is required")
	}
	if owner, taken := tx.state.byNatID[d.NationalID]; taken {
		return Donor{}, domain.Conflict(domain.EntityDonor, owner, "national id already registered")
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	d.Version = 1
	tx.state.donors[d.ID] = d.Clone()
	tx.state.byNatID[d.NationalID] = d.ID
	tx.recordChange(Change{Entity: domain.EntityDonor, Action: domain.ActionCreate, After: d.Clone()})
	return d.Clone(), nil
}

// UpdateDonor mutates a donor using the provided mutator function.
func (tx *transaction) UpdateDonor(id string, mutator func(*Donor) error) (Donor, error) {
	current, ok := tx.state.donors[id]
	if !ok {
		return Donor{}, domain.NotFound(domain.EntityDonor, id)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Donor{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if current.NationalID == "" {
		return Donor{}, domain.Errorf(domain.KindInvalidArgument, "donor national id is required")
	}
	if current.NationalID != before.NationalID {
		if owner, taken := tx.state.byNatID[current.NationalID]; taken && owner != id {
			return Donor{}, domain.Conflict(domain.EntityDonor, owner, "national id already registered")
		}
		delete(tx.state.byNatID, before.NationalID)
		tx.state.byNatID[current.NationalID] = id
	}
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.donors[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityDonor, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteDonor removes a donor from the transaction state. Owned donations
// must be removed by the caller in the same transaction.
func (tx *transaction) DeleteDonor(id string) error {
	current, ok := tx.state.donors[id]
	if !ok {
		return domain.NotFound(domain.EntityDonor, id)
	}
	delete(tx.state.donors, id)
	if tx.state.byNatID[current.NationalID] == id {
		delete(tx.state.byNatID, current.NationalID)
	}
	tx.recordChange(Change{Entity: domain.EntityDonor, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateDonation appends an immutable donation for an existing donor.
func (tx *transaction) CreateDonation(d Donation) (Donation, error) {
	if _, ok := tx.state.donors[d.DonorID]; !ok {
		return Donation{}, domain.NotFound(domain.EntityDonor, d.DonorID)
	}
	if d.ID == "" {
		d.ID = tx.store.idFn()
	}
	if _, exists := tx.state.donations[d.ID]; exists {
		return Donation{}, domain.Conflict(domain.EntityDonation, d.ID, "donation already exists")
	}
	d.CreatedAt = tx.now
	tx.state.donations[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDonation, Action: domain.ActionCreate, After: d})
	return d, nil
}

// DeleteDonation removes a donation record.
func (tx *transaction) DeleteDonation(id string) error {
	current, ok := tx.state.donations[id]
	if !ok {
		return domain.NotFound(domain.EntityDonation, id)
	}
	delete(tx.state.donations, id)
	tx.recordChange(Change{Entity: domain.EntityDonation, Action: domain.ActionDelete, Before: current})
	return nil
}

// ListDonationsByDonor returns the donor's donations, newest first.
func (tx *transaction) ListDonationsByDonor(donorID string) []Donation {
	return donationsByDonor(&tx.state, donorID)
}

func donationsByDonor(state *memoryState, donorID string) []Donation {
	var out []Donation
	for _, d := range state.donations {
		if d.DonorID == donorID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// AdjustInventory applies delta to the stock of bt as a single
// check-and-modify step. Entries are created lazily on first increment.
func (tx *transaction) AdjustInventory(bt BloodType, delta int) (InventoryEntry, error) {
	if !bt.Valid() {
		return InventoryEntry{}, domain.Errorf(domain.KindInvalidArgument, "unknown blood type %q", bt)
	}
	if delta == 0 {
		return InventoryEntry{}, domain.Errorf(domain.KindInvalidArgument, "inventory delta must be non-zero")
	}
	current, exists := tx.state.inventory[bt]
	if current.Units+delta < 0 {
		return InventoryEntry{}, domain.InsufficientStock(bt, current.Units, -delta)
	}
	before := current
	current.BloodType = bt
	current.Units += delta
	current.LastUpdated = tx.now
	current.Version++
	tx.state.inventory[bt] = current
	if exists {
		tx.recordChange(Change{Entity: domain.EntityInventory, Action: domain.ActionUpdate, Before: before, After: current})
	} else {
		tx.recordChange(Change{Entity: domain.EntityInventory, Action: domain.ActionCreate, After: current})
	}
	return current, nil
}

// CreateRequest stores a new request.
func (tx *transaction) CreateRequest(r Request) (Request, error) {
	if r.ID == "" {
		r.ID = tx.store.idFn()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return Request{}, domain.Conflict(domain.EntityRequest, r.ID, "request already exists")
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	r.Version = 1
	tx.state.requests[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRequest mutates a request using the provided mutator function.
func (tx *transaction) UpdateRequest(id string, mutator func(*Request) error) (Request, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return Request{}, domain.NotFound(domain.EntityRequest, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Request{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.requests[id] = current
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteRequest removes a request record.
func (tx *transaction) DeleteRequest(id string) error {
	current, ok := tx.state.requests[id]
	if !ok {
		return domain.NotFound(domain.EntityRequest, id)
	}
	delete(tx.state.requests, id)
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateEvent stores a new event.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = tx.store.idFn()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, domain.Conflict(domain.EntityEvent, e.ID, "event already exists")
	}
	e = e.Clone()
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	e.Version = 1
	tx.state.events[e.ID] = e
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: e.Clone()})
	return e.Clone(), nil
}

// UpdateEvent mutates an event using the provided mutator function.
func (tx *transaction) UpdateEvent(id string, mutator func(*Event) error) (Event, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return Event{}, domain.NotFound(domain.EntityEvent, id)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Event{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.events[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteEvent removes an event record.
func (tx *transaction) DeleteEvent(id string) error {
	current, ok := tx.state.events[id]
	if !ok {
		return domain.NotFound(domain.EntityEvent, id)
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}
