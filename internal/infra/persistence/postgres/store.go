// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while writing every committed change as a row-level
// upsert or delete into one table per entity.
package postgres

import (
	"bloodledger/internal/infra/persistence/memory"
	"bloodledger/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bloodledger?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// schema creates the logical tables. Uniqueness of national IDs and blood
// types is enforced here as well as in the memory store.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS donors (
		id TEXT PRIMARY KEY,
		national_id TEXT NOT NULL UNIQUE,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS donations (
		id TEXT PRIMARY KEY,
		donor_id TEXT NOT NULL REFERENCES donors(id) ON DELETE CASCADE,
		donation_date TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		blood_type TEXT PRIMARY KEY,
		units INTEGER NOT NULL CHECK (units >= 0),
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_date TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := New(ctx, db, engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database handle: it applies the schema, hydrates the
// memory store and registers the row-level commit hook.
func New(ctx context.Context, db *sql.DB, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if err := mem.ImportState(ctx, snapshot); err != nil {
		return nil, err
	}
	s := &Store{Store: mem, db: db}
	mem.AddCommitHook(s.apply)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func loadTable[T any](ctx context.Context, db *sql.DB, table string, put func(T)) error {
	rows, err := db.QueryContext(ctx, `SELECT payload FROM `+table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		put(v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Donors:    make(map[string]domain.Donor),
		Donations: make(map[string]domain.Donation),
		Inventory: make(map[domain.BloodType]domain.InventoryEntry),
		Requests:  make(map[string]domain.Request),
		Events:    make(map[string]domain.Event),
	}
	if err := loadTable(ctx, db, "donors", func(d domain.Donor) { snap.Donors[d.ID] = d }); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "donations", func(d domain.Donation) { snap.Donations[d.ID] = d }); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "inventory", func(e domain.InventoryEntry) { snap.Inventory[e.BloodType] = e }); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "requests", func(r domain.Request) { snap.Requests[r.ID] = r }); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "events", func(e domain.Event) { snap.Events[e.ID] = e }); err != nil {
		return memory.Snapshot{}, err
	}
	return snap, nil
}

// apply writes the transaction's changes in order inside one Postgres
// transaction. It runs inside the memory store's commit section.
func (s *Store) apply(ctx context.Context, changes []domain.Change, _ memory.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(err, domain.KindTransient, "begin postgres tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		if err := applyChange(ctx, tx, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	if change.Action == domain.ActionDelete {
		return deleteRow(ctx, tx, change)
	}
	payload, err := json.Marshal(change.After)
	if err != nil {
		return fmt.Errorf("encode %s: %w", change.Entity, err)
	}
	switch v := change.After.(type) {
	case domain.Donor:
		_, err = tx.ExecContext(ctx, `INSERT INTO donors(id,national_id,payload,updated_at) VALUES($1,$2,$3,$4)
			ON CONFLICT(id) DO UPDATE SET national_id=EXCLUDED.national_id, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
			v.ID, v.NationalID, string(payload), v.UpdatedAt)
	case domain.Donation:
		_, err = tx.ExecContext(ctx, `INSERT INTO donations(id,donor_id,donation_date,payload) VALUES($1,$2,$3,$4)
			ON CONFLICT(id) DO NOTHING`,
			v.ID, v.DonorID, v.Date, string(payload))
	case domain.InventoryEntry:
		_, err = tx.ExecContext(ctx, `INSERT INTO inventory(blood_type,units,payload) VALUES($1,$2,$3)
			ON CONFLICT(blood_type) DO UPDATE SET units=EXCLUDED.units, payload=EXCLUDED.payload`,
			string(v.BloodType), v.Units, string(payload))
	case domain.Request:
		_, err = tx.ExecContext(ctx, `INSERT INTO requests(id,status,payload) VALUES($1,$2,$3)
			ON CONFLICT(id) DO UPDATE SET status=EXCLUDED.status, payload=EXCLUDED.payload`,
			v.ID, string(v.Status), string(payload))
	case domain.Event:
		_, err = tx.ExecContext(ctx, `INSERT INTO events(id,event_date,payload) VALUES($1,$2,$3)
			ON CONFLICT(id) DO UPDATE SET event_date=EXCLUDED.event_date, payload=EXCLUDED.payload`,
			v.ID, v.Date, string(payload))
	default:
		return fmt.Errorf("unsupported change payload %T", change.After)
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", change.Entity, err)
	}
	return nil
}

func deleteRow(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	var (
		query string
		key   string
	)
	switch v := change.Before.(type) {
	case domain.Donor:
		query, key = `DELETE FROM donors WHERE id=$1`, v.ID
	case domain.Donation:
		query, key = `DELETE FROM donations WHERE id=$1`, v.ID
	case domain.InventoryEntry:
		query, key = `DELETE FROM inventory WHERE blood_type=$1`, string(v.BloodType)
	case domain.Request:
		query, key = `DELETE FROM requests WHERE id=$1`, v.ID
	case domain.Event:
		query, key = `DELETE FROM events WHERE id=$1`, v.ID
	default:
		return fmt.Errorf("unsupported change payload %T", change.Before)
	}
	if _, err := tx.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", change.Entity, err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
