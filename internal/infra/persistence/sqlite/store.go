// Package sqlite persists the ledger into an embedded SQLite file. Each entity
// collection is stored as one JSON bucket that is rewritten whenever a
// committed transaction touches it.
package sqlite

import (
	"bloodledger/internal/infra/persistence/memory"
	"bloodledger/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "bloodledger.db"

const (
	bucketDonors    = "donors"
	bucketDonations = "donations"
	bucketInventory = "inventory"
	bucketRequests  = "requests"
	bucketEvents    = "events"
)

var bucketForEntity = map[domain.EntityType]string{
	domain.EntityDonor:     bucketDonors,
	domain.EntityDonation:  bucketDonations,
	domain.EntityInventory: bucketInventory,
	domain.EntityRequest:   bucketRequests,
	domain.EntityEvent:     bucketEvents,
}

// Store persists committed state to a single SQLite table of JSON buckets.
// The bucket write shares the commit critical section, so a failed write
// leaves both the file and the in-memory state unchanged.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and hydrates the store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; the memory store already does.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.AddCommitHook(s.persist)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		bucketDonors:    &snapshot.Donors,
		bucketDonations: &snapshot.Donations,
		bucketInventory: &snapshot.Inventory,
		bucketRequests:  &snapshot.Requests,
		bucketEvents:    &snapshot.Events,
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	return s.ImportState(ctx, snapshot)
}

func bucketPayload(bucket string, snapshot memory.Snapshot) ([]byte, error) {
	switch bucket {
	case bucketDonors:
		return json.Marshal(snapshot.Donors)
	case bucketDonations:
		return json.Marshal(snapshot.Donations)
	case bucketInventory:
		return json.Marshal(snapshot.Inventory)
	case bucketRequests:
		return json.Marshal(snapshot.Requests)
	case bucketEvents:
		return json.Marshal(snapshot.Events)
	}
	return nil, fmt.Errorf("unknown bucket %s", bucket)
}

// persist rewrites every bucket touched by changes in one SQLite transaction.
func (s *Store) persist(ctx context.Context, changes []domain.Change, snapshot memory.Snapshot) (retErr error) {
	dirty := make(map[string]struct{})
	for _, c := range changes {
		if bucket, ok := bucketForEntity[c.Entity]; ok {
			dirty[bucket] = struct{}{}
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(err, domain.KindTransient, "begin sqlite tx")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range []string{bucketDonors, bucketDonations, bucketInventory, bucketRequests, bucketEvents} {
		if _, ok := dirty[bucket]; !ok {
			continue
		}
		data, err := bucketPayload(bucket, snapshot)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
