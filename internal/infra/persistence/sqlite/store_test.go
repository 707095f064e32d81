package sqlite

import (
	"bloodledger/pkg/domain"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openStore(t, path)

	var donorID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		donor, err := tx.CreateDonor(domain.Donor{NationalID: "N-1", Name: "Persist", BloodType: domain.BloodAPos})
		if err != nil {
			return err
		}
		donorID = donor.ID
		if _, err := tx.CreateDonation(domain.Donation{DonorID: donor.ID, DonorName: donor.Name, Amount: 1, Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}); err != nil {
			return err
		}
		if _, err := tx.AdjustInventory(domain.BloodAPos, 4); err != nil {
			return err
		}
		_, err = tx.CreateEvent(domain.Event{Title: "Drive", Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = store.Close()

	reloaded := openStore(t, path)
	err := reloaded.View(ctx, func(v domain.TransactionView) error {
		donor, ok := v.FindDonorByNationalID("N-1")
		if !ok || donor.ID != donorID {
			t.Fatalf("expected donor reloaded with identity index, got %+v", donor)
		}
		if got := len(v.ListDonations()); got != 1 {
			t.Fatalf("expected 1 donation, got %d", got)
		}
		entry, ok := v.FindInventory(domain.BloodAPos)
		if !ok || entry.Units != 4 {
			t.Fatalf("expected 4 units of A+, got %+v", entry)
		}
		if got := len(v.ListEvents()); got != 1 {
			t.Fatalf("expected 1 event, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSQLiteStoreOnlyWritesTouchedBuckets(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AdjustInventory(domain.BloodONeg, 2)
		return err
	}); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	var buckets int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&buckets); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if buckets != 1 {
		t.Fatalf("expected only the inventory bucket, got %d", buckets)
	}
}

func TestSQLiteStoreWriteFailureRollsBackMemory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	if _, err := store.DB().Exec(`DROP TABLE state`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AdjustInventory(domain.BloodONeg, 2)
		return err
	})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindInventory(domain.BloodONeg); ok {
			t.Fatalf("expected in-memory state to stay unchanged")
		}
		return nil
	})
}

func TestSQLiteStoreDefaults(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if filepath.Base(store.Path()) != "ledger.db" {
		t.Fatalf("unexpected path %s", store.Path())
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteRequest("missing")
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
