package core

import (
	"bloodledger/pkg/domain"
	"context"
)

// InventoryEntry aliases domain.InventoryEntry.
type InventoryEntry = domain.InventoryEntry

func validateUnits(units int) error {
	if units <= 0 {
		return domain.Errorf(domain.KindInvalidArgument, "units must be positive, got %d", units)
	}
	return nil
}

// observeStock forwards committed stock levels to recorders that track them.
func (s *Service) observeStock(entry InventoryEntry) {
	if obs, ok := s.metrics.(StockObserver); ok {
		obs.ObserveStock(entry.BloodType, entry.Units)
	}
}

func (s *Service) adjustStock(ctx context.Context, name string, bt domain.BloodType, delta int) (InventoryEntry, Result, error) {
	var entry InventoryEntry
	res, err := s.mutate(ctx, operation{name: name, entity: domain.EntityInventory, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		var err error
		entry, err = tx.AdjustInventory(bt, delta)
		return string(bt), err
	})
	if err == nil {
		s.observeStock(entry)
	}
	return entry, res, err
}

// AddStock replenishes units of a blood type, creating the entry on first use.
func (s *Service) AddStock(ctx context.Context, bloodType string, units int) (InventoryEntry, Result, error) {
	bt, err := domain.ParseBloodType(bloodType)
	if err != nil {
		return InventoryEntry{}, Result{}, err
	}
	if err := validateUnits(units); err != nil {
		return InventoryEntry{}, Result{}, err
	}
	return s.adjustStock(ctx, "inventory.add", bt, units)
}

// RemoveStock debits units of a blood type. It fails with an insufficient
// stock error, leaving the entry untouched, when fewer units are available.
func (s *Service) RemoveStock(ctx context.Context, bloodType string, units int) (InventoryEntry, Result, error) {
	bt, err := domain.ParseBloodType(bloodType)
	if err != nil {
		return InventoryEntry{}, Result{}, err
	}
	if err := validateUnits(units); err != nil {
		return InventoryEntry{}, Result{}, err
	}
	return s.adjustStock(ctx, "inventory.remove", bt, -units)
}

// GetStock returns the stock of a blood type. Types never stocked report zero units.
func (s *Service) GetStock(ctx context.Context, bloodType string) (InventoryEntry, error) {
	bt, err := domain.ParseBloodType(bloodType)
	if err != nil {
		return InventoryEntry{}, err
	}
	entry := InventoryEntry{BloodType: bt}
	err = s.read(ctx, "inventory.get", func(v TransactionView) error {
		if found, ok := v.FindInventory(bt); ok {
			entry = found
		}
		return nil
	})
	return entry, err
}

// ListInventory returns every stocked blood type in label order.
func (s *Service) ListInventory(ctx context.Context) ([]InventoryEntry, error) {
	var entries []InventoryEntry
	err := s.read(ctx, "inventory.list", func(v TransactionView) error {
		entries = v.ListInventory()
		return nil
	})
	return entries, err
}
