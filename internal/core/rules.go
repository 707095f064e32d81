package core

import (
	"bloodledger/pkg/domain"
	"context"
	"fmt"
)

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewStockNonNegativeRule())
	engine.Register(NewDonorLedgerConsistencyRule())
	engine.Register(NewDonorIdentityUniqueRule())
	return engine
}

// NewStockNonNegativeRule blocks any commit that would leave a stock counter below zero.
func NewStockNonNegativeRule() domain.Rule {
	return stockNonNegativeRule{}
}

type stockNonNegativeRule struct{}

func (stockNonNegativeRule) Name() string { return "stock_non_negative" }

func (stockNonNegativeRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, entry := range view.ListInventory() {
		if entry.Units < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "stock_non_negative",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s stock is negative: %d units", entry.BloodType, entry.Units),
				Entity:   domain.EntityInventory,
				EntityID: string(entry.BloodType),
			})
		}
	}
	return res, nil
}

// NewDonorLedgerConsistencyRule checks points and donation totals of every
// donor touched by the transaction against the donation ledger.
func NewDonorLedgerConsistencyRule() domain.Rule {
	return donorLedgerConsistencyRule{}
}

type donorLedgerConsistencyRule struct{}

func (donorLedgerConsistencyRule) Name() string { return "donor_ledger_consistency" }

func (donorLedgerConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := touchedDonors(changes)
	res := domain.Result{}
	if len(touched) == 0 {
		return res, nil
	}
	counts := make(map[string]int, len(touched))
	for _, donation := range view.ListDonations() {
		if _, ok := touched[donation.DonorID]; ok {
			counts[donation.DonorID]++
		}
	}
	for id := range touched {
		donor, ok := view.FindDonor(id)
		if !ok {
			if counts[id] > 0 {
				res.Violations = append(res.Violations, ledgerViolation(id, fmt.Sprintf("%d donations reference a deleted donor", counts[id])))
			}
			continue
		}
		if donor.Points != domain.PointsFor(donor.TotalDonations) {
			res.Violations = append(res.Violations, ledgerViolation(id, fmt.Sprintf("points %d do not match %d donations", donor.Points, donor.TotalDonations)))
		}
		if donor.TotalDonations != counts[id] {
			res.Violations = append(res.Violations, ledgerViolation(id, fmt.Sprintf("total donations %d but %d recorded", donor.TotalDonations, counts[id])))
		}
	}
	return res, nil
}

func ledgerViolation(donorID, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "donor_ledger_consistency",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityDonor,
		EntityID: donorID,
	}
}

func touchedDonors(changes []domain.Change) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, change := range changes {
		for _, payload := range []any{change.Before, change.After} {
			switch v := payload.(type) {
			case domain.Donor:
				ids[v.ID] = struct{}{}
			case domain.Donation:
				ids[v.DonorID] = struct{}{}
			}
		}
	}
	return ids
}

// NewDonorIdentityUniqueRule blocks commits that leave two donors sharing a national ID.
func NewDonorIdentityUniqueRule() domain.Rule {
	return donorIdentityUniqueRule{}
}

type donorIdentityUniqueRule struct{}

func (donorIdentityUniqueRule) Name() string { return "donor_identity_unique" }

func (donorIdentityUniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if len(touchedDonors(changes)) == 0 {
		return res, nil
	}
	seen := make(map[string]string)
	for _, donor := range view.ListDonors() {
		if prev, ok := seen[donor.NationalID]; ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "donor_identity_unique",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("national id %s shared by donors %s and %s", donor.NationalID, prev, donor.ID),
				Entity:   domain.EntityDonor,
				EntityID: donor.ID,
			})
			continue
		}
		seen[donor.NationalID] = donor.ID
	}
	return res, nil
}
