package core

import (
	"bloodledger/pkg/domain"
	"context"
	"time"
)

// Donation aliases domain.Donation.
type Donation = domain.Donation

// DonationReceipt pairs a recorded donation with the donor state it produced.
type DonationReceipt struct {
	Donor    Donor
	Donation Donation
}

// Page selects a window of a listing. A zero Limit returns everything after Offset.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) validate() error {
	if p.Offset < 0 || p.Limit < 0 {
		return domain.Errorf(domain.KindInvalidArgument, "page offset and limit must not be negative")
	}
	return nil
}

func paginate[T any](items []T, p Page) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	items = items[p.Offset:]
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

func validateAmount(amount int) error {
	if amount <= 0 {
		return domain.Errorf(domain.KindInvalidArgument, "donation amount must be positive, got %d", amount)
	}
	return nil
}

// recordDonation appends the donation and advances the donor's derived
// fields inside tx.
func recordDonation(tx Transaction, donorID string, amount int, date time.Time) (DonationReceipt, error) {
	donor, ok := tx.FindDonor(donorID)
	if !ok {
		return DonationReceipt{}, domain.NotFound(domain.EntityDonor, donorID)
	}
	donation, err := tx.CreateDonation(Donation{
		DonorID:   donor.ID,
		DonorName: donor.Name,
		Amount:    amount,
		Date:      date,
	})
	if err != nil {
		return DonationReceipt{}, err
	}
	updated, err := tx.UpdateDonor(donor.ID, func(d *Donor) error {
		*d = domain.ApplyDonation(*d, date)
		return nil
	})
	if err != nil {
		return DonationReceipt{}, err
	}
	return DonationReceipt{Donor: updated, Donation: donation}, nil
}

// RecordDonation appends a donation for a donor and updates its eligibility
// and score atomically. A zero date records the donation now.
func (s *Service) RecordDonation(ctx context.Context, donorID string, amount int, date time.Time) (DonationReceipt, Result, error) {
	if err := validateAmount(amount); err != nil {
		return DonationReceipt{}, Result{}, err
	}
	if date.IsZero() {
		date = s.now()
	}
	var receipt DonationReceipt
	res, err := s.mutate(ctx, operation{name: "donation.record", entity: domain.EntityDonation, action: domain.ActionCreate}, func(tx Transaction) (string, error) {
		var err error
		receipt, err = recordDonation(tx, donorID, amount, date)
		return receipt.Donation.ID, err
	})
	return receipt, res, err
}

// RegisterWithDonation handles an administrative walk-in: the donor is
// resolved by national ID, created or refreshed from input, and credited
// with the donation in the same transaction.
func (s *Service) RegisterWithDonation(ctx context.Context, input DonorInput, amount int, date time.Time) (DonationReceipt, Result, error) {
	if err := validateAmount(amount); err != nil {
		return DonationReceipt{}, Result{}, err
	}
	donor, err := input.toDonor(domain.ConsentYes)
	if err != nil {
		return DonationReceipt{}, Result{}, err
	}
	if date.IsZero() {
		date = s.now()
	}
	var receipt DonationReceipt
	res, err := s.mutate(ctx, operation{name: "donation.walk_in", entity: domain.EntityDonation, action: domain.ActionCreate}, func(tx Transaction) (string, error) {
		donorID := ""
		if existing, ok := tx.FindDonorByNationalID(donor.NationalID); ok {
			refreshed, err := tx.UpdateDonor(existing.ID, func(d *Donor) error {
				d.Name = donor.Name
				d.Email = donor.Email
				d.Phone = donor.Phone
				d.Address = donor.Address
				d.BloodType = donor.BloodType
				d.Age = donor.Age
				d.Weight = donor.Weight
				if input.Consent != "" {
					d.Consent = donor.Consent
				}
				return nil
			})
			if err != nil {
				return "", err
			}
			donorID = refreshed.ID
		} else {
			created, err := tx.CreateDonor(donor)
			if err != nil {
				return "", err
			}
			donorID = created.ID
		}
		var err error
		receipt, err = recordDonation(tx, donorID, amount, date)
		return receipt.Donation.ID, err
	})
	return receipt, res, err
}

// ListDonorDonations returns a donor's donations, newest first.
func (s *Service) ListDonorDonations(ctx context.Context, donorID string, page Page) ([]Donation, error) {
	if err := page.validate(); err != nil {
		return nil, err
	}
	var out []Donation
	err := s.read(ctx, "donation.list_donor", func(v TransactionView) error {
		if _, ok := v.FindDonor(donorID); !ok {
			return domain.NotFound(domain.EntityDonor, donorID)
		}
		out = paginate(donationsOf(v, donorID), page)
		return nil
	})
	return out, err
}

// ListOwnDonations returns the caller's donations, newest first. Callers
// without a donor profile get an empty list.
func (s *Service) ListOwnDonations(ctx context.Context, owner OwnerRef) ([]Donation, error) {
	out := []Donation{}
	err := s.read(ctx, "donation.list_own", func(v TransactionView) error {
		donor, ok := findOwnedDonor(v, owner)
		if ok {
			out = donationsOf(v, donor.ID)
		}
		return nil
	})
	return out, err
}

func donationsOf(v domain.RuleView, donorID string) []Donation {
	out := []Donation{}
	for _, d := range v.ListDonations() {
		if d.DonorID == donorID {
			out = append(out, d)
		}
	}
	return out
}

// dayBounds returns the first and last instant of t's calendar day in t's location.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

func donationsOnDate(v domain.RuleView, date time.Time) []Donation {
	start, end := dayBounds(date)
	out := []Donation{}
	for _, d := range v.ListDonations() {
		if !d.Date.Before(start) && !d.Date.After(end) {
			out = append(out, d)
		}
	}
	return out
}

// ListDonationsOnDate returns donations made on date's calendar day, newest first.
func (s *Service) ListDonationsOnDate(ctx context.Context, date time.Time) ([]Donation, error) {
	if date.IsZero() {
		return nil, domain.Errorf(domain.KindInvalidArgument, "date is required")
	}
	var out []Donation
	err := s.read(ctx, "donation.list_on_date", func(v TransactionView) error {
		out = donationsOnDate(v, date)
		return nil
	})
	return out, err
}
