package core

import (
	"bloodledger/pkg/domain"
	"context"
	"sort"
	"time"
)

// DonorAvailability counts potential donors of one blood type. It is a
// projection over donors and never reflects stock.
type DonorAvailability struct {
	BloodType  domain.BloodType
	Donors     int
	SnapshotAt time.Time
}

// LeaderboardEntry is one ranked donor.
type LeaderboardEntry struct {
	Rank           int
	DonorID        string
	Name           string
	BloodType      domain.BloodType
	TotalDonations int
	Points         int
	Badge          domain.Badge
	Status         domain.DonorStatus
}

// ListPotentialDonors counts consenting donors able to donate now, with one
// entry per blood type including empty ones.
func (s *Service) ListPotentialDonors(ctx context.Context) ([]DonorAvailability, error) {
	now := s.now()
	counts := make(map[domain.BloodType]int)
	err := s.read(ctx, "projection.potential_donors", func(v TransactionView) error {
		for _, donor := range v.ListDonors() {
			if domain.IsPotentialDonor(donor, now) {
				counts[donor.BloodType]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	types := domain.BloodTypes()
	out := make([]DonorAvailability, 0, len(types))
	for _, bt := range types {
		out = append(out, DonorAvailability{BloodType: bt, Donors: counts[bt], SnapshotAt: now})
	}
	return out, nil
}

// RankDonors orders donors by total donations. Ties keep registration order.
func (s *Service) RankDonors(ctx context.Context) ([]LeaderboardEntry, error) {
	now := s.now()
	var donors []Donor
	err := s.read(ctx, "projection.rank_donors", func(v TransactionView) error {
		donors = v.ListDonors()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(donors, func(i, j int) bool {
		return donors[i].TotalDonations > donors[j].TotalDonations
	})
	out := make([]LeaderboardEntry, 0, len(donors))
	for i, d := range donors {
		out = append(out, LeaderboardEntry{
			Rank:           i + 1,
			DonorID:        d.ID,
			Name:           d.Name,
			BloodType:      d.BloodType,
			TotalDonations: d.TotalDonations,
			Points:         domain.PointsFor(d.TotalDonations),
			Badge:          domain.BadgeFor(d.TotalDonations),
			Status:         domain.CurrentStatus(d, now),
		})
	}
	return out, nil
}
