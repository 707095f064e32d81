package core

import (
	"bloodledger/pkg/domain"
	"context"
	"testing"
)

func TestListPotentialDonors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mustCreateDonor(t, svc, donorInput("yes-never", "O+"))
	noConsent := donorInput("no-never", "O+")
	noConsent.Consent = domain.ConsentNo
	mustCreateDonor(t, svc, noConsent)
	recent := mustCreateDonor(t, svc, donorInput("recent", "O+"))
	if _, _, err := svc.RecordDonation(ctx, recent.ID, 1, day(2024, 1, 10)); err != nil {
		t.Fatalf("record: %v", err)
	}
	old := donorInput("old", "AB-")
	old.LastDonation = "2023-11-01"
	mustCreateDonor(t, svc, old)

	got, err := svc.ListPotentialDonors(ctx)
	if err != nil {
		t.Fatalf("potential donors: %v", err)
	}
	types := domain.BloodTypes()
	if len(got) != len(types) {
		t.Fatalf("expected one entry per blood type, got %d", len(got))
	}
	counts := make(map[domain.BloodType]int)
	for i, entry := range got {
		if entry.BloodType != types[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, types[i], entry.BloodType)
		}
		if !entry.SnapshotAt.Equal(fixedNow) {
			t.Fatalf("unexpected snapshot time %v", entry.SnapshotAt)
		}
		counts[entry.BloodType] = entry.Donors
	}
	if counts[domain.BloodOPos] != 1 {
		t.Fatalf("expected only the consenting never-donated O+ donor, got %d", counts[domain.BloodOPos])
	}
	if counts[domain.BloodABNeg] != 1 {
		t.Fatalf("expected the AB- donor outside the deferral window, got %d", counts[domain.BloodABNeg])
	}
	if counts[domain.BloodANeg] != 0 {
		t.Fatalf("expected empty A- entry, got %d", counts[domain.BloodANeg])
	}
}

func TestPotentialDonorsIgnoreStock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, _, err := svc.AddStock(ctx, "B-", 10); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := svc.ListPotentialDonors(ctx)
	if err != nil {
		t.Fatalf("potential donors: %v", err)
	}
	for _, entry := range got {
		if entry.Donors != 0 {
			t.Fatalf("expected no donors for %s, got %d", entry.BloodType, entry.Donors)
		}
	}
}

func TestRankDonors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	first := mustCreateDonor(t, svc, donorInput("first", "A+"))
	second := mustCreateDonor(t, svc, donorInput("second", "B+"))
	third := mustCreateDonor(t, svc, donorInput("third", "O-"))
	for i := 0; i < 5; i++ {
		if _, _, err := svc.RecordDonation(ctx, third.ID, 1, day(2023, 1, 1+i)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, _, err := svc.RecordDonation(ctx, second.ID, 1, day(2024, 5, 1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := svc.RecordDonation(ctx, first.ID, 1, day(2023, 1, 1)); err != nil {
		t.Fatalf("record: %v", err)
	}

	board, err := svc.RankDonors(ctx)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(board))
	}
	top := board[0]
	if top.DonorID != third.ID || top.Rank != 1 || top.Points != 500 || top.Badge != domain.BadgeBronze {
		t.Fatalf("unexpected leader %+v", top)
	}
	if top.Status != domain.DonorEligible {
		t.Fatalf("expected deferral of the leader to have lapsed, got %s", top.Status)
	}
	// Tied donors keep registration order.
	if board[1].DonorID != first.ID || board[2].DonorID != second.ID {
		t.Fatalf("expected tie order first, second; got %s, %s", board[1].Name, board[2].Name)
	}
	if board[2].Status != domain.DonorIneligible || board[2].Badge != domain.BadgeBeginner || board[2].Rank != 3 {
		t.Fatalf("unexpected third entry %+v", board[2])
	}
}

func TestRankDonorsEmpty(t *testing.T) {
	board, err := newTestService(t).RankDonors(context.Background())
	if err != nil || len(board) != 0 {
		t.Fatalf("expected empty leaderboard, got %+v %v", board, err)
	}
}
