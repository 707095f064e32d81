package domain

import "time"

// EligibilityWindowMonths is the deferral between two donations.
const EligibilityWindowMonths = 6

// PointsPerDonation is the score awarded per recorded donation.
const PointsPerDonation = 100

// lastDonationLayout is the persisted format of Donor.LastDonation.
const lastDonationLayout = time.DateOnly

// Badge is the leaderboard tier derived from a donor's donation count.
type Badge string

// Badge tiers from highest to lowest.
const (
	BadgeGold     Badge = "Gold"
	BadgeSilver   Badge = "Silver"
	BadgeBronze   Badge = "Bronze"
	BadgeBeginner Badge = "Beginner"
)

// BadgeFor maps a donation count to its tier.
func BadgeFor(total int) Badge {
	switch {
	case total >= 20:
		return BadgeGold
	case total >= 10:
		return BadgeSilver
	case total >= 5:
		return BadgeBronze
	default:
		return BadgeBeginner
	}
}

// PointsFor returns the score for a donation count.
func PointsFor(total int) int {
	return total * PointsPerDonation
}

// AddMonths adds calendar months keeping the day of month, clipped to the
// last day of shorter months (Aug 31 + 6 months = Feb 28/29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// FormatDonationDate renders a date in the LastDonation format.
func FormatDonationDate(t time.Time) string {
	return t.Format(lastDonationLayout)
}

// ParseLastDonation parses a stored LastDonation value. It reports false for
// the Never sentinel and for legacy values that cannot be parsed.
func ParseLastDonation(raw string) (time.Time, bool) {
	if raw == "" || raw == NeverDonated {
		return time.Time{}, false
	}
	for _, layout := range []string{lastDonationLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ApplyDonation returns the donor with the donation-derived fields advanced
// by one donation made on date.
func ApplyDonation(d Donor, date time.Time) Donor {
	d = d.Clone()
	d.TotalDonations++
	d.Points = PointsFor(d.TotalDonations)
	d.LastDonation = FormatDonationDate(date)
	next := AddMonths(date, EligibilityWindowMonths)
	d.NextEligibleDate = &next
	d.Status = DonorIneligible
	return d
}

// CurrentStatus derives eligibility at now from the next eligible date.
func CurrentStatus(d Donor, now time.Time) DonorStatus {
	if d.NextEligibleDate != nil && now.Before(*d.NextEligibleDate) {
		return DonorIneligible
	}
	return DonorEligible
}

// IsPotentialDonor reports whether the donor consented and may donate again
// at now. A passed NextEligibleDate re-qualifies the donor even when the
// simple six month subtraction disagrees.
func IsPotentialDonor(d Donor, now time.Time) bool {
	if d.Consent != ConsentYes {
		return false
	}
	last, ok := ParseLastDonation(d.LastDonation)
	if !ok {
		return true
	}
	if d.NextEligibleDate != nil && !d.NextEligibleDate.After(now) {
		return true
	}
	return !last.After(AddMonths(now, -EligibilityWindowMonths))
}
