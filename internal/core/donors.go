package core

import (
	"bloodledger/pkg/domain"
	"context"
	"strings"
)

// Donor aliases domain.Donor.
type Donor = domain.Donor

// OwnerRef identifies the authenticated caller of a self-service operation.
// Email is the fallback match for donors registered before accounts existed.
type OwnerRef struct {
	UserID string
	Email  string
}

// DonorInput carries the profile fields of a new donor.
type DonorInput struct {
	NationalID   string         `label:"national id" validate:"required"`
	Name         string         `label:"name" validate:"required"`
	Email        string         `label:"email" validate:"required,email"`
	Phone        string         `label:"phone" validate:"required"`
	Address      string         `label:"address" validate:"required"`
	BloodType    string         `label:"blood type" validate:"required,bloodtype"`
	Age          int            `label:"age" validate:"gt=0"`
	Weight       float64        `label:"weight" validate:"gt=0"`
	Consent      domain.Consent `label:"consent" validate:"required,oneof=Yes No"`
	LastDonation string         `label:"last donation"`
}

// DonorPatch updates the non-nil profile fields of a donor. Donation-derived
// fields are not patchable.
type DonorPatch struct {
	NationalID *string
	Name       *string
	Email      *string
	Phone      *string
	Address    *string
	BloodType  *string
	Age        *int
	Weight     *float64
	Consent    *domain.Consent
}

// normalized trims text fields and upper-cases the blood type label.
func (in DonorInput) normalized() DonorInput {
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.BloodType = strings.ToUpper(strings.TrimSpace(in.BloodType))
	in.LastDonation = strings.TrimSpace(in.LastDonation)
	return in
}

// toDonor validates input and applies registration defaults.
func (in DonorInput) toDonor(defaultConsent domain.Consent) (Donor, error) {
	in = in.normalized()
	if in.Consent == "" {
		in.Consent = defaultConsent
	}
	if err := validateInput(in); err != nil {
		return Donor{}, err
	}
	switch in.LastDonation {
	case "", domain.NeverDonated:
		in.LastDonation = domain.NeverDonated
	default:
		if _, ok := domain.ParseLastDonation(in.LastDonation); !ok {
			return Donor{}, domain.Errorf(domain.KindInvalidArgument, "invalid last donation date %q", in.LastDonation)
		}
	}
	return Donor{
		NationalID:   in.NationalID,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		Address:      in.Address,
		BloodType:    domain.BloodType(in.BloodType),
		Age:          in.Age,
		Weight:       in.Weight,
		Consent:      in.Consent,
		LastDonation: in.LastDonation,
		Status:       domain.DonorEligible,
	}, nil
}

// fields names the DonorInput fields the patch sets.
func (p DonorPatch) fields() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(p.NationalID != nil, "NationalID")
	add(p.Name != nil, "Name")
	add(p.Email != nil, "Email")
	add(p.Phone != nil, "Phone")
	add(p.Address != nil, "Address")
	add(p.BloodType != nil, "BloodType")
	add(p.Age != nil, "Age")
	add(p.Weight != nil, "Weight")
	add(p.Consent != nil, "Consent")
	return names
}

// apply validates the set fields and copies them onto d.
func (p DonorPatch) apply(d *Donor) error {
	in := p.asInput().normalized()
	if err := validatePartial(in, p.fields()...); err != nil {
		return err
	}
	if p.NationalID != nil {
		d.NationalID = in.NationalID
	}
	if p.Name != nil {
		d.Name = in.Name
	}
	if p.Email != nil {
		d.Email = in.Email
	}
	if p.Phone != nil {
		d.Phone = in.Phone
	}
	if p.Address != nil {
		d.Address = in.Address
	}
	if p.BloodType != nil {
		d.BloodType = domain.BloodType(in.BloodType)
	}
	if p.Age != nil {
		d.Age = in.Age
	}
	if p.Weight != nil {
		d.Weight = in.Weight
	}
	if p.Consent != nil {
		d.Consent = in.Consent
	}
	return nil
}

// asInput fills a full registration from the patch for self-service creation.
func (p DonorPatch) asInput() DonorInput {
	var in DonorInput
	if p.NationalID != nil {
		in.NationalID = *p.NationalID
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Email != nil {
		in.Email = *p.Email
	}
	if p.Phone != nil {
		in.Phone = *p.Phone
	}
	if p.Address != nil {
		in.Address = *p.Address
	}
	if p.BloodType != nil {
		in.BloodType = *p.BloodType
	}
	if p.Age != nil {
		in.Age = *p.Age
	}
	if p.Weight != nil {
		in.Weight = *p.Weight
	}
	if p.Consent != nil {
		in.Consent = *p.Consent
	}
	return in
}

// CreateDonor registers a donor on behalf of an administrator. Consent
// defaults to Yes.
func (s *Service) CreateDonor(ctx context.Context, input DonorInput) (Donor, Result, error) {
	donor, err := input.toDonor(domain.ConsentYes)
	if err != nil {
		return Donor{}, Result{}, err
	}
	var created Donor
	res, err := s.mutate(ctx, operation{name: "donor.create", entity: domain.EntityDonor, action: domain.ActionCreate}, func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateDonor(donor)
		return created.ID, err
	})
	return created, res, err
}

// UpdateDonorProfile applies a profile patch to a donor.
func (s *Service) UpdateDonorProfile(ctx context.Context, id string, patch DonorPatch) (Donor, Result, error) {
	var updated Donor
	res, err := s.mutate(ctx, operation{name: "donor.update", entity: domain.EntityDonor, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateDonor(id, patch.apply)
		return id, err
	})
	return updated, res, err
}

// DeleteDonor removes a donor together with its donations.
func (s *Service) DeleteDonor(ctx context.Context, id string) (Result, error) {
	return s.mutate(ctx, operation{name: "donor.delete", entity: domain.EntityDonor, action: domain.ActionDelete}, func(tx Transaction) (string, error) {
		if _, ok := tx.FindDonor(id); !ok {
			return id, domain.NotFound(domain.EntityDonor, id)
		}
		for _, donation := range tx.ListDonationsByDonor(id) {
			if err := tx.DeleteDonation(donation.ID); err != nil {
				return id, err
			}
		}
		return id, tx.DeleteDonor(id)
	})
}

// GetDonor returns a donor by ID.
func (s *Service) GetDonor(ctx context.Context, id string) (Donor, error) {
	var donor Donor
	err := s.read(ctx, "donor.get", func(v TransactionView) error {
		var ok bool
		donor, ok = v.FindDonor(id)
		if !ok {
			return domain.NotFound(domain.EntityDonor, id)
		}
		return nil
	})
	return donor, err
}

// ListDonors returns donors in registration order.
func (s *Service) ListDonors(ctx context.Context) ([]Donor, error) {
	var donors []Donor
	err := s.read(ctx, "donor.list", func(v TransactionView) error {
		donors = v.ListDonors()
		return nil
	})
	return donors, err
}

// FindByIdentity returns the donor registered under a national ID.
func (s *Service) FindByIdentity(ctx context.Context, nationalID string) (Donor, error) {
	var donor Donor
	err := s.read(ctx, "donor.find_identity", func(v TransactionView) error {
		var ok bool
		donor, ok = v.FindDonorByNationalID(strings.TrimSpace(nationalID))
		if !ok {
			return domain.NotFound(domain.EntityDonor, nationalID)
		}
		return nil
	})
	return donor, err
}

// FindByOwner resolves the caller's donor profile.
func (s *Service) FindByOwner(ctx context.Context, owner OwnerRef) (Donor, error) {
	var donor Donor
	err := s.read(ctx, "donor.find_owner", func(v TransactionView) error {
		var ok bool
		donor, ok = findOwnedDonor(v, owner)
		if !ok {
			return domain.NotFound(domain.EntityDonor, owner.UserID)
		}
		return nil
	})
	return donor, err
}

// findOwnedDonor prefers the direct owner link and falls back to a
// case-insensitive email match among donors that are not linked yet.
func findOwnedDonor(v domain.RuleView, owner OwnerRef) (Donor, bool) {
	donors := v.ListDonors()
	if owner.UserID != "" {
		for _, d := range donors {
			if d.OwnerID == owner.UserID {
				return d, true
			}
		}
	}
	email := strings.TrimSpace(owner.Email)
	if email == "" {
		return Donor{}, false
	}
	for _, d := range donors {
		if d.OwnerID == "" && strings.EqualFold(d.Email, email) {
			return d, true
		}
	}
	return Donor{}, false
}

// UpsertOwnProfile edits the caller's donor profile, creating it from the
// patch when none exists. A fallback email match links the profile to the caller.
func (s *Service) UpsertOwnProfile(ctx context.Context, owner OwnerRef, patch DonorPatch) (Donor, Result, error) {
	if strings.TrimSpace(owner.UserID) == "" {
		return Donor{}, Result{}, domain.Errorf(domain.KindInvalidArgument, "owner id is required")
	}
	var saved Donor
	res, err := s.mutate(ctx, operation{name: "donor.upsert_own", entity: domain.EntityDonor, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		existing, ok := findOwnedDonor(tx.Snapshot(), owner)
		var err error
		if ok {
			saved, err = tx.UpdateDonor(existing.ID, func(d *Donor) error {
				if err := patch.apply(d); err != nil {
					return err
				}
				d.OwnerID = owner.UserID
				return nil
			})
			return existing.ID, err
		}
		input := patch.asInput()
		if input.Email == "" {
			input.Email = owner.Email
		}
		donor, err := input.toDonor(domain.ConsentNo)
		if err != nil {
			return "", err
		}
		donor.OwnerID = owner.UserID
		saved, err = tx.CreateDonor(donor)
		return saved.ID, err
	})
	return saved, res, err
}

// AttachDonorPhoto records the photo reference on the caller's profile.
func (s *Service) AttachDonorPhoto(ctx context.Context, owner OwnerRef, photoRef string) (Donor, Result, error) {
	photoRef = strings.TrimSpace(photoRef)
	if photoRef == "" {
		return Donor{}, Result{}, domain.Errorf(domain.KindInvalidArgument, "photo reference is required")
	}
	var updated Donor
	res, err := s.mutate(ctx, operation{name: "donor.attach_photo", entity: domain.EntityDonor, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		existing, ok := findOwnedDonor(tx.Snapshot(), owner)
		if !ok {
			return "", domain.NotFound(domain.EntityDonor, owner.UserID)
		}
		var err error
		updated, err = tx.UpdateDonor(existing.ID, func(d *Donor) error {
			d.PhotoRef = photoRef
			if d.OwnerID == "" {
				d.OwnerID = owner.UserID
			}
			return nil
		})
		return existing.ID, err
	})
	return updated, res, err
}
