package core

import (
	"bloodledger/pkg/domain"
	"context"
	"slices"
	"strings"
	"time"
)

// Event aliases domain.Event.
type Event = domain.Event

// EventInput carries the fields of a new donation drive.
type EventInput struct {
	Title       string    `label:"event title" validate:"required"`
	Description string    `label:"description"`
	Date        time.Time `label:"event date" validate:"required"`
	Location    string    `label:"location"`
	Organizer   string    `label:"organizer"`
	Photos      []string  `label:"photos"`
}

func (in EventInput) toEvent() (Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateInput(in); err != nil {
		return Event{}, err
	}
	photos, err := cleanRefs(in.Photos)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date,
		Location:    strings.TrimSpace(in.Location),
		Organizer:   strings.TrimSpace(in.Organizer),
		Photos:      photos,
	}, nil
}

func cleanRefs(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, domain.Errorf(domain.KindInvalidArgument, "photo reference must not be empty")
		}
		out = append(out, ref)
	}
	return out, nil
}

// CreateEvent schedules a donation drive.
func (s *Service) CreateEvent(ctx context.Context, input EventInput) (Event, Result, error) {
	event, err := input.toEvent()
	if err != nil {
		return Event{}, Result{}, err
	}
	var created Event
	res, err := s.mutate(ctx, operation{name: "event.create", entity: domain.EntityEvent, action: domain.ActionCreate}, func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateEvent(event)
		return created.ID, err
	})
	return created, res, err
}

// GetEvent returns an event by ID.
func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	var event Event
	err := s.read(ctx, "event.get", func(v TransactionView) error {
		var ok bool
		event, ok = v.FindEvent(id)
		if !ok {
			return domain.NotFound(domain.EntityEvent, id)
		}
		return nil
	})
	return event, err
}

// ListEvents returns events by date, earliest first.
func (s *Service) ListEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	err := s.read(ctx, "event.list", func(v TransactionView) error {
		events = v.ListEvents()
		return nil
	})
	return events, err
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, id string) (Result, error) {
	return s.mutate(ctx, operation{name: "event.delete", entity: domain.EntityEvent, action: domain.ActionDelete}, func(tx Transaction) (string, error) {
		return id, tx.DeleteEvent(id)
	})
}

// AddEventPhotos appends photo references to an event.
func (s *Service) AddEventPhotos(ctx context.Context, id string, refs []string) (Event, Result, error) {
	refs, err := cleanRefs(refs)
	if err != nil {
		return Event{}, Result{}, err
	}
	if len(refs) == 0 {
		return Event{}, Result{}, domain.Errorf(domain.KindInvalidArgument, "at least one photo reference is required")
	}
	var updated Event
	res, err := s.mutate(ctx, operation{name: "event.add_photos", entity: domain.EntityEvent, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateEvent(id, func(e *Event) error {
			e.Photos = append(e.Photos, refs...)
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// RemoveEventPhoto detaches one photo reference and returns the remaining ones.
func (s *Service) RemoveEventPhoto(ctx context.Context, id, ref string) ([]string, Result, error) {
	var remaining []string
	res, err := s.mutate(ctx, operation{name: "event.remove_photo", entity: domain.EntityEvent, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		updated, err := tx.UpdateEvent(id, func(e *Event) error {
			idx := slices.Index(e.Photos, ref)
			if idx < 0 {
				return &domain.Error{Kind: domain.KindNotFound, Entity: domain.EntityEvent, ID: id, Msg: "photo " + ref + " not found"}
			}
			e.Photos = slices.Delete(e.Photos, idx, idx+1)
			return nil
		})
		remaining = updated.Photos
		return id, err
	})
	return remaining, res, err
}

// ListEventDonations returns the donations made on the event's day.
func (s *Service) ListEventDonations(ctx context.Context, id string) ([]Donation, error) {
	var out []Donation
	err := s.read(ctx, "event.list_donations", func(v TransactionView) error {
		event, ok := v.FindEvent(id)
		if !ok {
			return domain.NotFound(domain.EntityEvent, id)
		}
		out = donationsOnDate(v, event.Date)
		return nil
	})
	return out, err
}
