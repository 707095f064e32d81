package core

import (
	"bloodledger/pkg/domain"
	"context"
	"strings"
	"time"
)

// Request aliases domain.Request.
type Request = domain.Request

// RequestInput carries the fields of a new blood request.
type RequestInput struct {
	PatientName string         `label:"patient name" validate:"required"`
	RequesterID string         `label:"requester id"`
	BloodType   string         `label:"blood type" validate:"required,bloodtype"`
	Units       int            `label:"units" validate:"gt=0"`
	Urgency     domain.Urgency `label:"urgency" validate:"required,oneof=Low Medium High"`
	RequestDate time.Time      `label:"request date"`
}

func (in RequestInput) toRequest(now time.Time) (Request, error) {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.BloodType = strings.ToUpper(strings.TrimSpace(in.BloodType))
	if err := validateInput(in); err != nil {
		return Request{}, err
	}
	r := Request{
		PatientName: in.PatientName,
		RequesterID: in.RequesterID,
		BloodType:   domain.BloodType(in.BloodType),
		Units:       in.Units,
		Urgency:     in.Urgency,
		Status:      domain.RequestPending,
		RequestDate: in.RequestDate,
	}
	if r.RequestDate.IsZero() {
		r.RequestDate = now
	}
	return r, nil
}

// CreateRequest files a pending request for blood units.
func (s *Service) CreateRequest(ctx context.Context, input RequestInput) (Request, Result, error) {
	request, err := input.toRequest(s.now())
	if err != nil {
		return Request{}, Result{}, err
	}
	var created Request
	res, err := s.mutate(ctx, operation{name: "request.create", entity: domain.EntityRequest, action: domain.ActionCreate}, func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateRequest(request)
		return created.ID, err
	})
	return created, res, err
}

// UpdateRequestStatus moves a request to status. Approval debits the
// requested units in the same transaction and fails with an insufficient
// stock error when they are not available. Approving an approved request
// is a no-op.
func (s *Service) UpdateRequestStatus(ctx context.Context, id string, status domain.RequestStatus) (Request, Result, error) {
	if !status.Valid() {
		return Request{}, Result{}, domain.Errorf(domain.KindInvalidArgument, "invalid request status %q", status)
	}
	var (
		updated Request
		debited *InventoryEntry
	)
	res, err := s.mutate(ctx, operation{name: "request.update_status", entity: domain.EntityRequest, action: domain.ActionUpdate}, func(tx Transaction) (string, error) {
		debited = nil
		current, ok := tx.FindRequest(id)
		if !ok {
			return id, domain.NotFound(domain.EntityRequest, id)
		}
		if status == domain.RequestApproved {
			if current.Status == domain.RequestApproved {
				updated = current
				return id, nil
			}
			entry, err := tx.AdjustInventory(current.BloodType, -current.Units)
			if err != nil {
				return id, err
			}
			debited = &entry
		}
		var err error
		updated, err = tx.UpdateRequest(id, func(r *Request) error {
			r.Status = status
			return nil
		})
		return id, err
	})
	if err == nil && debited != nil {
		s.observeStock(*debited)
	}
	return updated, res, err
}

// DeleteRequest removes an approved or rejected request.
func (s *Service) DeleteRequest(ctx context.Context, id string) (Result, error) {
	return s.mutate(ctx, operation{name: "request.delete", entity: domain.EntityRequest, action: domain.ActionDelete}, func(tx Transaction) (string, error) {
		current, ok := tx.FindRequest(id)
		if !ok {
			return id, domain.NotFound(domain.EntityRequest, id)
		}
		if !current.Status.Deletable() {
			return id, &domain.Error{
				Kind:   domain.KindInvalidState,
				Entity: domain.EntityRequest,
				ID:     id,
				Msg:    "only approved or rejected requests can be deleted, status is " + string(current.Status),
			}
		}
		return id, tx.DeleteRequest(id)
	})
}

// GetRequest returns a request by ID.
func (s *Service) GetRequest(ctx context.Context, id string) (Request, error) {
	var request Request
	err := s.read(ctx, "request.get", func(v TransactionView) error {
		var ok bool
		request, ok = v.FindRequest(id)
		if !ok {
			return domain.NotFound(domain.EntityRequest, id)
		}
		return nil
	})
	return request, err
}

// ListRequests returns requests, most recent first.
func (s *Service) ListRequests(ctx context.Context) ([]Request, error) {
	var requests []Request
	err := s.read(ctx, "request.list", func(v TransactionView) error {
		requests = v.ListRequests()
		return nil
	})
	return requests, err
}
