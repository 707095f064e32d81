// Package photos stores donor and event photos in a blob store and records
// the resulting references in the ledger.
package photos

import (
	"bloodledger/internal/blob"
	"bloodledger/internal/core"
	"bloodledger/pkg/domain"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxPhotoBytes is the largest accepted upload.
const MaxPhotoBytes = 5 << 20

// Ledger is the subset of the ledger service the uploader records references through.
type Ledger interface {
	FindByOwner(ctx context.Context, owner core.OwnerRef) (core.Donor, error)
	AttachDonorPhoto(ctx context.Context, owner core.OwnerRef, photoRef string) (core.Donor, core.Result, error)
	AddEventPhotos(ctx context.Context, id string, refs []string) (core.Event, core.Result, error)
	RemoveEventPhoto(ctx context.Context, id, ref string) ([]string, core.Result, error)
}

// Upload is one photo file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Uploader writes photos to a blob store before attaching their references.
// Blobs are removed again when the ledger rejects the reference.
type Uploader struct {
	store  blob.Store
	ledger Ledger
	logger core.Logger
	newKey func(prefix, ext string) string
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger used for best-effort blob cleanup failures.
func WithLogger(logger core.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New builds an uploader.
func New(store blob.Store, ledger Ledger, opts ...Option) *Uploader {
	u := &Uploader{
		store:  store,
		ledger: ledger,
		logger: discardLogger{},
		newKey: func(prefix, ext string) string { return prefix + "/" + uuid.NewString() + ext },
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// read validates the upload and buffers at most MaxPhotoBytes of it.
func read(up Upload) ([]byte, string, error) {
	contentType := strings.ToLower(strings.TrimSpace(up.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", domain.Errorf(domain.KindInvalidArgument, "only image uploads are allowed, got %q", up.ContentType)
	}
	if up.Body == nil {
		return nil, "", domain.Errorf(domain.KindInvalidArgument, "no image uploaded")
	}
	data, err := io.ReadAll(io.LimitReader(up.Body, MaxPhotoBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", domain.Errorf(domain.KindInvalidArgument, "no image uploaded")
	}
	if len(data) > MaxPhotoBytes {
		return nil, "", domain.Errorf(domain.KindInvalidArgument, "image exceeds %d bytes", MaxPhotoBytes)
	}
	return data, contentType, nil
}

func (u *Uploader) put(ctx context.Context, prefix string, up Upload, meta map[string]string) (string, error) {
	data, contentType, err := read(up)
	if err != nil {
		return "", err
	}
	key := u.newKey(prefix, strings.ToLower(path.Ext(up.Filename)))
	if _, err := u.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType, Metadata: meta}); err != nil {
		if errors.Is(err, blob.ErrInvalidKey) {
			return "", domain.Wrap(err, domain.KindInvalidArgument, "invalid photo name")
		}
		return "", domain.Wrap(err, domain.KindTransient, "store photo")
	}
	return key, nil
}

func (u *Uploader) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if _, err := u.store.Delete(ctx, key); err != nil {
			u.logger.Warn("photo cleanup failed", "key", key, "error", err)
		}
	}
}

// UploadDonorPhoto stores the caller's profile photo and attaches it. A
// previously attached photo is deleted once the new one is recorded.
func (u *Uploader) UploadDonorPhoto(ctx context.Context, owner core.OwnerRef, up Upload) (core.Donor, error) {
	previous := ""
	if donor, err := u.ledger.FindByOwner(ctx, owner); err == nil {
		previous = donor.PhotoRef
	} else if !errors.Is(err, domain.ErrNotFound) {
		return core.Donor{}, err
	}
	key, err := u.put(ctx, "donors", up, map[string]string{"owner": owner.UserID})
	if err != nil {
		return core.Donor{}, err
	}
	donor, _, err := u.ledger.AttachDonorPhoto(ctx, owner, key)
	if err != nil {
		u.discard(ctx, key)
		return core.Donor{}, err
	}
	if previous != "" && previous != key {
		u.discard(ctx, previous)
	}
	return donor, nil
}

// UploadEventPhotos stores several photos and appends them to an event in one step.
func (u *Uploader) UploadEventPhotos(ctx context.Context, eventID string, uploads []Upload) (core.Event, error) {
	if len(uploads) == 0 {
		return core.Event{}, domain.Errorf(domain.KindInvalidArgument, "no images uploaded")
	}
	keys := make([]string, 0, len(uploads))
	for _, up := range uploads {
		key, err := u.put(ctx, "events/"+eventID, up, map[string]string{"event": eventID})
		if err != nil {
			u.discard(ctx, keys...)
			return core.Event{}, err
		}
		keys = append(keys, key)
	}
	event, _, err := u.ledger.AddEventPhotos(ctx, eventID, keys)
	if err != nil {
		u.discard(ctx, keys...)
		return core.Event{}, err
	}
	return event, nil
}

// RemoveEventPhoto detaches a photo from an event and deletes its blob.
func (u *Uploader) RemoveEventPhoto(ctx context.Context, eventID, ref string) ([]string, error) {
	remaining, _, err := u.ledger.RemoveEventPhoto(ctx, eventID, ref)
	if err != nil {
		return nil, err
	}
	u.discard(ctx, ref)
	return remaining, nil
}

// URL returns a link clients can fetch the photo from.
func (u *Uploader) URL(ctx context.Context, ref string) (string, error) {
	return u.store.PresignURL(ctx, ref, blob.SignedURLOptions{})
}
