package photos

import (
	"bloodledger/internal/blob"
	"bloodledger/internal/core"
	"bloodledger/pkg/domain"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newFixture(t *testing.T) (*Uploader, *core.Service, blob.Store) {
	t.Helper()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine())
	store := blob.NewMemory()
	return New(store, svc), svc, store
}

func png(body string) Upload {
	return Upload{Filename: "Me.PNG", ContentType: "image/png", Body: strings.NewReader(body)}
}

func TestUploadDonorPhotoReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	up, svc, store := newFixture(t)
	owner := core.OwnerRef{UserID: "u1", Email: "ana@example.com"}
	if _, _, err := svc.CreateDonor(ctx, core.DonorInput{
		NationalID: "N-1", Name: "Ana", Email: "ana@example.com", Phone: "555",
		Address: "Main St", BloodType: "O+", Age: 30, Weight: 60,
	}); err != nil {
		t.Fatalf("create donor: %v", err)
	}

	first, err := up.UploadDonorPhoto(ctx, owner, png("one"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if !strings.HasPrefix(first.PhotoRef, "donors/") || !strings.HasSuffix(first.PhotoRef, ".png") {
		t.Fatalf("unexpected ref %q", first.PhotoRef)
	}
	if first.OwnerID != "u1" {
		t.Fatalf("expected owner link, got %q", first.OwnerID)
	}
	second, err := up.UploadDonorPhoto(ctx, owner, png("two"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.PhotoRef == first.PhotoRef {
		t.Fatalf("expected a fresh key")
	}
	if _, err := store.Head(ctx, first.PhotoRef); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected previous photo removed, got %v", err)
	}
	if _, err := store.Head(ctx, second.PhotoRef); err != nil {
		t.Fatalf("expected new photo stored: %v", err)
	}
}

func TestUploadDonorPhotoWithoutProfileLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	up, _, store := newFixture(t)
	_, err := up.UploadDonorPhoto(ctx, core.OwnerRef{UserID: "ghost"}, png("x"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected orphan blob cleanup, got %+v", list)
	}
}

func TestUploadRejectsNonImagesAndOversize(t *testing.T) {
	cases := map[string]Upload{
		"text":     {Filename: "a.txt", ContentType: "text/plain", Body: strings.NewReader("x")},
		"empty":    {Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("")},
		"nil body": {Filename: "a.png", ContentType: "image/png"},
		"too big":  {Filename: "a.png", ContentType: "image/png", Body: bytes.NewReader(make([]byte, MaxPhotoBytes+1))},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := read(in); domain.KindOf(err) != domain.KindInvalidArgument {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
	data, contentType, err := read(Upload{ContentType: "Image/JPEG", Body: bytes.NewReader(make([]byte, MaxPhotoBytes))})
	if err != nil || len(data) != MaxPhotoBytes || contentType != "image/jpeg" {
		t.Fatalf("expected limit-sized upload accepted: len=%d type=%q err=%v", len(data), contentType, err)
	}
}

func TestEventPhotoLifecycle(t *testing.T) {
	ctx := context.Background()
	up, svc, store := newFixture(t)
	event, _, err := svc.CreateEvent(ctx, core.EventInput{Title: "Drive", Date: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	updated, err := up.UploadEventPhotos(ctx, event.ID, []Upload{png("a"), {Filename: "b.jpg", ContentType: "image/jpeg", Body: strings.NewReader("b")}})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(updated.Photos) != 2 {
		t.Fatalf("expected two photos, got %v", updated.Photos)
	}
	for _, ref := range updated.Photos {
		if !strings.HasPrefix(ref, "events/"+event.ID+"/") {
			t.Fatalf("unexpected ref %q", ref)
		}
	}
	if _, err := up.URL(ctx, updated.Photos[0]); !errors.Is(err, blob.ErrUnsupported) {
		t.Fatalf("expected memory store to refuse presigning, got %v", err)
	}

	remaining, err := up.RemoveEventPhoto(ctx, event.ID, updated.Photos[0])
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != updated.Photos[1] {
		t.Fatalf("unexpected remaining %v", remaining)
	}
	if _, err := store.Head(ctx, updated.Photos[0]); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected blob deleted, got %v", err)
	}
	if _, err := up.RemoveEventPhoto(ctx, event.ID, "events/nope.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing photo error, got %v", err)
	}
}

func TestUploadEventPhotosRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	up, _, store := newFixture(t)
	if _, err := up.UploadEventPhotos(ctx, "missing", []Upload{png("a")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	event, _, _ := up.ledger.(*core.Service).CreateEvent(ctx, core.EventInput{Title: "Drive", Date: time.Now()})
	_, err := up.UploadEventPhotos(ctx, event.ID, []Upload{png("a"), {Filename: "x.txt", ContentType: "text/plain", Body: strings.NewReader("x")}})
	if domain.KindOf(err) != domain.KindInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	list, _ := store.List(ctx, "")
	if len(list) != 0 {
		t.Fatalf("expected no stored blobs, got %+v", list)
	}
	if _, err := up.UploadEventPhotos(ctx, event.ID, nil); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Fatalf("expected invalid argument for empty batch, got %v", err)
	}
}
