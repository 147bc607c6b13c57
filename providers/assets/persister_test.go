package assets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/providers/storage"
	"github.com/frameloom/frameloom/providers/storage/memstore"
)

// fakeUploader is a deterministic in-memory Uploader.
type fakeUploader struct {
	uploadCalls int
	uploadErr   error
	mimeType    string
}

func (uploader *fakeUploader) Name() string {
	return "durastore"
}

func (uploader *fakeUploader) IsDurableURL(url string) bool {
	return strings.HasPrefix(url, "https://cdn.durastore.example/")
}

func (uploader *fakeUploader) UploadFromURL(ctx context.Context, kind storage.AssetKind, sourceURL string) (*UploadResult, error) {
	uploader.uploadCalls++
	if uploader.uploadErr != nil {
		return nil, uploader.uploadErr
	}
	return &UploadResult{
		URL:      "https://cdn.durastore.example/ingested/" + MimeFamily(kind),
		PublicID: "ingested/" + MimeFamily(kind),
		MimeType: uploader.mimeType,
	}, nil
}

func TestPersistDurableSkipsUploadForDurableURLs(t *testing.T) {
	uploader := &fakeUploader{}
	service := NewService(uploader, memstore.New())

	durableURL := "https://cdn.durastore.example/already/here.png"
	firstAsset, err := service.PersistDurable(context.Background(), PersistRequest{
		UserID:    "user-1",
		Kind:      storage.AssetImage,
		SourceURL: durableURL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uploader.uploadCalls != 0 {
		t.Errorf("durable URL must not be re-uploaded, got %d calls", uploader.uploadCalls)
	}
	if firstAsset.URL != durableURL {
		t.Errorf("expected the source URL to be kept, got %q", firstAsset.URL)
	}

	secondAsset, err := service.PersistDurable(context.Background(), PersistRequest{
		UserID:    "user-1",
		Kind:      storage.AssetImage,
		SourceURL: durableURL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondAsset.ID != firstAsset.ID {
		t.Errorf("upsert must be idempotent: %q vs %q", firstAsset.ID, secondAsset.ID)
	}
}

func TestPersistDurableUploadsEphemeralSources(t *testing.T) {
	uploader := &fakeUploader{mimeType: "image/png"}
	service := NewService(uploader, memstore.New())

	asset, err := service.PersistDurable(context.Background(), PersistRequest{
		UserID:    "user-1",
		Kind:      storage.AssetImage,
		SourceURL: "https://ephemeral.example/out.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uploader.uploadCalls != 1 {
		t.Fatalf("expected one upload, got %d", uploader.uploadCalls)
	}
	if asset.Provider != "durastore" {
		t.Errorf("expected provider durastore, got %q", asset.Provider)
	}
	if asset.MimeType == nil || *asset.MimeType != "image/png" {
		t.Errorf("expected provider mime type, got %v", asset.MimeType)
	}
	if asset.PublicID == nil || *asset.PublicID != "ingested/image" {
		t.Errorf("expected public id, got %v", asset.PublicID)
	}
}

func TestPersistDurableMimeFallbacks(t *testing.T) {
	uploader := &fakeUploader{}
	service := NewService(uploader, memstore.New())

	videoAsset, err := service.PersistDurable(context.Background(), PersistRequest{
		UserID:    "user-1",
		Kind:      storage.AssetVideo,
		SourceURL: "https://ephemeral.example/clip",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if videoAsset.MimeType == nil || *videoAsset.MimeType != FallbackVideoMime {
		t.Errorf("expected video fallback mime, got %v", videoAsset.MimeType)
	}
}

func TestPersistDurableWithoutUploader(t *testing.T) {
	service := NewService(nil, memstore.New())

	_, err := service.PersistDurable(context.Background(), PersistRequest{
		UserID:    "user-1",
		Kind:      storage.AssetImage,
		SourceURL: "https://anywhere.example/x.png",
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	var appError *apperr.Error
	if !errors.As(err, &appError) || appError.Code != apperr.CodeProviderNotConfigured {
		t.Errorf("expected PROVIDER_NOT_CONFIGURED, got %v", err)
	}
}
