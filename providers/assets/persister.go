package assets

import (
	"context"
	"strings"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/providers/observability"
	"github.com/frameloom/frameloom/providers/storage"
)

// MIME fallbacks applied when neither the provider response nor the caller
// supplies a type.
const (
	FallbackImageMime = "image/jpeg"
	FallbackVideoMime = "video/mp4"
)

// PersistRequest describes one media URL to make durable.
type PersistRequest struct {
	// UserID owns the resulting asset row.
	UserID string

	// Kind is the expected media kind of the source.
	Kind storage.AssetKind

	// SourceURL is the file to persist. It may be an ephemeral worker URL, a
	// base64 data URL, or already a durable provider URL.
	SourceURL string

	// AssemblyID links the asset to the assembly that produced it, if any.
	AssemblyID *string

	// MimeHint is used when the provider response carries no MIME type.
	MimeHint string
}

// Persister turns a source URL into a stored durable asset.
type Persister interface {
	PersistDurable(ctx context.Context, request PersistRequest) (*storage.Asset, error)
}

// UploadResult is the durable provider's reply to an upload-from-URL call.
type UploadResult struct {
	URL        string
	PublicID   string
	MimeType   string
	Bytes      *int64
	Width      *int
	Height     *int
	DurationMS *int64
}

// Uploader is the durable asset provider's upload API.
type Uploader interface {
	// Name identifies the provider ("cloudinary", ...) for asset rows.
	Name() string

	// IsDurableURL reports whether the URL is already hosted by this provider.
	IsDurableURL(url string) bool

	// UploadFromURL ingests the source into durable storage.
	UploadFromURL(ctx context.Context, kind storage.AssetKind, sourceURL string) (*UploadResult, error)
}

// Service implements Persister on top of an Uploader and the asset store.
type Service struct {
	uploader Uploader
	store    storage.Store
}

// Compile-time check that Service implements Persister.
var _ Persister = (*Service)(nil)

// NewService creates the persister. A nil uploader means the durable provider
// is not configured; persistence calls will fail with PROVIDER_NOT_CONFIGURED.
func NewService(uploader Uploader, store storage.Store) *Service {
	return &Service{uploader: uploader, store: store}
}

// PersistDurable makes the source URL durable and upserts the asset row.
// Already-durable URLs skip the upload and upsert directly, which keeps the
// operation idempotent across repeated runs.
func (service *Service) PersistDurable(ctx context.Context, request PersistRequest) (*storage.Asset, error) {
	if service.uploader == nil {
		return nil, apperr.ProviderNotConfigured("durable-store")
	}

	observer := observability.FromContext(ctx)

	if service.uploader.IsDurableURL(request.SourceURL) {
		asset := &storage.Asset{
			UserID:     request.UserID,
			Kind:       request.Kind,
			URL:        request.SourceURL,
			Provider:   service.uploader.Name(),
			AssemblyID: request.AssemblyID,
			MimeType:   mimeOrFallback("", request.MimeHint, request.Kind),
		}
		stored, err := service.store.UpsertAssetByProviderURL(ctx, asset)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		return stored, nil
	}

	uploaded, err := service.uploader.UploadFromURL(ctx, request.Kind, request.SourceURL)
	if err != nil {
		observer.Warn(ctx, "asset.upload.failed",
			observability.String("kind", string(request.Kind)),
			observability.Error(err),
		)
		return nil, apperr.Wrap(err, apperr.CodeInternal, 500, "failed to upload %s to durable storage", request.Kind)
	}

	publicID := uploaded.PublicID
	asset := &storage.Asset{
		UserID:     request.UserID,
		Kind:       request.Kind,
		URL:        uploaded.URL,
		Provider:   service.uploader.Name(),
		AssemblyID: request.AssemblyID,
		MimeType:   mimeOrFallback(uploaded.MimeType, request.MimeHint, request.Kind),
		Bytes:      uploaded.Bytes,
		Width:      uploaded.Width,
		Height:     uploaded.Height,
		DurationMS: uploaded.DurationMS,
	}
	if publicID != "" {
		asset.PublicID = &publicID
	}

	stored, err := service.store.UpsertAssetByProviderURL(ctx, asset)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	observer.Info(ctx, "asset.persisted",
		observability.String("assetId", stored.ID),
		observability.String("kind", string(request.Kind)),
		observability.String("provider", stored.Provider),
	)
	return stored, nil
}

// mimeOrFallback picks the first non-empty MIME type, ending at the per-kind
// fallback.
func mimeOrFallback(providerMime, hint string, kind storage.AssetKind) *string {
	for _, candidate := range []string{providerMime, hint} {
		if strings.TrimSpace(candidate) != "" {
			mime := candidate
			return &mime
		}
	}
	fallback := FallbackImageMime
	if kind == storage.AssetVideo {
		fallback = FallbackVideoMime
	}
	return &fallback
}
