package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/frameloom/frameloom/internal/utils"
	"github.com/frameloom/frameloom/providers/storage"
)

// HTTPUploader is the upload-from-URL client for a durable asset provider.
type HTTPUploader struct {
	providerName string
	baseURL      string
	apiKey       string
	durableHost  string
	httpClient   *http.Client
}

// Compile-time check that HTTPUploader implements Uploader.
var _ Uploader = (*HTTPUploader)(nil)

// NewHTTPUploader creates an uploader for the provider reachable at baseURL.
// durableHost is the host suffix of URLs the provider serves; URLs already on
// it skip re-upload. Returns nil when baseURL or apiKey is empty, which the
// persister treats as "not configured".
func NewHTTPUploader(providerName, baseURL, apiKey, durableHost string, client *http.Client) *HTTPUploader {
	if baseURL == "" || apiKey == "" {
		return nil
	}
	return &HTTPUploader{
		providerName: providerName,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		durableHost:  durableHost,
		httpClient:   client,
	}
}

func (uploader *HTTPUploader) Name() string {
	return uploader.providerName
}

// IsDurableURL reports whether the URL is already served from the provider's
// host. Data URLs and unparseable URLs are never durable.
func (uploader *HTTPUploader) IsDurableURL(rawURL string) bool {
	if uploader.durableHost == "" || strings.HasPrefix(rawURL, "data:") {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Host == uploader.durableHost || strings.HasSuffix(parsed.Host, "."+uploader.durableHost)
}

// uploadResponse is the provider's upload-from-URL reply.
type uploadResponse struct {
	SecureURL  string `json:"secureUrl"`
	URL        string `json:"url"`
	PublicID   string `json:"publicId"`
	MimeType   string `json:"mimeType"`
	Bytes      *int64 `json:"bytes"`
	Width      *int   `json:"width"`
	Height     *int   `json:"height"`
	DurationMS *int64 `json:"durationMs"`
}

func (uploader *HTTPUploader) UploadFromURL(ctx context.Context, kind storage.AssetKind, sourceURL string) (*UploadResult, error) {
	uploadEndpoint := fmt.Sprintf("%s/upload", uploader.baseURL)
	payload := map[string]any{
		"sourceUrl":    sourceURL,
		"resourceType": MimeFamily(kind),
	}

	_, uploaded, err := utils.DoPostJSON[uploadResponse](ctx, uploader.httpClient, uploadEndpoint, uploader.apiKey, payload)
	if err != nil {
		return nil, fmt.Errorf("upload from url: %w", err)
	}

	durableURL := uploaded.SecureURL
	if durableURL == "" {
		durableURL = uploaded.URL
	}
	if durableURL == "" {
		return nil, fmt.Errorf("upload from url: provider returned no durable url")
	}

	return &UploadResult{
		URL:        durableURL,
		PublicID:   uploaded.PublicID,
		MimeType:   uploaded.MimeType,
		Bytes:      uploaded.Bytes,
		Width:      uploaded.Width,
		Height:     uploaded.Height,
		DurationMS: uploaded.DurationMS,
	}, nil
}
