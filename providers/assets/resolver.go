package assets

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/internal/utils"
	"github.com/frameloom/frameloom/providers/storage"
)

// Resolver fetches assembly status documents and turns completed assemblies
// into durable assets.
type Resolver struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	persister  Persister
}

// NewResolver creates a resolver against the assembly API at apiURL.
func NewResolver(apiURL, apiKey string, client *http.Client, persister Persister) *Resolver {
	return &Resolver{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
		persister:  persister,
	}
}

// ResolveResult is the resolver's answer for a completed assembly.
type ResolveResult struct {
	AssemblyID string `json:"assemblyId"`
	URL        string `json:"url"`
	MimeType   string `json:"mimeType,omitempty"`
	OutputType string `json:"outputType"`
	IsTempURL  bool   `json:"isTempUrl"`
	Provider   string `json:"provider"`
	AssetID    string `json:"assetId"`
	PublicID   string `json:"publicId,omitempty"`
}

// Resolve fetches the assembly, classifies its state, picks the output file
// of the expected kind and persists it durably.
//
// Status policy: in-progress assemblies yield a 202 error with a retry hint,
// terminal failures and unrecognized states yield 409, a completed assembly
// whose files only match the opposite kind yields a kind-specific 422.
func (resolver *Resolver) Resolve(ctx context.Context, userID, assemblyID string, expectedKind storage.AssetKind) (*ResolveResult, error) {
	assembly, err := resolver.fetchAssembly(ctx, assemblyID)
	if err != nil {
		return nil, err
	}

	switch ClassifyState(assembly) {
	case StateInProgress:
		return nil, apperr.New(apperr.CodeAssemblyInProgress, http.StatusAccepted,
			"assembly %s is still processing", assemblyID).
			WithDetail("retryAfterMs", RetryAfterMS)
	case StateFailed:
		failure := apperr.New(apperr.CodeAssemblyTerminalFailure, http.StatusConflict,
			"assembly %s failed", assemblyID)
		if assembly.Error != "" {
			failure.WithDetail("assemblyError", assembly.Error)
		}
		if assembly.Message != "" {
			failure.WithDetail("assemblyMessage", assembly.Message)
		}
		return nil, failure
	case StateUnknown:
		return nil, apperr.New(apperr.CodeAssemblyStatusUnknown, http.StatusConflict,
			"assembly %s reported unrecognized state %q", assemblyID, assembly.Ok)
	}

	resolved := ResolveOutput(assembly, expectedKind, false)
	if resolved.File == nil {
		if resolved.HasWrongType {
			return nil, wrongTypeError(expectedKind, assemblyID)
		}
		return nil, apperr.New(apperr.CodeAssemblyTerminalFailure, http.StatusConflict,
			"assembly %s completed without a usable %s output", assemblyID, expectedKind)
	}

	asset, err := resolver.persister.PersistDurable(ctx, PersistRequest{
		UserID:     userID,
		Kind:       expectedKind,
		SourceURL:  resolved.File.BestURL(),
		AssemblyID: &assemblyID,
		MimeHint:   resolved.File.MimeType,
	})
	if err != nil {
		return nil, err
	}

	result := &ResolveResult{
		AssemblyID: assemblyID,
		URL:        asset.URL,
		OutputType: MimeFamily(expectedKind),
		IsTempURL:  false,
		Provider:   asset.Provider,
		AssetID:    asset.ID,
	}
	if asset.MimeType != nil {
		result.MimeType = *asset.MimeType
	}
	if asset.PublicID != nil {
		result.PublicID = *asset.PublicID
	}
	return result, nil
}

// fetchAssembly GETs the status document with the bounded retry policy for
// transient upstream failures.
func (resolver *Resolver) fetchAssembly(ctx context.Context, assemblyID string) (*Assembly, error) {
	statusURL := fmt.Sprintf("%s/assemblies/%s", resolver.apiURL, assemblyID)

	_, assembly, err := utils.DoGetJSONWithRetry[Assembly](ctx, resolver.httpClient, statusURL, resolver.apiKey,
		utils.DefaultRetryAttempts, utils.DefaultRetryBackoff)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAssemblyFetchFailed, http.StatusBadGateway,
			"failed to fetch assembly %s", assemblyID)
	}
	return assembly, nil
}

func wrongTypeError(expectedKind storage.AssetKind, assemblyID string) *apperr.Error {
	if expectedKind == storage.AssetImage {
		return apperr.New(apperr.CodeImageResultNotImage, http.StatusUnprocessableEntity,
			"assembly %s produced a video where an image was expected", assemblyID)
	}
	return apperr.New(apperr.CodeVideoResultNotVideo, http.StatusUnprocessableEntity,
		"assembly %s produced an image where a video was expected", assemblyID)
}
