package assets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/providers/storage"
	"github.com/frameloom/frameloom/providers/storage/memstore"
)

func newAssemblyServer(t *testing.T, documents map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		for assemblyID, document := range documents {
			if request.URL.Path == "/assemblies/"+assemblyID {
				_ = json.NewEncoder(writer).Encode(document)
				return
			}
		}
		writer.WriteHeader(http.StatusNotFound)
	}))
}

func newTestResolver(server *httptest.Server) *Resolver {
	persister := NewService(&fakeUploader{mimeType: "image/png"}, memstore.New())
	return NewResolver(server.URL, "", server.Client(), persister)
}

func TestResolveCompletedAssembly(t *testing.T) {
	server := newAssemblyServer(t, map[string]any{
		"asm-1": map[string]any{
			"assembly_id": "asm-1",
			"ok":          "ASSEMBLY_COMPLETED",
			"results": map[string]any{
				"resized": []map[string]any{
					{"name": "out.png", "ssl_url": "https://ephemeral.example/out.png", "mime": "image/png"},
				},
			},
		},
	})
	defer server.Close()

	result, err := newTestResolver(server).Resolve(context.Background(), "user-1", "asm-1", storage.AssetImage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.URL == "" || result.AssetID == "" {
		t.Errorf("expected a persisted durable asset, got %+v", result)
	}
	if result.OutputType != "image" || result.IsTempURL {
		t.Errorf("unexpected result shape: %+v", result)
	}
}

func TestResolveInProgressAssembly(t *testing.T) {
	server := newAssemblyServer(t, map[string]any{
		"asm-2": map[string]any{"assembly_id": "asm-2", "ok": "ASSEMBLY_EXECUTING"},
	})
	defer server.Close()

	_, err := newTestResolver(server).Resolve(context.Background(), "user-1", "asm-2", storage.AssetImage)
	var appError *apperr.Error
	if !errors.As(err, &appError) {
		t.Fatalf("expected a coded error, got %v", err)
	}
	if appError.Code != apperr.CodeAssemblyInProgress || appError.Status != http.StatusAccepted {
		t.Errorf("expected 202 in-progress, got %s/%d", appError.Code, appError.Status)
	}
	if appError.Details["retryAfterMs"] != RetryAfterMS {
		t.Errorf("expected retry hint, got %v", appError.Details)
	}
}

func TestResolveFailedAndUnknownAssemblies(t *testing.T) {
	server := newAssemblyServer(t, map[string]any{
		"asm-3": map[string]any{"assembly_id": "asm-3", "ok": "ASSEMBLY_CANCELED"},
		"asm-4": map[string]any{"assembly_id": "asm-4", "ok": "ASSEMBLY_DAYDREAMING"},
	})
	defer server.Close()

	resolver := newTestResolver(server)

	_, err := resolver.Resolve(context.Background(), "user-1", "asm-3", storage.AssetImage)
	var appError *apperr.Error
	if !errors.As(err, &appError) || appError.Code != apperr.CodeAssemblyTerminalFailure || appError.Status != http.StatusConflict {
		t.Errorf("expected 409 terminal failure, got %v", err)
	}

	_, err = resolver.Resolve(context.Background(), "user-1", "asm-4", storage.AssetImage)
	if !errors.As(err, &appError) || appError.Code != apperr.CodeAssemblyStatusUnknown || appError.Status != http.StatusConflict {
		t.Errorf("expected 409 unknown state, got %v", err)
	}
}

func TestResolveWrongTypeContent(t *testing.T) {
	server := newAssemblyServer(t, map[string]any{
		"asm-5": map[string]any{
			"assembly_id": "asm-5",
			"ok":          "ASSEMBLY_COMPLETED",
			"uploads": []map[string]any{
				{"name": "clip.mp4", "ssl_url": "https://ephemeral.example/clip.mp4", "mime": "video/mp4"},
			},
		},
	})
	defer server.Close()

	_, err := newTestResolver(server).Resolve(context.Background(), "user-1", "asm-5", storage.AssetImage)
	var appError *apperr.Error
	if !errors.As(err, &appError) {
		t.Fatalf("expected a coded error, got %v", err)
	}
	if appError.Code != apperr.CodeImageResultNotImage || appError.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 IMAGE_RESULT_NOT_IMAGE, got %s/%d", appError.Code, appError.Status)
	}
}

func TestResolveFetchFailure(t *testing.T) {
	server := newAssemblyServer(t, map[string]any{})
	defer server.Close()

	_, err := newTestResolver(server).Resolve(context.Background(), "user-1", "missing", storage.AssetVideo)
	var appError *apperr.Error
	if !errors.As(err, &appError) || appError.Code != apperr.CodeAssemblyFetchFailed {
		t.Errorf("expected ASSEMBLY_FETCH_FAILED, got %v", err)
	}
}
