package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frameloom/frameloom/core/executor"
	"github.com/frameloom/frameloom/core/runner"
	"github.com/frameloom/frameloom/providers/assets"
	"github.com/frameloom/frameloom/providers/storage"
	"github.com/frameloom/frameloom/providers/storage/memstore"
)

// localPersister stores nothing durably; it echoes the source URL back.
type localPersister struct{}

func (localPersister) PersistDurable(ctx context.Context, request assets.PersistRequest) (*storage.Asset, error) {
	return &storage.Asset{
		ID:       "asset-test",
		UserID:   request.UserID,
		Kind:     request.Kind,
		URL:      request.SourceURL,
		Provider: "memory",
	}, nil
}

func newTestServer() (*Server, *memstore.Store) {
	store := memstore.New()
	orchestrator := runner.New(store, executor.New(nil, localPersister{}))
	return NewServer(store, orchestrator, nil, nil), store
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var requestBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&requestBody).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	request := httptest.NewRequest(method, path, &requestBody)
	if userID != "" {
		request.Header.Set(userHeader, userID)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, recorder.Body.String())
	}
	return decoded
}

func errorCode(body map[string]any) string {
	errorObject, _ := body["error"].(map[string]any)
	code, _ := errorObject["code"].(string)
	return code
}

func TestRequestsWithoutUserAreUnauthorized(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	recorder := doRequest(t, router, http.MethodPost, "/api/workflows/execute", "", map[string]any{"workflow_id": "wf"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if errorCode(decodeBody(t, recorder)) != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED envelope, got %s", recorder.Body.String())
	}
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "pipeline"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create workflow: expected 201, got %d (%s)", created.Code, created.Body.String())
	}
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)
	if workflowID == "" {
		t.Fatal("expected a workflow id")
	}

	versionBody := map[string]any{
		"nodes": []map[string]any{
			{"id": "t1", "type": "text", "data": map[string]any{"value": "hello"}},
			{"id": "e1", "type": "export_text"},
		},
		"edges": []map[string]any{
			{"id": "edge-1", "source": "t1", "sourceHandle": "output", "target": "e1", "targetHandle": "text"},
		},
	}
	saved := doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", versionBody)
	if saved.Code != http.StatusCreated {
		t.Fatalf("save version: expected 201, got %d (%s)", saved.Code, saved.Body.String())
	}

	executed := doRequest(t, router, http.MethodPost, "/api/workflows/execute", "user-1", map[string]any{
		"workflow_id": workflowID,
		"scope":       "FULL",
	})
	if executed.Code != http.StatusOK {
		t.Fatalf("execute: expected 200, got %d (%s)", executed.Code, executed.Body.String())
	}

	executedBody := decodeBody(t, executed)
	if executedBody["success"] != true || executedBody["status"] != "SUCCESS" {
		t.Errorf("unexpected execute response: %v", executedBody)
	}
	if executedBody["runNumber"] != float64(1) {
		t.Errorf("expected run number 1, got %v", executedBody["runNumber"])
	}

	runID, _ := executedBody["runId"].(string)
	fetched := doRequest(t, router, http.MethodGet, "/api/runs/"+runID, "user-1", nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("get run: expected 200, got %d", fetched.Code)
	}
	runObject, _ := decodeBody(t, fetched)["run"].(map[string]any)
	nodeRuns, _ := runObject["nodeRuns"].([]any)
	if len(nodeRuns) != 2 {
		t.Errorf("expected 2 node runs, got %d", len(nodeRuns))
	}

	foreign := doRequest(t, router, http.MethodGet, "/api/runs/"+runID, "intruder", nil)
	if foreign.Code != http.StatusNotFound {
		t.Errorf("foreign run access must 404, got %d", foreign.Code)
	}
}

func TestExecuteRejectsInvalidGraphs(t *testing.T) {
	server, store := newTestServer()
	router := server.Router()
	_ = store

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "no export"})
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)

	versionBody := map[string]any{
		"nodes": []map[string]any{
			{"id": "t1", "type": "text", "data": map[string]any{"value": "x"}},
		},
		"edges": []map[string]any{},
	}
	doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", versionBody)

	executed := doRequest(t, router, http.MethodPost, "/api/workflows/execute", "user-1", map[string]any{
		"workflow_id": workflowID,
		"scope":       "FULL",
	})
	if executed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", executed.Code, executed.Body.String())
	}
	if errorCode(decodeBody(t, executed)) != "MISSING_EXPORT_NODE" {
		t.Errorf("expected MISSING_EXPORT_NODE, got %s", executed.Body.String())
	}

	unknownScope := doRequest(t, router, http.MethodPost, "/api/workflows/execute", "user-1", map[string]any{
		"workflow_id": workflowID,
		"scope":       "SOME",
	})
	if unknownScope.Code != http.StatusBadRequest || errorCode(decodeBody(t, unknownScope)) != "VALIDATION_ERROR" {
		t.Errorf("expected scope validation failure, got %d %s", unknownScope.Code, unknownScope.Body.String())
	}
}

func TestSaveVersionValidatesGraphShape(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "bad graph"})
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)

	unknownKind := doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", map[string]any{
		"nodes": []map[string]any{{"id": "x1", "type": "hologram"}},
	})
	if unknownKind.Code != http.StatusBadRequest || errorCode(decodeBody(t, unknownKind)) != "INVALID_NODE_TYPE" {
		t.Errorf("expected INVALID_NODE_TYPE, got %d %s", unknownKind.Code, unknownKind.Body.String())
	}

	typeMismatch := doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", map[string]any{
		"nodes": []map[string]any{
			{"id": "t1", "type": "text"},
			{"id": "c1", "type": "crop_image"},
		},
		"edges": []map[string]any{
			{"id": "edge-1", "source": "t1", "sourceHandle": "output", "target": "c1", "targetHandle": "image_url"},
		},
	})
	if typeMismatch.Code != http.StatusBadRequest || errorCode(decodeBody(t, typeMismatch)) != "VALIDATION_ERROR" {
		t.Errorf("expected edge validation failure, got %d %s", typeMismatch.Code, typeMismatch.Body.String())
	}
}

func TestListRunsPaginationOverHTTP(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "history"})
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)

	versionBody := map[string]any{
		"nodes": []map[string]any{
			{"id": "t1", "type": "text", "data": map[string]any{"value": "v"}},
			{"id": "e1", "type": "export_text"},
		},
		"edges": []map[string]any{
			{"id": "edge-1", "source": "t1", "sourceHandle": "output", "target": "e1", "targetHandle": "text"},
		},
	}
	doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", versionBody)

	for attempt := 0; attempt < 3; attempt++ {
		doRequest(t, router, http.MethodPost, "/api/workflows/execute", "user-1", map[string]any{
			"workflow_id": workflowID,
			"scope":       "FULL",
		})
	}

	firstPage := doRequest(t, router, http.MethodGet, "/api/workflows/"+workflowID+"/runs?limit=2", "user-1", nil)
	if firstPage.Code != http.StatusOK {
		t.Fatalf("list runs: expected 200, got %d", firstPage.Code)
	}
	firstBody := decodeBody(t, firstPage)
	runs, _ := firstBody["runs"].([]any)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs on the first page, got %d", len(runs))
	}
	pagination, _ := firstBody["pagination"].(map[string]any)
	if pagination["hasMore"] != true {
		t.Errorf("expected hasMore on the first page, got %v", pagination)
	}

	cursor, _ := pagination["nextCursor"].(string)
	secondPage := doRequest(t, router, http.MethodGet, "/api/workflows/"+workflowID+"/runs?limit=2&cursor="+cursor, "user-1", nil)
	secondBody := decodeBody(t, secondPage)
	secondRuns, _ := secondBody["runs"].([]any)
	if len(secondRuns) != 1 {
		t.Errorf("expected 1 run on the second page, got %d", len(secondRuns))
	}

	badLimit := doRequest(t, router, http.MethodGet, "/api/workflows/"+workflowID+"/runs?limit=zero", "user-1", nil)
	if badLimit.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", badLimit.Code)
	}
}

func TestExecuteCompletesAfterClientDisconnect(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "detached"})
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)

	versionBody := map[string]any{
		"nodes": []map[string]any{
			{"id": "t1", "type": "text", "data": map[string]any{"value": "survives"}},
			{"id": "e1", "type": "export_text"},
		},
		"edges": []map[string]any{
			{"id": "edge-1", "source": "t1", "sourceHandle": "output", "target": "e1", "targetHandle": "text"},
		},
	}
	doRequest(t, router, http.MethodPost, "/api/workflows/"+workflowID+"/versions", "user-1", versionBody)

	var requestBody bytes.Buffer
	if err := json.NewEncoder(&requestBody).Encode(map[string]any{
		"workflow_id": workflowID,
		"scope":       "FULL",
	}); err != nil {
		t.Fatalf("encode body: %v", err)
	}

	// A canceled request context stands in for a client that disconnected
	// before the run finished.
	canceledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	request := httptest.NewRequest(http.MethodPost, "/api/workflows/execute", &requestBody).WithContext(canceledCtx)
	request.Header.Set(userHeader, "user-1")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	executedBody := decodeBody(t, recorder)
	if executedBody["status"] != "SUCCESS" {
		t.Errorf("a disconnect must not abort the run, got status %v", executedBody["status"])
	}

	runObject, _ := executedBody["run"].(map[string]any)
	nodeRuns, _ := runObject["nodeRuns"].([]any)
	for _, rawNodeRun := range nodeRuns {
		nodeRun, _ := rawNodeRun.(map[string]any)
		if nodeRun["status"] != "SUCCESS" {
			t.Errorf("node %v: expected SUCCESS, got %v", nodeRun["nodeId"], nodeRun["status"])
		}
	}
}

func TestListRunsRejectsUnknownCursor(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	created := doRequest(t, router, http.MethodPost, "/api/workflows", "user-1", map[string]any{"name": "cursors"})
	workflowObject, _ := decodeBody(t, created)["workflow"].(map[string]any)
	workflowID, _ := workflowObject["id"].(string)

	badCursor := doRequest(t, router, http.MethodGet, "/api/workflows/"+workflowID+"/runs?cursor=ghost", "user-1", nil)
	if badCursor.Code != http.StatusBadRequest || errorCode(decodeBody(t, badCursor)) != "VALIDATION_ERROR" {
		t.Errorf("expected 400 for an unknown cursor, got %d %s", badCursor.Code, badCursor.Body.String())
	}
}

func TestResolveAssemblyInProgressEmitsRetryHint(t *testing.T) {
	assemblyBackend := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"ok":"ASSEMBLY_EXECUTING"}`))
	}))
	defer assemblyBackend.Close()

	store := memstore.New()
	orchestrator := runner.New(store, executor.New(nil, localPersister{}))
	resolver := assets.NewResolver(assemblyBackend.URL, "test-key", nil, localPersister{})
	server := NewServer(store, orchestrator, resolver, nil)
	router := server.Router()

	recorder := doRequest(t, router, http.MethodGet, "/api/assemblies/asm-1?type=image", "user-1", nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	body := decodeBody(t, recorder)
	if body["retryAfterMs"] != float64(assets.RetryAfterMS) {
		t.Errorf("expected a top-level retryAfterMs of %d, got %v", assets.RetryAfterMS, body["retryAfterMs"])
	}
	if body["assemblyId"] != "asm-1" {
		t.Errorf("expected the assembly id in the body, got %v", body["assemblyId"])
	}
}

func TestResolveAssemblyRouteValidation(t *testing.T) {
	server, _ := newTestServer()
	router := server.Router()

	missingType := doRequest(t, router, http.MethodGet, "/api/assemblies/asm-1", "user-1", nil)
	if missingType.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a type, got %d", missingType.Code)
	}

	notConfigured := doRequest(t, router, http.MethodGet, "/api/assemblies/asm-1?type=image", "user-1", nil)
	if notConfigured.Code != http.StatusInternalServerError || errorCode(decodeBody(t, notConfigured)) != "PROVIDER_NOT_CONFIGURED" {
		t.Errorf("expected PROVIDER_NOT_CONFIGURED, got %d %s", notConfigured.Code, notConfigured.Body.String())
	}
}
