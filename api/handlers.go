package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/core/graph"
	"github.com/frameloom/frameloom/core/runner"
	"github.com/frameloom/frameloom/providers/storage"
)

// maxRunPageSize caps the run history page size.
const maxRunPageSize = 100

// createWorkflowRequest is the body of POST /api/workflows.
type createWorkflowRequest struct {
	Name string `json:"name"`
}

func (server *Server) handleCreateWorkflow(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var body createWorkflowRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(ctx, writer, apperr.Validation("invalid request body: %v", err))
		return
	}
	if body.Name == "" {
		writeError(ctx, writer, apperr.Validation("workflow name is required"))
		return
	}

	now := time.Now().UTC()
	workflow := &storage.Workflow{
		ID:        uuid.NewString(),
		UserID:    callerID(request),
		Name:      body.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := server.store.CreateWorkflow(ctx, workflow); err != nil {
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusCreated, map[string]any{"success": true, "workflow": workflow})
}

// saveVersionRequest is the body of POST /api/workflows/{workflowID}/versions.
type saveVersionRequest struct {
	Nodes    []*graph.Node  `json:"nodes"`
	Edges    []*graph.Edge  `json:"edges"`
	Viewport map[string]any `json:"viewport,omitempty"`
}

func (server *Server) handleSaveVersion(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	workflowID := chi.URLParam(request, "workflowID")

	var body saveVersionRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(ctx, writer, apperr.Validation("invalid request body: %v", err))
		return
	}

	for _, node := range body.Nodes {
		if !node.Kind.Valid() {
			writeError(ctx, writer, apperr.InvalidNodeType(string(node.Kind)))
			return
		}
	}

	snapshot := graph.New(body.Nodes, body.Edges)
	if err := graph.ValidateEdges(snapshot); err != nil {
		writeError(ctx, writer, err)
		return
	}

	versionNumber := 1
	if _, latest, err := server.store.WorkflowWithLatestVersion(ctx, workflowID, callerID(request)); err == nil {
		versionNumber = latest.VersionNumber + 1
	}

	version := &storage.WorkflowVersion{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		VersionNumber: versionNumber,
		Nodes:         body.Nodes,
		Edges:         body.Edges,
		Viewport:      body.Viewport,
		CreatedAt:     time.Now().UTC(),
	}
	if err := server.store.SaveVersion(ctx, version); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(ctx, writer, apperr.NotFound("workflow %s not found", workflowID))
			return
		}
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusCreated, map[string]any{"success": true, "version": version})
}

// executeRequest is the body of POST /api/workflows/execute.
type executeRequest struct {
	WorkflowID      string   `json:"workflow_id"`
	Scope           string   `json:"scope"`
	SelectedNodeIDs []string `json:"selected_node_ids"`
}

func (server *Server) handleExecute(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var body executeRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(ctx, writer, apperr.Validation("invalid request body: %v", err))
		return
	}
	if body.WorkflowID == "" {
		writeError(ctx, writer, apperr.Validation("workflow_id is required"))
		return
	}

	// A client disconnect must not abort an in-flight run. The execution
	// context is detached from the request so the run always completes and
	// its bookkeeping is fully recorded.
	run, err := server.orchestrator.Execute(context.WithoutCancel(ctx), runner.ExecuteRequest{
		WorkflowID:      body.WorkflowID,
		Scope:           graph.Scope(body.Scope),
		SelectedNodeIDs: body.SelectedNodeIDs,
		UserID:          callerID(request),
	})
	if err != nil {
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusOK, map[string]any{
		"success":    true,
		"runId":      run.ID,
		"runNumber":  run.RunNumber,
		"status":     run.Status,
		"durationMs": run.DurationMS,
		"run":        run,
	})
}

func (server *Server) handleGetRun(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	runID := chi.URLParam(request, "runID")

	run, err := server.store.RunWithNodeRuns(ctx, runID, callerID(request))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(ctx, writer, apperr.NotFound("run %s not found", runID))
			return
		}
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusOK, map[string]any{"success": true, "run": run})
}

func (server *Server) handleListRuns(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	workflowID := chi.URLParam(request, "workflowID")

	limit := 20
	if rawLimit := request.URL.Query().Get("limit"); rawLimit != "" {
		parsedLimit, err := strconv.Atoi(rawLimit)
		if err != nil || parsedLimit < 1 {
			writeError(ctx, writer, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = parsedLimit
	}
	if limit > maxRunPageSize {
		limit = maxRunPageSize
	}

	cursor := request.URL.Query().Get("cursor")
	page, err := server.store.ListRuns(ctx, workflowID, callerID(request), limit, cursor)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(ctx, writer, apperr.Validation("unknown cursor %q", cursor))
			return
		}
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusOK, map[string]any{
		"success": true,
		"runs":    page.Runs,
		"pagination": map[string]any{
			"nextCursor": page.NextCursor,
			"hasMore":    page.HasMore,
		},
	})
}

func (server *Server) handleResolveAssembly(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	assemblyID := chi.URLParam(request, "assemblyID")

	var expectedKind storage.AssetKind
	switch request.URL.Query().Get("type") {
	case "image":
		expectedKind = storage.AssetImage
	case "video":
		expectedKind = storage.AssetVideo
	default:
		writeError(ctx, writer, apperr.Validation("type must be image or video"))
		return
	}

	if server.resolver == nil {
		writeError(ctx, writer, apperr.ProviderNotConfigured("assembly-api"))
		return
	}

	result, err := server.resolver.Resolve(ctx, callerID(request), assemblyID, expectedKind)
	if err != nil {
		// An assembly that is still processing is not an error envelope;
		// the 202 body carries the back-off hint at the top level.
		if appError := apperr.From(err); appError.Code == apperr.CodeAssemblyInProgress {
			writeJSON(writer, http.StatusAccepted, map[string]any{
				"assemblyId":   assemblyID,
				"retryAfterMs": appError.Details["retryAfterMs"],
			})
			return
		}
		writeError(ctx, writer, err)
		return
	}

	writeJSON(writer, http.StatusOK, result)
}
