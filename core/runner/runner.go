package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/core/executor"
	"github.com/frameloom/frameloom/core/graph"
	"github.com/frameloom/frameloom/core/resolve"
	"github.com/frameloom/frameloom/internal/utils"
	"github.com/frameloom/frameloom/providers/observability"
	"github.com/frameloom/frameloom/providers/storage"
)

// DefaultMaxParallelism bounds how many nodes of one level execute at once.
const DefaultMaxParallelism = 8

// errorSummaryLimit is how many node failures the run summary names.
const errorSummaryLimit = 3

// Orchestrator executes workflow runs end to end.
type Orchestrator struct {
	store          storage.Store
	nodeExecutor   *executor.Executor
	maxParallelism int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxParallelism caps intra-level concurrency. Zero removes the cap, so
// every node of a level starts at once.
func WithMaxParallelism(limit int) Option {
	return func(orchestrator *Orchestrator) {
		if limit >= 0 {
			orchestrator.maxParallelism = limit
		}
	}
}

// New creates an Orchestrator.
func New(store storage.Store, nodeExecutor *executor.Executor, options ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		store:          store,
		nodeExecutor:   nodeExecutor,
		maxParallelism: DefaultMaxParallelism,
	}
	for _, option := range options {
		option(orchestrator)
	}
	return orchestrator
}

// ExecuteRequest is one workflow execution call.
type ExecuteRequest struct {
	WorkflowID      string
	Scope           graph.Scope
	SelectedNodeIDs []string
	UserID          string
}

// Execute runs the workflow's latest version under the requested scope and
// returns the refreshed run with its node runs. Pre-flight failures return a
// coded error and create no run; once the run is bootstrapped a run record is
// always finalized, whatever the per-node outcomes.
func (orchestrator *Orchestrator) Execute(ctx context.Context, request ExecuteRequest) (*storage.WorkflowRun, error) {
	observer := observability.FromContext(ctx)

	scopedGraph, version, err := orchestrator.preflight(ctx, request)
	if err != nil {
		return nil, err
	}

	executionLevels, err := graph.ExecutionLevels(scopedGraph)
	if err != nil {
		return nil, err
	}

	run, nodeRunIDs, err := orchestrator.bootstrap(ctx, request, version, scopedGraph)
	if err != nil {
		return nil, err
	}

	observer.Info(ctx, "run.started",
		observability.String("runId", run.ID),
		observability.Int("runNumber", run.RunNumber),
		observability.String("scope", string(request.Scope)),
		observability.Int("nodes", len(scopedGraph.Nodes)),
		observability.Int("levels", len(executionLevels)),
	)

	tally := orchestrator.executeLevels(ctx, request, scopedGraph, executionLevels, nodeRunIDs)

	return orchestrator.finalize(ctx, run, tally)
}

// preflight validates ownership, scope and graph shape. Every failure here
// maps to a 4xx and leaves no trace in storage.
func (orchestrator *Orchestrator) preflight(ctx context.Context, request ExecuteRequest) (*graph.Graph, *storage.WorkflowVersion, error) {
	if !request.Scope.Valid() {
		return nil, nil, apperr.Validation("unknown scope %q", request.Scope)
	}

	_, version, err := orchestrator.store.WorkflowWithLatestVersion(ctx, request.WorkflowID, request.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, apperr.NotFound("workflow %s not found", request.WorkflowID)
		}
		return nil, nil, apperr.Internal(err)
	}

	fullGraph := graph.New(version.Nodes, version.Edges)
	scopedGraph, err := graph.SubgraphForScope(fullGraph, request.Scope, request.SelectedNodeIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(scopedGraph.Nodes) == 0 {
		return nil, nil, apperr.InvalidScope("scoped subgraph is empty")
	}

	if request.Scope == graph.ScopeFull && !scopedGraph.HasExportNode() {
		return nil, nil, apperr.MissingExportNode()
	}

	if !graph.ValidateDAG(scopedGraph) {
		return nil, nil, apperr.InvalidDAG()
	}

	return scopedGraph, version, nil
}

// bootstrap atomically claims the next run number and creates the run with
// one queued node run per scoped node.
func (orchestrator *Orchestrator) bootstrap(ctx context.Context, request ExecuteRequest, version *storage.WorkflowVersion, scopedGraph *graph.Graph) (*storage.WorkflowRun, map[string]string, error) {
	runNumber, err := orchestrator.store.IncrementRunCounter(ctx, request.WorkflowID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}

	now := time.Now().UTC()
	run := &storage.WorkflowRun{
		ID:              uuid.NewString(),
		WorkflowID:      request.WorkflowID,
		VersionID:       version.ID,
		RunNumber:       runNumber,
		UserID:          request.UserID,
		Scope:           request.Scope,
		SelectedNodeIDs: request.SelectedNodeIDs,
		Status:          storage.RunRunning,
		StartedAt:       now,
	}

	nodeRunIDs := make(map[string]string, len(scopedGraph.Nodes))
	nodeRuns := make([]*storage.NodeRun, 0, len(scopedGraph.Nodes))
	for _, scopedNode := range scopedGraph.Nodes {
		nodeRunID := uuid.NewString()
		nodeRunIDs[scopedNode.ID] = nodeRunID
		nodeRuns = append(nodeRuns, &storage.NodeRun{
			ID:        nodeRunID,
			RunID:     run.ID,
			NodeID:    scopedNode.ID,
			NodeKind:  scopedNode.Kind,
			Status:    storage.NodeQueued,
			CreatedAt: now,
		})
	}

	if err := orchestrator.store.CreateRun(ctx, run, nodeRuns); err != nil {
		return nil, nil, apperr.Internal(err)
	}
	return run, nodeRunIDs, nil
}

// nodeOutcome is one node's result within a level.
type nodeOutcome struct {
	nodeID  string
	outputs map[string]any
	failure *apperr.Error
	skipped bool
}

// runTally aggregates per-node outcomes across levels.
type runTally struct {
	successes int
	failures  []failedNode
	skipped   int
}

type failedNode struct {
	nodeID  string
	message string
}

// executeLevels runs every level in order, nodes within a level in parallel.
// Outputs are published to the shared map only after the whole level joined,
// so the next level's resolution sees a consistent snapshot.
func (orchestrator *Orchestrator) executeLevels(ctx context.Context, request ExecuteRequest, scopedGraph *graph.Graph, executionLevels [][]*graph.Node, nodeRunIDs map[string]string) *runTally {
	outputsSoFar := make(map[string]map[string]any, len(scopedGraph.Nodes))
	tally := &runTally{}

	for _, level := range executionLevels {
		levelOutcomes := make([]nodeOutcome, len(level))

		levelCapacity := orchestrator.maxParallelism
		if levelCapacity <= 0 || levelCapacity > len(level) {
			levelCapacity = len(level)
		}
		semaphore := make(chan struct{}, levelCapacity)
		var waitGroup sync.WaitGroup

		for nodeIndex, levelNode := range level {
			waitGroup.Add(1)
			semaphore <- struct{}{}

			go func(outcomeIndex int, node *graph.Node) {
				defer waitGroup.Done()
				defer func() { <-semaphore }()

				levelOutcomes[outcomeIndex] = orchestrator.executeNode(ctx, request, scopedGraph, node, nodeRunIDs[node.ID], outputsSoFar)
			}(nodeIndex, levelNode)
		}

		waitGroup.Wait()

		for _, outcome := range levelOutcomes {
			switch {
			case outcome.skipped:
				tally.skipped++
			case outcome.failure != nil:
				tally.failures = append(tally.failures, failedNode{
					nodeID:  outcome.nodeID,
					message: outcome.failure.Message,
				})
			default:
				tally.successes++
				outputsSoFar[outcome.nodeID] = outcome.outputs
			}
		}
	}

	return tally
}

// executeNode drives a single node run through its lifecycle writes.
func (orchestrator *Orchestrator) executeNode(ctx context.Context, request ExecuteRequest, scopedGraph *graph.Graph, node *graph.Node, nodeRunID string, outputsSoFar map[string]map[string]any) nodeOutcome {
	observer := observability.FromContext(ctx)

	if ctx.Err() != nil {
		orchestrator.markSkipped(ctx, nodeRunID)
		return nodeOutcome{nodeID: node.ID, skipped: true}
	}

	resolvedInputs := resolve.Inputs(node, scopedGraph, outputsSoFar)

	nodeStart := time.Now().UTC()
	runningStatus := storage.NodeRunning
	if err := orchestrator.store.UpdateNodeRun(ctx, nodeRunID, storage.NodeRunPatch{
		Status:    &runningStatus,
		StartedAt: &nodeStart,
		Inputs:    resolvedInputs,
	}); err != nil {
		observer.Error(ctx, "run.node.update_failed",
			observability.String("nodeId", node.ID),
			observability.Error(err),
		)
	}

	result, executionErr := orchestrator.nodeExecutor.Execute(ctx, executor.Request{
		Node:   node,
		Inputs: resolvedInputs,
		UserID: request.UserID,
	})

	nodeFinish := time.Now().UTC()
	durationMS := nodeFinish.Sub(nodeStart).Milliseconds()

	if executionErr != nil {
		appError := apperr.From(executionErr)
		orchestrator.markFailed(ctx, nodeRunID, appError, nodeFinish, durationMS)
		observer.Warn(ctx, "run.node.failed",
			observability.String("nodeId", node.ID),
			observability.String("code", string(appError.Code)),
			observability.Error(appError),
		)
		return nodeOutcome{nodeID: node.ID, failure: appError}
	}

	successStatus := storage.NodeSuccess
	patch := storage.NodeRunPatch{
		Status:     &successStatus,
		FinishedAt: &nodeFinish,
		DurationMS: &durationMS,
		Outputs:    result.Outputs,
	}
	if result.TaskName != "" {
		patch.TaskName = utils.Ptr(result.TaskName)
	}
	if result.RemoteRunID != "" {
		patch.RemoteRunID = utils.Ptr(result.RemoteRunID)
	}
	if err := orchestrator.store.UpdateNodeRun(ctx, nodeRunID, patch); err != nil {
		observer.Error(ctx, "run.node.update_failed",
			observability.String("nodeId", node.ID),
			observability.Error(err),
		)
	}

	return nodeOutcome{nodeID: node.ID, outputs: result.Outputs}
}

// markFailed records a captured node failure.
func (orchestrator *Orchestrator) markFailed(ctx context.Context, nodeRunID string, appError *apperr.Error, finishedAt time.Time, durationMS int64) {
	failedStatus := storage.NodeFailed
	errorDetails := map[string]any{
		"code":       string(appError.Code),
		"httpStatus": appError.Status,
	}
	for detailKey, detailValue := range appError.Details {
		errorDetails[detailKey] = detailValue
	}

	// Bookkeeping writes survive caller cancellation.
	_ = orchestrator.store.UpdateNodeRun(context.WithoutCancel(ctx), nodeRunID, storage.NodeRunPatch{
		Status:       &failedStatus,
		FinishedAt:   &finishedAt,
		DurationMS:   &durationMS,
		ErrorMessage: utils.Ptr(utils.TruncateString(appError.Message, 500)),
		ErrorDetails: errorDetails,
	})
}

// markSkipped abandons a queued node run when the run context is gone.
func (orchestrator *Orchestrator) markSkipped(ctx context.Context, nodeRunID string) {
	skippedStatus := storage.NodeSkipped
	now := time.Now().UTC()
	_ = orchestrator.store.UpdateNodeRun(context.WithoutCancel(ctx), nodeRunID, storage.NodeRunPatch{
		Status:     &skippedStatus,
		FinishedAt: &now,
	})
}

// finalize derives the aggregate status, writes the run summary and returns
// the refreshed run.
func (orchestrator *Orchestrator) finalize(ctx context.Context, run *storage.WorkflowRun, tally *runTally) (*storage.WorkflowRun, error) {
	observer := observability.FromContext(ctx)

	// SUCCESS requires every node run to have actually succeeded; skipped
	// nodes demote the run to PARTIAL, or FAILED when nothing ran.
	var finalStatus storage.RunStatus
	switch {
	case len(tally.failures) == 0 && tally.skipped == 0:
		finalStatus = storage.RunSuccess
	case tally.successes == 0:
		finalStatus = storage.RunFailed
	default:
		finalStatus = storage.RunPartial
	}

	finishedAt := time.Now().UTC()
	durationMS := finishedAt.Sub(run.StartedAt).Milliseconds()
	patch := storage.RunPatch{
		Status:     &finalStatus,
		FinishedAt: &finishedAt,
		DurationMS: &durationMS,
	}
	if summary := summarizeFailures(tally.failures); summary != "" {
		patch.ErrorSummary = &summary
	}

	finalizeCtx := context.WithoutCancel(ctx)
	if err := orchestrator.store.UpdateRun(finalizeCtx, run.ID, patch); err != nil {
		return nil, apperr.Internal(err)
	}

	observer.Info(ctx, "run.finished",
		observability.String("runId", run.ID),
		observability.String("status", string(finalStatus)),
		observability.Int("successes", tally.successes),
		observability.Int("failures", len(tally.failures)),
		observability.Duration("duration", finishedAt.Sub(run.StartedAt)),
	)

	refreshedRun, err := orchestrator.store.RunWithNodeRuns(finalizeCtx, run.ID, run.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return refreshedRun, nil
}

// summarizeFailures names the first few failed nodes.
func summarizeFailures(failures []failedNode) string {
	if len(failures) == 0 {
		return ""
	}

	limit := len(failures)
	if limit > errorSummaryLimit {
		limit = errorSummaryLimit
	}

	parts := make([]string, 0, limit)
	for _, failure := range failures[:limit] {
		parts = append(parts, failure.nodeID+": "+failure.message)
	}
	return strings.Join(parts, " | ")
}
