package storage

import (
	"context"
	"errors"
	"time"

	"github.com/frameloom/frameloom/core/graph"
)

// RunStatus is the aggregate outcome of a workflow run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL"
)

// NodeRunStatus is the lifecycle status of a single node run. A node run
// leaves QUEUED only to RUNNING, and RUNNING only to SUCCESS or FAILED;
// SKIPPED is reached directly from QUEUED. Terminal states are immutable.
type NodeRunStatus string

const (
	NodeQueued  NodeRunStatus = "QUEUED"
	NodeRunning NodeRunStatus = "RUNNING"
	NodeSuccess NodeRunStatus = "SUCCESS"
	NodeFailed  NodeRunStatus = "FAILED"
	NodeSkipped NodeRunStatus = "SKIPPED"
)

// Terminal reports whether the status is final.
func (status NodeRunStatus) Terminal() bool {
	return status == NodeSuccess || status == NodeFailed || status == NodeSkipped
}

// AssetKind is the media kind of a durable asset.
type AssetKind string

const (
	AssetImage AssetKind = "IMAGE"
	AssetVideo AssetKind = "VIDEO"
)

// Workflow is a user-owned pipeline. RunCounter backs the per-workflow
// run_number sequence and is only ever advanced through IncrementRunCounter.
type Workflow struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	RunCounter int       `json:"runCounter"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WorkflowVersion is an immutable snapshot of the graph created on save.
// Only the latest version of a workflow is executed.
type WorkflowVersion struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflowId"`
	VersionNumber int            `json:"versionNumber"`
	Nodes         []*graph.Node  `json:"nodes"`
	Edges         []*graph.Edge  `json:"edges"`
	Viewport      map[string]any `json:"viewport,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// WorkflowRun is the durable record of one Execute call.
type WorkflowRun struct {
	ID              string      `json:"id"`
	WorkflowID      string      `json:"workflowId"`
	VersionID       string      `json:"versionId"`
	RunNumber       int         `json:"runNumber"`
	UserID          string      `json:"userId"`
	Scope           graph.Scope `json:"scope"`
	SelectedNodeIDs []string    `json:"selectedNodeIds,omitempty"`
	Status          RunStatus   `json:"status"`
	StartedAt       time.Time   `json:"startedAt"`
	FinishedAt      *time.Time  `json:"finishedAt,omitempty"`
	DurationMS      *int64      `json:"durationMs,omitempty"`
	ErrorSummary    *string     `json:"errorSummary,omitempty"`

	// NodeRuns is populated by RunWithNodeRuns, ordered by (started_at, id).
	NodeRuns []*NodeRun `json:"nodeRuns,omitempty"`
}

// NodeRun is the durable record of one node execution within a run.
type NodeRun struct {
	ID           string         `json:"id"`
	RunID        string         `json:"runId"`
	NodeID       string         `json:"nodeId"`
	NodeKind     graph.Kind     `json:"nodeType"`
	Status       NodeRunStatus  `json:"status"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	DurationMS   *int64         `json:"durationMs,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`
	TaskName     *string        `json:"taskName,omitempty"`
	RemoteRunID  *string        `json:"remoteRunId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Asset is a durable, provider-hosted media record. Assets are created on
// first ingestion of a (provider, url) pair and never mutated; repeat
// ingestion returns the existing record.
type Asset struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Kind       AssetKind `json:"kind"`
	URL        string    `json:"url"`
	Provider   string    `json:"provider"`
	AssemblyID *string   `json:"assemblyId,omitempty"`
	PublicID   *string   `json:"publicId,omitempty"`
	MimeType   *string   `json:"mimeType,omitempty"`
	Bytes      *int64    `json:"bytes,omitempty"`
	Width      *int      `json:"width,omitempty"`
	Height     *int      `json:"height,omitempty"`
	DurationMS *int64    `json:"durationMs,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RunPatch updates a workflow run. Nil fields are left untouched.
type RunPatch struct {
	Status       *RunStatus
	FinishedAt   *time.Time
	DurationMS   *int64
	ErrorSummary *string
}

// NodeRunPatch updates a node run. Nil fields are left untouched.
type NodeRunPatch struct {
	Status       *NodeRunStatus
	StartedAt    *time.Time
	FinishedAt   *time.Time
	DurationMS   *int64
	Inputs       map[string]any
	Outputs      map[string]any
	ErrorMessage *string
	ErrorDetails map[string]any
	TaskName     *string
	RemoteRunID  *string
}

// RunPage is one page of a run history listing, newest first.
type RunPage struct {
	Runs       []*WorkflowRun
	NextCursor string
	HasMore    bool
}

// Sentinel errors shared by Store implementations.
var (
	// ErrNotFound reports a missing workflow, version, run or node run,
	// including lookups scoped to a different owner.
	ErrNotFound = errors.New("storage: not found")

	// ErrTerminalNodeRun reports an attempt to change the status of a node
	// run that already reached a terminal state.
	ErrTerminalNodeRun = errors.New("storage: node run is terminal")
)

// Store is the persistence interface the execution core consumes. All methods
// are safe for concurrent use; UpdateNodeRun in particular is called from
// parallel node goroutines within a level and must tolerate interleaved
// writes to distinct rows.
type Store interface {
	// CreateWorkflow persists a new workflow.
	CreateWorkflow(ctx context.Context, workflow *Workflow) error

	// SaveVersion persists a new immutable workflow version snapshot.
	SaveVersion(ctx context.Context, version *WorkflowVersion) error

	// WorkflowWithLatestVersion loads a workflow owned by userID together
	// with its highest-numbered version. Returns ErrNotFound when the
	// workflow does not exist, belongs to someone else, or has no version.
	WorkflowWithLatestVersion(ctx context.Context, workflowID, userID string) (*Workflow, *WorkflowVersion, error)

	// IncrementRunCounter atomically advances the workflow's run counter and
	// returns the new value. The returned sequence is strictly increasing
	// per workflow and never reused.
	IncrementRunCounter(ctx context.Context, workflowID string) (int, error)

	// CreateRun persists the run and its queued node runs as a single atomic
	// unit. This is the bootstrap write of the orchestrator.
	CreateRun(ctx context.Context, run *WorkflowRun, nodeRuns []*NodeRun) error

	// UpdateRun applies a partial update to a run row.
	UpdateRun(ctx context.Context, runID string, patch RunPatch) error

	// UpdateNodeRun applies a partial update to a node run row. A patch that
	// would move a terminal node run to another status fails with
	// ErrTerminalNodeRun.
	UpdateNodeRun(ctx context.Context, nodeRunID string, patch NodeRunPatch) error

	// RunWithNodeRuns loads a run owned by userID with its node runs ordered
	// by (started_at, id).
	RunWithNodeRuns(ctx context.Context, runID, userID string) (*WorkflowRun, error)

	// ListRuns pages through a workflow's runs owned by userID, newest
	// first. cursor is the id of the last run of the previous page; empty
	// means start from the newest.
	ListRuns(ctx context.Context, workflowID, userID string, limit int, cursor string) (*RunPage, error)

	// UpsertAssetByProviderURL inserts the asset or returns the existing
	// record with the same (provider, url). The operation is idempotent.
	UpsertAssetByProviderURL(ctx context.Context, asset *Asset) (*Asset, error)
}
