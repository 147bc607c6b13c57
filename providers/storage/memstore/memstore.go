// Package memstore provides the in-memory Store implementation used by tests
// and local development. All state is guarded by a single RWMutex and lost
// when the process exits.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frameloom/frameloom/providers/storage"
)

// Store is the in-memory storage.Store implementation.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*storage.Workflow
	versions  map[string][]*storage.WorkflowVersion // workflowID -> versions
	runs      map[string]*storage.WorkflowRun
	nodeRuns  map[string]*storage.NodeRun
	assets    map[string]*storage.Asset // provider+"\n"+url -> asset
}

// Compile-time check that Store implements storage.Store.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*storage.Workflow),
		versions:  make(map[string][]*storage.WorkflowVersion),
		runs:      make(map[string]*storage.WorkflowRun),
		nodeRuns:  make(map[string]*storage.NodeRun),
		assets:    make(map[string]*storage.Asset),
	}
}

// CreateWorkflow persists a new workflow.
func (store *Store) CreateWorkflow(_ context.Context, workflow *storage.Workflow) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	stored := *workflow
	store.workflows[workflow.ID] = &stored
	return nil
}

// SaveVersion appends an immutable version snapshot to the workflow.
func (store *Store) SaveVersion(_ context.Context, version *storage.WorkflowVersion) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, exists := store.workflows[version.WorkflowID]; !exists {
		return storage.ErrNotFound
	}

	stored := *version
	store.versions[version.WorkflowID] = append(store.versions[version.WorkflowID], &stored)
	return nil
}

// WorkflowWithLatestVersion loads a workflow owned by userID with its
// highest-numbered version.
func (store *Store) WorkflowWithLatestVersion(_ context.Context, workflowID, userID string) (*storage.Workflow, *storage.WorkflowVersion, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	workflow, exists := store.workflows[workflowID]
	if !exists || workflow.UserID != userID {
		return nil, nil, storage.ErrNotFound
	}

	versions := store.versions[workflowID]
	if len(versions) == 0 {
		return nil, nil, storage.ErrNotFound
	}

	latest := versions[0]
	for _, candidate := range versions[1:] {
		if candidate.VersionNumber > latest.VersionNumber {
			latest = candidate
		}
	}

	workflowCopy := *workflow
	versionCopy := *latest
	return &workflowCopy, &versionCopy, nil
}

// IncrementRunCounter atomically advances the workflow's run counter.
func (store *Store) IncrementRunCounter(_ context.Context, workflowID string) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	workflow, exists := store.workflows[workflowID]
	if !exists {
		return 0, storage.ErrNotFound
	}

	workflow.RunCounter++
	workflow.UpdatedAt = time.Now().UTC()
	return workflow.RunCounter, nil
}

// CreateRun persists the run and its queued node runs atomically (one lock).
func (store *Store) CreateRun(_ context.Context, run *storage.WorkflowRun, nodeRuns []*storage.NodeRun) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	runCopy := *run
	runCopy.NodeRuns = nil
	store.runs[run.ID] = &runCopy

	for _, nodeRun := range nodeRuns {
		nodeRunCopy := *nodeRun
		store.nodeRuns[nodeRun.ID] = &nodeRunCopy
	}

	return nil
}

// UpdateRun applies a partial update to a run row.
func (store *Store) UpdateRun(_ context.Context, runID string, patch storage.RunPatch) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	run, exists := store.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}

	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.FinishedAt != nil {
		run.FinishedAt = patch.FinishedAt
	}
	if patch.DurationMS != nil {
		run.DurationMS = patch.DurationMS
	}
	if patch.ErrorSummary != nil {
		run.ErrorSummary = patch.ErrorSummary
	}

	return nil
}

// UpdateNodeRun applies a partial update to a node run row, refusing status
// changes away from a terminal state.
func (store *Store) UpdateNodeRun(_ context.Context, nodeRunID string, patch storage.NodeRunPatch) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	nodeRun, exists := store.nodeRuns[nodeRunID]
	if !exists {
		return storage.ErrNotFound
	}

	if patch.Status != nil && nodeRun.Status.Terminal() && *patch.Status != nodeRun.Status {
		return storage.ErrTerminalNodeRun
	}

	if patch.Status != nil {
		nodeRun.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		nodeRun.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		nodeRun.FinishedAt = patch.FinishedAt
	}
	if patch.DurationMS != nil {
		nodeRun.DurationMS = patch.DurationMS
	}
	if patch.Inputs != nil {
		nodeRun.Inputs = patch.Inputs
	}
	if patch.Outputs != nil {
		nodeRun.Outputs = patch.Outputs
	}
	if patch.ErrorMessage != nil {
		nodeRun.ErrorMessage = patch.ErrorMessage
	}
	if patch.ErrorDetails != nil {
		nodeRun.ErrorDetails = patch.ErrorDetails
	}
	if patch.TaskName != nil {
		nodeRun.TaskName = patch.TaskName
	}
	if patch.RemoteRunID != nil {
		nodeRun.RemoteRunID = patch.RemoteRunID
	}

	return nil
}

// RunWithNodeRuns loads a run owned by userID with node runs ordered by
// (started_at, id). Node runs that never started sort before started ones,
// then by id, which keeps the ordering total and deterministic.
func (store *Store) RunWithNodeRuns(_ context.Context, runID, userID string) (*storage.WorkflowRun, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	run, exists := store.runs[runID]
	if !exists || run.UserID != userID {
		return nil, storage.ErrNotFound
	}

	runCopy := *run
	runCopy.NodeRuns = make([]*storage.NodeRun, 0)

	for _, nodeRun := range store.nodeRuns {
		if nodeRun.RunID == runID {
			nodeRunCopy := *nodeRun
			runCopy.NodeRuns = append(runCopy.NodeRuns, &nodeRunCopy)
		}
	}

	sort.Slice(runCopy.NodeRuns, func(indexA, indexB int) bool {
		startA := startedAtOrZero(runCopy.NodeRuns[indexA])
		startB := startedAtOrZero(runCopy.NodeRuns[indexB])
		if !startA.Equal(startB) {
			return startA.Before(startB)
		}
		return runCopy.NodeRuns[indexA].ID < runCopy.NodeRuns[indexB].ID
	})

	return &runCopy, nil
}

// ListRuns pages through a workflow's runs newest first. The cursor is the id
// of the last run of the previous page; an unknown cursor yields ErrNotFound.
func (store *Store) ListRuns(_ context.Context, workflowID, userID string, limit int, cursor string) (*storage.RunPage, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	matching := make([]*storage.WorkflowRun, 0)
	for _, run := range store.runs {
		if run.WorkflowID == workflowID && run.UserID == userID {
			matching = append(matching, run)
		}
	}

	sort.Slice(matching, func(indexA, indexB int) bool {
		return matching[indexA].RunNumber > matching[indexB].RunNumber
	})

	startIndex := 0
	if cursor != "" {
		cursorIndex := -1
		for index, run := range matching {
			if run.ID == cursor {
				cursorIndex = index
				break
			}
		}
		if cursorIndex == -1 {
			return nil, storage.ErrNotFound
		}
		startIndex = cursorIndex + 1
	}

	page := &storage.RunPage{Runs: make([]*storage.WorkflowRun, 0, limit)}
	for index := startIndex; index < len(matching) && len(page.Runs) < limit; index++ {
		runCopy := *matching[index]
		page.Runs = append(page.Runs, &runCopy)
	}

	if lastIndex := startIndex + len(page.Runs); lastIndex < len(matching) {
		page.HasMore = true
		if len(page.Runs) > 0 {
			page.NextCursor = page.Runs[len(page.Runs)-1].ID
		}
	}

	return page, nil
}

// UpsertAssetByProviderURL inserts the asset or returns the existing record
// for the same (provider, url).
func (store *Store) UpsertAssetByProviderURL(_ context.Context, asset *storage.Asset) (*storage.Asset, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	assetKey := asset.Provider + "\n" + asset.URL
	if existing, exists := store.assets[assetKey]; exists {
		existingCopy := *existing
		return &existingCopy, nil
	}

	stored := *asset
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	store.assets[assetKey] = &stored

	storedCopy := stored
	return &storedCopy, nil
}

// startedAtOrZero returns the node run's start time, or the zero time when it
// never started.
func startedAtOrZero(nodeRun *storage.NodeRun) time.Time {
	if nodeRun.StartedAt == nil {
		return time.Time{}
	}
	return *nodeRun.StartedAt
}
