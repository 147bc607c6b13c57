// Package pgstore implements storage.Store on PostgreSQL via pgx. Graph
// snapshots, run inputs/outputs and error details are stored as JSONB; the
// run bootstrap (counter already advanced by IncrementRunCounter) writes the
// run row and all queued node-run rows inside one transaction.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frameloom/frameloom/core/graph"
	"github.com/frameloom/frameloom/providers/storage"
)

// Querier abstracts the pgx query methods used by Store. Both *pgxpool.Pool
// and pgx.Tx satisfy this interface, so callers can inject a pool or run the
// store inside an existing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxQuerier extends Querier with transaction support. *pgxpool.Pool satisfies
// it; pgx.Tx does not. CreateRun requires TxQuerier for its atomic bootstrap
// and falls back to sequential writes when only Querier is available (the
// caller is then expected to already be inside a transaction).
type TxQuerier interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL storage.Store implementation.
type Store struct {
	db Querier
}

// Compile-time check that Store implements storage.Store.
var _ storage.Store = (*Store)(nil)

// New creates a Store on top of a pgx pool or transaction.
func New(db Querier) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for the given DSN and returns a Store bound to it.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(pool), pool, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateWorkflow persists a new workflow.
func (store *Store) CreateWorkflow(ctx context.Context, workflow *storage.Workflow) error {
	_, err := store.db.Exec(ctx,
		`INSERT INTO workflows (id, user_id, name, run_counter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		workflow.ID, workflow.UserID, workflow.Name, workflow.RunCounter, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// SaveVersion persists a new immutable version snapshot.
func (store *Store) SaveVersion(ctx context.Context, version *storage.WorkflowVersion) error {
	nodesJSON, err := json.Marshal(version.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(version.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}
	viewportJSON, err := marshalNullableMap(version.Viewport)
	if err != nil {
		return fmt.Errorf("failed to marshal viewport: %w", err)
	}

	_, err = store.db.Exec(ctx,
		`INSERT INTO workflow_versions (id, workflow_id, version_number, nodes, edges, viewport, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.ID, version.WorkflowID, version.VersionNumber, nodesJSON, edgesJSON, viewportJSON, version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow version: %w", err)
	}
	return nil
}

// WorkflowWithLatestVersion loads a workflow owned by userID with its
// highest-numbered version.
func (store *Store) WorkflowWithLatestVersion(ctx context.Context, workflowID, userID string) (*storage.Workflow, *storage.WorkflowVersion, error) {
	workflow := &storage.Workflow{}
	err := store.db.QueryRow(ctx,
		`SELECT id, user_id, name, run_counter, created_at, updated_at
		 FROM workflows WHERE id = $1 AND user_id = $2`,
		workflowID, userID,
	).Scan(&workflow.ID, &workflow.UserID, &workflow.Name, &workflow.RunCounter, &workflow.CreatedAt, &workflow.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	version := &storage.WorkflowVersion{}
	var nodesJSON, edgesJSON []byte
	var viewportJSON []byte
	err = store.db.QueryRow(ctx,
		`SELECT id, workflow_id, version_number, nodes, edges, viewport, created_at
		 FROM workflow_versions WHERE workflow_id = $1
		 ORDER BY version_number DESC LIMIT 1`,
		workflowID,
	).Scan(&version.ID, &version.WorkflowID, &version.VersionNumber, &nodesJSON, &edgesJSON, &viewportJSON, &version.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load latest version: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &version.Nodes); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &version.Edges); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}
	if len(viewportJSON) > 0 {
		if err := json.Unmarshal(viewportJSON, &version.Viewport); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal viewport: %w", err)
		}
	}

	return workflow, version, nil
}

// IncrementRunCounter atomically advances the workflow's run counter.
func (store *Store) IncrementRunCounter(ctx context.Context, workflowID string) (int, error) {
	var runNumber int
	err := store.db.QueryRow(ctx,
		`UPDATE workflows SET run_counter = run_counter + 1, updated_at = now()
		 WHERE id = $1 RETURNING run_counter`,
		workflowID,
	).Scan(&runNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment run counter: %w", err)
	}
	return runNumber, nil
}

// CreateRun persists the run and its queued node runs atomically. When the
// underlying Querier supports transactions the writes run inside one; a plain
// Querier is assumed to already be transactional.
func (store *Store) CreateRun(ctx context.Context, run *storage.WorkflowRun, nodeRuns []*storage.NodeRun) error {
	if txDB, supportsTx := store.db.(TxQuerier); supportsTx {
		tx, err := txDB.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin bootstrap transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // rollback after commit is a no-op

		if err := createRunWith(ctx, tx, run, nodeRuns); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit bootstrap transaction: %w", err)
		}
		return nil
	}

	return createRunWith(ctx, store.db, run, nodeRuns)
}

// createRunWith performs the bootstrap inserts on the given querier.
func createRunWith(ctx context.Context, db Querier, run *storage.WorkflowRun, nodeRuns []*storage.NodeRun) error {
	selectedJSON, err := json.Marshal(run.SelectedNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal selected node ids: %w", err)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO workflow_runs (id, workflow_id, version_id, run_number, user_id, scope, selected_node_ids, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.WorkflowID, run.VersionID, run.RunNumber, run.UserID, string(run.Scope), selectedJSON, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow run: %w", err)
	}

	for _, nodeRun := range nodeRuns {
		_, err = db.Exec(ctx,
			`INSERT INTO node_runs (id, run_id, node_id, node_kind, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			nodeRun.ID, nodeRun.RunID, nodeRun.NodeID, string(nodeRun.NodeKind), string(nodeRun.Status), nodeRun.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node run %s: %w", nodeRun.NodeID, err)
		}
	}

	return nil
}

// UpdateRun applies a partial update to a run row.
func (store *Store) UpdateRun(ctx context.Context, runID string, patch storage.RunPatch) error {
	setClauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	appendSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		appendSet("status", string(*patch.Status))
	}
	if patch.FinishedAt != nil {
		appendSet("finished_at", *patch.FinishedAt)
	}
	if patch.DurationMS != nil {
		appendSet("duration_ms", *patch.DurationMS)
	}
	if patch.ErrorSummary != nil {
		appendSet("error_summary", *patch.ErrorSummary)
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, runID)
	query := fmt.Sprintf("UPDATE workflow_runs SET %s WHERE id = $%d", strings.Join(setClauses, ", "), len(args))

	tag, err := store.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateNodeRun applies a partial update to a node run row. A status change
// is guarded in SQL so terminal rows are never moved to another status, even
// under pathological out-of-order updates.
func (store *Store) UpdateNodeRun(ctx context.Context, nodeRunID string, patch storage.NodeRunPatch) error {
	setClauses := make([]string, 0, 10)
	args := make([]any, 0, 11)

	appendSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		appendSet("status", string(*patch.Status))
	}
	if patch.StartedAt != nil {
		appendSet("started_at", *patch.StartedAt)
	}
	if patch.FinishedAt != nil {
		appendSet("finished_at", *patch.FinishedAt)
	}
	if patch.DurationMS != nil {
		appendSet("duration_ms", *patch.DurationMS)
	}
	if patch.Inputs != nil {
		inputsJSON, err := json.Marshal(patch.Inputs)
		if err != nil {
			return fmt.Errorf("failed to marshal inputs: %w", err)
		}
		appendSet("inputs", inputsJSON)
	}
	if patch.Outputs != nil {
		outputsJSON, err := json.Marshal(patch.Outputs)
		if err != nil {
			return fmt.Errorf("failed to marshal outputs: %w", err)
		}
		appendSet("outputs", outputsJSON)
	}
	if patch.ErrorMessage != nil {
		appendSet("error_message", *patch.ErrorMessage)
	}
	if patch.ErrorDetails != nil {
		detailsJSON, err := json.Marshal(patch.ErrorDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal error details: %w", err)
		}
		appendSet("error_details", detailsJSON)
	}
	if patch.TaskName != nil {
		appendSet("task_name", *patch.TaskName)
	}
	if patch.RemoteRunID != nil {
		appendSet("remote_run_id", *patch.RemoteRunID)
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, nodeRunID)
	query := fmt.Sprintf("UPDATE node_runs SET %s WHERE id = $%d", strings.Join(setClauses, ", "), len(args))
	if patch.Status != nil {
		args = append(args, string(*patch.Status))
		query += fmt.Sprintf(" AND (status NOT IN ('SUCCESS','FAILED','SKIPPED') OR status = $%d)", len(args))
	}

	tag, err := store.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update node run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if patch.Status != nil && store.nodeRunExists(ctx, nodeRunID) {
			return storage.ErrTerminalNodeRun
		}
		return storage.ErrNotFound
	}
	return nil
}

// nodeRunExists reports whether a node run row exists; best-effort, used only
// to distinguish ErrTerminalNodeRun from ErrNotFound.
func (store *Store) nodeRunExists(ctx context.Context, nodeRunID string) bool {
	var exists bool
	err := store.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM node_runs WHERE id = $1)`, nodeRunID).Scan(&exists)
	return err == nil && exists
}

// RunWithNodeRuns loads a run owned by userID with node runs ordered by
// (started_at, id); never-started rows sort first.
func (store *Store) RunWithNodeRuns(ctx context.Context, runID, userID string) (*storage.WorkflowRun, error) {
	run, err := store.scanRun(store.db.QueryRow(ctx,
		runSelectColumns+` FROM workflow_runs WHERE id = $1 AND user_id = $2`,
		runID, userID,
	))
	if err != nil {
		return nil, err
	}

	rows, err := store.db.Query(ctx,
		`SELECT id, run_id, node_id, node_kind, status, started_at, finished_at, duration_ms,
		        inputs, outputs, error_message, error_details, task_name, remote_run_id, created_at
		 FROM node_runs WHERE run_id = $1
		 ORDER BY started_at ASC NULLS FIRST, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}
	defer rows.Close()

	run.NodeRuns = make([]*storage.NodeRun, 0)
	for rows.Next() {
		nodeRun := &storage.NodeRun{}
		var kind string
		var status string
		var inputsJSON, outputsJSON, detailsJSON []byte
		err := rows.Scan(
			&nodeRun.ID, &nodeRun.RunID, &nodeRun.NodeID, &kind, &status,
			&nodeRun.StartedAt, &nodeRun.FinishedAt, &nodeRun.DurationMS,
			&inputsJSON, &outputsJSON, &nodeRun.ErrorMessage, &detailsJSON,
			&nodeRun.TaskName, &nodeRun.RemoteRunID, &nodeRun.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}
		nodeRun.NodeKind = graph.Kind(kind)
		nodeRun.Status = storage.NodeRunStatus(status)
		if err := unmarshalNullableMap(inputsJSON, &nodeRun.Inputs); err != nil {
			return nil, err
		}
		if err := unmarshalNullableMap(outputsJSON, &nodeRun.Outputs); err != nil {
			return nil, err
		}
		if err := unmarshalNullableMap(detailsJSON, &nodeRun.ErrorDetails); err != nil {
			return nil, err
		}
		run.NodeRuns = append(run.NodeRuns, nodeRun)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node runs: %w", err)
	}

	return run, nil
}

// ListRuns pages through a workflow's runs newest first. The cursor run's
// run_number is resolved first; the page then contains runs strictly below it.
func (store *Store) ListRuns(ctx context.Context, workflowID, userID string, limit int, cursor string) (*storage.RunPage, error) {
	cursorRunNumber := 0
	if cursor != "" {
		err := store.db.QueryRow(ctx,
			`SELECT run_number FROM workflow_runs WHERE id = $1 AND workflow_id = $2 AND user_id = $3`,
			cursor, workflowID, userID,
		).Scan(&cursorRunNumber)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cursor: %w", err)
		}
	}

	query := runSelectColumns + ` FROM workflow_runs WHERE workflow_id = $1 AND user_id = $2`
	args := []any{workflowID, userID}
	if cursorRunNumber > 0 {
		args = append(args, cursorRunNumber)
		query += fmt.Sprintf(" AND run_number < $%d", len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY run_number DESC LIMIT $%d", len(args))

	rows, err := store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	page := &storage.RunPage{Runs: make([]*storage.WorkflowRun, 0, limit)}
	for rows.Next() {
		run, err := store.scanRun(rows)
		if err != nil {
			return nil, err
		}
		page.Runs = append(page.Runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	// We fetched one extra row to detect whether another page exists.
	if len(page.Runs) > limit {
		page.Runs = page.Runs[:limit]
		page.HasMore = true
		page.NextCursor = page.Runs[limit-1].ID
	}

	return page, nil
}

// UpsertAssetByProviderURL inserts the asset or returns the existing record
// for the same (provider, url), relying on the unique index.
func (store *Store) UpsertAssetByProviderURL(ctx context.Context, asset *storage.Asset) (*storage.Asset, error) {
	stored := &storage.Asset{}
	var kind string
	err := store.db.QueryRow(ctx,
		`INSERT INTO assets (id, user_id, kind, url, provider, assembly_id, public_id, mime_type, bytes, width, height, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (provider, url) DO UPDATE SET provider = assets.provider
		 RETURNING id, user_id, kind, url, provider, assembly_id, public_id, mime_type, bytes, width, height, duration_ms, created_at`,
		asset.ID, asset.UserID, string(asset.Kind), asset.URL, asset.Provider,
		asset.AssemblyID, asset.PublicID, asset.MimeType, asset.Bytes,
		asset.Width, asset.Height, asset.DurationMS, asset.CreatedAt,
	).Scan(
		&stored.ID, &stored.UserID, &kind, &stored.URL, &stored.Provider,
		&stored.AssemblyID, &stored.PublicID, &stored.MimeType, &stored.Bytes,
		&stored.Width, &stored.Height, &stored.DurationMS, &stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}
	stored.Kind = storage.AssetKind(kind)
	return stored, nil
}

// runSelectColumns is the shared projection for workflow_runs scans.
const runSelectColumns = `SELECT id, workflow_id, version_id, run_number, user_id, scope, selected_node_ids, status, started_at, finished_at, duration_ms, error_summary`

// scanRun scans one workflow_runs row from a pgx.Row.
func (store *Store) scanRun(row pgx.Row) (*storage.WorkflowRun, error) {
	run := &storage.WorkflowRun{}
	var scope, status string
	var selectedJSON []byte

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.VersionID, &run.RunNumber, &run.UserID,
		&scope, &selectedJSON, &status, &run.StartedAt, &run.FinishedAt,
		&run.DurationMS, &run.ErrorSummary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Scope = graph.Scope(scope)
	run.Status = storage.RunStatus(status)
	if len(selectedJSON) > 0 {
		if err := json.Unmarshal(selectedJSON, &run.SelectedNodeIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected node ids: %w", err)
		}
	}

	return run, nil
}

// marshalNullableMap marshals a map to JSON, mapping nil to SQL NULL.
func marshalNullableMap(value map[string]any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// unmarshalNullableMap decodes a JSONB column into a map, leaving the target
// nil for SQL NULL.
func unmarshalNullableMap(encoded []byte, target *map[string]any) error {
	if len(encoded) == 0 {
		return nil
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}
	return nil
}
