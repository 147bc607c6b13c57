package pgstore

// schema is the DDL applied by EnsureSchema. The unique index on
// assets(provider, url) is what makes UpsertAssetByProviderURL idempotent
// under concurrent persist calls; without it two racing inserts could create
// duplicates.
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    run_counter INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows (user_id);

CREATE TABLE IF NOT EXISTS workflow_versions (
    id             TEXT PRIMARY KEY,
    workflow_id    TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
    version_number INTEGER NOT NULL,
    nodes          JSONB NOT NULL,
    edges          JSONB NOT NULL,
    viewport       JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (workflow_id, version_number)
);

CREATE TABLE IF NOT EXISTS workflow_runs (
    id                TEXT PRIMARY KEY,
    workflow_id       TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
    version_id        TEXT NOT NULL REFERENCES workflow_versions (id),
    run_number        INTEGER NOT NULL,
    user_id           TEXT NOT NULL,
    scope             TEXT NOT NULL,
    selected_node_ids JSONB,
    status            TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    finished_at       TIMESTAMPTZ,
    duration_ms       BIGINT,
    error_summary     TEXT,
    UNIQUE (workflow_id, run_number)
);

CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow ON workflow_runs (workflow_id, run_number DESC);

CREATE TABLE IF NOT EXISTS node_runs (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL REFERENCES workflow_runs (id) ON DELETE CASCADE,
    node_id       TEXT NOT NULL,
    node_kind     TEXT NOT NULL,
    status        TEXT NOT NULL,
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ,
    duration_ms   BIGINT,
    inputs        JSONB,
    outputs       JSONB,
    error_message TEXT,
    error_details JSONB,
    task_name     TEXT,
    remote_run_id TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_node_runs_run ON node_runs (run_id);

CREATE TABLE IF NOT EXISTS assets (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    kind        TEXT NOT NULL,
    url         TEXT NOT NULL,
    provider    TEXT NOT NULL,
    assembly_id TEXT,
    public_id   TEXT,
    mime_type   TEXT,
    bytes       BIGINT,
    width       INTEGER,
    height      INTEGER,
    duration_ms BIGINT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_provider_url ON assets (provider, url);
`
