package sqlite

const schema = `
-- Projects table (owned by the surrounding application; the sync core
-- reads id/status and writes derived fields only)
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    deadline DATETIME,
    progress REAL NOT NULL DEFAULT 0,
    created_by TEXT DEFAULT '',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    title TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'todo',
    assigned_to TEXT DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT DEFAULT '',
    role TEXT NOT NULL DEFAULT 'developer',
    is_active INTEGER NOT NULL DEFAULT 1,
    reports_to TEXT DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role, is_active);

-- One repository mapping per project
CREATE TABLE IF NOT EXISTS repo_mappings (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    repo_full_name TEXT NOT NULL,
    last_synced_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_repo_mappings_project ON repo_mappings(project_id);

-- Commits are immutable facts; (mapping_id, sha) is the idempotency key
CREATE TABLE IF NOT EXISTS commits (
    mapping_id TEXT NOT NULL REFERENCES repo_mappings(id),
    sha TEXT NOT NULL,
    author_name TEXT DEFAULT '',
    author_email TEXT DEFAULT '',
    message TEXT DEFAULT '',
    additions INTEGER NOT NULL DEFAULT 0,
    deletions INTEGER NOT NULL DEFAULT 0,
    files_changed INTEGER NOT NULL DEFAULT 0,
    committed_at DATETIME NOT NULL,
    PRIMARY KEY (mapping_id, sha)
);

CREATE INDEX IF NOT EXISTS idx_commits_committed_at ON commits(mapping_id, committed_at);

-- Issue-tracker mappings: task_id = '' rows carry the project key,
-- task_id != '' rows map individual issues
CREATE TABLE IF NOT EXISTS issue_mappings (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    task_id TEXT NOT NULL DEFAULT '',
    project_key TEXT NOT NULL DEFAULT '',
    issue_key TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_issue_mappings_project ON issue_mappings(project_id);
CREATE INDEX IF NOT EXISTS idx_issue_mappings_key ON issue_mappings(issue_key);

CREATE TABLE IF NOT EXISTS metrics (
    id TEXT PRIMARY KEY,
    user_id TEXT DEFAULT '',
    project_id TEXT DEFAULT '',
    metric_type TEXT NOT NULL,
    value REAL NOT NULL,
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_metrics_user ON metrics(user_id, metric_type, computed_at);
CREATE INDEX IF NOT EXISTS idx_metrics_project ON metrics(project_id, metric_type, computed_at);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL DEFAULT 'info',
    link TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Append-only escalation audit trail; escalated_to is a JSON array of
-- user ids
CREATE TABLE IF NOT EXISTS escalation_events (
    id TEXT PRIMARY KEY,
    source_user_id TEXT NOT NULL,
    source_role TEXT NOT NULL,
    risk_score REAL NOT NULL,
    escalated_to TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escalation_events_source ON escalation_events(source_user_id);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
