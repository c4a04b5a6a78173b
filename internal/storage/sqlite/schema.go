package sqlite

// Table and column names are read by downstream reporting; keep them stable.
const schema = `
-- Versions of the extracted projects
CREATE TABLE IF NOT EXISTS version (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id TEXT NOT NULL,
    name TEXT,
    archived BOOLEAN,
    released BOOLEAN,
    start_date TEXT,
    released_date TEXT
);

CREATE INDEX IF NOT EXISTS idx_version_name ON version(name);

-- Lookup tables
CREATE TABLE IF NOT EXISTS project (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resolution (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS status (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS type (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL
);

-- Sprints, fetched individually by id
CREATE TABLE IF NOT EXISTS sprint (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sprint_id INTEGER NOT NULL,
    name TEXT,
    sequence INTEGER,
    state TEXT,
    goal TEXT,
    start_date TEXT,
    end_date TEXT,
    complete_date TEXT
);

-- Issues, upserted by key
CREATE TABLE IF NOT EXISTS issue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    summary TEXT,
    labels TEXT,
    creation_date TEXT,
    resolution_date TEXT,
    updated_date TEXT,
    start_date TEXT,
    due_date TEXT,
    priority TEXT,
    assignee TEXT,
    reporter TEXT,
    components TEXT,
    epic_link TEXT,
    story_points TEXT,
    resolution_id INTEGER REFERENCES resolution(id),
    status_id INTEGER REFERENCES status(id),
    type_id INTEGER REFERENCES type(id),
    project_id INTEGER REFERENCES project(id)
);
-- Note: epic_name, tshirt_size, linked_theme and raw_value are added in
-- migrations/001_issue_columns.go so older databases pick them up too.

CREATE INDEX IF NOT EXISTS idx_issue_status ON issue(status_id);
CREATE INDEX IF NOT EXISTS idx_issue_type ON issue(type_id);
CREATE INDEX IF NOT EXISTS idx_issue_project ON issue(project_id);

-- Associations
CREATE TABLE IF NOT EXISTS issue_sprints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id INTEGER NOT NULL REFERENCES issue(id) ON DELETE CASCADE,
    sprint_id INTEGER NOT NULL REFERENCES sprint(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS issue_fix_version (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id INTEGER NOT NULL REFERENCES issue(id) ON DELETE CASCADE,
    version_id INTEGER NOT NULL REFERENCES version(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS issue_affects_version (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id INTEGER NOT NULL REFERENCES issue(id) ON DELETE CASCADE,
    version_id INTEGER NOT NULL REFERENCES version(id) ON DELETE CASCADE
);
-- Note: unique indexes on the natural keys and on the association pairs are
-- created in migrations/002_unique_natural_keys.go after de-duplicating.

-- Metadata table (schema version)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
