package observability

import "database/sql"

// Schema contains the DDL for the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS captures (
    capture_id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    file_name TEXT,
    width INTEGER,
    height INTEGER,
    frames INTEGER,
    duration_ms INTEGER,
    status TEXT NOT NULL,
    error_message TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_device_time
    ON captures(device_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS navigations (
    navigation_id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    url TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_navigations_device_time
    ON navigations(device_id, timestamp DESC);
`

// Init applies the journal schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
