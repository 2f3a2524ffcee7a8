package store

// Schema contains the DDL for the sketchbridge tables.
const Schema = `
-- Scenes: latest persisted snapshot per scene id
CREATE TABLE IF NOT EXISTS scenes (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    version       TEXT NOT NULL,
    content       TEXT NOT NULL,
    element_count INTEGER NOT NULL DEFAULT 0,
    revision      INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scenes_updated ON scenes(updated_at DESC);

-- Exports: payloads returned by save-as round trips
CREATE TABLE IF NOT EXISTS exports (
    id             TEXT PRIMARY KEY,
    scene_id       TEXT,
    format         TEXT NOT NULL,
    mime_type      TEXT NOT NULL,
    correlation_id TEXT NOT NULL DEFAULT '',
    size           INTEGER NOT NULL,
    path           TEXT NOT NULL DEFAULT '',
    data           BLOB,
    created_at     INTEGER NOT NULL,
    FOREIGN KEY (scene_id) REFERENCES scenes(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_scene ON exports(scene_id, created_at DESC);
`
