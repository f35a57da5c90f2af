package store

const schema = `
CREATE TABLE IF NOT EXISTS posted (
    uid        TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    link       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_posted_created_at ON posted(created_at);

CREATE TABLE IF NOT EXISTS daily_stats (
    date        TEXT PRIMARY KEY,
    posts_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS failed_sources (
    source_url  TEXT PRIMARY KEY,
    failed_at   INTEGER NOT NULL,
    retry_after INTEGER NOT NULL
);
`
