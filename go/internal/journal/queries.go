package journal

const createTableSQL = `
CREATE TABLE IF NOT EXISTS auction_closures (
    id          UUID PRIMARY KEY,
    lead_id     TEXT NOT NULL,
    vertical    TEXT,
    kind        TEXT NOT NULL,
    outcome     TEXT,
    occurred_at TIMESTAMPTZ NOT NULL
)`

const createIndexSQL = `
CREATE INDEX IF NOT EXISTS auction_closures_occurred_at_idx
    ON auction_closures (occurred_at DESC)`

const insertSQL = `
INSERT INTO auction_closures (id, lead_id, vertical, kind, outcome, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const recentSQL = `
SELECT id, lead_id, vertical, kind, outcome, occurred_at
FROM auction_closures
ORDER BY occurred_at DESC
LIMIT $1`
