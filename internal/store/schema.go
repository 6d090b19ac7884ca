package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS agent_runs (
    session_id   TEXT PRIMARY KEY,
    task         TEXT NOT NULL,
    success      BOOLEAN NOT NULL,
    reason       TEXT NOT NULL,
    message      TEXT NOT NULL DEFAULT '',
    iterations   INTEGER NOT NULL,
    loop         JSONB,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_actions (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    iteration     INTEGER NOT NULL,
    action        TEXT NOT NULL,
    params        JSONB NOT NULL,
    thought       TEXT NOT NULL DEFAULT '',
    success       BOOLEAN NOT NULL,
    result        JSONB NOT NULL,
    page_changed  BOOLEAN NOT NULL,
    valid         BOOLEAN NOT NULL,
    validation    TEXT NOT NULL DEFAULT '',
    strategy      TEXT NOT NULL DEFAULT '',
    cached        BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms   BIGINT NOT NULL,
    recorded_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS agent_actions_session_idx ON agent_actions (session_id, iteration);
`

const (
	sqlInsertAction = `
        INSERT INTO agent_actions (id, session_id, iteration, action, params, thought, success, result,
            page_changed, valid, validation, strategy, cached, duration_ms, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlUpsertRun = `
        INSERT INTO agent_runs (session_id, task, success, reason, message, iterations, loop, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (session_id) DO UPDATE SET
            success = EXCLUDED.success,
            reason = EXCLUDED.reason,
            message = EXCLUDED.message,
            iterations = EXCLUDED.iterations,
            loop = EXCLUDED.loop,
            finished_at = EXCLUDED.finished_at;
    `
	sqlRecentRuns = `
        SELECT session_id, task, success, reason, message, iterations, started_at, finished_at
        FROM agent_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)
