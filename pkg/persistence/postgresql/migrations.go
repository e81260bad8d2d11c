package postgresql

// migrations returns the schema versions for the PostgreSQL persistence
// layer, applied in order by sqlbase.MigrationManager.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_events (
				instance_id     TEXT        NOT NULL,
				sequence_number BIGINT      NOT NULL,
				kind            TEXT        NOT NULL,
				occurred_at     TIMESTAMPTZ NOT NULL,
				schedule_id     TEXT        NOT NULL DEFAULT '',
				attributes      JSONB,
				PRIMARY KEY (instance_id, sequence_number)
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id            TEXT        PRIMARY KEY,
				definition_id TEXT        NOT NULL,
				status        TEXT        NOT NULL,
				input         JSONB,
				result        JSONB,
				failure       JSONB,
				created_at    TIMESTAMPTZ NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
				ON workflow_instances (status);

			CREATE TABLE IF NOT EXISTS products (
				product_uuid TEXT PRIMARY KEY,
				name         TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS product_scores (
				product_uuid TEXT PRIMARY KEY,
				score        TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS activity_heartbeats (
				instance_id   TEXT        NOT NULL,
				schedule_id   TEXT        NOT NULL,
				attempt       INTEGER     NOT NULL,
				activity_type TEXT        NOT NULL,
				deadline      TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (instance_id, schedule_id, attempt)
			);

			CREATE INDEX IF NOT EXISTS idx_activity_heartbeats_deadline
				ON activity_heartbeats (deadline);
		`,
	}
}
