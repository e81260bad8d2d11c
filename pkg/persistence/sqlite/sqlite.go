// Package sqlite provides single-node durable persistence backed by SQLite.
//
// It uses the pure-Go driver modernc.org/sqlite, so no cgo toolchain is
// needed to build a durable single-binary deployment.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/persistence/sqlbase"

	_ "modernc.org/sqlite"
)

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence opens (creating if needed) the SQLite database at the given
// path, migrates it, and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databasePath string) (*Persistence, error) {
	database, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under concurrent workers.
	database.SetMaxOpenConns(1)

	_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;")
	if err != nil {
		return nil, fmt.Errorf("failed to configure SQLite database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger.With("component", "sqlite_persistence"),
	}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_events (
				instance_id     TEXT    NOT NULL,
				sequence_number INTEGER NOT NULL,
				kind            TEXT    NOT NULL,
				occurred_at_ms  INTEGER NOT NULL,
				schedule_id     TEXT    NOT NULL DEFAULT '',
				attributes      BLOB,
				PRIMARY KEY (instance_id, sequence_number)
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id            TEXT    PRIMARY KEY,
				definition_id TEXT    NOT NULL,
				status        TEXT    NOT NULL,
				input         BLOB,
				result        BLOB,
				failure       BLOB,
				created_at_ms INTEGER NOT NULL,
				updated_at_ms INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS products (
				product_uuid TEXT PRIMARY KEY,
				name         TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS product_scores (
				product_uuid TEXT PRIMARY KEY,
				score        TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS activity_heartbeats (
				instance_id   TEXT    NOT NULL,
				schedule_id   TEXT    NOT NULL,
				attempt       INTEGER NOT NULL,
				activity_type TEXT    NOT NULL,
				deadline_ms   INTEGER NOT NULL,
				PRIMARY KEY (instance_id, schedule_id, attempt)
			);
		`,
	}
}

func (p *Persistence) AppendEvents(ctx context.Context, instanceID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoreError("AppendEvents", instanceID, err)
	}

	// Histories are contiguous, so any overlap shows up as an existing
	// sequence number at or past the batch start.
	var maxSeq int64

	err = transaction.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM workflow_events WHERE instance_id = ?`,
		instanceID,
	).Scan(&maxSeq)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewStoreError("AppendEvents", instanceID, err)
	}

	if maxSeq >= events[0].SequenceNumber {
		_ = transaction.Rollback()

		return persistence.NewStoreError("AppendEvents", instanceID, persistence.ErrSequenceConflict)
	}

	for _, event := range events {
		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_events (instance_id, sequence_number, kind, occurred_at_ms, schedule_id, attributes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			instanceID,
			event.SequenceNumber,
			string(event.Kind),
			event.Timestamp.UnixMilli(),
			event.ScheduleID,
			nullableJSON(event.Attributes),
		)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewStoreError("AppendEvents", instanceID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return persistence.NewStoreError("AppendEvents", instanceID, err)
	}

	return nil
}

func (p *Persistence) ListEvents(ctx context.Context, instanceID string) ([]models.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sequence_number, kind, occurred_at_ms, schedule_id, attributes
		FROM workflow_events
		WHERE instance_id = ?
		ORDER BY sequence_number ASC`,
		instanceID,
	)
	if err != nil {
		return nil, persistence.NewStoreError("ListEvents", instanceID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	events := make([]models.Event, 0)

	for rows.Next() {
		var (
			event      models.Event
			kind       string
			occurredAt int64
			attributes []byte
		)

		err = rows.Scan(&event.SequenceNumber, &kind, &occurredAt, &event.ScheduleID, &attributes)
		if err != nil {
			return nil, persistence.NewStoreError("ListEvents", instanceID, err)
		}

		event.Kind = models.EventKind(kind)
		event.Timestamp = time.UnixMilli(occurredAt).UTC()
		event.Attributes = attributes

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewStoreError("ListEvents", instanceID, err)
	}

	return events, nil
}

func (p *Persistence) SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	failure, err := marshalFailure(instance.Failure)
	if err != nil {
		return persistence.NewStoreError("SaveInstance", instance.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, status, input, result, failure, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			failure = excluded.failure,
			updated_at_ms = excluded.updated_at_ms`,
		instance.ID,
		instance.DefinitionID,
		string(instance.Status),
		nullableJSON(instance.Input),
		nullableJSON(instance.Result),
		failure,
		instance.CreatedAt.UnixMilli(),
		instance.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return persistence.NewStoreError("SaveInstance", instance.ID, err)
	}

	return nil
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, definition_id, status, input, result, failure, created_at_ms, updated_at_ms
		FROM workflow_instances
		WHERE id = ?`,
		id,
	)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("InstanceByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewStoreError("InstanceByID", id, err)
	}

	return instance, nil
}

func (p *Persistence) Instances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, definition_id, status, input, result, failure, created_at_ms, updated_at_ms
		FROM workflow_instances
		ORDER BY created_at_ms ASC`,
	)
	if err != nil {
		return nil, persistence.NewStoreError("Instances", "", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, persistence.NewStoreError("Instances", "", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewStoreError("Instances", "", err)
	}

	return instances, nil
}

func (p *Persistence) SaveProduct(ctx context.Context, productUUID, name string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO products (product_uuid, name)
		VALUES (?, ?)
		ON CONFLICT (product_uuid) DO UPDATE SET name = excluded.name`,
		productUUID, name,
	)
	if err != nil {
		return persistence.NewStoreError("SaveProduct", productUUID, err)
	}

	return nil
}

func (p *Persistence) ProductName(ctx context.Context, productUUID string) (string, error) {
	var name string

	err := p.db.QueryRowContext(ctx, `SELECT name FROM products WHERE product_uuid = ?`, productUUID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.NewStoreError("ProductName", productUUID, persistence.ErrProductNotFound)
		}

		return "", persistence.NewStoreError("ProductName", productUUID, err)
	}

	return name, nil
}

func (p *Persistence) SaveScore(ctx context.Context, productUUID, score string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO product_scores (product_uuid, score)
		VALUES (?, ?)
		ON CONFLICT (product_uuid) DO UPDATE SET score = excluded.score`,
		productUUID, score,
	)
	if err != nil {
		return persistence.NewStoreError("SaveScore", productUUID, err)
	}

	return nil
}

func (p *Persistence) Score(ctx context.Context, productUUID string) (string, error) {
	var score string

	err := p.db.QueryRowContext(ctx, `SELECT score FROM product_scores WHERE product_uuid = ?`, productUUID).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.NewStoreError("Score", productUUID, persistence.ErrScoreNotFound)
		}

		return "", persistence.NewStoreError("Score", productUUID, err)
	}

	return score, nil
}

func (p *Persistence) RecordHeartbeat(ctx context.Context, beat persistence.Heartbeat) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO activity_heartbeats (instance_id, schedule_id, attempt, activity_type, deadline_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, schedule_id, attempt) DO UPDATE SET
			activity_type = excluded.activity_type,
			deadline_ms = excluded.deadline_ms`,
		beat.InstanceID, beat.ScheduleID, beat.Attempt, beat.ActivityType, beat.Deadline.UnixMilli(),
	)
	if err != nil {
		return persistence.NewStoreError("RecordHeartbeat", beat.InstanceID, err)
	}

	return nil
}

func (p *Persistence) ClearHeartbeat(ctx context.Context, instanceID, scheduleID string, attempt int32) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM activity_heartbeats
		WHERE instance_id = ? AND schedule_id = ? AND attempt = ?`,
		instanceID, scheduleID, attempt,
	)
	if err != nil {
		return persistence.NewStoreError("ClearHeartbeat", instanceID, err)
	}

	return nil
}

func (p *Persistence) ExpiredHeartbeats(ctx context.Context, cutoff time.Time) ([]persistence.Heartbeat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instance_id, schedule_id, attempt, activity_type, deadline_ms
		FROM activity_heartbeats
		WHERE deadline_ms <= ?
		ORDER BY deadline_ms ASC`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	beats := make([]persistence.Heartbeat, 0)

	for rows.Next() {
		var (
			beat       persistence.Heartbeat
			deadlineMs int64
		)

		err = rows.Scan(&beat.InstanceID, &beat.ScheduleID, &beat.Attempt, &beat.ActivityType, &deadlineMs)
		if err != nil {
			return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
		}

		beat.Deadline = time.UnixMilli(deadlineMs).UTC()

		beats = append(beats, beat)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
	}

	return beats, nil
}

// HealthCheck verifies database connectivity.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance  models.WorkflowInstance
		status    string
		input     []byte
		result    []byte
		failure   []byte
		createdMs int64
		updatedMs int64
	)

	err := row.Scan(&instance.ID, &instance.DefinitionID, &status, &input, &result, &failure, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)
	instance.Input = input
	instance.Result = result
	instance.CreatedAt = time.UnixMilli(createdMs).UTC()
	instance.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	if len(failure) > 0 {
		var info models.FailureInfo

		err = json.Unmarshal(failure, &info)
		if err != nil {
			return nil, fmt.Errorf("failed to decode instance failure: %w", err)
		}

		instance.Failure = &info
	}

	return &instance, nil
}

func marshalFailure(failure *models.FailureInfo) ([]byte, error) {
	if failure == nil {
		return nil, nil
	}

	payload, err := json.Marshal(failure)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instance failure: %w", err)
	}

	return payload, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}

	return raw
}
