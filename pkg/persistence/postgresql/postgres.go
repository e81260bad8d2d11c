// Package postgresql provides PostgreSQL persistence for workflow histories,
// instances, product data, and heartbeats.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/sentiolabs/sentio/pkg/models"
	"github.com/sentiolabs/sentio/pkg/persistence"
	"github.com/sentiolabs/sentio/pkg/persistence/sqlbase"
)

const uniqueViolation = pq.ErrorCode("23505")

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, migrates, and returns a PostgreSQL persistence
// layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger.With("component", "postgres_persistence"),
	}, nil
}

func (p *Persistence) AppendEvents(ctx context.Context, instanceID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoreError("AppendEvents", instanceID, err)
	}

	for _, event := range events {
		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_events (instance_id, sequence_number, kind, occurred_at, schedule_id, attributes)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			instanceID,
			event.SequenceNumber,
			string(event.Kind),
			event.Timestamp,
			event.ScheduleID,
			nullableJSON(event.Attributes),
		)
		if err != nil {
			_ = transaction.Rollback()

			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return persistence.NewStoreError("AppendEvents", instanceID, persistence.ErrSequenceConflict)
			}

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
		SELECT sequence_number, kind, occurred_at, schedule_id, attributes
		FROM workflow_events
		WHERE instance_id = $1
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
			attributes []byte
		)

		err = rows.Scan(&event.SequenceNumber, &kind, &event.Timestamp, &event.ScheduleID, &attributes)
		if err != nil {
			return nil, persistence.NewStoreError("ListEvents", instanceID, err)
		}

		event.Kind = models.EventKind(kind)
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
		INSERT INTO workflow_instances (id, definition_id, status, input, result, failure, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			failure = EXCLUDED.failure,
			updated_at = EXCLUDED.updated_at`,
		instance.ID,
		instance.DefinitionID,
		string(instance.Status),
		nullableJSON(instance.Input),
		nullableJSON(instance.Result),
		failure,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveInstance", instance.ID, err)
	}

	return nil
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, definition_id, status, input, result, failure, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1`,
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
		SELECT id, definition_id, status, input, result, failure, created_at, updated_at
		FROM workflow_instances
		ORDER BY created_at ASC`,
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
		VALUES ($1, $2)
		ON CONFLICT (product_uuid) DO UPDATE SET name = EXCLUDED.name`,
		productUUID, name,
	)
	if err != nil {
		return persistence.NewStoreError("SaveProduct", productUUID, err)
	}

	return nil
}

func (p *Persistence) ProductName(ctx context.Context, productUUID string) (string, error) {
	var name string

	err := p.db.QueryRowContext(ctx, `SELECT name FROM products WHERE product_uuid = $1`, productUUID).Scan(&name)
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
		VALUES ($1, $2)
		ON CONFLICT (product_uuid) DO UPDATE SET score = EXCLUDED.score`,
		productUUID, score,
	)
	if err != nil {
		return persistence.NewStoreError("SaveScore", productUUID, err)
	}

	return nil
}

func (p *Persistence) Score(ctx context.Context, productUUID string) (string, error) {
	var score string

	err := p.db.QueryRowContext(ctx, `SELECT score FROM product_scores WHERE product_uuid = $1`, productUUID).Scan(&score)
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
		INSERT INTO activity_heartbeats (instance_id, schedule_id, attempt, activity_type, deadline)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, schedule_id, attempt) DO UPDATE SET
			activity_type = EXCLUDED.activity_type,
			deadline = EXCLUDED.deadline`,
		beat.InstanceID, beat.ScheduleID, beat.Attempt, beat.ActivityType, beat.Deadline,
	)
	if err != nil {
		return persistence.NewStoreError("RecordHeartbeat", beat.InstanceID, err)
	}

	return nil
}

func (p *Persistence) ClearHeartbeat(ctx context.Context, instanceID, scheduleID string, attempt int32) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM activity_heartbeats
		WHERE instance_id = $1 AND schedule_id = $2 AND attempt = $3`,
		instanceID, scheduleID, attempt,
	)
	if err != nil {
		return persistence.NewStoreError("ClearHeartbeat", instanceID, err)
	}

	return nil
}

func (p *Persistence) ExpiredHeartbeats(ctx context.Context, cutoff time.Time) ([]persistence.Heartbeat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instance_id, schedule_id, attempt, activity_type, deadline
		FROM activity_heartbeats
		WHERE deadline <= $1
		ORDER BY deadline ASC`,
		cutoff,
	)
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	beats := make([]persistence.Heartbeat, 0)

	for rows.Next() {
		var beat persistence.Heartbeat

		err = rows.Scan(&beat.InstanceID, &beat.ScheduleID, &beat.Attempt, &beat.ActivityType, &beat.Deadline)
		if err != nil {
			return nil, persistence.NewStoreError("ExpiredHeartbeats", "", err)
		}

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
		instance models.WorkflowInstance
		status   string
		input    []byte
		result   []byte
		failure  []byte
	)

	err := row.Scan(&instance.ID, &instance.DefinitionID, &status, &input, &result, &failure, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)
	instance.Input = input
	instance.Result = result

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
