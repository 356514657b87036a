package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/events"
	"example.com/cadence/internal/outbox"
)

const instanceColumns = `task_id, tenant_id, lead_id, pipeline_id, stage_name, task_order, template_id, channel, title, description, rendered_content, assignee_id, scheduled_at, status, created_at`

func scanInstance(row pgx.CollectableRow) (domain.TaskInstance, error) {
	var (
		inst       domain.TaskInstance
		templateID *string
		assigneeID *string
	)
	err := row.Scan(&inst.ID, &inst.TenantID, &inst.LeadID, &inst.PipelineID, &inst.StageName, &inst.TaskOrder, &templateID,
		&inst.Channel, &inst.Title, &inst.Description, &inst.RenderedContent, &assigneeID, &inst.ScheduledAt, &inst.Status, &inst.CreatedAt)
	inst.TemplateID = derefString(templateID)
	inst.AssigneeID = derefString(assigneeID)
	inst.ScheduledAt = inst.ScheduledAt.UTC()
	inst.CreatedAt = inst.CreatedAt.UTC()
	return inst, err
}

// ListByLeadAndStage implements domain.InstanceStore.
func (s *Store) ListByLeadAndStage(ctx context.Context, tenantID, leadID, stageName string) ([]domain.TaskInstance, error) {
	const query = `SELECT ` + instanceColumns + `
        FROM task_instances
        WHERE tenant_id=$1 AND lead_id=$2 AND stage_name=$3
        ORDER BY task_order`

	var instances []domain.TaskInstance
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, leadID, stageName)
		if err != nil {
			return err
		}
		instances, err = pgx.CollectRows(rows, scanInstance)
		return err
	})
	if err != nil {
		return nil, classify("list instances", err)
	}
	return instances, nil
}

// InsertInstances implements domain.InstanceStore. Each inserted row writes a cadence.task_created
// outbox event in the same transaction; a row that hits the idempotency key writes nothing.
func (s *Store) InsertInstances(ctx context.Context, tenantID, leadID, stageName string, instances []domain.TaskInstance) (int, error) {
	const stmt = `INSERT INTO task_instances (` + instanceColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT ON CONSTRAINT task_instances_idempotency_key DO NOTHING`

	for _, inst := range instances {
		if inst.TenantID != tenantID || inst.LeadID != leadID || inst.StageName != stageName {
			return 0, fmt.Errorf("%w: instance %s does not belong to %s/%s/%s", domain.ErrTenantMismatch, inst.ID, tenantID, leadID, stageName)
		}
	}

	created := 0
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		created = 0
		for _, inst := range instances {
			tag, err := tx.Exec(ctx, stmt,
				inst.ID, inst.TenantID, inst.LeadID, inst.PipelineID, inst.StageName, inst.TaskOrder, nullIfEmpty(inst.TemplateID),
				inst.Channel, inst.Title, inst.Description, inst.RenderedContent, nullIfEmpty(inst.AssigneeID),
				inst.ScheduledAt, inst.Status, inst.CreatedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			created++

			if err := outbox.Record(ctx, tx, outbox.Event{
				TenantID:      inst.TenantID,
				AggregateType: "task_instance",
				AggregateID:   inst.ID,
				EventType:     events.TaskCreatedType,
				PartitionKey:  inst.TenantID + ":" + inst.LeadID,
				DedupeKey:     inst.ID + ":" + events.TaskCreatedType,
				Payload: events.TaskCreated{
					TaskID:      inst.ID,
					TenantID:    inst.TenantID,
					LeadID:      inst.LeadID,
					PipelineID:  inst.PipelineID,
					StageName:   inst.StageName,
					TaskOrder:   inst.TaskOrder,
					Channel:     string(inst.Channel),
					AssigneeID:  inst.AssigneeID,
					ScheduledAt: inst.ScheduledAt,
					CreatedAt:   inst.CreatedAt,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, classify("insert instances", err)
	}
	return created, nil
}

// ListByLead implements domain.InstanceStore, ordered by (scheduled_at, task_id).
func (s *Store) ListByLead(ctx context.Context, tenantID, leadID string, cursor *domain.Cursor, limit int) ([]domain.TaskInstance, *domain.Cursor, error) {
	args := []any{tenantID, leadID, limit + 1}
	query := `SELECT ` + instanceColumns + `
        FROM task_instances WHERE tenant_id=$1 AND lead_id=$2`
	if cursor != nil {
		query += ` AND (scheduled_at, task_id) > ($4, $5::uuid)`
		args = append(args, cursor.ScheduledAt, cursor.ID)
	}
	query += ` ORDER BY scheduled_at, task_id LIMIT $3`

	var results []domain.TaskInstance
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanInstance)
		return err
	})
	if err != nil {
		return nil, nil, classify("list lead instances", err)
	}

	var next *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		next = &domain.Cursor{ScheduledAt: last.ScheduledAt, ID: last.ID}
	}
	return results, next, nil
}
