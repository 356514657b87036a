package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/cadence/internal/domain"
)

const templateColumns = `template_id, tenant_id, pipeline_id, stage_name, task_order, channel, day_offset, title, description, content_template, anchor_policy, is_active, created_at, updated_at`

func scanTemplate(row pgx.CollectableRow) (domain.CadenceTemplate, error) {
	var tpl domain.CadenceTemplate
	err := row.Scan(&tpl.ID, &tpl.TenantID, &tpl.PipelineID, &tpl.StageName, &tpl.TaskOrder, &tpl.Channel, &tpl.DayOffset,
		&tpl.Title, &tpl.Description, &tpl.ContentTemplate, &tpl.AnchorPolicy, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt)
	return tpl, err
}

// ListActiveTemplates implements domain.TemplateStore.
func (s *Store) ListActiveTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error) {
	return s.listTemplates(ctx, tenantID, pipelineID, stageName, true)
}

// ListTemplates implements domain.TemplateAdmin.
func (s *Store) ListTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error) {
	return s.listTemplates(ctx, tenantID, pipelineID, stageName, false)
}

func (s *Store) listTemplates(ctx context.Context, tenantID, pipelineID, stageName string, activeOnly bool) ([]domain.CadenceTemplate, error) {
	query := `SELECT ` + templateColumns + `
        FROM cadence_templates
        WHERE tenant_id=$1 AND pipeline_id=$2 AND stage_name=$3`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY task_order`

	var templates []domain.CadenceTemplate
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, pipelineID, stageName)
		if err != nil {
			return err
		}
		templates, err = pgx.CollectRows(rows, scanTemplate)
		return err
	})
	if err != nil {
		return nil, classify("list templates", err)
	}
	if templates == nil {
		templates = []domain.CadenceTemplate{}
	}
	return templates, nil
}

// CreateTemplate implements domain.TemplateAdmin.
func (s *Store) CreateTemplate(ctx context.Context, tpl domain.CadenceTemplate) error {
	const stmt = `INSERT INTO cadence_templates (` + templateColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	err := s.withTenant(ctx, tpl.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			tpl.ID, tpl.TenantID, tpl.PipelineID, tpl.StageName, tpl.TaskOrder, tpl.Channel, tpl.DayOffset,
			tpl.Title, tpl.Description, tpl.ContentTemplate, tpl.AnchorPolicy, tpl.Active, tpl.CreatedAt, tpl.UpdatedAt)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task_order %d", domain.ErrTemplateConflict, tpl.TaskOrder)
	}
	return classify("create template", err)
}

// SetTemplateActive implements domain.TemplateAdmin.
func (s *Store) SetTemplateActive(ctx context.Context, tenantID, templateID string, active bool) (*domain.CadenceTemplate, error) {
	const stmt = `UPDATE cadence_templates SET is_active=$3, updated_at=NOW()
        WHERE tenant_id=$1 AND template_id=$2
        RETURNING ` + templateColumns

	var tpl domain.CadenceTemplate
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, stmt, tenantID, templateID, active)
		if err != nil {
			return err
		}
		tpl, err = pgx.CollectExactlyOneRow(rows, scanTemplate)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, templateID)
	}
	if err != nil {
		return nil, classify("set template active", err)
	}
	return &tpl, nil
}
