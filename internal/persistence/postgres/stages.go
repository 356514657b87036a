package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"example.com/cadence/internal/domain"
)

// ListStages implements domain.StageResolver.
func (s *Store) ListStages(ctx context.Context, tenantID, pipelineID string) ([]domain.Stage, error) {
	const query = `SELECT pipeline_id, stage_name, order_index
        FROM pipeline_stages
        WHERE tenant_id=$1 AND pipeline_id=$2
        ORDER BY order_index`

	var stages []domain.Stage
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, pipelineID)
		if err != nil {
			return err
		}
		stages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Stage, error) {
			var st domain.Stage
			err := row.Scan(&st.PipelineID, &st.Name, &st.OrderIndex)
			return st, err
		})
		return err
	})
	if err != nil {
		return nil, classify("list stages", err)
	}
	return stages, nil
}

// UpsertStage replicates a stage definition from the pipeline subsystem.
func (s *Store) UpsertStage(ctx context.Context, tenantID string, stage domain.Stage) error {
	const stmt = `INSERT INTO pipeline_stages (tenant_id, pipeline_id, stage_name, order_index)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (tenant_id, pipeline_id, stage_name)
        DO UPDATE SET order_index = EXCLUDED.order_index, updated_at = NOW()`

	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, tenantID, stage.PipelineID, stage.Name, stage.OrderIndex)
		return err
	})
	return classify("upsert stage", err)
}
