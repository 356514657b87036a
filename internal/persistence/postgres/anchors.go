package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/cadence/internal/domain"
)

// RecordAnchors implements domain.AnchorStore. Existing anchors are never overwritten.
func (s *Store) RecordAnchors(ctx context.Context, tenantID, leadID, pipelineID string, pipelineEnteredAt time.Time, stageEntries map[string]time.Time) (domain.LeadAnchors, error) {
	anchors := domain.LeadAnchors{StageEnteredAt: make(map[string]time.Time)}

	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		if !pipelineEnteredAt.IsZero() {
			batch.Queue(`INSERT INTO lead_pipeline_anchors (tenant_id, lead_id, pipeline_id, entered_at)
                VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`, tenantID, leadID, pipelineID, pipelineEnteredAt.UTC())
		}
		for stage, ts := range stageEntries {
			if ts.IsZero() {
				continue
			}
			batch.Queue(`INSERT INTO lead_stage_anchors (tenant_id, lead_id, pipeline_id, stage_name, entered_at)
                VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`, tenantID, leadID, pipelineID, stage, ts.UTC())
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		err := tx.QueryRow(ctx, `SELECT entered_at FROM lead_pipeline_anchors
            WHERE tenant_id=$1 AND lead_id=$2 AND pipeline_id=$3`, tenantID, leadID, pipelineID).Scan(&anchors.PipelineEnteredAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT stage_name, entered_at FROM lead_stage_anchors
            WHERE tenant_id=$1 AND lead_id=$2 AND pipeline_id=$3`, tenantID, leadID, pipelineID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var stage string
			var ts time.Time
			if err := rows.Scan(&stage, &ts); err != nil {
				return err
			}
			anchors.StageEnteredAt[stage] = ts.UTC()
		}
		return rows.Err()
	})
	if err != nil {
		return domain.LeadAnchors{}, classify("record anchors", err)
	}
	if !anchors.PipelineEnteredAt.IsZero() {
		anchors.PipelineEnteredAt = anchors.PipelineEnteredAt.UTC()
	}
	return anchors, nil
}
