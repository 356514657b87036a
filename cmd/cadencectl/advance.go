package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"example.com/cadence/internal/api"
	"example.com/cadence/internal/app"
	"example.com/cadence/internal/domain"
)

func newAdvanceCmd(root *rootOptions) *cobra.Command {
	var trig domain.Trigger
	var stageEntered, pipelineEntered string
	var attrs map[string]string

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance a lead to a stage and generate its missing tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if trig.StageEnteredAt, err = parseTimeFlag(stageEntered); err != nil {
				return err
			}
			if trig.PipelineEnteredAt, err = parseTimeFlag(pipelineEntered); err != nil {
				return err
			}
			trig.Attributes = attrs

			e, err := root.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			// Share the services' advisory lock so a manual advance waits for one already running.
			lockPool, err := app.OpenLockPool(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			if lockPool != nil {
				defer lockPool.Close()
			}

			svc := app.NewService(e.cfg, e.pool, lockPool, e.logger)
			result, advErr := svc.Advance(cmd.Context(), trig)
			if len(result.Stages) > 0 || advErr == nil {
				if err := printJSON(cmd.OutOrStdout(), api.NewAdvanceResponse(result)); err != nil {
					return err
				}
			}
			return advErr
		},
	}
	cmd.Flags().StringVar(&trig.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&trig.LeadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&trig.PipelineID, "pipeline", "", "pipeline id")
	cmd.Flags().StringVar(&trig.TargetStage, "stage", "", "target stage name")
	cmd.Flags().StringVar(&trig.OwnerID, "owner", "", "lead owner assigned to generated tasks")
	cmd.Flags().StringVar(&stageEntered, "stage-entered-at", "", "RFC3339 stage entry time (default now)")
	cmd.Flags().StringVar(&pipelineEntered, "pipeline-entered-at", "", "RFC3339 pipeline entry time (default stage entry)")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "lead attribute for content rendering, key=value")
	for _, f := range []string{"tenant", "lead", "pipeline", "stage"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	var tenantID, leadID, pipelineID, stage string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report whether a lead's tasks for a stage are complete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			eval, err := app.NewService(e.cfg, e.pool, nil, e.logger).Evaluate(cmd.Context(), tenantID, leadID, pipelineID, stage)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.NewCompletionResponse(eval))
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&leadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline id")
	cmd.Flags().StringVar(&stage, "stage", "", "stage name")
	for _, f := range []string{"tenant", "lead", "pipeline", "stage"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

var errBadTime = errors.New("timestamps must be RFC3339")

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errBadTime
	}
	return ts.UTC(), nil
}
