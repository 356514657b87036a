package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence/postgres"
)

func newStageCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Inspect and seed the pipeline stage catalog",
	}
	cmd.AddCommand(newStagePutCmd(root), newStageListCmd(root))
	return cmd
}

func newStagePutCmd(root *rootOptions) *cobra.Command {
	var tenantID, pipelineID, name string
	var order int
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or reorder a pipeline stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if order < 0 {
				return fmt.Errorf("--order must be >= 0")
			}
			e, err := root.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			store := postgres.NewStore(e.pool)
			stage := domain.Stage{PipelineID: pipelineID, Name: name, OrderIndex: order}
			if err := store.UpsertStage(cmd.Context(), tenantID, stage); err != nil {
				return err
			}
			e.logger.WithField("stage", name).WithField("order_index", order).Info("stage saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline id")
	cmd.Flags().StringVar(&name, "name", "", "stage name")
	cmd.Flags().IntVar(&order, "order", 0, "stage order index")
	for _, f := range []string{"tenant", "pipeline", "name"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newStageListCmd(root *rootOptions) *cobra.Command {
	var tenantID, pipelineID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a pipeline's stages in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			stages, err := postgres.NewStore(e.pool).ListStages(cmd.Context(), tenantID, pipelineID)
			if err != nil {
				return err
			}
			for _, s := range stages {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", s.OrderIndex, s.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}
