package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newModelsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored models",
	}
	cmd.AddCommand(newModelsListCmd(opts), newModelsDeleteCmd(opts))
	return cmd
}

func newModelsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cleanup, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			infos, err := client.ListModels(ctx)
			if err != nil {
				return err
			}

			if opts.output == "json" {
				return opts.writeJSON(infos)
			}

			tw := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tBACKEND\tTRAINED\tMAE\tRMSE\tSAMPLES")
			for _, m := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%d\n",
					m.Key.String(), m.Backend, m.TrainedAt.Format(time.RFC3339),
					m.Metrics.MAE, m.Metrics.RMSE, m.Metrics.TrainSamples)
			}
			return tw.Flush()
		},
	}
}

func newModelsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a stored model (e.g. tree_42_revenue)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cleanup, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := client.DeleteModel(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("model %s not found", args[0])
			}
			fmt.Fprintf(opts.out, "deleted %s\n", args[0])
			return nil
		},
	}
}
