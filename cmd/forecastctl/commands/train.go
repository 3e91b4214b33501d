package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/HatiCode/bizcast/cmd/forecaster/rpc"
)

func newTrainCmd(opts *options) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "train <business_id> <metric_name>",
		Short: "Retrain a model on fresh history",
		Long: `Loads the metric's full history and trains the chosen backend, replacing
any stored model for the key. Without --backend the forecaster's preferred
backend is used.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := parseBusinessID(args[0])
			if err != nil {
				return err
			}

			client, ctx, cleanup, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := client.Train(ctx, rpc.TrainRequest{
				BusinessID: businessID,
				MetricName: args[1],
				Backend:    backend,
			})
			if err != nil {
				return err
			}

			if opts.output == "json" {
				return opts.writeJSON(resp)
			}
			fmt.Fprintf(opts.out, "trained %s_%d_%s: mae=%.4f rmse=%.4f train_samples=%d",
				resp.Backend, resp.BusinessID, resp.MetricName,
				resp.Metrics.MAE, resp.Metrics.RMSE, resp.Metrics.TrainSamples)
			if resp.Metrics.TestSamples != nil {
				fmt.Fprintf(opts.out, " test_samples=%d", *resp.Metrics.TestSamples)
			}
			fmt.Fprintln(opts.out)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "backend to train: tree or additive (default: preferred)")
	return cmd
}

func parseBusinessID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid business id %q: must be a positive integer", s)
	}
	return id, nil
}
