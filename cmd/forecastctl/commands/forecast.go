package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HatiCode/bizcast/pkg/forecast"
)

func newForecastCmd(opts *options) *cobra.Command {
	var (
		horizon int
		backend string
	)

	cmd := &cobra.Command{
		Use:   "forecast <business_id> <metric_name>",
		Short: "Forecast a metric",
		Long: `Requests a daily forecast. A model is trained first if none is stored
for the resolved backend.`,
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

			res, err := client.Forecast(ctx, forecast.Request{
				BusinessID: businessID,
				MetricName: args[1],
				Horizon:    forecast.Days(horizon),
				Backend:    backend,
			})
			if err != nil {
				return err
			}

			if opts.output == "json" {
				return opts.writeJSON(res)
			}

			fmt.Fprintf(opts.out, "business %d metric %s backend %s horizon %d\n",
				res.BusinessID, res.MetricName, res.BackendUsed, res.Horizon)
			tw := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tVALUE\tLOWER\tUPPER")
			for _, p := range res.Points {
				lower, upper := "-", "-"
				if p.LowerBound != nil {
					lower = fmt.Sprintf("%.2f", *p.LowerBound)
				}
				if p.UpperBound != nil {
					upper = fmt.Sprintf("%.2f", *p.UpperBound)
				}
				fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", p.Date.Format("2006-01-02"), p.Value, lower, upper)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&horizon, "horizon", 30, "days to forecast (1-365)")
	cmd.Flags().StringVar(&backend, "backend", forecast.Auto, "backend: tree, additive or auto")
	return cmd
}
