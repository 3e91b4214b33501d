// Package commands implements the forecastctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/HatiCode/bizcast/cmd/forecaster/rpc"
	"github.com/HatiCode/bizcast/pkg/tls"
)

// options are the global flags shared by every command.
type options struct {
	addr    string
	timeout time.Duration
	output  string
	tls     tls.Config
	out     io.Writer
}

// NewRootCmd builds the forecastctl command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{out: out}

	root := &cobra.Command{
		Use:   "forecastctl",
		Short: "Operate the bizcast forecaster",
		Long: `forecastctl trains, queries and manages forecasting models through the
forecaster's gRPC API.

Examples:
  forecastctl train 42 revenue --backend additive
  forecastctl forecast 42 revenue --horizon 14
  forecastctl models list
  forecastctl models delete tree_42_revenue`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "table" && opts.output != "json" {
				return fmt.Errorf("invalid --output %q (must be table or json)", opts.output)
			}
			return nil
		},
	}
	root.SetOut(out)

	addr := os.Getenv("BIZCAST_ADDR")
	if addr == "" {
		addr = "localhost:8082"
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "forecaster gRPC address (env BIZCAST_ADDR)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().StringVar(&opts.tls.CAFile, "tls-ca", "", "CA certificate for verifying the server (enables TLS)")
	root.PersistentFlags().StringVar(&opts.tls.CertFile, "tls-cert", "", "client certificate for mutual TLS")
	root.PersistentFlags().StringVar(&opts.tls.KeyFile, "tls-key", "", "client private key for mutual TLS")
	root.PersistentFlags().StringVar(&opts.tls.ServerName, "tls-server-name", "", "override the server name verified in its certificate")

	root.AddCommand(newTrainCmd(opts), newForecastCmd(opts), newModelsCmd(opts))
	return root
}

// client dials the forecaster and returns a context bounded by --timeout.
// The returned cleanup closes both.
func (o *options) client(parent context.Context) (*rpc.Client, context.Context, func(), error) {
	var dialOpts []grpc.DialOption
	o.tls.Enabled = o.tls.CAFile != "" || o.tls.CertFile != "" || o.tls.ServerName != ""
	tlsConfig, err := o.tls.ClientConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if tlsConfig != nil {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}

	client, conn, err := rpc.Dial(o.addr, dialOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	cleanup := func() {
		cancel()
		conn.Close()
	}
	return client, ctx, cleanup, nil
}

func (o *options) writeJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
