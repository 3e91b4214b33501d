// Command forecastctl is the operator CLI for the bizcast forecaster.
//
// It talks to the forecaster's gRPC API:
//
//	forecastctl train 42 revenue --backend additive
//	forecastctl forecast 42 revenue --horizon 14
//	forecastctl models list
//	forecastctl models delete tree_42_revenue
package main

import (
	"os"

	"github.com/HatiCode/bizcast/cmd/forecastctl/commands"
)

func main() {
	if err := commands.NewRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
