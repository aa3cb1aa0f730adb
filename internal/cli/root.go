// Package cli implements the fleetmeshd command-line interface using
// Cobra. Each subsystem (registry, router, babysitter) gets its own
// command group; "services" is an operator convenience over the
// Registration Client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fleetmeshd",
	Short: "fleetmeshd — control plane for a fleet of OpenAI-compatible inference backends",
	Long: `fleetmeshd is the control plane for a fleet of OpenAI-compatible
inference backends: a health-checked service registry, a model-aware
reverse-proxy router, and a per-backend process babysitter, all shipped
as subcommands of one binary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
