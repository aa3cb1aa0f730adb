package cli

import (
	"github.com/spf13/cobra"

	"github.com/modelfleet/modelfleet/internal/babysitter"
)

func init() {
	rootCmd.AddCommand(babysitCmd)
	babysitCmd.AddCommand(babysitRunCmd)

	babysitRunCmd.Flags().String("config-file", "", "path to a TOML config file")
	babysitRunCmd.Flags().String("host", "", "override the registered host (e.g. behind NAT/containers)")
	babysitRunCmd.Flags().String("registry-url", "", "override the registry's base URL")
	babysitRunCmd.Flags().String("router-url", "", "override the router's base URL (advisory)")
}

var babysitCmd = &cobra.Command{
	Use:   "babysit",
	Short: "Run the babysitter: supervise one backend process",
}

var babysitRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Spawn, monitor, and register the configured backend",
	RunE:  runBabysitRun,
}

func runBabysitRun(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg, err := babysitter.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if url, _ := cmd.Flags().GetString("registry-url"); cmd.Flags().Changed("registry-url") {
		cfg.RegistryURL = url
	}
	if url, _ := cmd.Flags().GetString("router-url"); cmd.Flags().Changed("router-url") {
		cfg.RouterURL = url
	}

	d := babysitter.New(cfg)
	return d.Serve(cmd.Context())
}
