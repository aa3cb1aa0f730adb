package cli

import (
	"github.com/spf13/cobra"

	"github.com/modelfleet/modelfleet/internal/registry"
)

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryServeCmd)

	registryServeCmd.Flags().String("config-file", "", "path to a TOML config file")
	registryServeCmd.Flags().String("host", "", "override the bind host")
	registryServeCmd.Flags().Int("port", 0, "override the bind port")
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Run the registry: the fleet's health-checked service directory",
}

var registryServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry HTTP server and its probe/cleanup loops",
	RunE:  runRegistryServe,
}

func runRegistryServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg, err := registry.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
		cfg.Port = port
	}

	d := registry.New(cfg)
	return d.Serve(cmd.Context())
}
