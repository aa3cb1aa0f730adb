package cli

import (
	"github.com/spf13/cobra"

	"github.com/modelfleet/modelfleet/internal/router"
)

func init() {
	rootCmd.AddCommand(routerCmd)
	routerCmd.AddCommand(routerServeCmd)

	routerServeCmd.Flags().String("config-file", "", "path to a TOML config file")
	routerServeCmd.Flags().String("host", "", "override the bind host")
	routerServeCmd.Flags().Int("port", 0, "override the bind port")
	routerServeCmd.Flags().String("registry-url", "", "override the registry's base URL")
}

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the router: model-aware dispatch and reverse proxy",
}

var routerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the router HTTP server and its sync/probe loops",
	RunE:  runRouterServe,
}

func runRouterServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg, err := router.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if url, _ := cmd.Flags().GetString("registry-url"); cmd.Flags().Changed("registry-url") {
		cfg.RegistryURL = url
	}

	d := router.New(cfg)
	return d.Serve(cmd.Context())
}
