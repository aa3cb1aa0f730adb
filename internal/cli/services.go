package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelfleet/modelfleet/internal/regclient"
)

func init() {
	rootCmd.AddCommand(servicesCmd)
	servicesCmd.AddCommand(servicesListCmd)
	servicesCmd.AddCommand(servicesGetCmd)

	servicesCmd.PersistentFlags().String("registry-url", "http://127.0.0.1:18000", "registry base URL")

	servicesListCmd.Flags().Bool("healthy", false, "only show healthy services")
	servicesListCmd.Flags().String("kind", "", "filter by kind (backend|supervisor|other)")
	servicesListCmd.Flags().String("model", "", "filter by model id")
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Inspect the registry's service directory",
}

var servicesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered services",
	RunE:    runServicesList,
}

var servicesGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one registered service",
	Args:  cobra.ExactArgs(1),
	RunE:  runServicesGet,
}

func registryClient(cmd *cobra.Command) *regclient.Client {
	url, _ := cmd.Flags().GetString("registry-url")
	return regclient.New(url, 5*time.Second)
}

func runServicesList(cmd *cobra.Command, args []string) error {
	client := registryClient(cmd)

	healthy, _ := cmd.Flags().GetBool("healthy")
	kind, _ := cmd.Flags().GetString("kind")
	model, _ := cmd.Flags().GetString("model")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	services, err := client.List(ctx, regclient.ListFilter{HealthyOnly: healthy, Kind: kind, Model: model})
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}

	if len(services) == 0 {
		fmt.Println("No services registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSTATUS\tHOST\tPORT\tWEIGHT\tMODELS")
	for _, s := range services {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.Name, s.Kind, s.Status, s.Host, s.Port, s.Weight, modelsSummary(s.Meta.Models))
	}
	return w.Flush()
}

func runServicesGet(cmd *cobra.Command, args []string) error {
	client := registryClient(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc, err := client.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get service %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(svc)
}

func modelsSummary(models []string) string {
	if len(models) == 0 {
		return "-"
	}
	if len(models) <= 3 {
		out := models[0]
		for _, m := range models[1:] {
			out += "," + m
		}
		return out
	}
	return fmt.Sprintf("%s,%s,... (+%d)", models[0], models[1], len(models)-2)
}
