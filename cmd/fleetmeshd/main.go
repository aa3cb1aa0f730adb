// Command fleetmeshd is the single-binary entrypoint for the fleet control
// plane: the registry, the router, and the per-backend babysitter each
// ship as a subcommand of this one binary.
package main

import "github.com/modelfleet/modelfleet/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
