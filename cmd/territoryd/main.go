/*
main.go - territoryd entry point

PURPOSE:
  Runs the territory protection and commission engine: the HTTP API, the
  schema migrations, and the two batch jobs an external scheduler triggers.

COMMANDS:
  serve        Start the HTTP server (graceful shutdown on SIGINT/SIGTERM)
  migrate      Apply pending database migrations and print the version
  payout       Pay out approved commissions of a period
  reevaluate   Re-evaluate protection of every protected territory

CONFIGURATION:
  --config points at a TOML file; without it ./territory.toml and
  /etc/territoryd/territory.toml are tried. Every key can be overridden
  with TERRITORY_<SECTION>_<KEY>, e.g. TERRITORY_HTTP_ADDR=:9090.

EXAMPLES:
  territoryd serve --config ./territory.toml
  TERRITORY_DATABASE_PATH=:memory: TERRITORY_APP_SCENARIOS=true territoryd serve
  territoryd payout --period 2025-02 --reference wire-0225
  territoryd reevaluate

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - jobs/: Batch jobs
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
