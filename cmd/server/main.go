/*
main.go - Application entry point

PURPOSE:
  Starts the leadengine command line. All wiring (config, store, engine,
  router, sweeper, graceful shutdown) lives in package cli.

COMMANDS:
  serve   HTTP API + background expiry sweep
  sweep   One-shot expiry sweep (for an external cron)
  verify  Recompute balances from the ledger

EXAMPLES:
  # Run with file database
  ./server serve --db="./data/leads.db"

  # Run with in-memory database
  ./server serve --db=":memory:"

  # Run on different port with a config file
  ./server serve -c leadengine.toml --port=3000

ENVIRONMENT:
  LEADENGINE_PORT, LEADENGINE_DB, LEADENGINE_SWEEP_INTERVAL (also read from .env)

SEE ALSO:
  - cli/serve.go:     Server startup and shutdown
  - config/config.go: Configuration precedence
*/
package main

import (
	"os"

	"github.com/warp/lead-engine/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
