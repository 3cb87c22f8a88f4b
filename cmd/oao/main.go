// Command oao is the runtime's command line: submit a single execution,
// run a scheduler worker, inspect an execution's timeline, or serve the
// event stream on its own.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
)

func main() {
	// A .env next to the binary is a developer convenience; absence is not
	// an error.
	_ = godotenv.Load()

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "worker":
		err = workerCommand(os.Args[2:])
	case "timeline":
		err = timelineCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`oao - open agent orchestrator

Usage:
  oao run -task <task> [flags]        Run a single execution with the echo agent
  oao worker [flags]                  Run a scheduler worker with recovery and the event stream server
  oao timeline -execution-id <id>     Print the event timeline of an execution
  oao serve [flags]                   Serve the event stream and metrics endpoints

Common flags:
  -config <path>                      YAML configuration file (env: OAO_* overrides apply)`)
}
