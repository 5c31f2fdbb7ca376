package main

import (
	"fmt"
	"io"
	"os"
)

// Set by the linker.
var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a command and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "watch":
		return runWatchCmd(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "dchain %s (%s)\n", version, commit)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "dchain - shipment and payment ledger")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  dchain <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run the HTTP API (--config file.yaml)")
	printCommand(w, "demo", "Run the reference scenario against an in-memory ledger")
	printCommand(w, "token", "Issue a caller token (--caller 0x.. --ttl 24h)")
	printCommand(w, "health", "Check a running server (--url)")
	printCommand(w, "watch", "Print events from the Redis channel (--channel --count)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
