// Ragd is a tenant-scoped retrieval and context-fusion daemon.
//
// It serves the REST API by default, or MCP over stdio with --mcp.
//
// Configuration is read from ~/.config/ragd/config.yaml (or --config) and
// RAGD_-prefixed environment variables. A .env file in the working
// directory is loaded first when present.
//
// Usage:
//
//	# Start the HTTP server
//	RAGD_RETRIEVAL_THRESHOLD=0.35 ragd
//
//	# Serve MCP on stdio
//	ragd --mcp
//
//	# Print version information
//	ragd version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config file (default ~/.config/ragd/config.yaml)")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP on stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd [--config path] [--mcp]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version                   Show version information\n")
			os.Exit(1)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("ragd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
