// Command heavydata creates, inspects and transfers heavy data files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "heavydata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "heavydata: %v\n", err)
		os.Exit(1)
	}
}
