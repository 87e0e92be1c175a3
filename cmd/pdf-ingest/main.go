package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Pipeline failed.", "error", err)
		fmt.Fprintln(os.Stderr, "pdf-ingest:", err)
		os.Exit(1)
	}
}
