package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().ExecuteContext(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// Interrupted; the command already reported what it stopped.
		os.Exit(130)
	default:
		fmt.Fprintln(os.Stderr, "castline:", err)
		os.Exit(1)
	}
}
