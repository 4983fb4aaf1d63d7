// Command sagabus runs and inspects the event bus and saga orchestrator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/randalmurphal/sagabus/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
