package main

import (
	"fmt"
	"os"

	"github.com/mrsingh-rishi/meeting-scribe/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
