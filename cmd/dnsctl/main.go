package main

import (
	"fmt"
	"os"

	"github.com/fatalmerlin/dnssync/internal/cli/standard"
)

func main() {
	if err := standard.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
