package main

import (
	"fmt"
	"os"

	"github.com/larklabs/backend/internal/interfaces/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
