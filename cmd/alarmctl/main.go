package main

import (
	"os"

	"github.com/t77yq/alarm-rules/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
