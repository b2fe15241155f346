package main

import (
	"os"

	"github.com/Iron-Ham/grove/internal/cmd"
)

var version = "dev"

func main() {
	cmd.Version = version
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
