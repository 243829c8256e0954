package main

import (
	"os"

	"go-retry/cmd/retryworker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
