package main

import (
	"os"

	"github.com/alejandrodnm/polypipe/cmd/polypipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
