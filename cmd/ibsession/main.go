package main

import (
	"os"

	"github.com/rustyeddy/ibsession/cmd/ibsession/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
