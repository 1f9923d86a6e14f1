package main

import (
	"os"

	"github.com/aescanero/dago-wrap/cmd/wrapctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
