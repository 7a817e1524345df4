package main

import (
	"os"

	"github.com/oremus-labs/ragmon/internal/ragmoncli"
)

func main() {
	if err := ragmoncli.Execute(); err != nil {
		os.Exit(1)
	}
}
