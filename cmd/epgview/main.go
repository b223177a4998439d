// Package main is the entry point for the epgview application.
package main

import (
	"os"

	"github.com/jmylchreest/epgview/cmd/epgview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
