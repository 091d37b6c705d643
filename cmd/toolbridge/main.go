// Package main provides the entry point for the toolbridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/toolbridge-ai/toolbridge/cmd/toolbridge/commands"
)

func main() {
	// Local .env files override nothing; they only fill gaps.
	godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
