// Package main provides the entry point for the toolguard CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opencode-ai/toolguard/cmd/toolguard/commands"
)

func main() {
	err := commands.Execute()
	if err == nil {
		return
	}
	var exit *commands.ExitError
	if errors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Fprintln(os.Stderr, exit.Message)
		}
		os.Exit(exit.Code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
