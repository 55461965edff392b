// Command docchat is the entry point for the document chat assistant. It
// provides a CLI interface (via Cobra) and an HTTP server for multi-session
// use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docchat-go/cmd/docchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
