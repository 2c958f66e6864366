package main

import (
	"fmt"
	"os"

	"github.com/marmos91/edgesim/cmd/edgesim/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
