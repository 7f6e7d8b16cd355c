// The main package for the partsmirror executable.
package main

import (
	"os"

	"github.com/tkuosman/partsmirror/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
