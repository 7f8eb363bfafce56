// The main package for the mirror executable.
package main

import (
	"os"

	"github.com/JakeFAU/realtime-cpi-mirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
