// The main package for the drover executable.
package main

import (
	"github.com/droverhq/drover/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
