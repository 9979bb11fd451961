// The main package for the emailharvester executable.
package main

import (
	"github.com/crawlworks/email-harvester/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
