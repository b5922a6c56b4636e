// Entrypoint for the Cobra CLI; all command wiring lives in cmd/root.go.

package main

import (
	"github.com/bandrt/bandrt/cmd"
)

func main() {
	cmd.Execute()
}
