// Command todoctl signs in to the to-do service and manages tasks from the
// terminal. It also serves the browser-facing auth routes.
package main

import (
	"fmt"
	"os"
)

func main() {
	root, cleanup := newRootCmd()
	err := root.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
