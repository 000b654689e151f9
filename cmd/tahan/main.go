// Command tahan issues HTTP requests through the tahan client and manages a
// locally stored OAuth session.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ambiyansyah-risyal/tahan"
)

func main() {
	rootCmd := newRootCommand()

	if err := rootCmd.Execute(); err != nil {
		var clientErr *tahan.ClientError
		if errors.As(err, &clientErr) && verboseErrors(rootCmd) {
			fmt.Fprint(os.Stderr, clientErr.DebugInfo())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
