// Command paymentsctl is the operator CLI for the payables service.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	root := newRootCmd(defaultEnv(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		_, _ = fmt.Fprintf(os.Stderr, "paymentsctl: %v\n", err)
		os.Exit(1)
	}
}
