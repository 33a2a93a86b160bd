// rombuilder submits ROM conversions to an external runner, tracks them to
// completion and notifies the requester.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
