// Command hyperbridge edits the bridge daemon's per-app settings.
package main

import (
	"os"

	"hyperbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
