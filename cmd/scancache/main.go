// Command scancache runs the WLAN scan cache daemon and its client commands.
package main

import (
	"github.com/anstrom/scancache/cmd/cli"
	"github.com/anstrom/scancache/internal/api/handlers"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.buildTime=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
