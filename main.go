package main

import (
	"labelctl/cmd"
)

// version is set by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
