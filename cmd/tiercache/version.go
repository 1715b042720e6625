package main

import "fmt"

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func fullVersion() string { return fmt.Sprintf("tiercache %s (%s)", version, commit) }

func printVersion() {
	fmt.Fprintln(stdOut, fullVersion())
}
