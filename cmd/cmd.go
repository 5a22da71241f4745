// Package cmd provides utilities that underlie the specific commands.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	blog "github.com/agentcommunity/aid-go/log"
)

// BuildID is set by the linker at release time.
var BuildID string

// VersionString produces a friendly version string for the named command.
func VersionString(name string) string {
	return fmt.Sprintf("Versions: %s=(%s) Golang=(%s)", name, BuildID, runtime.Version())
}

// FailOnError exits and prints an error message if the error is non-nil.
func FailOnError(err error, msg string) {
	if err == nil {
		return
	}
	logger := blog.Get()
	logger.AuditErrf("%s: %s", msg, err)
	fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
	os.Exit(1)
}
