package internal

import "fmt"

var (
	version   = "0.3.0"
	gitCommit = ""
)

// Version returns the release string reported by the CLI, with the short
// commit appended when set at build time via -ldflags.
func Version() string {
	if gitCommit == "" {
		return version
	}
	return fmt.Sprintf("%s+%s", version, gitCommit)
}
