package config

import (
	"fmt"
	"os"
)

// Exitf reports a startup failure on stderr and terminates with status 1.
// For use in main before any service logging is configured.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
