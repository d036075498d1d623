//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals includes SIGHUP so closing the controlling terminal
// releases the TV connections cleanly.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
