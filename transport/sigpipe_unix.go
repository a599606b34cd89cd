//go:build !windows

package transport

import (
	"os/signal"
	"syscall"
)

// ignoreSIGPIPEPlatform ignores SIGPIPE on platforms where it exists, per
// §4.1/§9 and example2.cpp's signal(SIGPIPE, SIG_IGN).
func ignoreSIGPIPEPlatform() {
	signal.Ignore(syscall.SIGPIPE)
}
