//go:build windows

package transport

// ignoreSIGPIPEPlatform is a no-op on Windows, which has no SIGPIPE.
func ignoreSIGPIPEPlatform() {}
