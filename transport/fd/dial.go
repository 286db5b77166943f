package fd

import "os"

// Std wraps os.Stdin/os.Stdout as a Transport -- the common case for a
// NETCONF process invoked directly over its controlling pipes (e.g. by an
// SSH subsystem handler or a subprocess harness) rather than dialing a
// socket itself.
func Std(opts ...Option) (*Transport, error) {
	return New(os.Stdin, os.Stdout, opts...)
}
