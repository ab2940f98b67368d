package log

import "os"

// newStderrWriter exists so tests can shadow it if ever needed; kept as a
// thin wrapper rather than referencing os.Stderr directly so SetSink's
// default matches exactly what production wiring does.
func newStderrWriter() *os.File {
	return os.Stderr
}
