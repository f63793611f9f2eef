package serial

import "io"

// Uarter abstracts the tty device so the transport can run against a real
// port or a test double.
type Uarter interface {
	Open(path string, baud int) error
	io.Reader
	io.Writer
	Close() error
}
