// Package aio provides the positioned-I/O completion engine the raw
// transport runs on: submit one read or write, wait for its completion.
// The protocol is strictly serial, so the engine never has more than one
// operation in flight; it exists to give both backends the same
// wait-with-eventual-completion semantics.
package aio

// Engine performs positioned I/O against one file descriptor. The caller
// retains ownership of the descriptor; Close releases only the engine's
// own resources.
type Engine interface {
	// ReadAt reads len(p) bytes at offset off, waiting for completion.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes at offset off, waiting for completion.
	WriteAt(p []byte, off int64) (int, error)

	// Close releases engine resources.
	Close() error
}

// New returns the best available engine for fd: the io_uring engine when
// the giouring build tag enables it and the ring can be set up, otherwise
// the synchronous pread/pwrite engine.
func New(fd int) (Engine, error) {
	if e, err := newRing(fd); err == nil {
		return e, nil
	}
	return newSync(fd), nil
}
