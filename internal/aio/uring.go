//go:build linux && giouring

package aio

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// ringEngine submits one SQE per operation and waits for its CQE. Entries
// is small on purpose: the transaction protocol never pipelines.
const ringEntries = 4

type ringEngine struct {
	ring *giouring.Ring
	fd   int
}

func newRing(fd int) (Engine, error) {
	ring, err := giouring.CreateRing(ringEntries)
	if err != nil {
		return nil, fmt.Errorf("aio: create ring: %w", err)
	}
	return &ringEngine{ring: ring, fd: fd}, nil
}

func (e *ringEngine) ReadAt(p []byte, off int64) (int, error) {
	return e.submit(p, off, false)
}

func (e *ringEngine) WriteAt(p []byte, off int64) (int, error) {
	return e.submit(p, off, true)
}

func (e *ringEngine) submit(p []byte, off int64, write bool) (int, error) {
	sqe := e.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("aio: submission queue full")
	}
	if write {
		sqe.PrepareWrite(e.fd, uintptr(unsafe.Pointer(&p[0])), uint32(len(p)), uint64(off))
	} else {
		sqe.PrepareRead(e.fd, uintptr(unsafe.Pointer(&p[0])), uint32(len(p)), uint64(off))
	}

	if _, err := e.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("aio: submit: %w", err)
	}
	cqe, err := e.ring.WaitCQE()
	runtime.KeepAlive(p)
	if err != nil {
		return 0, fmt.Errorf("aio: wait completion: %w", err)
	}
	res := cqe.Res
	e.ring.CQESeen(cqe)
	if res < 0 {
		return 0, unix.Errno(-res)
	}
	return int(res), nil
}

func (e *ringEngine) Close() error {
	e.ring.QueueExit()
	return nil
}
