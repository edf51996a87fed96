// Package transport unifies the two protocol backends behind one
// open/transact/close contract: a message-oriented local channel
// (PipeTransport) and a raw block device driven through SCSI
// pass-through probes and positioned I/O (RawTransport).
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehrlich-b/stgstress/internal/wire"
)

// PipePrefix selects the pipe transport. The check is a literal prefix
// match on the target name, never a fallback-on-failure probe; everything
// after the prefix is the socket path.
const PipePrefix = "pipe:"

// Failure classes shared by both backends. Callers map these onto the
// public error taxonomy.
var (
	// ErrDesync marks a lost request/response correlation: short
	// response header, mismatched hint, or a payload outside the
	// negotiated bounds. Fatal, never retried.
	ErrDesync = errors.New("transport: response correlation lost")

	// ErrUnsupported marks an operation kind the backend cannot
	// represent.
	ErrUnsupported = errors.New("transport: operation not supported by backend")

	// ErrShortTransfer marks device I/O that moved fewer bytes than the
	// operation required.
	ErrShortTransfer = errors.New("transport: short transfer")

	// ErrProbe marks a failed SCSI geometry probe.
	ErrProbe = errors.New("transport: scsi probe failed")

	// ErrInvalidRequest marks a malformed transact call.
	ErrInvalidRequest = errors.New("transport: invalid request")
)

type backendKind uint8

const (
	pipeBackend backendKind = iota
	rawBackend
)

func (k backendKind) String() string {
	if k == pipeBackend {
		return "pipe"
	}
	return "raw"
}

// Handle is the discriminated transport handle. Exactly one of the
// backend fields is set, selected by kind; it owns exactly one OS-level
// handle and is closed exactly once on every exit path.
type Handle struct {
	kind backendKind
	pipe *Pipe
	raw  *Raw
}

// Open inspects name's syntax and opens the matching backend. The
// returned handle has a validated geometry.
func Open(name string, timeout time.Duration) (*Handle, error) {
	if strings.HasPrefix(name, PipePrefix) {
		p, err := OpenPipe(strings.TrimPrefix(name, PipePrefix), timeout)
		if err != nil {
			return nil, err
		}
		return &Handle{kind: pipeBackend, pipe: p}, nil
	}
	r, err := OpenRaw(name)
	if err != nil {
		return nil, err
	}
	return &Handle{kind: rawBackend, raw: r}, nil
}

// Backend returns the backend name, for logs.
func (h *Handle) Backend() string {
	return h.kind.String()
}

// Geometry returns the device parameters derived at open time.
func (h *Handle) Geometry() wire.Geometry {
	if h.kind == pipeBackend {
		return h.pipe.Geometry()
	}
	return h.raw.Geometry()
}

// Transact executes one request/response exchange. data is the caller's
// scratch buffer: read for Write bodies, written for Read payloads.
func (h *Handle) Transact(req *wire.TransactRequest, rsp *wire.TransactResponse, data []byte) error {
	if req == nil || rsp == nil {
		return fmt.Errorf("%w: nil request or response", ErrInvalidRequest)
	}
	if h.kind == pipeBackend {
		return h.pipe.Transact(req, rsp, data)
	}
	return h.raw.Transact(req, rsp, data)
}

// Close releases the underlying OS handle. Errors are reported, never
// swallowed.
func (h *Handle) Close() error {
	if h.kind == pipeBackend {
		return h.pipe.Close()
	}
	return h.raw.Close()
}
