package stgstress

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/stgstress/internal/transport"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Loopback is an in-memory Transport for tests and demos. It honors the
// full transaction set against a byte slice and can be switched into
// two misbehaving modes to exercise failure detection.
type Loopback struct {
	// DishonorUnmap acknowledges unmap requests without discarding any
	// data, imitating a target that silently ignores them.
	DishonorUnmap bool

	// BreakCorrelation corrupts the response hint, imitating a target
	// that answers out of order.
	BreakCorrelation bool

	// BreakKind echoes a wrong operation kind in the response.
	BreakKind bool

	// BadStatus, when nonzero, replaces GOOD as the SCSI status of
	// every response.
	BadStatus uint8

	geom wire.Geometry

	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewLoopback builds a loopback target with the given geometry.
func NewLoopback(geom wire.Geometry) (*Loopback, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return &Loopback{
		geom: geom,
		data: make([]byte, geom.BlockCount*uint64(geom.BlockLength)),
	}, nil
}

// Geometry returns the configured device parameters.
func (l *Loopback) Geometry() wire.Geometry {
	return l.geom
}

// Transact applies the request to the in-memory store and synthesizes
// a GOOD response.
func (l *Loopback) Transact(req *wire.TransactRequest, rsp *wire.TransactResponse, data []byte) error {
	if req == nil || rsp == nil {
		return fmt.Errorf("%w: nil request or response", transport.ErrInvalidRequest)
	}

	bl := uint64(l.geom.BlockLength)
	switch req.Kind {
	case wire.OpRead, wire.OpWrite:
		addr, count := req.Range.BlockAddress, uint64(req.Range.BlockCount)
		if addr+count > l.geom.BlockCount {
			return fmt.Errorf("%w: range [%d+%d] exceeds %d blocks",
				transport.ErrInvalidRequest, addr, count, l.geom.BlockCount)
		}
		length := count * bl
		if uint64(len(data)) < length {
			return fmt.Errorf("%w: %d byte buffer for a %d byte transfer",
				transport.ErrInvalidRequest, len(data), length)
		}
		if req.Kind == wire.OpWrite {
			l.mu.Lock()
			copy(l.data[addr*bl:], data[:length])
			l.mu.Unlock()
		} else {
			l.mu.RLock()
			copy(data[:length], l.data[addr*bl:])
			l.mu.RUnlock()
		}
	case wire.OpUnmap:
		if !l.DishonorUnmap {
			l.mu.Lock()
			for _, d := range req.Descriptors {
				addr, count := d.BlockAddress, uint64(d.BlockCount)
				if addr+count > l.geom.BlockCount {
					l.mu.Unlock()
					return fmt.Errorf("%w: unmap range [%d+%d] exceeds %d blocks",
						transport.ErrInvalidRequest, addr, count, l.geom.BlockCount)
				}
				clear(l.data[addr*bl : (addr+count)*bl])
			}
			l.mu.Unlock()
		}
	case wire.OpFlush:
		// Memory store, nothing to persist.
	default:
		return fmt.Errorf("%w: %s", transport.ErrUnsupported, req.Kind)
	}

	*rsp = wire.TransactResponse{Hint: req.Hint, Kind: req.Kind}
	if l.BreakCorrelation {
		rsp.Hint++
	}
	if l.BreakKind {
		rsp.Kind = wire.OpFlush
		if req.Kind == wire.OpFlush {
			rsp.Kind = wire.OpRead
		}
	}
	if l.BadStatus != 0 {
		rsp.Status.ScsiStatus = l.BadStatus
		rsp.Status.Sense[2] = 0x05 // ILLEGAL REQUEST sense key
	}
	return nil
}

// Close is idempotent.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
