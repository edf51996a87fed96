package stgstress

import (
	"sync/atomic"

	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Stats accumulates run counters. All methods are safe for concurrent
// use, though the driver itself is single-threaded per target.
type Stats struct {
	ops          atomic.Uint64
	reads        atomic.Uint64
	writes       atomic.Uint64
	flushes      atomic.Uint64
	unmaps       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	verifies     atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Ops          uint64
	Reads        uint64
	Writes       uint64
	Flushes      uint64
	Unmaps       uint64
	BytesRead    uint64
	BytesWritten uint64
	Verifies     uint64
}

// RecordOp counts one completed transaction of the given kind and size.
func (s *Stats) RecordOp(kind wire.OpKind, bytes uint64) {
	s.ops.Add(1)
	switch kind {
	case wire.OpRead:
		s.reads.Add(1)
		s.bytesRead.Add(bytes)
	case wire.OpWrite:
		s.writes.Add(1)
		s.bytesWritten.Add(bytes)
	case wire.OpFlush:
		s.flushes.Add(1)
	case wire.OpUnmap:
		s.unmaps.Add(1)
	}
}

// RecordVerify counts one successful content verification.
func (s *Stats) RecordVerify() {
	s.verifies.Add(1)
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Ops:          s.ops.Load(),
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		Flushes:      s.flushes.Load(),
		Unmaps:       s.unmaps.Load(),
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
		Verifies:     s.verifies.Load(),
	}
}
