// Package wire defines the transaction protocol: the geometry handshake,
// the request/response messages and their fixed binary layout.
package wire

import (
	"errors"
	"fmt"
	"unsafe"
)

// Fixed sizes of the wire structures. Requests and responses share one
// header size so a single message buffer serves both directions.
const (
	// MsgSize is the fixed header size of every request and response.
	MsgSize = 48

	// GeometrySize is the size of the serialized geometry handshake.
	GeometrySize = 24

	// UnmapDescriptorSize is the size of one serialized unmap descriptor.
	UnmapDescriptorSize = 16

	// SenseSize is the fixed sense buffer carried by every response.
	SenseSize = 32
)

// ScsiStatusGood is the only status a conforming backend may return for a
// successful transaction.
const ScsiStatusGood uint8 = 0x00

// OpKind identifies a transaction kind. The zero value is reserved and
// never travels on the wire; the driver uses it as its fill marker.
type OpKind uint8

const (
	OpReserved OpKind = iota
	OpRead
	OpWrite
	OpFlush
	OpUnmap
)

// String implements fmt.Stringer for log and error output.
func (k OpKind) String() string {
	switch k {
	case OpReserved:
		return "reserved"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	case OpUnmap:
		return "unmap"
	default:
		return fmt.Sprintf("opkind(%d)", uint8(k))
	}
}

// Valid reports whether k is a kind that may appear in a request.
func (k OpKind) Valid() bool {
	return k >= OpRead && k <= OpUnmap
}

// Geometry describes a storage target's addressable shape. It is produced
// once at open time and read-only thereafter.
type Geometry struct {
	BlockCount        uint64 // one past the last addressable block
	BlockLength       uint32 // bytes per block
	MaxTransferLength uint32 // bytes per transaction, multiple of BlockLength
}

// ErrInvalidGeometry marks a geometry that violates the open-time
// invariants. Callers treat it as a device-level failure.
var ErrInvalidGeometry = errors.New("wire: invalid geometry")

// Validate checks the open-time invariants. All must hold simultaneously
// or the owning open fails.
func (g Geometry) Validate() error {
	switch {
	case g.BlockCount == 0:
		return fmt.Errorf("%w: zero block count", ErrInvalidGeometry)
	case g.BlockLength < UnmapDescriptorSize:
		return fmt.Errorf("%w: block length %d below %d", ErrInvalidGeometry, g.BlockLength, UnmapDescriptorSize)
	case g.MaxTransferLength == 0:
		return fmt.Errorf("%w: zero max transfer length", ErrInvalidGeometry)
	case g.MaxTransferLength%g.BlockLength != 0:
		return fmt.Errorf("%w: max transfer length %d not a multiple of block length %d",
			ErrInvalidGeometry, g.MaxTransferLength, g.BlockLength)
	}
	return nil
}

// MaxWindow returns the largest per-operation block count the geometry
// admits. Valid geometries always return at least 1.
func (g Geometry) MaxWindow() uint32 {
	return g.MaxTransferLength / g.BlockLength
}

// UnmapDescriptor names one block range to deallocate.
type UnmapDescriptor struct {
	BlockAddress uint64
	BlockCount   uint32
	Reserved     uint32
}

// Compile-time check that the in-memory struct matches the wire size.
var _ [UnmapDescriptorSize]byte = [unsafe.Sizeof(UnmapDescriptor{})]byte{}

// RangePayload is the request payload for Read, Write and Flush.
type RangePayload struct {
	BlockAddress    uint64
	BlockCount      uint32
	ForceUnitAccess bool
}

// TransactRequest is one outbound transaction. Kind selects which payload
// is meaningful: Range for Read/Write/Flush, Descriptors for Unmap.
type TransactRequest struct {
	Hint        uint64 // correlation token, echoed unchanged by the response
	Kind        OpKind
	Range       RangePayload
	Descriptors []UnmapDescriptor
}

// Status carries the SCSI completion status and sense bytes of a response.
type Status struct {
	ScsiStatus uint8
	Sense      [SenseSize]byte
}

// TransactResponse is one inbound transaction result.
type TransactResponse struct {
	Hint   uint64
	Kind   OpKind
	Status Status
}
