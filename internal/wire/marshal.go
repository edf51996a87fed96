package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout, little-endian, fixed offsets. Requests and responses share
// the first nine bytes (hint + kind); the remainder differs per direction.
//
//	request:  [0:8] hint  [8] kind  [16:24] block address (or [16:20]
//	          descriptor count for unmap)  [24:28] block count
//	          [28] force unit access; reserved bytes are zero
//	response: [0:8] hint  [8] kind  [9] scsi status  [16:48] sense
//	geometry: [0:8] block count  [8:12] block length
//	          [12:16] max transfer length  [16:24] reserved
var (
	ErrShortBuffer = errors.New("wire: buffer too small")
	ErrBadKind     = errors.New("wire: invalid operation kind")
)

// BodyLength returns the variable-length body size the request carries
// after its fixed header. Only Write and Unmap have a body.
func BodyLength(req *TransactRequest, blockLength uint32) int {
	switch req.Kind {
	case OpWrite:
		return int(req.Range.BlockCount) * int(blockLength)
	case OpUnmap:
		return len(req.Descriptors) * UnmapDescriptorSize
	default:
		return 0
	}
}

// EncodeRequest serializes req into dst: the fixed header, then for Write
// the first BodyLength bytes of data, or for Unmap the serialized
// descriptors. It returns the total message length.
func EncodeRequest(dst []byte, req *TransactRequest, data []byte, blockLength uint32) (int, error) {
	if !req.Kind.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrBadKind, req.Kind)
	}
	body := BodyLength(req, blockLength)
	total := MsgSize + body
	if len(dst) < total {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, total, len(dst))
	}
	clear(dst[:MsgSize])
	binary.LittleEndian.PutUint64(dst[0:8], req.Hint)
	dst[8] = byte(req.Kind)

	switch req.Kind {
	case OpRead, OpWrite, OpFlush:
		binary.LittleEndian.PutUint64(dst[16:24], req.Range.BlockAddress)
		binary.LittleEndian.PutUint32(dst[24:28], req.Range.BlockCount)
		if req.Range.ForceUnitAccess {
			dst[28] = 1
		}
	case OpUnmap:
		binary.LittleEndian.PutUint32(dst[16:20], uint32(len(req.Descriptors)))
	}

	switch req.Kind {
	case OpWrite:
		if len(data) < body {
			return 0, fmt.Errorf("%w: write body needs %d, have %d", ErrShortBuffer, body, len(data))
		}
		copy(dst[MsgSize:total], data[:body])
	case OpUnmap:
		for i, d := range req.Descriptors {
			PutUnmapDescriptor(dst[MsgSize+i*UnmapDescriptorSize:], d)
		}
	}
	return total, nil
}

// DecodeRequest parses a serialized request. For Write it returns the body
// as a subslice of data; for Unmap it populates req.Descriptors. Intended
// for in-process peers and tests; the driver only ever encodes requests.
func DecodeRequest(data []byte, req *TransactRequest, blockLength uint32) ([]byte, error) {
	if len(data) < MsgSize {
		return nil, fmt.Errorf("%w: request header needs %d, have %d", ErrShortBuffer, MsgSize, len(data))
	}
	*req = TransactRequest{
		Hint: binary.LittleEndian.Uint64(data[0:8]),
		Kind: OpKind(data[8]),
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrBadKind, req.Kind)
	}
	switch req.Kind {
	case OpRead, OpWrite, OpFlush:
		req.Range.BlockAddress = binary.LittleEndian.Uint64(data[16:24])
		req.Range.BlockCount = binary.LittleEndian.Uint32(data[24:28])
		req.Range.ForceUnitAccess = data[28] != 0
	case OpUnmap:
		count := int(binary.LittleEndian.Uint32(data[16:20]))
		need := count * UnmapDescriptorSize
		if len(data) < MsgSize+need {
			return nil, fmt.Errorf("%w: %d unmap descriptors need %d body bytes, have %d",
				ErrShortBuffer, count, need, len(data)-MsgSize)
		}
		req.Descriptors = make([]UnmapDescriptor, count)
		for i := range req.Descriptors {
			req.Descriptors[i] = GetUnmapDescriptor(data[MsgSize+i*UnmapDescriptorSize:])
		}
	}
	if req.Kind == OpWrite {
		body := BodyLength(req, blockLength)
		if len(data) < MsgSize+body {
			return nil, fmt.Errorf("%w: write body needs %d, have %d", ErrShortBuffer, body, len(data)-MsgSize)
		}
		return data[MsgSize : MsgSize+body], nil
	}
	return nil, nil
}

// EncodeResponse serializes rsp into dst, followed by data (the Read
// payload) when present. It returns the total message length.
func EncodeResponse(dst []byte, rsp *TransactResponse, data []byte) (int, error) {
	total := MsgSize + len(data)
	if len(dst) < total {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, total, len(dst))
	}
	clear(dst[:MsgSize])
	binary.LittleEndian.PutUint64(dst[0:8], rsp.Hint)
	dst[8] = byte(rsp.Kind)
	dst[9] = rsp.Status.ScsiStatus
	copy(dst[16:16+SenseSize], rsp.Status.Sense[:])
	copy(dst[MsgSize:total], data)
	return total, nil
}

// DecodeResponse parses a response header. Any trailing Read payload is
// left to the caller, which knows the requested length.
func DecodeResponse(data []byte, rsp *TransactResponse) error {
	if len(data) < MsgSize {
		return fmt.Errorf("%w: response header needs %d, have %d", ErrShortBuffer, MsgSize, len(data))
	}
	rsp.Hint = binary.LittleEndian.Uint64(data[0:8])
	rsp.Kind = OpKind(data[8])
	rsp.Status.ScsiStatus = data[9]
	copy(rsp.Status.Sense[:], data[16:16+SenseSize])
	return nil
}

// EncodeGeometry serializes the handshake message.
func EncodeGeometry(dst []byte, g Geometry) (int, error) {
	if len(dst) < GeometrySize {
		return 0, fmt.Errorf("%w: geometry needs %d, have %d", ErrShortBuffer, GeometrySize, len(dst))
	}
	clear(dst[:GeometrySize])
	binary.LittleEndian.PutUint64(dst[0:8], g.BlockCount)
	binary.LittleEndian.PutUint32(dst[8:12], g.BlockLength)
	binary.LittleEndian.PutUint32(dst[12:16], g.MaxTransferLength)
	return GeometrySize, nil
}

// DecodeGeometry parses the handshake message. It does not validate the
// invariants; Geometry.Validate is a separate step so opens can report
// short messages and bad parameters distinctly.
func DecodeGeometry(data []byte, g *Geometry) error {
	if len(data) < GeometrySize {
		return fmt.Errorf("%w: geometry needs %d, have %d", ErrShortBuffer, GeometrySize, len(data))
	}
	g.BlockCount = binary.LittleEndian.Uint64(data[0:8])
	g.BlockLength = binary.LittleEndian.Uint32(data[8:12])
	g.MaxTransferLength = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// PutUnmapDescriptor serializes one descriptor at dst[0:16].
func PutUnmapDescriptor(dst []byte, d UnmapDescriptor) {
	binary.LittleEndian.PutUint64(dst[0:8], d.BlockAddress)
	binary.LittleEndian.PutUint32(dst[8:12], d.BlockCount)
	binary.LittleEndian.PutUint32(dst[12:16], d.Reserved)
}

// GetUnmapDescriptor deserializes one descriptor from src[0:16].
func GetUnmapDescriptor(src []byte) UnmapDescriptor {
	return UnmapDescriptor{
		BlockAddress: binary.LittleEndian.Uint64(src[0:8]),
		BlockCount:   binary.LittleEndian.Uint32(src[8:12]),
		Reserved:     binary.LittleEndian.Uint32(src[12:16]),
	}
}
