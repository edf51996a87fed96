package transport

import (
	"fmt"
	"os"

	"github.com/ehrlich-b/stgstress/internal/aio"
	"github.com/ehrlich-b/stgstress/internal/logging"
	"github.com/ehrlich-b/stgstress/internal/scsi"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Raw is the block-device backend. Geometry comes from two SCSI probes
// at open time; transactions are direct positioned I/O, and responses
// are synthesized locally because no remote peer exists to produce them.
type Raw struct {
	f      *os.File
	engine aio.Engine
	geom   wire.Geometry
	log    *logging.Logger
}

// probeBufLen is the allocation length for both probe commands.
const probeBufLen = 255

// OpenRaw opens the device at path and derives its geometry from READ
// CAPACITY (16) and the Block Limits VPD page. Both probes must complete
// with GOOD status and at least the expected byte count.
func OpenRaw(path string) (*Raw, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	geom, err := probeGeometry(int(f.Fd()))
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := geom.Validate(); err != nil {
		f.Close()
		return nil, err
	}

	engine, err := aio.New(int(f.Fd()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: i/o engine: %w", err)
	}

	r := &Raw{
		f:      f,
		engine: engine,
		geom:   geom,
		log:    logging.Default().WithTarget(path),
	}
	r.log.Debug("raw device open",
		"block_count", geom.BlockCount,
		"block_length", geom.BlockLength,
		"max_transfer_length", geom.MaxTransferLength)
	return r, nil
}

func probeGeometry(fd int) (wire.Geometry, error) {
	var geom wire.Geometry

	buf := make([]byte, probeBufLen)
	res, err := scsi.Execute(fd, scsi.ReadCapacity16CDB(probeBufLen), buf)
	if err != nil {
		return geom, fmt.Errorf("%w: read capacity: %v", ErrProbe, err)
	}
	if res.Status != scsi.StatusGood {
		return geom, fmt.Errorf("%w: read capacity status %#x", ErrProbe, res.Status)
	}
	if res.Transferred < scsi.ReadCapacity16Len {
		return geom, fmt.Errorf("%w: read capacity returned %d bytes, want %d",
			ErrProbe, res.Transferred, scsi.ReadCapacity16Len)
	}
	geom.BlockCount, geom.BlockLength, err = scsi.DecodeReadCapacity16(buf)
	if err != nil {
		return geom, fmt.Errorf("%w: %v", ErrProbe, err)
	}

	buf = make([]byte, probeBufLen)
	res, err = scsi.Execute(fd, scsi.InquiryVPDCDB(scsi.VPDBlockLimits, probeBufLen), buf)
	if err != nil {
		return geom, fmt.Errorf("%w: block limits inquiry: %v", ErrProbe, err)
	}
	if res.Status != scsi.StatusGood {
		return geom, fmt.Errorf("%w: block limits status %#x", ErrProbe, res.Status)
	}
	if res.Transferred < scsi.BlockLimitsLen {
		return geom, fmt.Errorf("%w: block limits returned %d bytes, want %d",
			ErrProbe, res.Transferred, scsi.BlockLimitsLen)
	}
	maxBlocks, err := scsi.DecodeBlockLimits(buf)
	if err != nil {
		return geom, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	geom.MaxTransferLength = scsi.MaxTransferLength(maxBlocks, geom.BlockLength)
	return geom, nil
}

// Geometry returns the probed device parameters.
func (r *Raw) Geometry() wire.Geometry {
	return r.geom
}

// Transact executes Read and Write as positioned I/O. Flush and Unmap
// have no representation on this backend and fail explicitly rather
// than reporting silent success.
func (r *Raw) Transact(req *wire.TransactRequest, rsp *wire.TransactResponse, data []byte) error {
	switch req.Kind {
	case wire.OpRead, wire.OpWrite:
	default:
		return fmt.Errorf("%w: %s on raw device", ErrUnsupported, req.Kind)
	}

	length := int(req.Range.BlockCount) * int(r.geom.BlockLength)
	if data == nil || len(data) < length {
		return fmt.Errorf("%w: %s needs a %d byte buffer", ErrInvalidRequest, req.Kind, length)
	}
	offset := int64(req.Range.BlockAddress) * int64(r.geom.BlockLength)

	var (
		n   int
		err error
	)
	if req.Kind == wire.OpWrite {
		n, err = r.engine.WriteAt(data[:length], offset)
	} else {
		n, err = r.engine.ReadAt(data[:length], offset)
	}
	if err != nil {
		return fmt.Errorf("transport: %s at block %d: %w", req.Kind, req.Range.BlockAddress, err)
	}
	if n != length {
		return fmt.Errorf("%w: %s moved %d of %d bytes at block %d",
			ErrShortTransfer, req.Kind, n, length, req.Range.BlockAddress)
	}

	// No remote peer: manufacture a protocol-conformant acknowledgment.
	*rsp = wire.TransactResponse{Hint: req.Hint, Kind: req.Kind}
	return nil
}

// Close releases the engine and the device handle.
func (r *Raw) Close() error {
	engErr := r.engine.Close()
	if err := r.f.Close(); err != nil {
		return err
	}
	return engErr
}
