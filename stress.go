// Package stgstress drives deterministic read/write/flush/unmap
// transactions against a storage target, over a message channel or a
// raw block device, and verifies data integrity with a reproducible
// keystream.
package stgstress

import (
	"fmt"
	"os"
	"time"

	"github.com/ehrlich-b/stgstress/internal/content"
	"github.com/ehrlich-b/stgstress/internal/logging"
	"github.com/ehrlich-b/stgstress/internal/transport"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Transport is the handle contract the driver runs against. Production
// code uses the tagged handle from Open; tests substitute their own.
type Transport interface {
	Geometry() wire.Geometry
	Transact(req *wire.TransactRequest, rsp *wire.TransactResponse, data []byte) error
	Close() error
}

// Options carries the injectable collaborators of a run. The zero
// value selects the defaults.
type Options struct {
	// Logger receives run progress. Nil selects the process default.
	Logger *logging.Logger

	// Transport overrides target opening, for tests. Run closes it.
	Transport Transport

	// Stats, when non-nil, receives the run counters.
	Stats *Stats
}

// Run executes one stress run to completion and returns the first
// fatal failure, if any. The transport is closed on every exit path.
func Run(params Params, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}

	opCount := params.OpCount
	if opCount == 0 {
		opCount = 1
	}
	ops := params.ops()

	seed := params.Seed
	if seed == 0 {
		seed = uint32(time.Now().UnixNano())
	}
	rng := content.NewSequence(seed)

	target, err := openTarget(params, opts)
	if err != nil {
		return err
	}
	defer target.Close()

	geom := target.Geometry()
	maxWindow := geom.MaxWindow()
	log = log.WithTarget(params.Target)

	// Randomized parameters log as the "*" sentinel; the seed is what
	// makes such a run reproducible.
	bannerAddr := any(params.BlockAddress)
	if params.RandomAddress {
		bannerAddr = "*"
	}
	bannerWindow := any(params.BlockCount)
	if params.RandomCount {
		bannerWindow = "*"
	}
	log.Info("run start",
		"op_count", opCount,
		"op_set", opSetString(ops),
		"address", bannerAddr,
		"window", bannerWindow,
		"seed", seed,
		"block_count", geom.BlockCount,
		"block_length", geom.BlockLength,
		"max_transfer_length", geom.MaxTransferLength)

	data := make([]byte, geom.MaxTransferLength)
	pid := uint64(os.Getpid())
	kindCount := uint64(len(ops))

	addr := params.BlockAddress % geom.BlockCount
	var (
		window       uint32
		opBlocks     uint32
		pendingWrite bool
		pendingUnmap bool
	)

	// opCount bounds the total number of operations; the op set is
	// cycled through, one operation per index. The address, window and
	// pending-verify state advance only at the start of each cycle.
	for i := uint64(0); i < opCount; i++ {
		if i%kindCount == 0 {
			if params.RandomAddress {
				addr = rng.Uint64() % geom.BlockCount
			} else if i > 0 {
				addr = (addr + uint64(window)) % geom.BlockCount
			}

			if params.RandomCount {
				window = rng.Uint32() % maxWindow
			} else {
				window = params.BlockCount
				if window > maxWindow {
					window = maxWindow
				}
			}
			if window == 0 {
				window = 1
			}

			opBlocks = window
			if tail := geom.BlockCount - addr; uint64(opBlocks) > tail {
				opBlocks = uint32(tail)
			}

			pendingWrite, pendingUnmap = false, false
		}

		kind := ops[i%kindCount]
		hint := pid<<32 | (i & 0xffffffff)

		if err := transact(target, params.Target, kind, hint, addr, opBlocks, geom, data, stats); err != nil {
			return err
		}

		switch kind {
		case wire.OpWrite:
			pendingWrite, pendingUnmap = true, false
		case wire.OpUnmap:
			pendingWrite, pendingUnmap = false, true
		case wire.OpRead:
			if pendingWrite || pendingUnmap {
				if err := verify(params.Target, data, geom.BlockLength, addr, opBlocks, pendingWrite); err != nil {
					return err
				}
				stats.RecordVerify()
			}
		}
	}

	snap := stats.Snapshot()
	log.Info("run complete",
		"ops", snap.Ops,
		"reads", snap.Reads,
		"writes", snap.Writes,
		"flushes", snap.Flushes,
		"unmaps", snap.Unmaps,
		"bytes_read", snap.BytesRead,
		"bytes_written", snap.BytesWritten,
		"verifies", snap.Verifies)
	return nil
}

func openTarget(params Params, opts *Options) (Transport, error) {
	if opts.Transport != nil {
		return opts.Transport, nil
	}
	if params.Target == "" {
		return nil, NewError("open", "", ErrCodeInvalidParameters, "no target")
	}
	h, err := transport.Open(params.Target, time.Duration(params.ConnectTimeout))
	if err != nil {
		return nil, WrapError("open", params.Target, err)
	}
	return h, nil
}

// transact issues one exchange and enforces the response invariants:
// matching hint, matching kind, GOOD status.
func transact(target Transport, name string, kind wire.OpKind, hint, addr uint64, blocks uint32, geom wire.Geometry, data []byte, stats *Stats) error {
	req := wire.TransactRequest{Hint: hint, Kind: kind}
	var bytes uint64

	switch kind {
	case wire.OpRead, wire.OpWrite:
		req.Range = wire.RangePayload{BlockAddress: addr, BlockCount: blocks}
		bytes = uint64(blocks) * uint64(geom.BlockLength)
		if kind == wire.OpWrite {
			content.Fill(data, geom.BlockLength, addr, blocks)
		}
	case wire.OpFlush:
		req.Range = wire.RangePayload{BlockAddress: addr, BlockCount: blocks}
	case wire.OpUnmap:
		req.Descriptors = []wire.UnmapDescriptor{{BlockAddress: addr, BlockCount: blocks}}
	}

	var rsp wire.TransactResponse
	if err := target.Transact(&req, &rsp, data); err != nil {
		e := WrapError(kind.String(), name, err)
		e.Addr, e.Count = addr, blocks
		return e
	}
	if rsp.Hint != hint || rsp.Kind != kind {
		return &Error{
			Op: kind.String(), Target: name, Addr: addr, Count: blocks,
			Code: ErrCodeIODevice,
			Msg:  fmt.Sprintf("response (hint %#x, kind %s) does not match request (hint %#x)", rsp.Hint, rsp.Kind, hint),
		}
	}
	if rsp.Status.ScsiStatus != wire.ScsiStatusGood {
		return &Error{
			Op: kind.String(), Target: name, Addr: addr, Count: blocks,
			Code: ErrCodeIODevice,
			Msg:  fmt.Sprintf("scsi status %#x, sense key %#x", rsp.Status.ScsiStatus, rsp.Status.Sense[2]&0xf),
		}
	}

	stats.RecordOp(kind, bytes)
	return nil
}

// verify checks a read-back buffer against the keystream (after a
// write) or against zeros (after an unmap).
func verify(name string, data []byte, blockLength uint32, addr uint64, blocks uint32, written bool) error {
	length := int(blocks) * int(blockLength)
	var (
		ok  bool
		bad uint64
	)
	if written {
		ok, bad = content.VerifyWritten(data[:length], blockLength, addr, blocks)
	} else {
		ok, bad = content.VerifyUnmapped(data[:length], blockLength, addr, blocks)
	}
	if ok {
		return nil
	}
	what := "keystream"
	if !written {
		what = "zero"
	}
	return &Error{
		Op: "verify", Target: name, Addr: bad, Count: blocks,
		Code: ErrCodeIODevice,
		Msg:  fmt.Sprintf("block %d does not match %s content", bad, what),
	}
}

func opSetString(ops []wire.OpKind) string {
	s := make([]byte, len(ops))
	for i, op := range ops {
		switch op {
		case wire.OpRead:
			s[i] = 'R'
		case wire.OpWrite:
			s[i] = 'W'
		case wire.OpFlush:
			s[i] = 'F'
		case wire.OpUnmap:
			s[i] = 'U'
		}
	}
	return string(s)
}
