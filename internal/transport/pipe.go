package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/stgstress/internal/logging"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Pipe is the message-channel backend: a unixpacket (SOCK_SEQPACKET)
// connection where one blocking Read returns exactly one peer message.
// The remote peer sends the serialized geometry immediately after
// connect, before any transaction.
type Pipe struct {
	conn *net.UnixConn
	geom wire.Geometry

	// msg holds one outbound or inbound message: fixed header plus up
	// to MaxTransferLength of body. Allocated once at open.
	msg []byte

	log *logging.Logger
}

// OpenPipe connects to the channel at path, retries exactly once after
// waiting timeout if the remote end is transiently busy, then performs
// the geometry handshake.
func OpenPipe(path string, timeout time.Duration) (*Pipe, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	conn, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		if !isBusy(err) {
			return nil, fmt.Errorf("transport: connect %s: %w", path, err)
		}
		// One bounded reconnect, no retry loop.
		time.Sleep(timeout)
		conn, err = net.DialUnix("unixpacket", nil, addr)
		if err != nil {
			return nil, fmt.Errorf("transport: reconnect %s: %w", path, err)
		}
	}

	p := &Pipe{
		conn: conn,
		log:  logging.Default().WithTarget(PipePrefix + path),
	}
	if err := p.handshake(); err != nil {
		// Close on every failure path; the handle never leaks.
		p.conn.Close()
		return nil, err
	}
	p.msg = make([]byte, wire.MsgSize+int(p.geom.MaxTransferLength))
	p.log.Debug("pipe open",
		"block_count", p.geom.BlockCount,
		"block_length", p.geom.BlockLength,
		"max_transfer_length", p.geom.MaxTransferLength)
	return p, nil
}

// handshake reads the first message on the channel, which must be
// exactly the serialized geometry and must satisfy the open-time
// invariants.
func (p *Pipe) handshake() error {
	buf := make([]byte, wire.GeometrySize)
	n, err := p.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("transport: geometry handshake: %w", err)
	}
	if n < wire.GeometrySize {
		return fmt.Errorf("%w: geometry handshake message is %d bytes, want %d",
			ErrDesync, n, wire.GeometrySize)
	}
	if err := wire.DecodeGeometry(buf, &p.geom); err != nil {
		return err
	}
	return p.geom.Validate()
}

// Geometry returns the handshake parameters.
func (p *Pipe) Geometry() wire.Geometry {
	return p.geom
}

// Transact sends one request message and reads one response message.
// Requests and responses alternate strictly; nothing is pipelined.
func (p *Pipe) Transact(req *wire.TransactRequest, rsp *wire.TransactResponse, data []byte) error {
	n, err := wire.EncodeRequest(p.msg, req, data, p.geom.BlockLength)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := p.conn.Write(p.msg[:n]); err != nil {
		return fmt.Errorf("transport: send request: %w", err)
	}

	// One inbound read sized for the largest possible response.
	rn, err := p.conn.Read(p.msg)
	if err != nil {
		return fmt.Errorf("transport: receive response: %w", err)
	}
	if rn < wire.MsgSize {
		return fmt.Errorf("%w: response is %d bytes, want at least %d", ErrDesync, rn, wire.MsgSize)
	}
	if err := wire.DecodeResponse(p.msg[:rn], rsp); err != nil {
		return err
	}
	if rsp.Hint != req.Hint {
		return fmt.Errorf("%w: hint %#x does not match request hint %#x", ErrDesync, rsp.Hint, req.Hint)
	}

	if rsp.Kind == wire.OpRead && rsp.Status.ScsiStatus == wire.ScsiStatusGood {
		want := int(req.Range.BlockCount) * int(p.geom.BlockLength)
		if want > int(p.geom.MaxTransferLength) {
			return fmt.Errorf("%w: read of %d bytes exceeds max transfer length %d",
				ErrDesync, want, p.geom.MaxTransferLength)
		}
		got := rn - wire.MsgSize
		if got > want {
			got = want
		}
		copy(data[:got], p.msg[wire.MsgSize:wire.MsgSize+got])
		// Short delivery reads back as zero, never as stale scratch
		// content.
		clear(data[got:want])
	}
	return nil
}

// Close releases the channel.
func (p *Pipe) Close() error {
	return p.conn.Close()
}

// isBusy reports whether a dial failure is the transient-busy condition
// worth the single bounded retry.
func isBusy(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.EAGAIN)
}
