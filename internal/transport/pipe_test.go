//go:build linux

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/stgstress/internal/content"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

var testGeometry = wire.Geometry{
	BlockCount:        1000,
	BlockLength:       512,
	MaxTransferLength: 8 * 512,
}

// fakePeer is a minimal in-process remote end: it sends the geometry
// handshake, then answers each request against an in-memory store.
type fakePeer struct {
	t    *testing.T
	ln   *net.UnixListener
	geom wire.Geometry
	raw  []byte // raw handshake bytes, overrides geom when set

	mangleHint bool // respond with a corrupted hint
	shortRead  int  // deliver only this many payload bytes on Read
	scsiStatus uint8
	data       []byte
	done       chan struct{}
}

func newFakePeer(t *testing.T, geom wire.Geometry) (*fakePeer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stg.sock")
	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePeer{
		t:    t,
		ln:   ln,
		geom: geom,
		data: make([]byte, geom.BlockCount*uint64(geom.BlockLength)),
		done: make(chan struct{}),
	}
	go p.serve()
	t.Cleanup(func() {
		ln.Close()
		<-p.done
	})
	return p, path
}

func (p *fakePeer) serve() {
	defer close(p.done)
	conn, err := p.ln.AcceptUnix()
	if err != nil {
		return
	}
	defer conn.Close()

	handshake := p.raw
	if handshake == nil {
		handshake = make([]byte, wire.GeometrySize)
		if _, err := wire.EncodeGeometry(handshake, p.geom); err != nil {
			p.t.Errorf("peer: encode geometry: %v", err)
			return
		}
	}
	if _, err := conn.Write(handshake); err != nil {
		return
	}

	buf := make([]byte, wire.MsgSize+int(p.geom.MaxTransferLength))
	out := make([]byte, wire.MsgSize+int(p.geom.MaxTransferLength))
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		var req wire.TransactRequest
		body, err := wire.DecodeRequest(buf[:n], &req, p.geom.BlockLength)
		if err != nil {
			p.t.Errorf("peer: decode request: %v", err)
			return
		}

		var payload []byte
		switch req.Kind {
		case wire.OpWrite:
			off := req.Range.BlockAddress * uint64(p.geom.BlockLength)
			copy(p.data[off:], body)
		case wire.OpRead:
			off := req.Range.BlockAddress * uint64(p.geom.BlockLength)
			length := int(req.Range.BlockCount) * int(p.geom.BlockLength)
			payload = p.data[off : off+uint64(length)]
			if p.shortRead > 0 && p.shortRead < length {
				payload = payload[:p.shortRead]
			}
		case wire.OpUnmap:
			for _, d := range req.Descriptors {
				off := d.BlockAddress * uint64(p.geom.BlockLength)
				length := uint64(d.BlockCount) * uint64(p.geom.BlockLength)
				clear(p.data[off : off+length])
			}
		case wire.OpFlush:
			// Nothing to do for a memory store.
		}

		rsp := wire.TransactResponse{Hint: req.Hint, Kind: req.Kind}
		rsp.Status.ScsiStatus = p.scsiStatus
		if p.mangleHint {
			rsp.Hint++
		}
		rn, err := wire.EncodeResponse(out, &rsp, payload)
		if err != nil {
			p.t.Errorf("peer: encode response: %v", err)
			return
		}
		if _, err := conn.Write(out[:rn]); err != nil {
			return
		}
	}
}

func TestPipeOpenHandshake(t *testing.T) {
	_, path := newFakePeer(t, testGeometry)
	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	if p.Geometry() != testGeometry {
		t.Errorf("Geometry() = %+v, want %+v", p.Geometry(), testGeometry)
	}
}

func TestPipeOpenRejectsInvalidGeometry(t *testing.T) {
	bad := testGeometry
	bad.MaxTransferLength = 1000 // not a multiple of the block length
	_, path := newFakePeer(t, bad)

	if _, err := OpenPipe(path, time.Second); !errors.Is(err, wire.ErrInvalidGeometry) {
		t.Fatalf("OpenPipe error = %v, want ErrInvalidGeometry", err)
	}
}

func TestPipeOpenRejectsShortHandshake(t *testing.T) {
	peer, path := newFakePeer(t, testGeometry)
	peer.raw = make([]byte, wire.GeometrySize-4)

	if _, err := OpenPipe(path, time.Second); !errors.Is(err, ErrDesync) {
		t.Fatalf("OpenPipe error = %v, want ErrDesync", err)
	}
}

func TestPipeWriteReadRoundTrip(t *testing.T) {
	_, path := newFakePeer(t, testGeometry)
	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	const addr, count = 10, 4
	scratch := make([]byte, testGeometry.MaxTransferLength)
	content.Fill(scratch, testGeometry.BlockLength, addr, count)

	req := wire.TransactRequest{
		Hint:  0xAA00000001,
		Kind:  wire.OpWrite,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	var rsp wire.TransactResponse
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("write transact failed: %v", err)
	}
	if rsp.Hint != req.Hint || rsp.Kind != wire.OpWrite {
		t.Fatalf("write response = %+v", rsp)
	}

	clear(scratch)
	req = wire.TransactRequest{
		Hint:  0xAA00000002,
		Kind:  wire.OpRead,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("read transact failed: %v", err)
	}
	if ok, bad := content.VerifyWritten(scratch, testGeometry.BlockLength, addr, count); !ok {
		t.Errorf("read-back verification failed at block %d", bad)
	}
}

func TestPipeUnmapRoundTrip(t *testing.T) {
	_, path := newFakePeer(t, testGeometry)
	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	const addr, count = 20, 3
	scratch := make([]byte, testGeometry.MaxTransferLength)
	content.Fill(scratch, testGeometry.BlockLength, addr, count)

	var rsp wire.TransactResponse
	req := wire.TransactRequest{
		Hint:  1,
		Kind:  wire.OpWrite,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("write transact failed: %v", err)
	}

	req = wire.TransactRequest{
		Hint:        2,
		Kind:        wire.OpUnmap,
		Descriptors: []wire.UnmapDescriptor{{BlockAddress: addr, BlockCount: count}},
	}
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("unmap transact failed: %v", err)
	}
	if rsp.Hint != 2 || rsp.Kind != wire.OpUnmap {
		t.Fatalf("unmap response = %+v", rsp)
	}

	req = wire.TransactRequest{
		Hint:  3,
		Kind:  wire.OpRead,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("read transact failed: %v", err)
	}
	if ok, bad := content.VerifyUnmapped(scratch[:count*int(testGeometry.BlockLength)], testGeometry.BlockLength, addr, count); !ok {
		t.Errorf("block %d still holds data after unmap", bad)
	}
}

func TestPipeDeliversScsiStatus(t *testing.T) {
	peer, path := newFakePeer(t, testGeometry)
	peer.scsiStatus = 0x02 // CHECK CONDITION

	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	scratch := make([]byte, testGeometry.MaxTransferLength)
	for i := range scratch {
		scratch[i] = 0xEE
	}
	req := wire.TransactRequest{
		Hint:  7,
		Kind:  wire.OpRead,
		Range: wire.RangePayload{BlockAddress: 0, BlockCount: 1},
	}
	var rsp wire.TransactResponse
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("transact failed: %v", err)
	}

	// The transport passes the status through for the caller to judge,
	// and does not deliver a payload for a failed read.
	if rsp.Status.ScsiStatus != 0x02 {
		t.Errorf("ScsiStatus = %#x, want 0x2", rsp.Status.ScsiStatus)
	}
	for _, b := range scratch[:testGeometry.BlockLength] {
		if b != 0xEE {
			t.Fatal("payload delivered despite non-GOOD status")
		}
	}
}

func TestPipeHintMismatchIsDesync(t *testing.T) {
	peer, path := newFakePeer(t, testGeometry)
	peer.mangleHint = true

	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	scratch := make([]byte, testGeometry.MaxTransferLength)
	req := wire.TransactRequest{
		Hint:  42,
		Kind:  wire.OpRead,
		Range: wire.RangePayload{BlockAddress: 0, BlockCount: 1},
	}
	var rsp wire.TransactResponse
	if err := p.Transact(&req, &rsp, scratch); !errors.Is(err, ErrDesync) {
		t.Fatalf("Transact error = %v, want ErrDesync", err)
	}
}

func TestPipeShortReadZeroPads(t *testing.T) {
	peer, path := newFakePeer(t, testGeometry)
	peer.shortRead = int(testGeometry.BlockLength) // one block of four

	p, err := OpenPipe(path, time.Second)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	const addr, count = 0, 4
	scratch := make([]byte, testGeometry.MaxTransferLength)
	content.Fill(scratch, testGeometry.BlockLength, addr, count)

	req := wire.TransactRequest{
		Hint:  1,
		Kind:  wire.OpWrite,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	var rsp wire.TransactResponse
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("write transact failed: %v", err)
	}

	// Poison the scratch buffer; short delivery must overwrite the
	// truncated tail with zeros, not leave stale bytes behind.
	for i := range scratch {
		scratch[i] = 0xEE
	}
	req = wire.TransactRequest{
		Hint:  2,
		Kind:  wire.OpRead,
		Range: wire.RangePayload{BlockAddress: addr, BlockCount: count},
	}
	if err := p.Transact(&req, &rsp, scratch); err != nil {
		t.Fatalf("read transact failed: %v", err)
	}

	bl := int(testGeometry.BlockLength)
	if ok, _ := content.VerifyWritten(scratch[:bl], testGeometry.BlockLength, addr, 1); !ok {
		t.Error("delivered block does not match keystream")
	}
	if !bytes.Equal(scratch[bl:4*bl], make([]byte, 3*bl)) {
		t.Error("truncated tail was not zero-filled")
	}
}

func TestOpenRoutesPipePrefix(t *testing.T) {
	_, path := newFakePeer(t, testGeometry)
	h, err := Open(PipePrefix+path, time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	if h.Backend() != "pipe" {
		t.Errorf("Backend() = %q, want pipe", h.Backend())
	}
	if h.Geometry() != testGeometry {
		t.Errorf("Geometry() = %+v, want %+v", h.Geometry(), testGeometry)
	}

	var rsp wire.TransactResponse
	if err := h.Transact(nil, &rsp, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Transact(nil, ...) error = %v, want ErrInvalidRequest", err)
	}
}

func TestPipeOpenNoListenerFailsWithoutRetry(t *testing.T) {
	// A missing socket is not the transient-busy condition; the open
	// must fail immediately instead of sleeping out the retry budget.
	path := filepath.Join(t.TempDir(), "absent.sock")
	start := time.Now()
	if _, err := OpenPipe(path, 2*time.Second); err == nil {
		t.Fatal("OpenPipe succeeded against a missing socket")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("open took %v, suggesting an unwanted busy retry", elapsed)
	}
}

func TestIsBusyClassification(t *testing.T) {
	busy := []error{
		unix.ECONNREFUSED,
		unix.EAGAIN,
		&net.OpError{Op: "dial", Err: unix.ECONNREFUSED},
		fmt.Errorf("dial: %w", unix.EAGAIN),
	}
	for _, err := range busy {
		if !isBusy(err) {
			t.Errorf("isBusy(%v) = false, want true", err)
		}
	}

	notBusy := []error{
		errors.New("plain failure"),
		unix.ENOENT,
		&net.OpError{Op: "dial", Err: unix.ECONNRESET},
	}
	for _, err := range notBusy {
		if isBusy(err) {
			t.Errorf("isBusy(%v) = true, want false", err)
		}
	}
}
