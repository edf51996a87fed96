//go:build linux

package scsi

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sgIO = 0x2285

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	sgInfoOKMask = 0x1
	sgInfoOK     = 0x0

	// Pass-through timeout in milliseconds.
	sgTimeout = 20000

	senseBufLen = 32
)

// sgIoHdr mirrors struct sg_io_hdr from <scsi/sg.h>.
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// Result is the completion of one pass-through command.
type Result struct {
	Status      uint8             // SCSI status byte
	Sense       [senseBufLen]byte // sense data, valid for SenseLen bytes
	SenseLen    int
	Transferred int // data bytes actually moved
}

// Execute issues one data-in SCSI command through the SG_IO ioctl and
// waits for its completion.
func Execute(fd int, cdb []byte, data []byte) (Result, error) {
	var res Result
	hdr := sgIoHdr{
		interfaceID:    'S',
		dxferDirection: sgDxferFromDev,
		cmdLen:         uint8(len(cdb)),
		mxSBLen:        senseBufLen,
		dxferLen:       uint32(len(data)),
		dxferp:         uintptr(unsafe.Pointer(&data[0])),
		cmdp:           uintptr(unsafe.Pointer(&cdb[0])),
		sbp:            uintptr(unsafe.Pointer(&res.Sense[0])),
		timeout:        sgTimeout,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), sgIO, uintptr(unsafe.Pointer(&hdr)))
	runtime.KeepAlive(cdb)
	runtime.KeepAlive(data)
	if errno != 0 {
		return res, fmt.Errorf("scsi: SG_IO ioctl: %w", errno)
	}

	res.Status = hdr.status
	res.SenseLen = int(hdr.sbLenWr)
	res.Transferred = len(data) - int(hdr.resid)
	if hdr.info&sgInfoOKMask != sgInfoOK && hdr.status == StatusGood {
		// Host or driver noise without a device status; surface it.
		return res, fmt.Errorf("scsi: transport error: host %#x driver %#x",
			hdr.hostStatus, hdr.driverStatus)
	}
	return res, nil
}
