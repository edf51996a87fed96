//go:build !linux

package scsi

import "errors"

const senseBufLen = 32

// Result is the completion of one pass-through command.
type Result struct {
	Status      uint8
	Sense       [senseBufLen]byte
	SenseLen    int
	Transferred int
}

// ErrUnsupportedPlatform is returned where no SCSI pass-through mechanism
// exists.
var ErrUnsupportedPlatform = errors.New("scsi: pass-through not supported on this platform")

// Execute is unavailable off Linux; the raw transport cannot open here.
func Execute(fd int, cdb []byte, data []byte) (Result, error) {
	return Result{}, ErrUnsupportedPlatform
}
