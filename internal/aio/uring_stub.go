//go:build !linux || !giouring

package aio

import "errors"

var errRingUnavailable = errors.New("aio: io_uring engine not built in")

func newRing(fd int) (Engine, error) {
	return nil, errRingUnavailable
}
