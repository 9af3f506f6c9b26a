//go:build !linux

package raw

import "time"

func Open(ifname string, timeout time.Duration) (*RawFramer, error) {
	return nil, ErrUnsupported
}

func Probe() error {
	return ErrUnsupported
}
