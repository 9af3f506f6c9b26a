//go:build darwin

package udp

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Sends on an interface without link or without an address yet fail with
// EADDRNOTAVAIL. Such frames count as lost.
func droppedSend(err error) bool {
	return errors.Is(err, unix.EADDRNOTAVAIL)
}
