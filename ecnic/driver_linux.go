//go:build linux

package ecnic

import (
	"os"
	"path/filepath"
)

var sysClassNet = "/sys/class/net"

func driverName(ifname string) string {
	target, err := os.Readlink(filepath.Join(sysClassNet, ifname, "device", "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
