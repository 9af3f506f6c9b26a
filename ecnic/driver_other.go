//go:build !linux

package ecnic

func driverName(ifname string) string { return "" }
