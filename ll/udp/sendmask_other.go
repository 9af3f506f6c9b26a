//go:build !darwin

package udp

func droppedSend(error) bool { return false }
