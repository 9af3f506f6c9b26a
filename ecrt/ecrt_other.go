//go:build !linux

package ecrt

import "github.com/distributed/ecatlink/eccfg"

func SetProcessPriority(p eccfg.ProcessPriority) error { return ErrUnsupported }

func SetThreadPriority(p eccfg.ThreadPriority) error { return ErrUnsupported }

func SetAffinity(core eccfg.CoreID) error { return ErrUnsupported }

func Affinity() ([]eccfg.CoreID, error) { return nil, ErrUnsupported }
