//go:build linux

package ecrt

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/distributed/ecatlink/eccfg"
)

// SetProcessPriority sets the nice value of the process.
func SetProcessPriority(p eccfg.ProcessPriority) error {
	return os.NewSyscallError("setpriority", unix.Setpriority(unix.PRIO_PROCESS, 0, Nice(p)))
}

// SetThreadPriority changes the calling thread. Callers lock the goroutine
// to its thread first.
func SetThreadPriority(p eccfg.ThreadPriority) error {
	policy, prio := ThreadPolicy(p)

	attr := &unix.SchedAttr{Policy: unix.SCHED_NORMAL}
	if policy == PolicyFIFO {
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = uint32(prio)
	}
	return os.NewSyscallError("sched_setattr", unix.SchedSetAttr(0, attr, 0))
}

// SetAffinity pins the calling thread to core.
func SetAffinity(core eccfg.CoreID) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(int(core))
	return os.NewSyscallError("sched_setaffinity", unix.SchedSetaffinity(0, &set))
}

// Affinity returns the cores the calling thread may run on.
func Affinity() ([]eccfg.CoreID, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, os.NewSyscallError("sched_getaffinity", err)
	}
	var cores []eccfg.CoreID
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cores = append(cores, eccfg.CoreID(i))
		}
	}
	return cores, nil
}
