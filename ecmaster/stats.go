package ecmaster

import "sync/atomic"

// Stats counts since the engine was created.
type Stats struct {
	Ticks       uint64
	Transmitted uint64 // frames taken from the buffer
	Repeated    uint64 // ticks that repeated the last frame
	Overruns    uint64
	FrameLosses uint64
	WKCErrors   uint64
	Sync0       uint64 // clock samples handed to the supervisor

	Submitted uint64
	Dropped   uint64 // frames pushed out of a full buffer

	DroppedEvents uint64
}

type counters struct {
	ticks, transmitted, repeated, overruns atomic.Uint64
	frameLosses, wkcErrors, sync0          atomic.Uint64
	monitorDropped                         atomic.Uint64
}

func (e *Engine) Stats() Stats {
	bs := e.buf.Stats()
	st := Stats{
		Ticks:         e.stats.ticks.Load(),
		Transmitted:   e.stats.transmitted.Load(),
		Repeated:      e.stats.repeated.Load(),
		Overruns:      e.stats.overruns.Load(),
		FrameLosses:   e.stats.frameLosses.Load(),
		WKCErrors:     e.stats.wkcErrors.Load(),
		Sync0:         e.stats.sync0.Load(),
		Submitted:     bs.Submitted,
		Dropped:       bs.Dropped,
		DroppedEvents: e.stats.monitorDropped.Load(),
	}

	if r := e.cur.Load(); r != nil && r.monitor != nil {
		st.DroppedEvents += r.monitor.Dropped()
	}
	return st
}
