package ecmaster

import (
	"encoding/binary"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecdc"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/ecrt"
)

// cycle is the scheduler goroutine. It owns the multiplexer and closes it
// on exit, which releases the monitor.
func (e *Engine) cycle(log *logrus.Entry, r *run) (err error) {
	defer r.mux.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ecrt.SetThreadPriority(e.cfg.ThreadPriority); err != nil {
		log.WithError(err).WithField("priority", e.cfg.ThreadPriority.String()).Warn("cannot set thread priority")
	}
	if e.cfg.Affinity != nil {
		if err := ecrt.SetAffinity(*e.cfg.Affinity); err != nil {
			log.WithError(err).WithField("core", int(*e.cfg.Affinity)).Warn("cannot set affinity")
		}
	}

	ticksPerSync0 := max(1, int(e.cfg.Sync0Cycle/e.cfg.SendCycle))

	s := &scheduler{e: e, r: r}
	next := time.Now()
	for tick := 0; ; tick++ {
		select {
		case <-r.t.Dying():
			s.shutdown()
			return nil
		default:
		}

		err = s.tick(r.dc != nil && tick%ticksPerSync0 == 0)
		if err != nil {
			e.faulted(log, err)
			return err
		}

		next = next.Add(e.cfg.SendCycle)
		if now := time.Now(); now.After(next) {
			e.stats.overruns.Add(1)
			next = now
		}
		e.opts.Sleeper.SleepUntil(next)
	}
}

type scheduler struct {
	e *Engine
	r *run

	last []byte

	// process data working counter seen first, later ones are compared
	wkcLearned bool
	wkc        uint16

	diffs []uint32
}

func (s *scheduler) tick(sync0 bool) error {
	e, mux := s.e, s.r.mux
	e.stats.ticks.Add(1)

	if f, ok := e.buf.Pop(); ok {
		s.last = f
		e.stats.transmitted.Add(1)
	} else if s.last != nil {
		e.stats.repeated.Add(1)
	}

	var pd *ecmd.Command
	if s.last != nil {
		var err error
		pd, err = mux.New(len(s.last))
		if err != nil {
			return err
		}
		pd.Address(ecfr.LRW, 0)
		copy(pd.Out.Data(), s.last)
	}

	var rmw *ecmd.Command
	var diffs []*ecmd.Command
	if sync0 {
		var err error
		rmw, err = mux.New(8)
		if err != nil {
			return err
		}
		rmw.Address(ecfr.FRMW, ecfr.FixedAddress(s.r.slaves[0].Station, ecad.DCSystemTime).Addr32())

		for _, sl := range s.r.slaves {
			ec, err := mux.New(ecad.DCSystemTimeDifferenceSz)
			if err != nil {
				return err
			}
			ec.Address(ecfr.FPRD, ecfr.FixedAddress(sl.Station, ecad.DCSystemTimeDifference).Addr32())
			diffs = append(diffs, ec)
		}
	}

	err := mux.Cycle()
	if err != nil {
		return err
	}

	if pd != nil {
		s.checkProcessData(pd)
	}
	if sync0 {
		return s.observeClocks(rmw, diffs)
	}
	return nil
}

func (s *scheduler) checkProcessData(pd *ecmd.Command) {
	st := &s.e.stats
	if pd.Result() != nil {
		st.frameLosses.Add(1)
		return
	}

	wkc := pd.In.WorkingCounter
	if !s.wkcLearned {
		s.wkc, s.wkcLearned = wkc, true
		return
	}
	if wkc != s.wkc {
		st.wkcErrors.Add(1)
	}
}

func (s *scheduler) observeClocks(rmw *ecmd.Command, diffs []*ecmd.Command) error {
	st := &s.e.stats
	if rmw.Result() != nil {
		st.frameLosses.Add(1)
		return s.r.dc.Miss(time.Now())
	}

	s.diffs = s.diffs[:0]
	for _, ec := range diffs {
		if ec.Result() != nil || ec.In.WorkingCounter != 1 {
			continue
		}
		s.diffs = append(s.diffs, binary.LittleEndian.Uint32(ec.In.Data()))
	}
	if len(s.diffs) == 0 {
		return s.r.dc.Miss(time.Now())
	}

	st.sync0.Add(1)
	return s.r.dc.Observe(time.Now(), ecdc.MaxOffset(s.diffs))
}

// shutdown requests INIT on the way out. Failures are irrelevant, the
// transport is closed next.
func (s *scheduler) shutdown() {
	mux := s.r.mux
	ec, err := mux.New(2)
	if err != nil {
		return
	}
	ec.Address(ecfr.BWR, ecfr.BroadcastAddress(ecad.ALControl).Addr32())
	binary.LittleEndian.PutUint16(ec.Out.Data(), ecad.StateInit)
	mux.Cycle()
}
