package ecmaster

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/eccfg"
	"github.com/distributed/ecatlink/ecee"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/raweni"
)

// FirstStation is the station address given to the first slave, the
// following ones count up.
const FirstStation = 0x1001

type Slave struct {
	Position uint16
	Station  uint16
	Identity ecee.Identity
	// Device is the description matched from Options.Devices, if any.
	Device *raweni.Entry
}

// countSlaves broadcasts a read of the ESC type register. Every slave on
// the segment increments the working counter once.
func countSlaves(c ecmd.Commander) (int, error) {
	addr := ecfr.BroadcastAddress(ecad.Type)
	for tries := 0; ; tries++ {
		cmd, err := c.New(1)
		if err != nil {
			return 0, err
		}
		cmd.Address(addr.ReadCommand(), addr.Addr32())
		if err := c.Cycle(); err != nil {
			return 0, err
		}

		err = cmd.Result()
		switch {
		case ecmd.IsNoFrame(err) && tries+1 < ecmd.DefaultFramelossTries:
			continue
		case err != nil:
			return 0, err
		}
		return int(cmd.In.WorkingCounter), nil
	}
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func (e *Engine) bringUp(ctx context.Context, log *logrus.Entry, r *run) error {
	c := r.mux

	n, err := countSlaves(c)
	if err != nil {
		return fmt.Errorf("counting slaves: %w", err)
	}
	if n == 0 {
		return ErrNoSlaves
	}
	log.WithField("slaves", n).Debug("found slaves")

	err = ecmd.ExecuteWrite(c, ecfr.BroadcastAddress(ecad.ALControl), le16(ecad.StateInit|ecad.StateErrorFlag), uint16(n))
	if err != nil {
		return fmt.Errorf("requesting INIT: %w", err)
	}

	for i := 0; i < n; i++ {
		s := Slave{Position: uint16(i), Station: FirstStation + uint16(i)}
		err = ecmd.ExecuteWrite(c, ecfr.PositionalAddress(s.Position, ecad.ConfiguredStationAddress), le16(s.Station), 1)
		if err != nil {
			return fmt.Errorf("assigning station address to slave %d: %w", i, err)
		}

		s.Identity, err = readIdentity(c, s.Station)
		slog := log.WithFields(logrus.Fields{"slave": i, "station": fmt.Sprintf("%#04x", s.Station)})
		if err != nil {
			slog.WithError(err).Warn("cannot read slave identity")
		} else {
			slog = slog.WithField("identity", s.Identity.String())
			if e.opts.Devices != nil {
				if d, ok := e.opts.Devices.Lookup(s.Identity); ok {
					s.Device = &d
					slog = slog.WithField("device", d.Device.Type.Name)
				}
			}
			slog.Debug("slave identified")
		}
		r.slaves = append(r.slaves, s)
	}

	err = e.requestState(ctx, c, n, ecad.StatePreOp)
	if err != nil {
		return err
	}

	if e.cfg.SyncMode == eccfg.SyncModeDC {
		err = e.configureSync0(r)
		if err != nil {
			return err
		}
	}

	for _, st := range []uint16{ecad.StateSafeOp, ecad.StateOp} {
		err = e.requestState(ctx, c, n, st)
		if err != nil {
			return err
		}
	}
	return nil
}

func readIdentity(c ecmd.Commander, station uint16) (ecee.Identity, error) {
	ee, err := ecee.New(c, ecfr.FixedAddress(station, 0))
	if err != nil {
		return ecee.Identity{}, err
	}
	defer ee.Close()
	return ecee.ReadIdentity(ee)
}

func (e *Engine) configureSync0(r *run) error {
	cycle := make([]byte, 4)
	binary.LittleEndian.PutUint32(cycle, uint32(e.cfg.Sync0Cycle.Nanoseconds()))

	for _, s := range r.slaves {
		err := ecmd.ExecuteWrite(r.mux, ecfr.FixedAddress(s.Station, ecad.DCSync0CycleTime), cycle, 1)
		if err != nil {
			return fmt.Errorf("programming sync0 of slave %d: %w", s.Position, err)
		}
		err = ecmd.ExecuteWrite(r.mux, ecfr.FixedAddress(s.Station, ecad.DCSyncActivation),
			[]byte{ecad.SyncActivateCyclic | ecad.SyncActivateSync0}, 1)
		if err != nil {
			return fmt.Errorf("activating sync0 of slave %d: %w", s.Position, err)
		}
	}
	return nil
}

// requestState asks all n slaves for state and waits until they report it.
func (e *Engine) requestState(ctx context.Context, c ecmd.Commander, n int, state uint16) error {
	err := ecmd.ExecuteWrite(c, ecfr.BroadcastAddress(ecad.ALControl), le16(state), uint16(n))
	if err != nil {
		return fmt.Errorf("requesting %s: %w", ecad.StateName(state), err)
	}

	deadline := time.Now().Add(e.opts.StateTimeout)
	for {
		d, err := ecmd.ExecuteRead(c, ecfr.BroadcastAddress(ecad.ALStatus), 2, uint16(n))
		if err != nil && !ecmd.IsWorkingCounterError(err) {
			return fmt.Errorf("reading AL status: %w", err)
		}
		have := binary.LittleEndian.Uint16(d) & (ecad.StateMask | ecad.StateErrorFlag)
		if err == nil && have == state {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("slaves did not reach %s, status is %s", ecad.StateName(state), ecad.StateName(have))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
