// Package ecmaster runs an EtherCAT master: it brings up the slaves of a
// segment and exchanges process data at a fixed period, while a monitor
// watches slave states and a supervisor the distributed clocks.
package ecmaster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/distributed/ecatlink/ecbuf"
	"github.com/distributed/ecatlink/eccfg"
	"github.com/distributed/ecatlink/ecdc"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/ecnic"
	"github.com/distributed/ecatlink/ecrt"
	"github.com/distributed/ecatlink/ecsleep"
	"github.com/distributed/ecatlink/ecstatus"
	"github.com/distributed/ecatlink/raweni"
)

// MaxFrameLen is the largest process data frame Submit accepts.
const MaxFrameLen = ecmd.CommandFramerMaxDatagramsLen - ecfr.DatagramOverheadLength

const (
	DefaultReceiveTimeout = 2 * time.Millisecond
	DefaultStateTimeout   = 2 * time.Second
)

type Options struct {
	Log *logrus.Entry
	// Handler is called on the monitor goroutine for every slave event.
	Handler ecstatus.Handler
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// Open defaults to OpenTransport.
	Open Opener
	// Adapters lists candidates when no interface is configured, it
	// defaults to ecnic.Enumerate.
	Adapters func() ([]ecnic.Adapter, error)
	// Sleeper overrides the configured timer strategy.
	Sleeper ecsleep.Sleeper
	// Devices names identified slaves.
	Devices *raweni.Catalog

	ReceiveTimeout time.Duration
	StateTimeout   time.Duration
}

// Engine is a master bound to one interface. Start and Stop may be called
// repeatedly, the configuration stays fixed.
type Engine struct {
	cfg  eccfg.Config
	opts Options
	id   uuid.UUID
	log  *logrus.Entry

	buf    *ecbuf.Buffer
	events chan ecstatus.Event

	// lifecycle, held during Start and Stop
	mu    sync.Mutex
	state atomic.Int32
	// current run for accessors that must not wait for the lifecycle lock
	cur    atomic.Pointer[run]
	faultM sync.Mutex
	fault  error

	stats counters
}

// run holds what lives from Start to Stop.
type run struct {
	t       tomb.Tomb
	ifname  string
	mux     *ecmd.Multiplexer
	slaves  []Slave
	monitor *ecstatus.Monitor
	dc      *ecdc.Supervisor
}

func New(cfg eccfg.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = ecstatus.DefaultEventBuffer
	}
	if opts.Open == nil {
		opts.Open = OpenTransport
	}
	if opts.Adapters == nil {
		opts.Adapters = ecnic.Enumerate
	}
	if opts.Sleeper == nil {
		opts.Sleeper = ecsleep.For(cfg.Timer)
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.StateTimeout <= 0 {
		opts.StateTimeout = DefaultStateTimeout
	}

	e := &Engine{
		cfg:    cfg,
		opts:   opts,
		id:     id,
		log:    opts.Log.WithField("engine", id.String()),
		buf:    ecbuf.New(cfg.BufSize, MaxFrameLen),
		events: make(chan ecstatus.Event, opts.EventBuffer),
	}
	return e, nil
}

func (e *Engine) ID() uuid.UUID        { return e.id }
func (e *Engine) Config() eccfg.Config { return e.cfg }
func (e *Engine) State() State         { return State(e.state.Load()) }

// Events delivers slave events of all runs. Events that find the channel
// full are dropped and counted in Stats.
func (e *Engine) Events() <-chan ecstatus.Event { return e.events }

// Err returns the error that faulted the engine, if any.
func (e *Engine) Err() error {
	e.faultM.Lock()
	defer e.faultM.Unlock()
	return e.fault
}

// Done is closed when the goroutines of the current run ended, either
// after Stop or because the engine faulted.
func (e *Engine) Done() <-chan struct{} {
	r := e.cur.Load()
	if r == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return r.t.Dead()
}

// Ifname returns the interface of the current run.
func (e *Engine) Ifname() string {
	if r := e.cur.Load(); r != nil {
		return r.ifname
	}
	return ""
}

// Slaves returns the slaves found by the current run.
func (e *Engine) Slaves() []Slave {
	if r := e.cur.Load(); r != nil {
		return append([]Slave(nil), r.slaves...)
	}
	return nil
}

// Synchronized reports whether the distributed clocks are in tolerance.
// It is always false in free run mode.
func (e *Engine) Synchronized() bool {
	r := e.cur.Load()
	return r != nil && r.dc != nil && r.dc.Synchronized()
}

// Submit queues a process data frame for one of the next cycles.
func (e *Engine) Submit(frame []byte) error {
	if e.State() != Running {
		return fmt.Errorf("%w: submit while %v", ErrState, e.State())
	}
	return e.buf.Submit(frame)
}

// Start brings the segment to OP and starts the cycle and monitor
// goroutines. On error the engine stays Stopped with the transport closed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return fmt.Errorf("%w: start while %v", ErrState, e.State())
	}
	e.setFault(nil)

	r, err := e.open(ctx)
	if err != nil {
		e.state.Store(int32(Stopped))
		return err
	}

	log := e.log.WithField("ifname", r.ifname)
	err = e.bringUp(ctx, log, r)
	if err != nil {
		r.mux.Close()
		e.state.Store(int32(Stopped))
		return err
	}

	if err := ecrt.SetProcessPriority(e.cfg.ProcessPriority); err != nil {
		log.WithError(err).Warn("cannot set process priority")
	}

	mcmd, err := r.mux.OpenCommander()
	if err != nil {
		r.mux.Close()
		e.state.Store(int32(Stopped))
		return err
	}
	stations := make([]uint16, len(r.slaves))
	for i, s := range r.slaves {
		stations[i] = s.Station
	}
	r.monitor = ecstatus.NewMonitor(mcmd, stations, ecstatus.Options{
		Interval: e.cfg.StateCheckInterval,
		Handler:  e.opts.Handler,
		Events:   e.events,
		Log:      log,
	})
	if e.cfg.SyncMode == eccfg.SyncModeDC {
		r.dc = ecdc.NewSupervisor(e.cfg.SyncTolerance, e.cfg.SyncTimeout, time.Now())
	}

	e.buf.Drain()
	e.cur.Store(r)
	e.state.Store(int32(Running))

	r.t.Go(func() error { return e.cycle(log, r) })
	r.t.Go(func() error {
		err := r.monitor.Run(r.t.Dying())
		if err == nil || errors.Is(err, ecmd.ErrMuxClosed) {
			return nil
		}
		e.faulted(log, err)
		return err
	})

	log.WithField("slaves", len(r.slaves)).Info("engine running")
	return nil
}

// Stop ends a run: it joins the goroutines, requests INIT from the slaves
// and closes the transport. Pending frames are discarded. Stopping a
// stopped engine does nothing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.cur.Load()
	if r == nil {
		return nil
	}

	e.state.CompareAndSwap(int32(Running), int32(Stopping))

	r.t.Kill(nil)
	err := r.t.Wait()

	dropped := e.buf.Drain()
	e.cur.Store(nil)
	e.stats.monitorDropped.Add(r.monitor.Dropped())
	e.state.Store(int32(Stopped))

	e.log.WithFields(logrus.Fields{"discarded": dropped}).Info("engine stopped")
	if err != nil && e.Err() == nil {
		e.setFault(err)
	}
	return nil
}

func (e *Engine) setFault(err error) {
	e.faultM.Lock()
	e.fault = err
	e.faultM.Unlock()
}

// faulted moves a running engine to Faulted. Called from run goroutines.
func (e *Engine) faulted(log *logrus.Entry, err error) {
	e.setFault(err)
	if e.state.CompareAndSwap(int32(Running), int32(Faulted)) {
		log.WithError(err).Error("engine faulted")
	}
}

func (e *Engine) open(ctx context.Context) (*run, error) {
	if e.cfg.Ifname != "" {
		f, err := e.openTransport(e.cfg.Ifname)
		if err != nil {
			return nil, err
		}
		return &run{ifname: e.cfg.Ifname, mux: ecmd.NewMultiplexer(ecmd.NewCommandFramer(f))}, nil
	}

	adapters, err := e.opts.Adapters()
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPermission, err)
		}
		return nil, &BindError{Err: err}
	}

	for _, a := range adapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := e.log.WithField("ifname", a.Name)
		f, err := e.openTransport(a.Name)
		if errors.Is(err, ErrPermission) {
			return nil, err
		}
		if err != nil {
			log.WithError(err).Debug("skipping adapter")
			continue
		}

		mux := ecmd.NewMultiplexer(ecmd.NewCommandFramer(f))
		n, err := countSlaves(mux)
		if err != nil || n == 0 {
			log.WithError(err).Debug("no slaves on adapter")
			mux.Close()
			continue
		}

		log.WithField("slaves", n).Info("autodetected adapter")
		return &run{ifname: a.Name, mux: mux}, nil
	}

	return nil, &BindError{Err: ErrNoSlaves}
}

func (e *Engine) openTransport(ifname string) (ecmd.Framer, error) {
	f, err := e.opts.Open(ifname, e.opts.ReceiveTimeout)
	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %w", ErrPermission, err)
	}
	if err != nil {
		return nil, &BindError{Ifname: ifname, Err: err}
	}
	return f, nil
}
