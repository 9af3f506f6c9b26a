package eclink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/distributed/ecatlink/ecstatus"
)

const DefaultDialTimeout = 5 * time.Second

// RemoteSOEM is a link to a master served by a Server at Addr (host:port).
// Open dials and waits for the server's hello, events the server forwards
// come out of Events. A RemoteSOEM is used for one session.
type RemoteSOEM struct {
	Addr string

	Log         *logrus.Entry
	Handler     ecstatus.Handler
	EventBuffer int
	DialTimeout time.Duration

	t       tomb.Tomb
	session uuid.UUID
	events  chan ecstatus.Event

	wm   sync.Mutex
	conn net.Conn

	faultM sync.Mutex
	fault  error
}

func (r *RemoteSOEM) Open(ctx context.Context) error {
	if r.conn != nil {
		return errors.New("eclink: remote link already opened")
	}
	if r.Log == nil {
		r.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if r.EventBuffer <= 0 {
		r.EventBuffer = ecstatus.DefaultEventBuffer
	}
	if r.DialTimeout <= 0 {
		r.DialTimeout = DefaultDialTimeout
	}

	d := net.Dialer{Timeout: r.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", r.Addr)
	if err != nil {
		return err
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	} else {
		conn.SetReadDeadline(time.Now().Add(r.DialTimeout))
	}
	m, err := ReadMsg(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("eclink: waiting for hello: %w", err)
	}
	if m.Type == MsgFault {
		conn.Close()
		return DecodeFault(m)
	}
	h, err := DecodeHello(m)
	if err != nil {
		conn.Close()
		return err
	}
	if h.Version != ProtocolVersion {
		conn.Close()
		return &VersionError{Have: h.Version, Want: ProtocolVersion}
	}
	conn.SetReadDeadline(time.Time{})

	r.conn = conn
	r.session = h.Session
	r.events = make(chan ecstatus.Event, r.EventBuffer)
	r.Log = r.Log.WithFields(logrus.Fields{"remote": r.Addr, "session": h.Session.String()})
	r.Log.Info("remote link open")

	r.t.Go(r.receive)
	return nil
}

// Session returns the id the server assigned to this connection.
func (r *RemoteSOEM) Session() uuid.UUID { return r.session }

func (r *RemoteSOEM) receive() error {
	defer close(r.events)
	for {
		m, err := ReadMsg(r.conn)
		if err != nil {
			if r.t.Alive() {
				r.setFault(err)
				return err
			}
			return nil
		}

		switch m.Type {
		case MsgStatus:
			ev, err := DecodeStatus(m)
			if err != nil {
				r.Log.WithError(err).Warn("bad status message")
				continue
			}
			ev.Time = time.Now()
			if r.Handler != nil {
				r.Handler(ev.Slave, ev.Status)
			}
			select {
			case r.events <- ev:
			default:
				r.Log.WithField("slave", ev.Slave).Debug("event dropped")
			}
		case MsgFault:
			err := DecodeFault(m)
			r.Log.WithError(err).Error("remote master faulted")
			r.setFault(err)
			return err
		case MsgBye:
			r.setFault(ErrPeerClosed)
			return nil
		default:
			r.Log.WithField("type", m.Type).Warn("unexpected message")
		}
	}
}

func (r *RemoteSOEM) Submit(frame []byte) error {
	if r.conn == nil {
		return ErrNotOpen
	}
	if err := r.Err(); err != nil {
		return err
	}
	r.wm.Lock()
	defer r.wm.Unlock()
	return WriteMsg(r.conn, FrameMsg(frame))
}

func (r *RemoteSOEM) Events() <-chan ecstatus.Event { return r.events }

// Done is closed when the connection ended.
func (r *RemoteSOEM) Done() <-chan struct{} { return r.t.Dead() }

func (r *RemoteSOEM) Err() error {
	r.faultM.Lock()
	defer r.faultM.Unlock()
	return r.fault
}

func (r *RemoteSOEM) setFault(err error) {
	r.faultM.Lock()
	if r.fault == nil {
		r.fault = err
	}
	r.faultM.Unlock()
}

// Close says goodbye to the server and waits for the receiver to end.
func (r *RemoteSOEM) Close() error {
	if r.conn == nil {
		return nil
	}
	r.t.Kill(nil)

	r.wm.Lock()
	r.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	WriteMsg(r.conn, ByeMsg())
	r.wm.Unlock()

	err := r.conn.Close()
	r.t.Wait()
	r.Log.Info("remote link closed")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
