package eclink

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/distributed/ecatlink/ecstatus"
)

var (
	ErrServerBusy = errors.New("eclink: server busy with another client")
	ErrLinkClosed = errors.New("eclink: link closed")
)

const writeTimeout = time.Second

// Recorder is told about sessions and the events forwarded in them.
type Recorder interface {
	SessionStarted(id uuid.UUID, remote string)
	SessionEnded(id uuid.UUID, err error)
	Event(id uuid.UUID, ev ecstatus.Event)
}

// Server serves an open link to one remote client at a time. Frames the
// client sends are submitted to the link, events of the link are forwarded
// to the client. Further clients are turned away with a fault until the
// current one leaves.
type Server struct {
	link     Link
	log      *logrus.Entry
	Recorder Recorder

	t       tomb.Tomb
	started atomic.Bool
	active  atomic.Bool
	served  atomic.Uint64
}

func NewServer(link Link, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{link: link, log: log}
}

// Serve accepts clients on ln until Close is called or accepting fails. It
// closes ln.
func (s *Server) Serve(ln net.Listener) error {
	s.started.Store(true)
	s.t.Go(func() error {
		<-s.t.Dying()
		return ln.Close()
	})
	s.t.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !s.t.Alive() {
					return nil
				}
				return err
			}

			if !s.active.CompareAndSwap(false, true) {
				s.log.WithField("remote", conn.RemoteAddr().String()).Warn("rejecting client, busy")
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				WriteMsg(conn, FaultMsg(ErrServerBusy))
				conn.Close()
				continue
			}

			s.t.Go(func() error {
				s.session(conn)
				s.active.Store(false)
				s.served.Add(1)
				return nil
			})
		}
	})

	err := s.t.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Served returns the number of finished sessions.
func (s *Server) Served() uint64 { return s.served.Load() }

func (s *Server) Close() error {
	s.t.Kill(nil)
	if !s.started.Load() {
		return nil
	}
	err := s.t.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type session struct {
	id   uuid.UUID
	conn net.Conn
	log  *logrus.Entry
	wm   sync.Mutex
}

func (ss *session) send(m Msg) error {
	ss.wm.Lock()
	defer ss.wm.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return WriteMsg(ss.conn, m)
}

func (s *Server) session(conn net.Conn) {
	defer conn.Close()

	id, err := uuid.NewV7()
	if err != nil {
		s.log.WithError(err).Error("cannot create session id")
		return
	}
	ss := &session{
		id:   id,
		conn: conn,
		log: s.log.WithFields(logrus.Fields{
			"session": id.String(),
			"remote":  conn.RemoteAddr().String(),
		}),
	}
	if s.Recorder != nil {
		s.Recorder.SessionStarted(id, conn.RemoteAddr().String())
	}

	var fault error
	defer func() {
		if s.Recorder != nil {
			s.Recorder.SessionEnded(id, fault)
		}
		ss.log.WithError(fault).Info("client left")
	}()

	var linkDone <-chan struct{}
	f, _ := s.link.(Faulter)
	if f != nil {
		linkDone = f.Done()
	}

	if err := ss.send(Hello{Version: ProtocolVersion, Session: id}.Msg()); err != nil {
		fault = err
		return
	}
	ss.log.Info("client connected")

	done := make(chan struct{})
	forwarded := make(chan struct{})
	var linkErr error
	go func() {
		defer close(forwarded)
		linkErr = s.forward(ss, f, linkDone, done)
	}()

	fault = s.receive(ss)
	close(done)
	conn.Close()
	<-forwarded
	if linkErr != nil {
		fault = linkErr
	}
}

// forward sends events of the link to the client until the session or
// the link ends. When the link ends the client is told why and
// disconnected, the reason is returned.
func (s *Server) forward(ss *session, f Faulter, linkDone <-chan struct{}, done <-chan struct{}) error {
	events := s.link.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.Recorder != nil {
				s.Recorder.Event(ss.id, ev)
			}
			if err := ss.send(StatusMsg(ev)); err != nil {
				ss.log.WithError(err).Debug("cannot forward event")
				return nil
			}
		case <-linkDone:
			err := f.Err()
			if err == nil {
				err = ErrLinkClosed
			}
			ss.log.WithError(err).Warn("link ended, dropping client")
			ss.send(FaultMsg(err))
			ss.conn.Close()
			return err
		case <-s.t.Dying():
			ss.send(ByeMsg())
			ss.conn.Close()
			return nil
		case <-done:
			return nil
		}
	}
}

// receive submits frames from the client until it says goodbye or the
// connection ends. It returns nil for an orderly goodbye.
func (s *Server) receive(ss *session) error {
	for {
		m, err := ReadMsg(ss.conn)
		if err != nil {
			if !s.t.Alive() {
				return nil
			}
			return err
		}

		switch m.Type {
		case MsgFrame:
			if err := s.link.Submit(m.Payload); err != nil {
				ss.log.WithError(err).Warn("submit failed")
			}
		case MsgBye:
			return nil
		default:
			ss.log.WithField("type", m.Type).Warn("unexpected message")
		}
	}
}
