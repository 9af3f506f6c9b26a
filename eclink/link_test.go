package eclink

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/eccfg"
	"github.com/distributed/ecatlink/ecmaster"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/ecstatus"
	"github.com/distributed/ecatlink/sim"
)

func testLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

type segment struct {
	slaves []*sim.L2Slave
	bus    *sim.L2Bus
}

func newSegment(n int, outputLen uint16) *segment {
	seg := &segment{}
	var fps []sim.FrameProcessor
	for i := 0; i < n; i++ {
		s := sim.NewProcessDataSlave(uint32(i)*uint32(outputLen), outputLen)
		seg.slaves = append(seg.slaves, s)
		fps = append(fps, s)
	}
	seg.bus = sim.NewL2Bus(fps...)
	return seg
}

func newSOEM(t *testing.T, seg *segment) *SOEM {
	t.Helper()
	cfg, err := eccfg.New(
		eccfg.WithIfname("sim0"),
		eccfg.WithThreadPriority(eccfg.ThreadPriorityMin),
		eccfg.WithProcessPriority(eccfg.ProcessPriorityNormal),
		eccfg.WithTimer(eccfg.TimerStd),
		eccfg.WithStateCheckInterval(5*time.Millisecond),
		eccfg.WithSyncTolerance(time.Millisecond),
	)
	require.NoError(t, err)

	link, err := NewSOEM(cfg, ecmaster.Options{
		Log: testLog(),
		Open: func(string, time.Duration) (ecmd.Framer, error) {
			return seg.bus, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return link
}

func startServer(t *testing.T, link Link, rec Recorder) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(link, testLog())
	srv.Recorder = rec
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		<-served
	})
	return srv, ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

type recorder struct {
	mu      sync.Mutex
	started []uuid.UUID
	ended   []uuid.UUID
	events  []ecstatus.Event
}

func (r *recorder) SessionStarted(id uuid.UUID, remote string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recorder) SessionEnded(id uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
}

func (r *recorder) Event(id uuid.UUID, ev ecstatus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

func TestRemoteEndToEnd(t *testing.T) {
	ctx := context.Background()
	seg := newSegment(2, 4)
	link := newSOEM(t, seg)
	require.NoError(t, link.Open(ctx))

	rec := &recorder{}
	srv, addr := startServer(t, link, rec)

	r := &RemoteSOEM{Addr: addr, Log: testLog()}
	require.NoError(t, r.Open(ctx))
	t.Cleanup(func() { r.Close() })
	assert.NotEqual(t, uuid.Nil, r.Session())

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, r.Submit([]byte{i, i, i, i, i + 1, i + 1, i + 1, i + 1}))
	}
	waitFor(t, func() bool {
		return bytes.Equal(seg.slaves[0].Outputs(), []byte{3, 3, 3, 3}) &&
			bytes.Equal(seg.slaves[1].Outputs(), []byte{4, 4, 4, 4})
	}, "frames did not reach the slaves")

	seg.slaves[1].Detach()
	select {
	case ev := <-r.Events():
		assert.EqualValues(t, 1, ev.Slave)
		assert.Equal(t, ecstatus.New(ecstatus.KindLost, "slave 1 lost"), ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no lost event forwarded")
	}

	busy := &RemoteSOEM{Addr: addr, Log: testLog()}
	err := busy.Open(ctx)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrServerBusy.Error(), re.Msg)

	require.NoError(t, r.Close())
	waitFor(t, func() bool { return srv.Served() == 1 }, "session did not end")
	waitFor(t, func() bool { return rec.endedCount() == 1 }, "session end not recorded")

	rec.mu.Lock()
	assert.Equal(t, []uuid.UUID{r.Session()}, rec.started)
	require.NotEmpty(t, rec.events)
	assert.Equal(t, ecstatus.KindLost, rec.events[0].Status.Kind())
	rec.mu.Unlock()

	next := &RemoteSOEM{Addr: addr, Log: testLog()}
	require.NoError(t, next.Open(ctx), "the server takes a new client after the first left")
	assert.NotEqual(t, r.Session(), next.Session())
	require.NoError(t, next.Close())
}

func TestRemoteSeesLinkFault(t *testing.T) {
	ctx := context.Background()
	seg := newSegment(1, 1)
	link := newSOEM(t, seg)
	require.NoError(t, link.Open(ctx))
	_, addr := startServer(t, link, nil)

	r := &RemoteSOEM{Addr: addr, Log: testLog()}
	require.NoError(t, r.Open(ctx))
	t.Cleanup(func() { r.Close() })

	seg.bus.Close()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote did not see the fault")
	}

	var re *RemoteError
	require.ErrorAs(t, r.Err(), &re)
	assert.Contains(t, re.Msg, sim.ErrBusClosed.Error())
	assert.Error(t, r.Submit([]byte{1}))

	for range r.Events() {
	}
}

func TestServerCloseSaysBye(t *testing.T) {
	ctx := context.Background()
	link := newSOEM(t, newSegment(1, 1))
	require.NoError(t, link.Open(ctx))
	srv, addr := startServer(t, link, nil)

	r := &RemoteSOEM{Addr: addr, Log: testLog()}
	require.NoError(t, r.Open(ctx))
	t.Cleanup(func() { r.Close() })

	require.NoError(t, srv.Close())
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote did not notice the server leaving")
	}
	assert.ErrorIs(t, r.Err(), ErrPeerClosed)
}

func TestRemoteVersionMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		WriteMsg(conn, Hello{Version: ProtocolVersion + 1, Session: uuid.New()}.Msg())
		ReadMsg(conn)
	}()

	r := &RemoteSOEM{Addr: ln.Addr().String(), Log: testLog()}
	err = r.Open(context.Background())
	var ve *VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ProtocolVersion+1, ve.Have)
}

func TestRemoteDialFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	r := &RemoteSOEM{Addr: addr, Log: testLog(), DialTimeout: 100 * time.Millisecond}
	assert.Error(t, r.Open(context.Background()))
	assert.ErrorIs(t, r.Submit([]byte{1}), ErrNotOpen)
	assert.NoError(t, r.Close())
}

func TestSOEMNotOpen(t *testing.T) {
	link := newSOEM(t, newSegment(1, 1))
	assert.ErrorIs(t, link.Submit([]byte{1}), ErrNotOpen)

	var _ Link = link
	var _ Faulter = link
	var _ Link = &RemoteSOEM{}
	var _ Faulter = &RemoteSOEM{}
}
