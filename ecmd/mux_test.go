package ecmd

import (
	"sync"
	"testing"
	"time"

	"github.com/distributed/ecatlink/ecfr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexerSecondaryRidesOwnerCycle(t *testing.T) {
	mux := NewMultiplexer(NewCommandFramer(&echoFramer{}))
	sec, err := mux.OpenCommander()
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		rd   []byte
		rerr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rd, rerr = ExecuteRead(sec, ecfr.BroadcastAddress(0x0130), 2, 1)
	}()

	// drive cycles from the owner until the secondary read completes
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-finished:
			break loop
		case <-deadline:
			t.Fatal("secondary commander never completed")
		case <-ticker.C:
			require.NoError(t, mux.Cycle())
		}
	}

	require.NoError(t, rerr)
	assert.Len(t, rd, 2)
	assert.NotZero(t, mux.Cycles())
}

func TestMultiplexerOwnerDoesNotWaitForSecondary(t *testing.T) {
	mux := NewMultiplexer(NewCommandFramer(&echoFramer{}))
	sec, err := mux.OpenCommander()
	require.NoError(t, err)

	// a secondary that queued a command but never cycles must not stall the owner
	_, err = sec.New(2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- mux.Cycle() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("owner cycle blocked on an idle secondary")
	}

	// the late Cycle returns at once, the command went out already
	require.NoError(t, sec.Cycle())
}

func TestMultiplexerCloseWakesWaiters(t *testing.T) {
	mux := NewMultiplexer(NewCommandFramer(&echoFramer{}))
	sec, err := mux.OpenCommander()
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- sec.Cycle() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mux.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrMuxClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}

	_, err = mux.New(2)
	assert.ErrorIs(t, err, ErrMuxClosed)
}

func TestMultiplexerSecondaryCommandIsCompleteWhenQueued(t *testing.T) {
	mux := NewMultiplexer(NewCommandFramer(&echoFramer{}))
	sec, err := mux.OpenCommander()
	require.NoError(t, err)

	f, ok := sec.(Filler)
	require.True(t, ok, "secondary commanders set up commands under the lock")

	addr := ecfr.FixedAddress(0x1001, 0x0120)
	cmd, err := f.Fill(Request{Command: ecfr.FPWR, Addr32: addr.Addr32(), Data: []byte{0x08, 0x00}, Len: 2, WKC: 1})
	require.NoError(t, err)

	// the owner sends before the secondary gets to run again
	require.NoError(t, mux.Cycle())
	require.NoError(t, cmd.Result())
	assert.Equal(t, ecfr.FPWR, cmd.In.Command)
	assert.Equal(t, addr.Addr32(), cmd.In.Addr32)
	assert.Equal(t, []byte{0x08, 0x00}, cmd.In.Data())
	assert.NoError(t, cmd.CheckWKC(1))

	require.NoError(t, sec.Cycle())
}
