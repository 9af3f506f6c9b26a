package eccfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, 16, c.BufSize)
	assert.Equal(t, "", c.Ifname)
	assert.Equal(t, 100*time.Millisecond, c.StateCheckInterval)
	assert.Equal(t, time.Millisecond, c.Sync0Cycle)
	assert.Equal(t, time.Millisecond, c.SendCycle)
	assert.True(t, c.ThreadPriority.IsMax())
	assert.Equal(t, ProcessPriorityHigh, c.ProcessPriority)
	assert.Equal(t, time.Microsecond, c.SyncTolerance)
	assert.Equal(t, 10*time.Second, c.SyncTimeout)
	assert.Nil(t, c.Affinity)
	assert.Equal(t, SyncModeDC, c.SyncMode)
	assert.Equal(t, TimerSpin, c.Timer)
	assert.Equal(t, 10*time.Millisecond, c.SettleTime())
}

func TestCrossPlatformBoundaries(t *testing.T) {
	for _, tc := range []struct {
		v  int
		ok bool
	}{
		{0, true}, {99, true}, {100, false}, {255, false}, {-1, false},
	} {
		p, err := CrossPlatform(tc.v)
		if tc.ok {
			require.NoError(t, err, "value %d", tc.v)
			v, isCross := p.Value()
			assert.True(t, isCross)
			assert.Equal(t, tc.v, v)
			continue
		}

		var ce *ConfigError
		require.True(t, errors.As(err, &ce), "value %d", tc.v)
		assert.Equal(t, "thread_priority", ce.Field)
	}
}

func TestValidation(t *testing.T) {
	for name, tc := range map[string]struct {
		opts  []Option
		field string
	}{
		"zero buffer":      {[]Option{WithBufSize(0)}, "buf_size"},
		"zero send cycle":  {[]Option{WithSendCycle(0)}, "send_cycle"},
		"negative sync0":   {[]Option{WithSync0Cycle(-time.Millisecond)}, "sync0_cycle"},
		"timeout < settle": {[]Option{WithSyncTimeout(5 * time.Millisecond)}, "sync_timeout"},
		"bad timer":        {[]Option{WithTimer(TimerStrategy(7))}, "timer"},
		"negative core":    {[]Option{WithAffinity(-2)}, "affinity"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.opts...)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}

	// the settle time only matters with distributed clocks
	_, err := New(WithSyncMode(SyncModeFreeRun), WithSyncTimeout(5*time.Millisecond))
	assert.NoError(t, err)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
buf_size: 32
ifname: eth1
send_cycle: 2ms
sync0_cycle: 2ms
thread_priority: 80
process_priority: normal
sync_timeout: 1.5s
affinity: 3
timer: spin_wait
`))
	require.NoError(t, err)

	assert.Equal(t, 32, c.BufSize)
	assert.Equal(t, "eth1", c.Ifname)
	assert.Equal(t, 2*time.Millisecond, c.SendCycle)
	v, ok := c.ThreadPriority.Value()
	assert.True(t, ok)
	assert.Equal(t, 80, v)
	assert.Equal(t, ProcessPriorityNormal, c.ProcessPriority)
	assert.Equal(t, 1500*time.Millisecond, c.SyncTimeout)
	require.NotNil(t, c.Affinity)
	assert.EqualValues(t, 3, *c.Affinity)
	assert.Equal(t, TimerSpinWait, c.Timer)

	// untouched fields keep their defaults
	assert.Equal(t, DefaultStateCheckInterval, c.StateCheckInterval)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse([]byte("ifname: eth1\n"), WithIfname("eth2"))
	require.NoError(t, err)
	assert.Equal(t, "eth2", c.Ifname)

	c, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":    "bufsize: 3\n",
		"priority too big": "thread_priority: 100\n",
		"bad duration":     "send_cycle: fast\n",
		"bad enum":         "timer: sleepy\n",
		"wrong type":       "buf_size: many\n",
		"zero buffer":      "buf_size: 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecatlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thread_priority: min\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.ThreadPriority.IsMin())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestThreadPriorityText(t *testing.T) {
	var p ThreadPriority
	require.NoError(t, p.UnmarshalText([]byte("42")))
	assert.Equal(t, "42", p.String())
	require.NoError(t, p.UnmarshalText([]byte("MAX")))
	assert.True(t, p.IsMax())
	assert.Error(t, p.UnmarshalText([]byte("urgent")))
}

func TestMarshalRoundtrip(t *testing.T) {
	c, err := New(
		WithIfname("eth3"),
		WithThreadPriority(mustCrossPlatform(t, 70)),
		WithSyncTimeout(90*time.Second),
		WithAffinity(2),
		WithTimer(TimerSpin),
	)
	require.NoError(t, err)

	b, err := Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(b), "thread_priority: 70\n")

	back, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, c, back)

	b, err = Marshal(Default())
	require.NoError(t, err)
	back, err = Parse(b)
	require.NoError(t, err)
	assert.Equal(t, Default(), back)
}

func mustCrossPlatform(t *testing.T, v int) ThreadPriority {
	t.Helper()
	p, err := CrossPlatform(v)
	require.NoError(t, err)
	return p
}
