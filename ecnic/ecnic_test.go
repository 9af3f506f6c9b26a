package ecnic

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(t *testing.T, ifs []net.Interface, ifErr, probeErr error) {
	t.Helper()
	oldIfs, oldProbe := interfaces, probe
	interfaces = func() ([]net.Interface, error) { return ifs, ifErr }
	probe = func() error { return probeErr }
	t.Cleanup(func() { interfaces, probe = oldIfs, oldProbe })
}

func TestEnumerateFilters(t *testing.T) {
	stub(t, []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
		{Name: "eth0", HardwareAddr: net.HardwareAddr{0, 1, 2, 3, 4, 5}},
		{Name: "tun0"},
		{Name: "eth1", HardwareAddr: net.HardwareAddr{0, 1, 2, 3, 4, 6}},
	}, nil, nil)

	adapters, err := Enumerate()
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "eth0", adapters[0].Name)
	assert.Equal(t, "eth1", adapters[1].Name)
	assert.NotEmpty(t, adapters[0].Desc)
}

func TestEnumeratePermission(t *testing.T) {
	stub(t, nil, nil, os.ErrPermission)

	_, err := Enumerate()
	assert.ErrorIs(t, err, ErrAdapterEnumeration)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestEnumerateListFailure(t *testing.T) {
	stub(t, nil, errors.New("netlink broke"), nil)

	_, err := Enumerate()
	assert.ErrorIs(t, err, ErrAdapterEnumeration)
}
