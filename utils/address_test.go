package utils

import (
	"errors"
	"net"
	"testing"

	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDebuggerAddress(t *testing.T) {
	addr, err := ParseDebuggerAddress("127.0.0.1:6438")
	require.Nil(t, err)
	assert.Equal(t, uint16(6438), addr.Port)
	assert.Equal(t, "127.0.0.1:6438", addr.String())
	assert.Equal(t, LoopbackAddress(DefaultDebuggerPort), addr)

	for _, s := range []string{"", "127.0.0.1", "localhost:6438", "127.0.0.1:70000", "1.2.3.4:x"} {
		_, err = ParseDebuggerAddress(s)
		assert.True(t, errors.Is(err, e.ErrInvalidAddress), s)
	}
}

func TestNextAvailable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer listener.Close()

	busy, err := ParseDebuggerAddress(listener.Addr().String())
	require.Nil(t, err)
	assert.False(t, busy.IsAvailable())

	below := LoopbackAddress(busy.Port - 1)
	next, ok := below.NextAvailable()
	assert.True(t, ok)
	assert.Greater(t, next.Port, busy.Port)

	remote, err := ParseDebuggerAddress("10.1.1.1:6438")
	require.Nil(t, err)
	_, ok = remote.NextAvailable()
	assert.False(t, ok)
}

func TestAllocateDebuggerAddress(t *testing.T) {
	addr, err := AllocateDebuggerAddress()
	require.Nil(t, err)
	assert.True(t, addr.IP.IsLoopback())
	assert.NotZero(t, addr.Port)
}

func TestSetDiff(t *testing.T) {
	set := List2set([]string{"System.Exception", "System.IO.IOException"})
	assert.Equal(t, []string{"System.ArgumentException"}, SetDiff([]string{"System.Exception", "System.ArgumentException"}, set))
	assert.Nil(t, SetDiff([]string{"System.Exception"}, set))
}
