package utils

import (
	"errors"
	"testing"

	"github.com/fansqz/sampsharp-debugger/constants"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/stretchr/testify/assert"
)

func TestStatusManagerLifecycle(t *testing.T) {
	s := NewStatusManager()
	assert.True(t, s.Is(constants.SessionNotStarted))

	assert.Nil(t, s.Set(constants.SessionLaunching))
	assert.Nil(t, s.Set(constants.SessionConnected))
	assert.Nil(t, s.Set(constants.SessionRunning))
	assert.Nil(t, s.Set(constants.SessionStopped))
	assert.Nil(t, s.Set(constants.SessionRunning))
	// 相同状态
	assert.Nil(t, s.Set(constants.SessionRunning))
	assert.Nil(t, s.Set(constants.SessionTerminated))

	err := s.Set(constants.SessionRunning)
	assert.True(t, errors.Is(err, e.ErrSessionTerminated))
	assert.Equal(t, constants.SessionTerminated, s.Get())
}

func TestStatusManagerIllegalTransition(t *testing.T) {
	s := NewStatusManager()
	err := s.Set(constants.SessionRunning)
	assert.True(t, errors.Is(err, e.ErrIllegalStateTransition))
	assert.True(t, s.Is(constants.SessionNotStarted))
}

func TestStatusManagerCompareAndSet(t *testing.T) {
	s := NewStatusManager()
	assert.False(t, s.CompareAndSet(constants.SessionRunning, constants.SessionStopped))
	assert.True(t, s.CompareAndSet(constants.SessionLaunching, constants.SessionNotStarted, constants.SessionTerminated))
	assert.True(t, s.Is(constants.SessionLaunching, constants.SessionConnected))

	// 不能跳过Connected
	assert.False(t, s.CompareAndSet(constants.SessionRunning, constants.SessionLaunching))
	assert.Equal(t, constants.SessionLaunching, s.Get())
	assert.True(t, s.CompareAndSet(constants.SessionConnected, constants.SessionLaunching))
	assert.True(t, s.CompareAndSet(constants.SessionRunning, constants.SessionConnected))

	// 终态不能离开
	assert.Nil(t, s.Set(constants.SessionTerminated))
	assert.False(t, s.CompareAndSet(constants.SessionLaunching, constants.SessionTerminated))
	assert.Equal(t, constants.SessionTerminated, s.Get())
}
