package utils

import (
	"fmt"

	"github.com/fansqz/sampsharp-debugger/constants"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
)

// transitions 允许的状态迁移，Terminated为终态
var transitions = map[constants.SessionState][]constants.SessionState{
	constants.SessionNotStarted: {constants.SessionLaunching, constants.SessionTerminated},
	constants.SessionLaunching:  {constants.SessionConnected, constants.SessionTerminated},
	constants.SessionConnected:  {constants.SessionRunning, constants.SessionStopped, constants.SessionTerminated},
	constants.SessionRunning:    {constants.SessionStopped, constants.SessionTerminated},
	constants.SessionStopped:    {constants.SessionRunning, constants.SessionTerminated},
}

// StatusManager 记录调试会话的状态
type StatusManager struct {
	lock   deadlock.RWMutex
	status constants.SessionState
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: constants.SessionNotStarted,
	}
}

// Set 迁移到新的状态，非法的迁移返回错误并保持原状态
func (s *StatusManager) Set(status constants.SessionState) error {
	defer s.lock.Unlock()
	s.lock.Lock()
	if s.status == status || allowed(s.status, status) {
		s.status = status
		return nil
	}
	if s.status == constants.SessionTerminated {
		return e.ErrSessionTerminated
	}
	return fmt.Errorf("%w: %s -> %s", e.ErrIllegalStateTransition, s.status, status)
}

// CompareAndSet 当前状态为from中的某一个，并且可以迁移到to时迁移
func (s *StatusManager) CompareAndSet(to constants.SessionState, from ...constants.SessionState) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status && allowed(status, to) {
			s.status = to
			return true
		}
	}
	return false
}

func allowed(from constants.SessionState, to constants.SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *StatusManager) Get() constants.SessionState {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...constants.SessionState) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
