package mono_debugger

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Catchpoint 异常断点，按照异常名称索引
type Catchpoint struct {
	Name        string
	FirstChance bool
	BreakEvent  debugger.BreakEvent
}

// BreakpointManager 记录远程断点和挂起断点的对应关系，以及异常断点
type BreakpointManager struct {
	session func() debugger.RemoteSession

	lock        deadlock.RWMutex
	pending     map[debugger.BreakEvent]*PendingBreakpoint
	catchpoints *linkedhashmap.Map
}

func NewBreakpointManager(session func() debugger.RemoteSession) *BreakpointManager {
	return &BreakpointManager{
		session:     session,
		pending:     map[debugger.BreakEvent]*PendingBreakpoint{},
		catchpoints: linkedhashmap.New(),
	}
}

// Add 记录远程断点对应的挂起断点
func (m *BreakpointManager) Add(breakEvent debugger.BreakEvent, pending *PendingBreakpoint) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.pending[breakEvent] = pending
}

// Remove 删除记录，同时从远程会话中删除断点
func (m *BreakpointManager) Remove(breakEvent debugger.BreakEvent) {
	if breakEvent == nil {
		return
	}
	m.lock.Lock()
	delete(m.pending, breakEvent)
	m.lock.Unlock()

	session := m.session()
	if session == nil {
		return
	}
	if err := session.RemoveBreakpoint(breakEvent); err != nil {
		logrus.Warnf("[BreakpointManager] remove breakpoint %d fail, err = %v", breakEvent.ID(), err)
	}
}

// Lookup 根据远程断点查找挂起断点，找不到时返回nil
func (m *BreakpointManager) Lookup(breakEvent debugger.BreakEvent) *PendingBreakpoint {
	if breakEvent == nil {
		return nil
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.pending[breakEvent]
}

// Count 已经绑定的断点数量
func (m *BreakpointManager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.pending)
}

// AddCatchpoint 添加异常断点，已经存在时直接返回
// 远程会话存在时同时在远程会话中添加
func (m *BreakpointManager) AddCatchpoint(name string, firstChance bool) error {
	m.lock.RLock()
	_, ok := m.catchpoints.Get(name)
	m.lock.RUnlock()
	if ok {
		return nil
	}

	catchpoint := &Catchpoint{Name: name, FirstChance: firstChance}
	if session := m.session(); session != nil {
		breakEvent, err := session.AddCatchpoint(name)
		if err != nil {
			return err
		}
		catchpoint.BreakEvent = breakEvent
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok = m.catchpoints.Get(name); !ok {
		m.catchpoints.Put(name, catchpoint)
	}
	return nil
}

// RemoveCatchpoint 删除异常断点
func (m *BreakpointManager) RemoveCatchpoint(name string) error {
	m.lock.Lock()
	_, ok := m.catchpoints.Get(name)
	m.catchpoints.Remove(name)
	m.lock.Unlock()
	if !ok {
		return nil
	}
	if session := m.session(); session != nil {
		return session.RemoveCatchpoint(name)
	}
	return nil
}

// RemoveAllCatchpoints 删除全部异常断点
func (m *BreakpointManager) RemoveAllCatchpoints() error {
	var lastErr error
	for _, catchpoint := range m.Catchpoints() {
		if err := m.RemoveCatchpoint(catchpoint.Name); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Catchpoint 根据异常名称获取异常断点
func (m *BreakpointManager) Catchpoint(name string) (*Catchpoint, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	value, ok := m.catchpoints.Get(name)
	if !ok {
		return nil, false
	}
	return value.(*Catchpoint), true
}

func (m *BreakpointManager) ContainsCatchpoint(name string) bool {
	_, ok := m.Catchpoint(name)
	return ok
}

// Catchpoints 按照添加顺序返回全部异常断点
func (m *BreakpointManager) Catchpoints() []*Catchpoint {
	m.lock.RLock()
	defer m.lock.RUnlock()
	answer := make([]*Catchpoint, 0, m.catchpoints.Size())
	for _, value := range m.catchpoints.Values() {
		answer = append(answer, value.(*Catchpoint))
	}
	return answer
}

// attachCatchpoints 会话建立以后，把之前记录的异常断点下发到远程会话
func (m *BreakpointManager) attachCatchpoints(session debugger.RemoteSession) {
	for _, catchpoint := range m.Catchpoints() {
		breakEvent, err := session.AddCatchpoint(catchpoint.Name)
		if err != nil {
			logrus.Warnf("[BreakpointManager] add catchpoint %s fail, err = %v", catchpoint.Name, err)
			continue
		}
		m.lock.Lock()
		catchpoint.BreakEvent = breakEvent
		m.lock.Unlock()
	}
}
