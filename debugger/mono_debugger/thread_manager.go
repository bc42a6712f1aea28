package mono_debugger

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/sasha-s/go-deadlock"
)

// ThreadManager 远程线程和本地线程的对应关系，按照线程出现的顺序保存
type ThreadManager struct {
	engine *MonoDebugger

	lock    deadlock.RWMutex
	threads *linkedhashmap.Map
}

func NewThreadManager(engine *MonoDebugger) *ThreadManager {
	return &ThreadManager{
		engine:  engine,
		threads: linkedhashmap.New(),
	}
}

// Add 记录远程线程，已经存在时刷新远程线程的引用
func (m *ThreadManager) Add(remote debugger.RemoteThread) *Thread {
	m.lock.Lock()
	value, ok := m.threads.Get(remote.ID())
	if !ok {
		thread := newThread(m.engine, remote)
		m.threads.Put(remote.ID(), thread)
		m.lock.Unlock()
		return thread
	}
	m.lock.Unlock()
	thread := value.(*Thread)
	thread.setRemote(remote)
	return thread
}

// Remove 删除线程
func (m *ThreadManager) Remove(id int64) (*Thread, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	value, ok := m.threads.Get(id)
	if !ok {
		return nil, false
	}
	m.threads.Remove(id)
	return value.(*Thread), true
}

// Lookup 根据远程线程查找本地线程，找到时刷新远程线程的引用
func (m *ThreadManager) Lookup(remote debugger.RemoteThread) *Thread {
	if remote == nil {
		return nil
	}
	thread := m.LookupID(remote.ID())
	if thread != nil {
		thread.setRemote(remote)
	}
	return thread
}

// LookupID 根据线程id查找本地线程
func (m *ThreadManager) LookupID(id int64) *Thread {
	m.lock.RLock()
	defer m.lock.RUnlock()
	value, ok := m.threads.Get(id)
	if !ok {
		return nil
	}
	return value.(*Thread)
}

// All 全部线程，按照出现的顺序
func (m *ThreadManager) All() []*Thread {
	m.lock.RLock()
	defer m.lock.RUnlock()
	answer := make([]*Thread, 0, m.threads.Size())
	for _, value := range m.threads.Values() {
		answer = append(answer, value.(*Thread))
	}
	return answer
}

// First 最早出现的线程，没有线程时返回nil
func (m *ThreadManager) First() *Thread {
	m.lock.RLock()
	defer m.lock.RUnlock()
	it := m.threads.Iterator()
	if !it.First() {
		return nil
	}
	return it.Value().(*Thread)
}

func (m *ThreadManager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.threads.Size()
}

func (m *ThreadManager) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.threads.Clear()
}
