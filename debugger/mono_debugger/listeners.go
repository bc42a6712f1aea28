package mono_debugger

import (
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/sasha-s/go-deadlock"
)

// stopListener 一次性的暂停监听
// byBreak为true表示这次暂停是断点或者异常引起的
type stopListener func(event *debugger.TargetEvent, byBreak bool)

// stopListeners 下一次暂停时触发并清空的监听列表
type stopListeners struct {
	lock      deadlock.Mutex
	next      int
	listeners map[int]stopListener
	order     []int
}

func newStopListeners() *stopListeners {
	return &stopListeners{listeners: map[int]stopListener{}}
}

// Add 添加监听，返回的id可以用来删除
func (l *stopListeners) Add(listener stopListener) int {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.next++
	l.listeners[l.next] = listener
	l.order = append(l.order, l.next)
	return l.next
}

func (l *stopListeners) Remove(id int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.listeners, id)
}

// Fire 取出全部监听并在锁外依次调用
func (l *stopListeners) Fire(event *debugger.TargetEvent, byBreak bool) {
	l.lock.Lock()
	var fired []stopListener
	for _, id := range l.order {
		if listener, ok := l.listeners[id]; ok {
			fired = append(fired, listener)
		}
	}
	l.listeners = map[int]stopListener{}
	l.order = nil
	l.lock.Unlock()

	for _, listener := range fired {
		listener(event, byBreak)
	}
}

func (l *stopListeners) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.listeners)
}
