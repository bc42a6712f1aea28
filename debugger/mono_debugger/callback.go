package mono_debugger

import (
	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/fansqz/sampsharp-debugger/utils/gosync"
	"github.com/petermattis/goid"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// SinkTable 事件接收者的注册表，通过cookie获取sink
// 每个IDE连接持有自己的表
type SinkTable struct {
	lock  deadlock.RWMutex
	next  uint32
	sinks map[uint32]debugger.EventSink
}

func NewSinkTable() *SinkTable {
	return &SinkTable{sinks: map[uint32]debugger.EventSink{}}
}

// Register 注册sink，返回cookie
func (t *SinkTable) Register(sink debugger.EventSink) uint32 {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.next++
	t.sinks[t.next] = sink
	return t.next
}

// Resolve 根据cookie获取sink
func (t *SinkTable) Resolve(cookie uint32) (debugger.EventSink, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	sink, ok := t.sinks[cookie]
	return sink, ok
}

// Revoke 注销sink
func (t *SinkTable) Revoke(cookie uint32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.sinks, cookie)
}

// Callback 向IDE发送事件
// sink注册一次，每个调用协程缓存一次解析结果，调用者变化时重新解析
type Callback struct {
	table  *SinkTable
	cookie uint32

	cacheLock       deadlock.Mutex
	cachedSink      debugger.EventSink
	cachedGoroutine int64
}

// NewCallback 注册sink并创建回调，table和sink都不能为空
func NewCallback(table *SinkTable, sink debugger.EventSink) *Callback {
	if table == nil || sink == nil {
		panic("mono_debugger: NewCallback requires a sink table and a sink")
	}
	return &Callback{
		table:  table,
		cookie: table.Register(sink),
	}
}

// Send 发送事件，投递过程中的错误和panic都会被丢弃
func (c *Callback) Send(event *debugger.Event) {
	if c == nil || event == nil {
		return
	}
	sink := c.resolve()
	if sink == nil {
		logrus.Warnf("[Callback] sink revoked, drop event %s", event.Kind)
		return
	}
	var err error
	if recovered := gosync.Safe(func() { err = sink.Send(event) }); recovered != nil {
		logrus.Errorf("[Callback] send %s panic, err = %v", event.Kind, recovered)
		return
	}
	if err != nil {
		logrus.Warnf("[Callback] send %s fail, err = %v", event.Kind, err)
	}
}

// resolve 获取当前协程可以使用的sink
func (c *Callback) resolve() debugger.EventSink {
	current := goid.Get()
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	if c.cachedSink != nil && c.cachedGoroutine == current {
		return c.cachedSink
	}
	sink, ok := c.table.Resolve(c.cookie)
	if !ok {
		c.cachedSink = nil
		return nil
	}
	c.cachedSink = sink
	c.cachedGoroutine = current
	return sink
}

// Close 注销sink，之后的事件都会被丢弃
func (c *Callback) Close() {
	if c == nil {
		return
	}
	c.table.Revoke(c.cookie)
	c.cacheLock.Lock()
	c.cachedSink = nil
	c.cacheLock.Unlock()
}

// OnOutput 目标程序输出
func (c *Callback) OnOutput(text string, isError bool) {
	event := debugger.NewEvent(constants.OutputStringEvent)
	event.Output = text
	event.Category = constants.OutputStdout
	if isError {
		event.Category = constants.OutputStderr
	}
	c.Send(event)
}
