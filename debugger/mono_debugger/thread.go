package mono_debugger

import (
	"context"
	"fmt"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Thread 目标程序中的线程
type Thread struct {
	id     int64
	engine *MonoDebugger

	lock   deadlock.RWMutex
	remote debugger.RemoteThread
	// lineOverride 设置下一条语句以后，在下一次暂停之前顶层栈帧显示的行号，从1开始
	lineOverride int
	// overrideGen 每次设置行号都会递增，只有对应的一次可以清除
	overrideGen int
}

func newThread(engine *MonoDebugger, remote debugger.RemoteThread) *Thread {
	return &Thread{
		id:     remote.ID(),
		engine: engine,
		remote: remote,
	}
}

func (t *Thread) ID() int64 {
	return t.id
}

// Remote 当前缓存的远程线程
func (t *Thread) Remote() debugger.RemoteThread {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.remote
}

func (t *Thread) setRemote(remote debugger.RemoteThread) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.remote = remote
}

func (t *Thread) Info() debugger.ThreadInfo {
	remote := t.Remote()
	name := remote.Name()
	if name == "" {
		name = fmt.Sprintf("Thread #%d", t.id)
	}
	state := "running"
	if t.engine.State() == constants.SessionStopped {
		state = "stopped"
	}
	return debugger.ThreadInfo{
		ID:       t.id,
		Name:     name,
		Location: remote.Location(),
		State:    state,
	}
}

// Frames 获取调用栈，栈帧的内容在第一次访问时才会获取
func (t *Thread) Frames(ctx context.Context) ([]debugger.StackFrame, error) {
	frames, err := t.StackFrames(ctx)
	if err != nil {
		return nil, err
	}
	answer := make([]debugger.StackFrame, len(frames))
	for i, frame := range frames {
		answer[i] = frame
	}
	return answer, nil
}

func (t *Thread) StackFrames(ctx context.Context) ([]*StackFrame, error) {
	backtrace, err := t.Remote().Backtrace(ctx)
	if err != nil {
		logrus.Errorf("[Thread] backtrace fail, err = %v", err)
		return nil, err
	}
	t.lock.RLock()
	lineOverride := t.lineOverride
	t.lock.RUnlock()

	count := backtrace.FrameCount()
	frames := make([]*StackFrame, count)
	for i := 0; i < count; i++ {
		index := i
		frames[i] = newStackFrame(t.engine, t, index, func() (debugger.RemoteFrame, error) {
			return backtrace.Frame(index)
		})
	}
	if count > 0 && lineOverride > 0 {
		frames[0].lineOverride = lineOverride
	}
	return frames, nil
}

// CanSetNextStatement 只能在顶层栈帧的同一个文件中设置下一条语句
func (t *Thread) CanSetNextStatement(ctx context.Context, frame debugger.StackFrame, document debugger.DocumentContext) error {
	stackFrame, ok := frame.(*StackFrame)
	if !ok || stackFrame.thread != t || stackFrame.index != 0 {
		return e.ErrNotApplicable
	}
	if stackFrame.Document().File != document.File {
		return e.ErrNotApplicable
	}
	return nil
}

// SetNextStatement 设置下一条执行的语句
// 下一次暂停之前，顶层栈帧的行号显示为目标行
func (t *Thread) SetNextStatement(ctx context.Context, frame debugger.StackFrame, document debugger.DocumentContext) error {
	logrus.Infof("[Thread] SetNextStatement %s", document)
	session := t.engine.remoteSession()
	if session == nil {
		return e.ErrSessionNotStarted
	}
	line := document.Begin.Line + 1
	// 远程会话的暂停事件可能在调用返回之前到达，所以先设置行号
	t.lock.Lock()
	t.overrideGen++
	gen := t.overrideGen
	t.lineOverride = line
	t.lock.Unlock()
	id := t.engine.listeners.Add(func(event *debugger.TargetEvent, byBreak bool) {
		t.clearLineOverride(gen)
	})
	if err := session.SetNextStatement(ctx, t.Remote(), document.File, line, document.Begin.Column+1); err != nil {
		t.engine.listeners.Remove(id)
		t.clearLineOverride(gen)
		logrus.Errorf("[SetNextStatement] fail, err = %v", err)
		return err
	}
	return nil
}

func (t *Thread) clearLineOverride(gen int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.overrideGen == gen {
		t.lineOverride = 0
	}
}

func (t *Thread) Suspend() error {
	return e.ErrNotImplemented
}

func (t *Thread) Resume() error {
	return e.ErrNotImplemented
}
