package debugger

import (
	"context"

	"github.com/fansqz/sampsharp-debugger/constants"
)

// RemoteSession 远程软调试会话
// 会话对象在连接之前就可以添加断点，连接以后统一下发
type RemoteSession interface {
	// Run 连接到目标进程中的调试代理，连接完成后上报TargetReady
	Run(ctx context.Context, address string) error
	// SetEventHandler 设置事件处理者，远程会话只有一个订阅者
	SetEventHandler(handler RemoteEventHandler)

	AddBreakpoint(file string, line int, column int) (BreakEvent, error)
	RemoveBreakpoint(breakEvent BreakEvent) error
	AddCatchpoint(exceptionName string) (BreakEvent, error)
	RemoveCatchpoint(exceptionName string) error

	NextLine() error
	NextInstruction() error
	StepLine() error
	StepInstruction() error
	Finish() error
	Continue() error
	Stop() error
	IsRunning() bool

	ActiveThread() RemoteThread
	SetActiveThread(thread RemoteThread) error
	Threads(ctx context.Context) ([]RemoteThread, error)
	SetNextStatement(ctx context.Context, thread RemoteThread, file string, line int, column int) error

	Dispose() error
}

// BreakEvent 远程会话中的断点
type BreakEvent interface {
	ID() int
	Enabled() bool
	SetEnabled(enabled bool) error
	SetCondition(expression string, breakIfChanges bool) error
	SetHitCount(mode constants.HitCountMode, count int) error
	HitCountMode() constants.HitCountMode
	HitCount() int
}

// RemoteThread 远程线程
type RemoteThread interface {
	ID() int64
	Name() string
	Location() string
	Backtrace(ctx context.Context) (Backtrace, error)
}

// Backtrace 调用栈
type Backtrace interface {
	FrameCount() int
	Frame(index int) (RemoteFrame, error)
}

// RemoteFrame 远程栈帧
type RemoteFrame interface {
	ID() int
	Method() string
	Module() string
	Language() string
	File() string
	Line() int
	Column() int
	HasDebugInfo() bool
	// Locals 全部局部变量，包含参数
	Locals(ctx context.Context) ([]ObjectValue, error)
	Parameters(ctx context.Context) ([]ObjectValue, error)
	Evaluate(ctx context.Context, expression string) (ObjectValue, error)
}

// ObjectValue 远程值
type ObjectValue interface {
	Name() string
	FullName() string
	TypeName() string
	Value() string
	HasChildren() bool
	IsReadOnly() bool
	Children(ctx context.Context) ([]ObjectValue, error)
	SetValue(ctx context.Context, value string) error
}

// TargetEvent 远程会话上报的事件
type TargetEvent struct {
	Type       constants.TargetEventType
	Thread     RemoteThread
	BreakEvent BreakEvent
	ExitCode   int
	// Text 异常描述或者输出内容
	Text    string
	IsError bool
}

// RemoteEventHandler 远程事件的订阅者
type RemoteEventHandler interface {
	HandleTargetEvent(event *TargetEvent)
}

// RemoteEventHandlerFunc 函数形式的订阅者
type RemoteEventHandlerFunc func(event *TargetEvent)

func (f RemoteEventHandlerFunc) HandleTargetEvent(event *TargetEvent) {
	f(event)
}
