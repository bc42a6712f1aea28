package debugger

import (
	"context"

	"github.com/fansqz/sampsharp-debugger/constants"
)

// Debugger
// IDE一侧看到的调试引擎，一个实例对应一次调试过程
// 需要保证并发安全，远程事件和IDE请求会在不同的协程中到达
type Debugger interface {
	// LaunchSuspended 查找并启动服务器进程，返回进程标识
	// 远程会话的连接需要随后调用Attach
	LaunchSuspended(ctx context.Context, option *LaunchOption) (string, error)
	// Attach 在后台连接远程调试会话，事件通过sink发送给IDE，立即返回
	Attach(ctx context.Context, sink EventSink) error
	// Detach 断开远程会话，目标程序继续运行
	Detach(ctx context.Context) error
	// TerminateProcess 结束目标进程
	TerminateProcess(ctx context.Context) error
	// CanTerminateProcess 判断是否有可以结束的进程
	CanTerminateProcess() error

	// CreatePendingBreakpoint 创建一个未绑定的断点
	CreatePendingBreakpoint(request *BreakpointRequest) (PendingBreakpoint, error)
	// SetException 设置异常断点
	SetException(name string, firstChance bool) error
	// RemoveSetException 移除异常断点
	RemoveSetException(name string) error
	// RemoveAllSetExceptions 移除全部异常断点
	RemoveAllSetExceptions() error

	// Step 单步调试，完成后发送StepComplete事件
	Step(ctx context.Context, threadID int64, kind constants.StepKind, unit constants.StepUnit) error
	// Continue 继续执行，保留单步状态
	Continue(ctx context.Context) error
	// ExecuteOnThread 在指定线程上继续执行
	ExecuteOnThread(ctx context.Context, threadID int64) error
	// CauseBreak 暂停目标程序
	CauseBreak(ctx context.Context) error

	// Threads 获取已知的线程
	Threads() []Thread
	// Thread 根据id获取线程
	Thread(id int64) (Thread, error)
	// State 获取会话状态
	State() constants.SessionState
}

// PendingBreakpoint IDE创建的断点
type PendingBreakpoint interface {
	ID() int
	Request() *BreakpointRequest
	CanBind() error
	Bind() error
	Enable(enable bool) error
	SetCondition(condition BreakpointCondition) error
	SetPassCount(passCount PassCount) error
	Delete() error
	State() constants.BreakpointState
	BoundBreakpoints() []BoundBreakpointInfo
}

// Thread 目标程序中的线程
type Thread interface {
	ID() int64
	Info() ThreadInfo
	Frames(ctx context.Context) ([]StackFrame, error)
	CanSetNextStatement(ctx context.Context, frame StackFrame, document DocumentContext) error
	SetNextStatement(ctx context.Context, frame StackFrame, document DocumentContext) error
	Suspend() error
	Resume() error
}

// StackFrame 栈帧
type StackFrame interface {
	Info() FrameInfo
	Document() DocumentContext
	Locals(ctx context.Context) ([]Property, error)
	Parameters(ctx context.Context) ([]Property, error)
	ParseExpression(text string) (Expression, error)
}

// Property 变量或者表达式的值，子节点按需获取
type Property interface {
	Info() PropertyInfo
	Parent() Property
	Children(ctx context.Context) ([]Property, error)
	SetValueAsString(ctx context.Context, value string) error
}

// Expression 解析好的表达式
type Expression interface {
	Text() string
	EvaluateSync(ctx context.Context) (Property, error)
	// EvaluateAsync 异步求值，完成后发送ExpressionEvaluationComplete事件
	EvaluateAsync(ctx context.Context) error
	// Abort 取消异步求值，第二次调用返回ErrNothingToCancel
	Abort() error
}

// EventSink IDE事件的接收者
type EventSink interface {
	Send(event *Event) error
}

// LogSink 目标进程输出的接收者
type LogSink interface {
	Log(entry LogEntry)
}
