package debugger

import (
	"fmt"
	"time"

	"github.com/fansqz/sampsharp-debugger/constants"
)

// LaunchOption 启动目标进程的参数
type LaunchOption struct {
	// OutputDirectory 从该目录开始向上查找服务器程序
	OutputDirectory string
	// ServerExecutable 服务器程序名称
	ServerExecutable string
	// Gamemode 游戏模式入口
	Gamemode string
	// DebuggerAddress 远程调试地址
	DebuggerAddress string
	// DynamicPort 端口被占用时使用下一个可用端口
	DynamicPort bool
	// UsePTY 在伪终端中运行服务器
	UsePTY bool
	Args   []string
	Env    map[string]string
	// ConnectTimeout 连接远程会话的超时时间
	ConnectTimeout time.Duration
	// LogSink 目标进程的输出
	LogSink LogSink
}

// TextPosition 文档中的位置，行列都从0开始
type TextPosition struct {
	Line   int
	Column int
}

// DocumentContext 源码中的一段区域
type DocumentContext struct {
	File  string
	Begin TextPosition
	End   TextPosition
}

func (d DocumentContext) String() string {
	return fmt.Sprintf("%s:%d", d.File, d.Begin.Line+1)
}

// BreakpointCondition 条件断点
type BreakpointCondition struct {
	Style      constants.ConditionStyle
	Expression string
}

func (c BreakpointCondition) IsSet() bool {
	return c.Style == constants.ConditionWhenTrue || c.Style == constants.ConditionWhenChanged
}

// PassCount 命中次数条件
type PassCount struct {
	Style constants.PassCountStyle
	Count int
}

func (p PassCount) IsSet() bool {
	switch p.Style {
	case constants.PassCountEqual, constants.PassCountEqualOrGreater, constants.PassCountMod:
		return true
	}
	return false
}

// BreakpointRequest 断点请求，创建以后不可修改
type BreakpointRequest struct {
	LocationType constants.LocationType
	File         string
	Begin        TextPosition
	End          TextPosition
	Condition    BreakpointCondition
	PassCount    PassCount
}

// NewLineBreakpointRequest 创建文件行断点请求，line从0开始
func NewLineBreakpointRequest(file string, line int, column int) *BreakpointRequest {
	position := TextPosition{Line: line, Column: column}
	return &BreakpointRequest{
		LocationType: constants.LocationFileLine,
		File:         file,
		Begin:        position,
		End:          position,
	}
}

// BreakpointResolution 断点绑定到的位置
type BreakpointResolution struct {
	Address  string
	Document DocumentContext
}

// BoundBreakpointInfo 已经绑定的断点
type BoundBreakpointInfo struct {
	ID         int
	PendingID  int
	Enabled    bool
	Resolution BreakpointResolution
}

// ThreadInfo 线程信息
type ThreadInfo struct {
	ID       int64
	Name     string
	Location string
	State    string
}

// ArgumentInfo 函数参数
type ArgumentInfo struct {
	Name  string
	Type  string
	Value string
}

// FrameInfo 栈帧信息
type FrameInfo struct {
	ID           int
	FunctionName string
	Module       string
	Language     string
	Arguments    []ArgumentInfo
	Line         int
	HasDebugInfo bool
	Document     DocumentContext
}

// DisplayName 函数名加上参数列表
func (f FrameInfo) DisplayName() string {
	name := f.FunctionName
	if f.Module != "" {
		name = f.Module + "!" + name
	}
	if len(f.Arguments) == 0 {
		return name + "()"
	}
	args := ""
	for i, arg := range f.Arguments {
		if i > 0 {
			args += ", "
		}
		if arg.Type != "" {
			args += arg.Type + " "
		}
		args += arg.Name
		if arg.Value != "" {
			args += " = " + arg.Value
		}
	}
	return name + "(" + args + ")"
}

// PropertyInfo 变量信息
type PropertyInfo struct {
	FullName   string
	Name       string
	Type       string
	Value      string
	ReadOnly   bool
	Expandable bool
}

// LogEntry 日志条目
type LogEntry struct {
	Severity constants.LogSeverity
	Project  string
	File     string
	Message  string
	Line     int
	Column   int
	Code     string
}

// Event 发送给IDE的事件
// 不同的Kind使用不同的字段
type Event struct {
	Kind constants.EventKind
	Sync constants.SyncClass
	// ThreadID 事件关联的线程，0表示没有线程
	ThreadID int64
	// ProgramID 事件关联的进程标识
	ProgramID string
	// Breakpoints BreakpointBound、Breakpoint事件携带的断点
	Breakpoints []BoundBreakpointInfo
	// ExitCode ProgramDestroy事件携带的退出码
	ExitCode int
	// Exception Exception事件携带的异常描述
	Exception string
	// Output OutputString事件的输出
	Output   string
	Category constants.OutputCategory
	// Expression ExpressionEvaluationComplete事件的结果
	Expression Expression
	Result     Property
	Err        error
}

// NewEvent 创建事件，同步类型由事件类型决定
func NewEvent(kind constants.EventKind) *Event {
	return &Event{Kind: kind, Sync: syncClassOf(kind)}
}

func syncClassOf(kind constants.EventKind) constants.SyncClass {
	switch kind {
	case constants.BreakpointEvent, constants.ExceptionEvent, constants.StepCompleteEvent,
		constants.AsyncBreakCompleteEvent, constants.LoadCompleteEvent:
		return constants.StoppingEvent
	case constants.EngineCreateEvent, constants.ProgramDestroyEvent:
		return constants.SyncEvent
	default:
		return constants.AsyncEvent
	}
}

// IsStopping 是否是暂停类事件
func (e *Event) IsStopping() bool {
	return e.Sync == constants.StoppingEvent
}
