package constants

// SessionState 调试会话的状态
type SessionState string

const (
	// SessionNotStarted 会话尚未开始
	SessionNotStarted SessionState = "notStarted"
	// SessionLaunching 目标进程启动中，远程会话尚未连接
	SessionLaunching SessionState = "launching"
	// SessionConnected 远程会话已连接，目标还没有就绪
	SessionConnected SessionState = "connected"
	// SessionRunning 目标程序运行中
	SessionRunning SessionState = "running"
	// SessionStopped 目标程序暂停
	SessionStopped SessionState = "stopped"
	// SessionTerminated 会话结束，不再接受任何状态变化
	SessionTerminated SessionState = "terminated"
)

// StepKind 单步调试类型
type StepKind string

const (
	StepOver      StepKind = "over"
	StepInto      StepKind = "into"
	StepOut       StepKind = "out"
	StepBackwards StepKind = "backwards"
)

// StepUnit 单步的粒度
type StepUnit string

const (
	StepUnitStatement   StepUnit = "statement"
	StepUnitLine        StepUnit = "line"
	StepUnitInstruction StepUnit = "instruction"
)

// LocationType 断点请求的位置类型，只有文件行断点可以绑定
type LocationType string

const (
	LocationFileLine LocationType = "fileLine"
	LocationOther    LocationType = "other"
)

// ConditionStyle 条件断点的触发方式
type ConditionStyle string

const (
	ConditionNone        ConditionStyle = "none"
	ConditionWhenTrue    ConditionStyle = "whenTrue"
	ConditionWhenChanged ConditionStyle = "whenChanged"
)

// PassCountStyle IDE侧命中次数的条件
type PassCountStyle string

const (
	PassCountNone           PassCountStyle = "none"
	PassCountEqual          PassCountStyle = "equal"
	PassCountEqualOrGreater PassCountStyle = "equalOrGreater"
	PassCountMod            PassCountStyle = "mod"
)

// HitCountMode 远程断点的命中次数模式
type HitCountMode string

const (
	HitCountNone                 HitCountMode = "none"
	HitCountEqualTo              HitCountMode = "equalTo"
	HitCountGreaterThanOrEqualTo HitCountMode = "greaterThanOrEqualTo"
	HitCountMultipleOf           HitCountMode = "multipleOf"
)

// BreakpointState 挂起断点的状态
type BreakpointState string

const (
	BreakpointDeleted  BreakpointState = "deleted"
	BreakpointEnabled  BreakpointState = "enabled"
	BreakpointDisabled BreakpointState = "disabled"
)

// SyncClass 事件的同步类型
// stopping事件表示目标已经暂停，IDE需要在之后继续执行
type SyncClass string

const (
	SyncEvent     SyncClass = "sync"
	AsyncEvent    SyncClass = "async"
	StoppingEvent SyncClass = "stopping"
)

// EventKind 发送给IDE的事件类型
type EventKind string

const (
	EngineCreateEvent         EventKind = "engineCreate"
	ProgramCreateEvent        EventKind = "programCreate"
	ProgramDestroyEvent       EventKind = "programDestroy"
	ThreadCreateEvent         EventKind = "threadCreate"
	ThreadDestroyEvent        EventKind = "threadDestroy"
	LoadCompleteEvent         EventKind = "loadComplete"
	BreakpointBoundEvent      EventKind = "breakpointBound"
	BreakpointEvent           EventKind = "breakpoint"
	ExceptionEvent            EventKind = "exception"
	StepCompleteEvent         EventKind = "stepComplete"
	AsyncBreakCompleteEvent   EventKind = "asyncBreakComplete"
	ExpressionEvaluationEvent EventKind = "expressionEvaluationComplete"
	OutputStringEvent         EventKind = "outputString"
	ContinuedEvent            EventKind = "continued"
)

// TargetEventType 远程调试会话上报的事件类型
type TargetEventType string

const (
	TargetReady              TargetEventType = "targetReady"
	TargetStopped            TargetEventType = "targetStopped"
	TargetExited             TargetEventType = "targetExited"
	TargetThreadStarted      TargetEventType = "threadStarted"
	TargetThreadStopped      TargetEventType = "threadStopped"
	TargetHitBreakpoint      TargetEventType = "hitBreakpoint"
	TargetExceptionThrown    TargetEventType = "exceptionThrown"
	TargetUnhandledException TargetEventType = "unhandledException"
	TargetOutput             TargetEventType = "output"
	TargetResumed            TargetEventType = "resumed"
)

// LogSeverity 日志条目的严重程度
type LogSeverity string

const (
	LogInfo    LogSeverity = "info"
	LogWarning LogSeverity = "warning"
	LogError   LogSeverity = "error"
)

// ScopeName 作用域名称
type ScopeName string

const (
	ScopeLocals    ScopeName = "Locals"
	ScopeArguments ScopeName = "Arguments"
)

// OutputCategory 输出事件的分类
type OutputCategory string

const (
	OutputConsole OutputCategory = "console"
	OutputStdout  OutputCategory = "stdout"
	OutputStderr  OutputCategory = "stderr"
)
