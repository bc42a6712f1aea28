package mono_debugger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/fansqz/sampsharp-debugger/utils"
	"github.com/fansqz/sampsharp-debugger/utils/gosync"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout 连接远程会话的默认超时时间
const DefaultConnectTimeout = 30 * time.Second

// Option 创建调试引擎的参数
type Option struct {
	// SessionFactory 创建远程会话，不能为空
	SessionFactory func() debugger.RemoteSession
	// SinkTable 事件接收者注册表，为空时创建新的
	SinkTable *SinkTable
	// LogSink 目标进程的输出，可以被LaunchOption覆盖
	LogSink debugger.LogSink
	// DebuggerAddress 没有启动进程直接Attach时使用的地址
	DebuggerAddress string
	// ConnectTimeout 连接远程会话的超时时间
	ConnectTimeout time.Duration
}

// MonoDebugger
// 调试引擎，把IDE的请求转换为远程会话的操作，把远程会话的事件转换为IDE事件
// 每个实例只持有一个远程会话，并且是远程事件唯一的订阅者
type MonoDebugger struct {
	option        *Option
	sinkTable     *SinkTable
	statusManager *utils.StatusManager
	breakpoints   *BreakpointManager
	threads       *ThreadManager
	listeners     *stopListeners

	lock           deadlock.RWMutex
	session        debugger.RemoteSession
	callback       *Callback
	launcher       *Launcher
	processID      string
	address        string
	connectTimeout time.Duration
	cancel         context.CancelFunc

	// 同一时间只允许一个单步操作
	stepLock     deadlock.Mutex
	stepping     bool
	stepListener int

	ids       atomic.Int32
	destroyed atomic.Bool
}

// NewMonoDebugger 创建调试引擎，option和SessionFactory不能为空
func NewMonoDebugger(option *Option) *MonoDebugger {
	if option == nil || option.SessionFactory == nil {
		panic("mono_debugger: NewMonoDebugger requires a session factory")
	}
	d := &MonoDebugger{
		option:         option,
		sinkTable:      option.SinkTable,
		statusManager:  utils.NewStatusManager(),
		listeners:      newStopListeners(),
		connectTimeout: option.ConnectTimeout,
	}
	if d.sinkTable == nil {
		d.sinkTable = NewSinkTable()
	}
	if d.connectTimeout == 0 {
		d.connectTimeout = DefaultConnectTimeout
	}
	d.breakpoints = NewBreakpointManager(d.remoteSession)
	d.threads = NewThreadManager(d)
	return d
}

func (d *MonoDebugger) remoteSession() debugger.RemoteSession {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.session
}

// activeSession 获取可以执行操作的远程会话
func (d *MonoDebugger) activeSession() (debugger.RemoteSession, error) {
	if d.statusManager.Is(constants.SessionTerminated) {
		return nil, e.ErrSessionTerminated
	}
	session := d.remoteSession()
	if session == nil {
		return nil, e.ErrSessionNotStarted
	}
	return session, nil
}

func (d *MonoDebugger) nextID() int {
	return int(d.ids.Add(1))
}

// send 发送事件给IDE，没有Attach时丢弃
func (d *MonoDebugger) send(event *debugger.Event) {
	d.lock.RLock()
	callback := d.callback
	if event.ProgramID == "" {
		event.ProgramID = d.processID
	}
	d.lock.RUnlock()
	if callback == nil {
		logrus.Debugf("[MonoDebugger] no callback, drop event %s", event.Kind)
		return
	}
	callback.Send(event)
}

// LaunchSuspended 查找并启动服务器进程，返回进程标识
func (d *MonoDebugger) LaunchSuspended(ctx context.Context, option *debugger.LaunchOption) (string, error) {
	logrus.Infof("[MonoDebugger] LaunchSuspended")
	if option == nil {
		return "", e.ErrNotApplicable
	}
	if err := d.statusManager.Set(constants.SessionLaunching); err != nil {
		return "", err
	}
	logSink := option.LogSink
	if logSink == nil {
		logSink = d.option.LogSink
	}
	launcher := NewLauncher(logSink)
	if err := launcher.Start(ctx, option); err != nil {
		logrus.Errorf("[LaunchSuspended] fail, err = %v", err)
		_ = d.statusManager.Set(constants.SessionTerminated)
		return "", err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.launcher = launcher
	d.processID = utils.GetUUID()
	d.address = launcher.Address().String()
	if option.ConnectTimeout > 0 {
		d.connectTimeout = option.ConnectTimeout
	}
	return d.processID, nil
}

// Attach 创建远程会话并在后台连接，立即返回
// 启动了服务器进程时，等待进程启动完成以后才会连接
func (d *MonoDebugger) Attach(ctx context.Context, sink debugger.EventSink) error {
	logrus.Infof("[MonoDebugger] Attach")
	if sink == nil {
		return e.ErrNotApplicable
	}
	if d.statusManager.Is(constants.SessionTerminated) {
		return e.ErrSessionTerminated
	}
	d.statusManager.CompareAndSet(constants.SessionLaunching, constants.SessionNotStarted)

	d.lock.Lock()
	if d.session != nil {
		d.lock.Unlock()
		return e.ErrNotApplicable
	}
	session := d.option.SessionFactory()
	d.session = session
	d.callback = NewCallback(d.sinkTable, sink)
	if d.processID == "" {
		d.processID = utils.GetUUID()
	}
	address := d.address
	if address == "" {
		address = d.option.DebuggerAddress
	}
	if address == "" {
		address = utils.LoopbackAddress(utils.DefaultDebuggerPort).String()
	}
	launcher := d.launcher
	timeout := d.connectTimeout
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.lock.Unlock()

	session.SetEventHandler(d)
	d.breakpoints.attachCatchpoints(session)
	d.send(debugger.NewEvent(constants.EngineCreateEvent))
	d.send(debugger.NewEvent(constants.ProgramCreateEvent))

	gosync.Go(runCtx, func(ctx context.Context) {
		d.connect(ctx, session, launcher, address, timeout)
	})
	return nil
}

// connect 等待进程启动以后连接远程会话
func (d *MonoDebugger) connect(ctx context.Context, session debugger.RemoteSession, launcher *Launcher,
	address string, timeout time.Duration) {
	if launcher != nil {
		if err := launcher.WaitReady(ctx); err != nil {
			logrus.Errorf("[connect] server not started, err = %v", err)
			d.shutdown(1)
			return
		}
		gosync.Go(ctx, func(ctx context.Context) {
			select {
			case <-launcher.Exited():
				d.HandleTargetEvent(&debugger.TargetEvent{Type: constants.TargetExited, ExitCode: launcher.ExitCode()})
			case <-ctx.Done():
			}
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := session.Run(connectCtx, address); err != nil {
		logrus.Errorf("[connect] connect %s fail, err = %v", address, err)
		d.log(constants.LogError, fmt.Sprintf("Failed to connect to the debugger at %s: %v", address, err))
		d.shutdown(1)
		return
	}
	d.statusManager.CompareAndSet(constants.SessionConnected, constants.SessionLaunching)
	logrus.Infof("[connect] connected to %s", address)
}

func (d *MonoDebugger) log(severity constants.LogSeverity, message string) {
	if d.option.LogSink == nil {
		return
	}
	gosync.Safe(func() {
		d.option.LogSink.Log(debugger.LogEntry{Severity: severity, Project: logProject, Message: message})
	})
}

// HandleTargetEvent 处理远程会话的事件，处理过程中的panic会被记录并丢弃
func (d *MonoDebugger) HandleTargetEvent(event *debugger.TargetEvent) {
	if event == nil {
		return
	}
	if recovered := gosync.Safe(func() { d.handleTargetEvent(event) }); recovered != nil {
		logrus.Errorf("[HandleTargetEvent] %s: %v, err = %v", event.Type, e.ErrInternalFault, recovered)
	}
}

func (d *MonoDebugger) handleTargetEvent(event *debugger.TargetEvent) {
	if d.statusManager.Is(constants.SessionTerminated) {
		logrus.Debugf("[MonoDebugger] session terminated, ignore %s", event.Type)
		return
	}
	switch event.Type {
	case constants.TargetReady:
		// 就绪事件可能在Run返回之前到达，先补上Connected
		d.statusManager.CompareAndSet(constants.SessionConnected, constants.SessionLaunching)
		d.statusManager.CompareAndSet(constants.SessionRunning, constants.SessionConnected)
		if event.Thread != nil {
			d.onThreadStarted(event.Thread)
		}
	case constants.TargetThreadStarted:
		if event.Thread != nil {
			d.onThreadStarted(event.Thread)
		}
	case constants.TargetThreadStopped:
		if event.Thread == nil {
			return
		}
		if thread, ok := d.threads.Remove(event.Thread.ID()); ok {
			destroy := debugger.NewEvent(constants.ThreadDestroyEvent)
			destroy.ThreadID = thread.ID()
			d.send(destroy)
		}
	case constants.TargetExited:
		d.shutdown(event.ExitCode)
	case constants.TargetExceptionThrown, constants.TargetUnhandledException:
		d.setStopped()
		d.listeners.Fire(event, true)
		exception := debugger.NewEvent(constants.ExceptionEvent)
		exception.ThreadID = d.threadIDOf(event.Thread)
		exception.Exception = event.Text
		d.send(exception)
	case constants.TargetHitBreakpoint:
		pending := d.breakpoints.Lookup(event.BreakEvent)
		if pending == nil {
			logrus.Warnf("[MonoDebugger] hit unknown breakpoint, ignore")
			return
		}
		d.setStopped()
		d.listeners.Fire(event, true)
		hit := debugger.NewEvent(constants.BreakpointEvent)
		hit.ThreadID = d.threadIDOf(event.Thread)
		hit.Breakpoints = pending.BoundBreakpoints()
		d.send(hit)
	case constants.TargetStopped:
		d.setStopped()
		d.listeners.Fire(event, false)
	case constants.TargetResumed:
		d.statusManager.CompareAndSet(constants.SessionRunning, constants.SessionStopped)
		continued := debugger.NewEvent(constants.ContinuedEvent)
		continued.ThreadID = d.threadIDOf(event.Thread)
		d.send(continued)
	case constants.TargetOutput:
		d.lock.RLock()
		callback := d.callback
		d.lock.RUnlock()
		callback.OnOutput(event.Text, event.IsError)
	default:
		logrus.Warnf("[MonoDebugger] unknown target event %s", event.Type)
	}
}

func (d *MonoDebugger) onThreadStarted(remote debugger.RemoteThread) {
	thread := d.threads.Add(remote)
	create := debugger.NewEvent(constants.ThreadCreateEvent)
	create.ThreadID = thread.ID()
	d.send(create)
}

func (d *MonoDebugger) setStopped() {
	d.statusManager.CompareAndSet(constants.SessionStopped, constants.SessionRunning, constants.SessionConnected)
}

// threadFor 查找事件对应的线程，找不到时使用第一个已知线程
func (d *MonoDebugger) threadFor(remote debugger.RemoteThread) *Thread {
	if thread := d.threads.Lookup(remote); thread != nil {
		return thread
	}
	return d.threads.First()
}

func (d *MonoDebugger) threadIDOf(remote debugger.RemoteThread) int64 {
	if thread := d.threadFor(remote); thread != nil {
		return thread.ID()
	}
	if remote != nil {
		return remote.ID()
	}
	return 0
}

// shutdown 会话结束，只发送一次ProgramDestroy
func (d *MonoDebugger) shutdown(exitCode int) {
	_ = d.statusManager.Set(constants.SessionTerminated)
	d.finishStep()
	d.listeners.Fire(nil, true)
	if d.destroyed.CompareAndSwap(false, true) {
		destroy := debugger.NewEvent(constants.ProgramDestroyEvent)
		destroy.ExitCode = exitCode
		d.send(destroy)
	}
	d.lock.Lock()
	cancel := d.cancel
	d.lock.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Detach 断开远程会话，目标程序继续运行
func (d *MonoDebugger) Detach(ctx context.Context) error {
	logrus.Infof("[MonoDebugger] Detach")
	session := d.remoteSession()
	if session == nil {
		return e.ErrNotApplicable
	}
	if !session.IsRunning() {
		if err := session.Continue(); err != nil {
			logrus.Warnf("[Detach] continue fail, err = %v", err)
		}
	}
	err := session.Dispose()
	d.destroyed.Store(true)
	d.shutdown(0)
	return err
}

// TerminateProcess 结束目标进程，同步发送ProgramDestroy
func (d *MonoDebugger) TerminateProcess(ctx context.Context) error {
	logrus.Infof("[MonoDebugger] TerminateProcess")
	if session := d.remoteSession(); session != nil {
		if !session.IsRunning() {
			if err := session.Continue(); err != nil {
				logrus.Warnf("[TerminateProcess] continue fail, err = %v", err)
			}
		}
		if err := session.Dispose(); err != nil {
			logrus.Warnf("[TerminateProcess] dispose fail, err = %v", err)
		}
	}
	d.lock.RLock()
	launcher := d.launcher
	d.lock.RUnlock()
	if launcher != nil {
		if err := launcher.Kill(); err != nil && !errors.Is(err, e.ErrNotApplicable) {
			logrus.Errorf("[TerminateProcess] kill fail, err = %v", err)
			return err
		}
	}
	d.shutdown(0)
	return nil
}

// CanTerminateProcess 启动的进程还在运行时可以结束
func (d *MonoDebugger) CanTerminateProcess() error {
	d.lock.RLock()
	launcher := d.launcher
	d.lock.RUnlock()
	if launcher == nil || !launcher.Running() {
		return e.ErrNotApplicable
	}
	return nil
}

// CreatePendingBreakpoint 创建挂起断点
func (d *MonoDebugger) CreatePendingBreakpoint(request *debugger.BreakpointRequest) (debugger.PendingBreakpoint, error) {
	if request == nil {
		return nil, e.ErrNotApplicable
	}
	return newPendingBreakpoint(d, d.nextID(), request), nil
}

func (d *MonoDebugger) SetException(name string, firstChance bool) error {
	logrus.Infof("[MonoDebugger] SetException %s", name)
	return d.breakpoints.AddCatchpoint(name, firstChance)
}

func (d *MonoDebugger) RemoveSetException(name string) error {
	logrus.Infof("[MonoDebugger] RemoveSetException %s", name)
	return d.breakpoints.RemoveCatchpoint(name)
}

func (d *MonoDebugger) RemoveAllSetExceptions() error {
	logrus.Infof("[MonoDebugger] RemoveAllSetExceptions")
	return d.breakpoints.RemoveAllCatchpoints()
}

// Step 单步调试，远程会话暂停以后发送StepComplete事件
func (d *MonoDebugger) Step(ctx context.Context, threadID int64, kind constants.StepKind, unit constants.StepUnit) error {
	logrus.Infof("[MonoDebugger] Step %s %s", kind, unit)
	if kind == constants.StepBackwards {
		return e.ErrNotImplemented
	}
	session, err := d.activeSession()
	if err != nil {
		return err
	}
	d.stepLock.Lock()
	if d.stepping {
		d.stepLock.Unlock()
		return e.ErrStepInProgress
	}
	d.stepping = true
	d.armStep()
	id := d.stepListener
	d.stepLock.Unlock()

	if err = d.activate(session, threadID); err != nil {
		d.listeners.Remove(id)
		d.finishStep()
		return err
	}
	d.statusManager.CompareAndSet(constants.SessionRunning, constants.SessionStopped)

	switch kind {
	case constants.StepOver:
		if unit == constants.StepUnitInstruction {
			err = session.NextInstruction()
		} else {
			err = session.NextLine()
		}
	case constants.StepInto:
		if unit == constants.StepUnitInstruction {
			err = session.StepInstruction()
		} else {
			err = session.StepLine()
		}
	case constants.StepOut:
		err = session.Finish()
	default:
		err = fmt.Errorf("%w: step kind %s", e.ErrNotImplemented, kind)
	}
	if err != nil {
		logrus.Errorf("[Step] fail, err = %v", err)
		d.listeners.Remove(id)
		d.finishStep()
		d.setStopped()
		return err
	}
	return nil
}

// armStep 注册单步完成的监听，调用时需要持有stepLock
func (d *MonoDebugger) armStep() {
	var id int
	id = d.listeners.Add(func(event *debugger.TargetEvent, byBreak bool) {
		d.finishStepOf(&id)
		if byBreak {
			return
		}
		complete := debugger.NewEvent(constants.StepCompleteEvent)
		complete.ThreadID = d.threadIDOf(event.Thread)
		d.send(complete)
	})
	d.stepListener = id
}

// finishStepOf 只结束id对应的单步，id在stepLock下读取
func (d *MonoDebugger) finishStepOf(id *int) {
	d.stepLock.Lock()
	defer d.stepLock.Unlock()
	if d.stepListener == *id {
		d.stepping = false
		d.stepListener = 0
	}
}

func (d *MonoDebugger) finishStep() {
	d.stepLock.Lock()
	d.stepping = false
	d.stepListener = 0
	d.stepLock.Unlock()
}

// takeStep 取消正在进行的单步，下一次暂停只报告为用户暂停
func (d *MonoDebugger) takeStep() bool {
	d.stepLock.Lock()
	defer d.stepLock.Unlock()
	if !d.stepping || d.stepListener == 0 {
		return false
	}
	d.listeners.Remove(d.stepListener)
	d.stepping = false
	d.stepListener = 0
	return true
}

// restoreStep 暂停失败时恢复被取消的单步
func (d *MonoDebugger) restoreStep() {
	d.stepLock.Lock()
	defer d.stepLock.Unlock()
	if d.stepping {
		return
	}
	d.stepping = true
	d.armStep()
}

// activate 需要时切换远程会话的活动线程
func (d *MonoDebugger) activate(session debugger.RemoteSession, threadID int64) error {
	if threadID == 0 {
		return nil
	}
	thread := d.threads.LookupID(threadID)
	if thread == nil {
		return nil
	}
	active := session.ActiveThread()
	if active != nil && active.ID() == threadID {
		return nil
	}
	return session.SetActiveThread(thread.Remote())
}

// Continue 继续执行
func (d *MonoDebugger) Continue(ctx context.Context) error {
	logrus.Infof("[MonoDebugger] Continue")
	session, err := d.activeSession()
	if err != nil {
		return err
	}
	if err = session.Continue(); err != nil {
		logrus.Errorf("[Continue] fail, err = %v", err)
		return err
	}
	d.statusManager.CompareAndSet(constants.SessionRunning, constants.SessionStopped)
	return nil
}

// ExecuteOnThread 线程不是活动线程时先切换，然后继续执行
func (d *MonoDebugger) ExecuteOnThread(ctx context.Context, threadID int64) error {
	logrus.Infof("[MonoDebugger] ExecuteOnThread %d", threadID)
	session, err := d.activeSession()
	if err != nil {
		return err
	}
	if err = d.activate(session, threadID); err != nil {
		logrus.Errorf("[ExecuteOnThread] set active thread fail, err = %v", err)
		return err
	}
	return d.Continue(ctx)
}

// CauseBreak 暂停目标程序，暂停以后发送没有断点的Breakpoint事件
func (d *MonoDebugger) CauseBreak(ctx context.Context) error {
	logrus.Infof("[MonoDebugger] CauseBreak")
	session, err := d.activeSession()
	if err != nil {
		return err
	}
	taken := d.takeStep()
	id := d.listeners.Add(func(event *debugger.TargetEvent, byBreak bool) {
		if byBreak {
			return
		}
		stopped := debugger.NewEvent(constants.BreakpointEvent)
		stopped.ThreadID = d.threadIDOf(event.Thread)
		stopped.Breakpoints = []debugger.BoundBreakpointInfo{}
		d.send(stopped)
	})
	if err = session.Stop(); err != nil {
		logrus.Errorf("[CauseBreak] fail, err = %v", err)
		d.listeners.Remove(id)
		if taken {
			d.restoreStep()
		}
		return err
	}
	return nil
}

func (d *MonoDebugger) Threads() []debugger.Thread {
	threads := d.threads.All()
	answer := make([]debugger.Thread, len(threads))
	for i, thread := range threads {
		answer[i] = thread
	}
	return answer
}

func (d *MonoDebugger) Thread(id int64) (debugger.Thread, error) {
	thread := d.threads.LookupID(id)
	if thread == nil {
		return nil, e.ErrThreadNotFound
	}
	return thread, nil
}

func (d *MonoDebugger) State() constants.SessionState {
	return d.statusManager.Get()
}

func (d *MonoDebugger) ProcessID() string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.processID
}

func (d *MonoDebugger) BreakpointManager() *BreakpointManager {
	return d.breakpoints
}

func (d *MonoDebugger) ThreadManager() *ThreadManager {
	return d.threads
}

var (
	_ debugger.Debugger           = (*MonoDebugger)(nil)
	_ debugger.RemoteEventHandler = (*MonoDebugger)(nil)
)
