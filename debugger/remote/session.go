package remote

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/google/go-dap"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	// DefaultRequestTimeout 单个请求的默认超时时间
	DefaultRequestTimeout = 10 * time.Second
	// DefaultRetryInterval 第一次重新连接之前的等待时间
	DefaultRetryInterval = 200 * time.Millisecond

	clientID   = "sampsharp-debugger"
	clientName = "SampSharp Debugger"
	adapterID  = "mono"
)

// Option 远程会话的参数
type Option struct {
	// Dialer 建立到调试代理的连接，为空时使用tcp
	Dialer         func(ctx context.Context, address string) (net.Conn, error)
	RequestTimeout time.Duration
	RetryInterval  time.Duration
}

// Session 通过DAP和目标进程中的调试代理通信的远程会话
type Session struct {
	option *Option

	lock        deadlock.RWMutex
	client      *client
	handler     debugger.RemoteEventHandler
	connected   bool
	disposed    bool
	exited      bool
	running     bool
	active      *remoteThread
	threads     *linkedhashmap.Map
	files       *linkedhashmap.Map
	catchpoints *linkedhashmap.Map
	nextID      int

	initialized chan struct{}
	initOnce    sync.Once

	// syncLock 串行化断点的下发
	syncLock sync.Mutex
}

// readyMarker 会话就绪，和事件一起排队保证顺序
type readyMarker struct {
	thread *remoteThread
}

func (m *readyMarker) GetSeq() int {
	return 0
}

func NewSession(option *Option) *Session {
	if option == nil {
		option = &Option{}
	}
	if option.Dialer == nil {
		option.Dialer = func(ctx context.Context, address string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "tcp", address)
		}
	}
	if option.RequestTimeout == 0 {
		option.RequestTimeout = DefaultRequestTimeout
	}
	if option.RetryInterval == 0 {
		option.RetryInterval = DefaultRetryInterval
	}
	return &Session{
		option:      option,
		threads:     linkedhashmap.New(),
		files:       linkedhashmap.New(),
		catchpoints: linkedhashmap.New(),
		initialized: make(chan struct{}),
	}
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Run 连接调试代理并完成配置，之前添加的断点和异常断点在这里统一下发
func (s *Session) Run(ctx context.Context, address string) error {
	logrus.Infof("[RemoteSession] Run %s", address)
	s.lock.RLock()
	disposed, started := s.disposed, s.client != nil
	s.lock.RUnlock()
	if disposed {
		return e.ErrRemoteClosed
	}
	if started {
		return e.ErrNotApplicable
	}

	conn, err := s.dial(ctx, address)
	if err != nil {
		return err
	}
	c := newClient(conn, s.handleEvent, s.handleClose)
	s.lock.Lock()
	if s.disposed {
		s.lock.Unlock()
		c.Close()
		return e.ErrRemoteClosed
	}
	s.client = c
	s.lock.Unlock()

	if err = s.configure(ctx, c, address); err != nil {
		logrus.Errorf("[RemoteSession] configure fail, err = %v", err)
		c.Close()
		return err
	}
	return nil
}

// dial 目标进程启动需要时间，连接失败时按照指数退避重试直到ctx结束
func (s *Session) dial(ctx context.Context, address string) (net.Conn, error) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.option.RetryInterval),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	var conn net.Conn
	operation := func() error {
		c, err := s.option.Dialer(ctx, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		logrus.Debugf("[RemoteSession] dial %s fail, retry in %s, err = %v", address, next, err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return conn, nil
}

func (s *Session) configure(ctx context.Context, c *client, address string) error {
	initialize := &dap.InitializeRequest{Request: newRequest("initialize")}
	initialize.Arguments = dap.InitializeRequestArguments{
		ClientID:             clientID,
		ClientName:           clientName,
		AdapterID:            adapterID,
		LinesStartAt1:        true,
		ColumnsStartAt1:      true,
		PathFormat:           "path",
		SupportsVariableType: true,
	}
	if _, err := s.request(ctx, initialize); err != nil {
		return err
	}

	arguments, err := sjson.SetBytes([]byte(`{}`), "address", address)
	if err != nil {
		return err
	}
	attach := &dap.AttachRequest{Request: newRequest("attach")}
	attach.Arguments = arguments
	if _, err = s.request(ctx, attach); err != nil {
		return err
	}

	select {
	case <-s.initialized:
	case <-c.Done():
		return e.ErrRemoteClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	s.lock.Lock()
	s.connected = true
	s.lock.Unlock()
	for _, file := range s.fileNames() {
		if err = s.syncFile(file); err != nil {
			logrus.Warnf("[RemoteSession] set breakpoints of %s fail, err = %v", file, err)
		}
	}
	if err = s.syncExceptions(); err != nil {
		logrus.Warnf("[RemoteSession] set exception breakpoints fail, err = %v", err)
	}

	done := &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}
	if _, err = s.request(ctx, done); err != nil {
		return err
	}

	threads, err := s.Threads(ctx)
	if err != nil {
		logrus.Warnf("[RemoteSession] threads fail, err = %v", err)
	}
	marker := &readyMarker{}
	s.lock.Lock()
	s.running = true
	if len(threads) > 0 && s.active == nil {
		s.active = threads[0].(*remoteThread)
	}
	marker.thread = s.active
	s.lock.Unlock()
	c.events.push(marker)
	return nil
}

// request 发送请求，ctx没有截止时间时使用默认超时
func (s *Session) request(ctx context.Context, request dap.RequestMessage) (dap.Message, error) {
	s.lock.RLock()
	c := s.client
	s.lock.RUnlock()
	if c == nil {
		return nil, e.ErrSessionNotStarted
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.option.RequestTimeout)
		defer cancel()
	}
	return c.request(ctx, request)
}

func (s *Session) SetEventHandler(handler debugger.RemoteEventHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = handler
}

func (s *Session) emit(event *debugger.TargetEvent) {
	s.lock.RLock()
	handler := s.handler
	s.lock.RUnlock()
	if handler == nil {
		logrus.Debugf("[RemoteSession] no handler, drop %s", event.Type)
		return
	}
	handler.HandleTargetEvent(event)
}

// emitExited 目标进程退出只上报一次
func (s *Session) emitExited(exitCode int) {
	s.lock.Lock()
	if s.exited {
		s.lock.Unlock()
		return
	}
	s.exited = true
	s.running = false
	s.lock.Unlock()
	s.emit(&debugger.TargetEvent{Type: constants.TargetExited, ExitCode: exitCode})
}

// handleEvent 在事件协程中按照到达顺序处理
func (s *Session) handleEvent(message dap.Message) {
	switch m := message.(type) {
	case *readyMarker:
		s.emit(&debugger.TargetEvent{Type: constants.TargetReady, Thread: asRemoteThread(m.thread)})
	case *dap.InitializedEvent:
		s.initOnce.Do(func() { close(s.initialized) })
	case *dap.StoppedEvent:
		s.onStopped(m.Body)
	case *dap.ContinuedEvent:
		thread := s.thread(int64(m.Body.ThreadId))
		s.lock.Lock()
		s.running = true
		s.lock.Unlock()
		s.emit(&debugger.TargetEvent{Type: constants.TargetResumed, Thread: asRemoteThread(thread)})
	case *dap.ThreadEvent:
		thread := s.thread(int64(m.Body.ThreadId))
		if thread == nil {
			return
		}
		switch m.Body.Reason {
		case "started":
			s.emit(&debugger.TargetEvent{Type: constants.TargetThreadStarted, Thread: thread})
		case "exited":
			s.forgetThread(thread.id)
			s.emit(&debugger.TargetEvent{Type: constants.TargetThreadStopped, Thread: thread})
		}
	case *dap.OutputEvent:
		if m.Body.Category == "telemetry" {
			return
		}
		s.emit(&debugger.TargetEvent{
			Type:    constants.TargetOutput,
			Text:    m.Body.Output,
			IsError: m.Body.Category == string(constants.OutputStderr),
		})
	case *dap.ExitedEvent:
		s.emitExited(m.Body.ExitCode)
	case *dap.TerminatedEvent:
		s.emitExited(0)
	case *dap.BreakpointEvent:
		logrus.Debugf("[RemoteSession] breakpoint %d %s", m.Body.Breakpoint.Id, m.Body.Reason)
		if breakEvent := s.breakEventByRemoteID(m.Body.Breakpoint.Id); breakEvent != nil {
			breakEvent.resolve(m.Body.Breakpoint)
		}
	default:
		logrus.Debugf("[RemoteSession] ignore event %T", message)
	}
}

func (s *Session) onStopped(body dap.StoppedEventBody) {
	thread := s.thread(int64(body.ThreadId))
	s.lock.Lock()
	s.running = false
	if thread != nil {
		s.active = thread
	}
	s.lock.Unlock()

	event := &debugger.TargetEvent{Type: constants.TargetStopped, Thread: asRemoteThread(thread)}
	switch body.Reason {
	case "breakpoint":
		for _, id := range body.HitBreakpointIds {
			if breakEvent := s.breakEventByRemoteID(id); breakEvent != nil {
				event.Type = constants.TargetHitBreakpoint
				event.BreakEvent = breakEvent
				break
			}
		}
	case "exception":
		event.Type = constants.TargetExceptionThrown
		event.Text = body.Text
		if event.Text == "" {
			event.Text = body.Description
		}
	}
	s.emit(event)
}

// handleClose 连接断开，没有主动释放时认为目标进程已经退出
func (s *Session) handleClose(err error) {
	s.lock.Lock()
	disposed := s.disposed
	s.connected = false
	s.running = false
	s.lock.Unlock()
	if disposed {
		return
	}
	logrus.Warnf("[RemoteSession] connection closed, err = %v", err)
	s.emitExited(0)
}

func asRemoteThread(thread *remoteThread) debugger.RemoteThread {
	if thread == nil {
		return nil
	}
	return thread
}

// thread 根据id获取线程，不存在时创建，id为0时返回nil
func (s *Session) thread(id int64) *remoteThread {
	if id == 0 {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if value, ok := s.threads.Get(id); ok {
		return value.(*remoteThread)
	}
	thread := &remoteThread{session: s, id: id}
	s.threads.Put(id, thread)
	return thread
}

func (s *Session) forgetThread(id int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.threads.Remove(id)
	if s.active != nil && s.active.id == id {
		s.active = nil
	}
}

func (s *Session) Threads(ctx context.Context) ([]debugger.RemoteThread, error) {
	request := &dap.ThreadsRequest{Request: newRequest("threads")}
	message, err := s.request(ctx, request)
	if err != nil {
		return nil, err
	}
	threads := message.(*dap.ThreadsResponse).Body.Threads
	answer := make([]debugger.RemoteThread, 0, len(threads))
	for _, item := range threads {
		thread := s.thread(int64(item.Id))
		if thread == nil {
			continue
		}
		thread.setName(item.Name)
		answer = append(answer, thread)
	}
	return answer, nil
}

func (s *Session) ActiveThread() debugger.RemoteThread {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return asRemoteThread(s.active)
}

// SetActiveThread 之后的单步、继续和暂停都作用在这个线程上
func (s *Session) SetActiveThread(thread debugger.RemoteThread) error {
	if thread == nil {
		return e.ErrThreadNotFound
	}
	active := s.thread(thread.ID())
	if active == nil {
		return e.ErrThreadNotFound
	}
	s.lock.Lock()
	s.active = active
	s.lock.Unlock()
	return nil
}

func (s *Session) activeThreadID() (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.active == nil {
		return 0, e.ErrThreadNotFound
	}
	return int(s.active.id), nil
}

func (s *Session) IsRunning() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.running
}

// resume 发送让目标继续运行的请求，成功以后标记为运行中
func (s *Session) resume(request dap.RequestMessage) error {
	if _, err := s.request(context.Background(), request); err != nil {
		return err
	}
	s.lock.Lock()
	s.running = true
	s.lock.Unlock()
	return nil
}

func (s *Session) NextLine() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.NextRequest{Request: newRequest("next")}
	request.Arguments = dap.NextArguments{ThreadId: threadID, Granularity: "line"}
	return s.resume(request)
}

func (s *Session) NextInstruction() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.NextRequest{Request: newRequest("next")}
	request.Arguments = dap.NextArguments{ThreadId: threadID, Granularity: "instruction"}
	return s.resume(request)
}

func (s *Session) StepLine() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.StepInRequest{Request: newRequest("stepIn")}
	request.Arguments = dap.StepInArguments{ThreadId: threadID, Granularity: "line"}
	return s.resume(request)
}

func (s *Session) StepInstruction() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.StepInRequest{Request: newRequest("stepIn")}
	request.Arguments = dap.StepInArguments{ThreadId: threadID, Granularity: "instruction"}
	return s.resume(request)
}

func (s *Session) Finish() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.StepOutRequest{Request: newRequest("stepOut")}
	request.Arguments = dap.StepOutArguments{ThreadId: threadID}
	return s.resume(request)
}

func (s *Session) Continue() error {
	threadID, err := s.activeThreadID()
	if err != nil {
		return err
	}
	request := &dap.ContinueRequest{Request: newRequest("continue")}
	request.Arguments = dap.ContinueArguments{ThreadId: threadID}
	return s.resume(request)
}

// Stop 暂停目标，没有活动线程时暂停全部线程
func (s *Session) Stop() error {
	threadID, _ := s.activeThreadID()
	request := &dap.PauseRequest{Request: newRequest("pause")}
	request.Arguments = dap.PauseArguments{ThreadId: threadID}
	_, err := s.request(context.Background(), request)
	return err
}

// SetNextStatement 把线程的下一条语句移动到指定位置
func (s *Session) SetNextStatement(ctx context.Context, thread debugger.RemoteThread, file string, line int, column int) error {
	if thread == nil {
		return e.ErrThreadNotFound
	}
	targets := &dap.GotoTargetsRequest{Request: newRequest("gotoTargets")}
	targets.Arguments = dap.GotoTargetsArguments{Source: dap.Source{Path: file}, Line: line, Column: column}
	message, err := s.request(ctx, targets)
	if err != nil {
		return err
	}
	found := message.(*dap.GotoTargetsResponse).Body.Targets
	if len(found) == 0 {
		return fmt.Errorf("%w: no goto target at %s:%d", e.ErrNotApplicable, file, line)
	}
	request := &dap.GotoRequest{Request: newRequest("goto")}
	request.Arguments = dap.GotoArguments{ThreadId: int(thread.ID()), TargetId: found[0].Id}
	_, err = s.request(ctx, request)
	return err
}

// variables 获取一个引用下的全部变量
func (s *Session) variables(ctx context.Context, frameID int, reference int) ([]debugger.ObjectValue, error) {
	request := &dap.VariablesRequest{Request: newRequest("variables")}
	request.Arguments = dap.VariablesArguments{VariablesReference: reference}
	message, err := s.request(ctx, request)
	if err != nil {
		return nil, err
	}
	variables := message.(*dap.VariablesResponse).Body.Variables
	answer := make([]debugger.ObjectValue, len(variables))
	for i, variable := range variables {
		answer[i] = newObjectValue(s, frameID, reference, variable)
	}
	return answer, nil
}

// AddBreakpoint 添加行断点，连接之前只在本地记录
func (s *Session) AddBreakpoint(file string, line int, column int) (debugger.BreakEvent, error) {
	s.lock.Lock()
	s.nextID++
	breakEvent := &breakEvent{session: s, id: s.nextID, file: file, line: line, column: column, enabled: true,
		mode: constants.HitCountNone}
	list, ok := s.files.Get(file)
	if !ok {
		list = arraylist.New()
		s.files.Put(file, list)
	}
	list.(*arraylist.List).Add(breakEvent)
	s.lock.Unlock()

	if err := s.syncFile(file); err != nil {
		s.removeLocal(breakEvent)
		return nil, err
	}
	return breakEvent, nil
}

func (s *Session) RemoveBreakpoint(value debugger.BreakEvent) error {
	breakEvent, ok := value.(*breakEvent)
	if !ok || breakEvent.session != s {
		return e.ErrNotApplicable
	}
	if !s.removeLocal(breakEvent) {
		return nil
	}
	return s.syncFile(breakEvent.file)
}

func (s *Session) removeLocal(breakEvent *breakEvent) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	value, ok := s.files.Get(breakEvent.file)
	if !ok {
		return false
	}
	list := value.(*arraylist.List)
	index := list.IndexOf(breakEvent)
	if index < 0 {
		return false
	}
	list.Remove(index)
	return true
}

func (s *Session) fileNames() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	names := make([]string, 0, s.files.Size())
	for _, key := range s.files.Keys() {
		names = append(names, key.(string))
	}
	return names
}

func (s *Session) fileBreakpoints(file string) []*breakEvent {
	s.lock.RLock()
	defer s.lock.RUnlock()
	value, ok := s.files.Get(file)
	if !ok {
		return nil
	}
	var answer []*breakEvent
	it := value.(*arraylist.List).Iterator()
	for it.Next() {
		answer = append(answer, it.Value().(*breakEvent))
	}
	return answer
}

func (s *Session) breakEventByRemoteID(id int) *breakEvent {
	if id == 0 {
		return nil
	}
	for _, file := range s.fileNames() {
		for _, breakEvent := range s.fileBreakpoints(file) {
			if breakEvent.RemoteID() == id {
				return breakEvent
			}
		}
	}
	return nil
}

func (s *Session) isConnected() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.connected && !s.disposed
}

// syncFile 下发一个文件中全部启用的断点，没有连接时什么都不做
func (s *Session) syncFile(file string) error {
	if !s.isConnected() {
		return nil
	}
	s.syncLock.Lock()
	defer s.syncLock.Unlock()

	var enabled []*breakEvent
	sourceBreakpoints := []dap.SourceBreakpoint{}
	for _, breakEvent := range s.fileBreakpoints(file) {
		if !breakEvent.Enabled() {
			breakEvent.unresolve()
			continue
		}
		enabled = append(enabled, breakEvent)
		sourceBreakpoints = append(sourceBreakpoints, breakEvent.sourceBreakpoint())
	}
	request := &dap.SetBreakpointsRequest{Request: newRequest("setBreakpoints")}
	request.Arguments = dap.SetBreakpointsArguments{Source: dap.Source{Path: file}, Breakpoints: sourceBreakpoints}
	message, err := s.request(context.Background(), request)
	if err != nil {
		return err
	}
	resolved := message.(*dap.SetBreakpointsResponse).Body.Breakpoints
	for i, breakEvent := range enabled {
		if i < len(resolved) {
			breakEvent.resolve(resolved[i])
		}
	}
	return nil
}

// AddCatchpoint 按照异常名称添加异常断点，同名的异常断点只有一个
func (s *Session) AddCatchpoint(exceptionName string) (debugger.BreakEvent, error) {
	s.lock.Lock()
	if value, ok := s.catchpoints.Get(exceptionName); ok {
		s.lock.Unlock()
		return value.(*catchpoint), nil
	}
	s.nextID++
	catch := &catchpoint{session: s, id: s.nextID, name: exceptionName, enabled: true}
	s.catchpoints.Put(exceptionName, catch)
	s.lock.Unlock()

	if err := s.syncExceptions(); err != nil {
		s.lock.Lock()
		s.catchpoints.Remove(exceptionName)
		s.lock.Unlock()
		return nil, err
	}
	return catch, nil
}

func (s *Session) RemoveCatchpoint(exceptionName string) error {
	s.lock.Lock()
	_, ok := s.catchpoints.Get(exceptionName)
	s.catchpoints.Remove(exceptionName)
	s.lock.Unlock()
	if !ok {
		return nil
	}
	return s.syncExceptions()
}

// syncExceptions 每个启用的异常断点对应一个exceptionOptions
func (s *Session) syncExceptions() error {
	if !s.isConnected() {
		return nil
	}
	s.syncLock.Lock()
	defer s.syncLock.Unlock()

	s.lock.RLock()
	var options []dap.ExceptionOptions
	for _, value := range s.catchpoints.Values() {
		catch := value.(*catchpoint)
		if !catch.Enabled() {
			continue
		}
		options = append(options, dap.ExceptionOptions{
			Path:      []dap.ExceptionPathSegment{{Names: []string{catch.name}}},
			BreakMode: "always",
		})
	}
	s.lock.RUnlock()

	request := &dap.SetExceptionBreakpointsRequest{Request: newRequest("setExceptionBreakpoints")}
	request.Arguments = dap.SetExceptionBreakpointsArguments{Filters: []string{}, ExceptionOptions: options}
	_, err := s.request(context.Background(), request)
	return err
}

// Dispose 断开连接，目标进程继续运行，可以重复调用
func (s *Session) Dispose() error {
	logrus.Infof("[RemoteSession] Dispose")
	s.lock.Lock()
	if s.disposed {
		s.lock.Unlock()
		return nil
	}
	connected := s.connected
	c := s.client
	s.lock.Unlock()

	if c != nil && connected {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		request := &dap.DisconnectRequest{Request: newRequest("disconnect")}
		if _, err := s.request(ctx, request); err != nil {
			logrus.Warnf("[RemoteSession] disconnect fail, err = %v", err)
		}
		cancel()
	}

	s.lock.Lock()
	s.disposed = true
	s.connected = false
	s.running = false
	s.lock.Unlock()
	if c != nil {
		c.Close()
	}
	return nil
}

var _ debugger.RemoteSession = (*Session)(nil)
