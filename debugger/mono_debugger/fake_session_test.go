package mono_debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
)

// fakeBreakEvent 记录远程断点上的设置
type fakeBreakEvent struct {
	id     int
	file   string
	line   int
	column int

	lock           sync.Mutex
	enabled        bool
	condition      string
	breakIfChanges bool
	mode           constants.HitCountMode
	count          int
}

func (b *fakeBreakEvent) ID() int { return b.id }

func (b *fakeBreakEvent) Enabled() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.enabled
}

func (b *fakeBreakEvent) SetEnabled(enabled bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.enabled = enabled
	return nil
}

func (b *fakeBreakEvent) SetCondition(expression string, breakIfChanges bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.condition = expression
	b.breakIfChanges = breakIfChanges
	return nil
}

func (b *fakeBreakEvent) SetHitCount(mode constants.HitCountMode, count int) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.mode = mode
	b.count = count
	return nil
}

func (b *fakeBreakEvent) HitCountMode() constants.HitCountMode {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.mode
}

func (b *fakeBreakEvent) HitCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.count
}

// fakeSession 内存中的远程会话
type fakeSession struct {
	lock        sync.Mutex
	handler     debugger.RemoteEventHandler
	nextID      int
	breakpoints map[int]*fakeBreakEvent
	catchpoints map[string]bool
	calls       []string
	running     bool
	active      debugger.RemoteThread
	address     string
	runErr      error
	stepErr     error
	stopErr     error
	disposed    bool
	ran         chan struct{}

	// onRun 在Run返回之前调用，模拟先到达的就绪事件
	onRun func()
	// onSetNextStatement 在SetNextStatement返回之前调用，模拟先到达的暂停事件
	onSetNextStatement func()
	nextStatementErr   error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		breakpoints: map[int]*fakeBreakEvent{},
		catchpoints: map[string]bool{},
		running:     true,
		ran:         make(chan struct{}, 1),
	}
}

func (s *fakeSession) record(call string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSession) Calls() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) count(call string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (s *fakeSession) Run(ctx context.Context, address string) error {
	s.record("Run")
	s.lock.Lock()
	s.address = address
	err, hook := s.runErr, s.onRun
	s.lock.Unlock()
	if hook != nil {
		hook()
	}
	s.ran <- struct{}{}
	return err
}

func (s *fakeSession) SetEventHandler(handler debugger.RemoteEventHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = handler
}

func (s *fakeSession) AddBreakpoint(file string, line int, column int) (debugger.BreakEvent, error) {
	s.record("AddBreakpoint")
	s.lock.Lock()
	defer s.lock.Unlock()
	s.nextID++
	breakEvent := &fakeBreakEvent{id: s.nextID, file: file, line: line, column: column, enabled: true,
		mode: constants.HitCountNone}
	s.breakpoints[breakEvent.id] = breakEvent
	return breakEvent, nil
}

func (s *fakeSession) RemoveBreakpoint(breakEvent debugger.BreakEvent) error {
	s.record("RemoveBreakpoint")
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.breakpoints[breakEvent.ID()]; !ok {
		return errors.New("unknown breakpoint")
	}
	delete(s.breakpoints, breakEvent.ID())
	return nil
}

func (s *fakeSession) breakpointCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.breakpoints)
}

func (s *fakeSession) AddCatchpoint(exceptionName string) (debugger.BreakEvent, error) {
	s.record("AddCatchpoint")
	s.lock.Lock()
	defer s.lock.Unlock()
	s.catchpoints[exceptionName] = true
	s.nextID++
	return &fakeBreakEvent{id: s.nextID, enabled: true}, nil
}

func (s *fakeSession) RemoveCatchpoint(exceptionName string) error {
	s.record("RemoveCatchpoint")
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.catchpoints, exceptionName)
	return nil
}

func (s *fakeSession) hasCatchpoint(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.catchpoints[name]
}

func (s *fakeSession) step(call string) error {
	s.record(call)
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stepErr != nil {
		return s.stepErr
	}
	s.running = true
	return nil
}

func (s *fakeSession) NextLine() error        { return s.step("NextLine") }
func (s *fakeSession) NextInstruction() error { return s.step("NextInstruction") }
func (s *fakeSession) StepLine() error        { return s.step("StepLine") }
func (s *fakeSession) StepInstruction() error { return s.step("StepInstruction") }
func (s *fakeSession) Finish() error          { return s.step("Finish") }
func (s *fakeSession) Continue() error        { return s.step("Continue") }

func (s *fakeSession) Stop() error {
	s.record("Stop")
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stopErr
}

func (s *fakeSession) IsRunning() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running
}

func (s *fakeSession) setRunning(running bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.running = running
}

func (s *fakeSession) ActiveThread() debugger.RemoteThread {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.active
}

func (s *fakeSession) SetActiveThread(thread debugger.RemoteThread) error {
	s.record(fmt.Sprintf("SetActiveThread %d", thread.ID()))
	s.lock.Lock()
	defer s.lock.Unlock()
	s.active = thread
	return nil
}

func (s *fakeSession) Threads(ctx context.Context) ([]debugger.RemoteThread, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active == nil {
		return nil, nil
	}
	return []debugger.RemoteThread{s.active}, nil
}

func (s *fakeSession) SetNextStatement(ctx context.Context, thread debugger.RemoteThread, file string, line int, column int) error {
	s.record(fmt.Sprintf("SetNextStatement %s:%d:%d", file, line, column))
	s.lock.Lock()
	hook, err := s.onSetNextStatement, s.nextStatementErr
	s.lock.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (s *fakeSession) Dispose() error {
	s.record("Dispose")
	s.lock.Lock()
	defer s.lock.Unlock()
	s.disposed = true
	return nil
}

// fakeThread 远程线程
type fakeThread struct {
	id     int64
	name   string
	frames []*fakeFrame
}

func (t *fakeThread) ID() int64    { return t.id }
func (t *fakeThread) Name() string { return t.name }

func (t *fakeThread) Location() string {
	if len(t.frames) == 0 {
		return ""
	}
	return t.frames[0].method
}

func (t *fakeThread) Backtrace(ctx context.Context) (debugger.Backtrace, error) {
	return &fakeBacktrace{frames: t.frames}, nil
}

type fakeBacktrace struct {
	frames []*fakeFrame
}

func (b *fakeBacktrace) FrameCount() int { return len(b.frames) }

func (b *fakeBacktrace) Frame(index int) (debugger.RemoteFrame, error) {
	if index < 0 || index >= len(b.frames) {
		return nil, errors.New("frame index out of range")
	}
	return b.frames[index], nil
}

// fakeFrame 远程栈帧
type fakeFrame struct {
	id         int
	method     string
	file       string
	line       int
	locals     []debugger.ObjectValue
	parameters []debugger.ObjectValue
	evaluate   func(ctx context.Context, expression string) (debugger.ObjectValue, error)
}

func (f *fakeFrame) ID() int            { return f.id }
func (f *fakeFrame) Method() string     { return f.method }
func (f *fakeFrame) Module() string     { return "GameMode.dll" }
func (f *fakeFrame) Language() string   { return "C#" }
func (f *fakeFrame) File() string       { return f.file }
func (f *fakeFrame) Line() int          { return f.line }
func (f *fakeFrame) Column() int        { return 1 }
func (f *fakeFrame) HasDebugInfo() bool { return f.file != "" }

func (f *fakeFrame) Locals(ctx context.Context) ([]debugger.ObjectValue, error) {
	return f.locals, nil
}

func (f *fakeFrame) Parameters(ctx context.Context) ([]debugger.ObjectValue, error) {
	return f.parameters, nil
}

func (f *fakeFrame) Evaluate(ctx context.Context, expression string) (debugger.ObjectValue, error) {
	if f.evaluate == nil {
		return &fakeValue{name: expression, typeName: "int", value: "0"}, nil
	}
	return f.evaluate(ctx, expression)
}

// fakeValue 远程值
type fakeValue struct {
	name     string
	typeName string
	value    string
	readOnly bool
	children []debugger.ObjectValue

	lock sync.Mutex
	set  []string
}

func (v *fakeValue) Name() string      { return v.name }
func (v *fakeValue) FullName() string  { return "" }
func (v *fakeValue) TypeName() string  { return v.typeName }
func (v *fakeValue) HasChildren() bool { return len(v.children) > 0 }
func (v *fakeValue) IsReadOnly() bool  { return v.readOnly }

func (v *fakeValue) Value() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.value
}

func (v *fakeValue) Children(ctx context.Context) ([]debugger.ObjectValue, error) {
	return v.children, nil
}

func (v *fakeValue) SetValue(ctx context.Context, value string) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.set = append(v.set, value)
	v.value = value
	return nil
}

// recordingSink 记录收到的IDE事件
type recordingSink struct {
	lock   sync.Mutex
	events []*debugger.Event
	ch     chan *debugger.Event
	err    error
	panics bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan *debugger.Event, 64)}
}

func (s *recordingSink) Send(event *debugger.Event) error {
	s.lock.Lock()
	s.events = append(s.events, event)
	err, panics := s.err, s.panics
	s.lock.Unlock()
	s.ch <- event
	if panics {
		panic("sink exploded")
	}
	return err
}

func (s *recordingSink) Events() []*debugger.Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*debugger.Event(nil), s.events...)
}

func (s *recordingSink) kinds() []constants.EventKind {
	var kinds []constants.EventKind
	for _, event := range s.Events() {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (s *recordingSink) ofKind(kind constants.EventKind) []*debugger.Event {
	var answer []*debugger.Event
	for _, event := range s.Events() {
		if event.Kind == kind {
			answer = append(answer, event)
		}
	}
	return answer
}

// recordingLogSink 记录目标进程的日志
type recordingLogSink struct {
	lock    sync.Mutex
	entries []debugger.LogEntry
}

func (s *recordingLogSink) Log(entry debugger.LogEntry) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingLogSink) Entries() []debugger.LogEntry {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]debugger.LogEntry(nil), s.entries...)
}
