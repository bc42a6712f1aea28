package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHelper 测试辅助结构体，一个会话对应一个模拟的调试代理
type testHelper struct {
	t       *testing.T
	agent   *fakeAgent
	session *Session
	handler *recordingHandler
}

func newTestHelper(t *testing.T) *testHelper {
	agent, conn := newFakeAgent(t)
	session := NewSession(&Option{
		Dialer: func(ctx context.Context, address string) (net.Conn, error) {
			return conn, nil
		},
		RequestTimeout: 2 * time.Second,
	})
	handler := newRecordingHandler()
	session.SetEventHandler(handler)
	t.Cleanup(func() { _ = session.Dispose() })
	return &testHelper{t: t, agent: agent, session: session, handler: handler}
}

// run 连接并等待TargetReady
func (h *testHelper) run() *debugger.TargetEvent {
	err := h.session.Run(context.Background(), "127.0.0.1:6438")
	require.NoError(h.t, err)
	return h.handler.waitFor(h.t, constants.TargetReady)
}

func (h *testHelper) lastBreakpoints(file string) *dap.SetBreakpointsRequest {
	h.t.Helper()
	request, ok := h.agent.last("setBreakpoints").(*dap.SetBreakpointsRequest)
	require.True(h.t, ok)
	assert.Equal(h.t, file, request.Arguments.Source.Path)
	return request
}

func (h *testHelper) stopped(body dap.StoppedEventBody) *debugger.TargetEvent {
	event := &dap.StoppedEvent{Event: h.agent.event("stopped"), Body: body}
	h.agent.send(event)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case target := <-h.handler.events:
			switch target.Type {
			case constants.TargetStopped, constants.TargetHitBreakpoint, constants.TargetExceptionThrown:
				return target
			}
		case <-timeout:
			h.t.Fatal("timeout waiting for stop")
			return nil
		}
	}
}

// TestRunHandshake 连接时的请求顺序，之前添加的断点在configurationDone之前下发
func TestRunHandshake(t *testing.T) {
	helper := newTestHelper(t)
	bp, err := helper.session.AddBreakpoint("GameMode.cs", 10, 1)
	require.NoError(t, err)
	_, err = helper.session.AddCatchpoint("System.NullReferenceException")
	require.NoError(t, err)
	assert.Empty(t, helper.agent.commands())

	ready := helper.run()
	assert.Equal(t, []string{"initialize", "attach", "setBreakpoints", "setExceptionBreakpoints",
		"configurationDone", "threads"}, helper.agent.commands())

	attach, ok := helper.agent.last("attach").(*dap.AttachRequest)
	require.True(t, ok)
	assert.JSONEq(t, `{"address":"127.0.0.1:6438"}`, string(attach.Arguments))

	require.NotNil(t, ready.Thread)
	assert.Equal(t, int64(1), ready.Thread.ID())
	assert.Equal(t, "Main", ready.Thread.Name())
	assert.True(t, helper.session.IsRunning())

	remoteBreakEvent := bp.(*breakEvent)
	assert.True(t, remoteBreakEvent.Verified())
	assert.NotZero(t, remoteBreakEvent.RemoteID())
}

// TestRunRetriesDial 调试代理还没有监听时按照退避重试
func TestRunRetriesDial(t *testing.T) {
	agent, conn := newFakeAgent(t)
	attempts := 0
	session := NewSession(&Option{
		Dialer: func(ctx context.Context, address string) (net.Conn, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return conn, nil
		},
		RetryInterval: time.Millisecond,
	})
	defer session.Dispose()

	require.NoError(t, session.Run(context.Background(), "127.0.0.1:6438"))
	assert.Equal(t, 3, attempts)
	assert.Contains(t, agent.commands(), "configurationDone")
}

func TestRunCancelled(t *testing.T) {
	session := NewSession(&Option{
		Dialer: func(ctx context.Context, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
		RetryInterval: time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, session.Run(ctx, "127.0.0.1:6438"))
}

func TestRunTwice(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	assert.ErrorIs(t, helper.session.Run(context.Background(), "127.0.0.1:6438"), e.ErrNotApplicable)
}

// TestBreakpointResend 断点的修改会重新下发整个文件
func TestBreakpointResend(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()

	first, err := helper.session.AddBreakpoint("GameMode.cs", 10, 1)
	require.NoError(t, err)
	second, err := helper.session.AddBreakpoint("GameMode.cs", 20, 1)
	require.NoError(t, err)
	request := helper.lastBreakpoints("GameMode.cs")
	require.Len(t, request.Arguments.Breakpoints, 2)

	require.NoError(t, second.SetHitCount(constants.HitCountMultipleOf, 3))
	require.NoError(t, second.SetCondition("player.Health < 10", false))
	request = helper.lastBreakpoints("GameMode.cs")
	require.Len(t, request.Arguments.Breakpoints, 2)
	assert.Equal(t, 20, request.Arguments.Breakpoints[1].Line)
	assert.Equal(t, "%3", request.Arguments.Breakpoints[1].HitCondition)
	assert.Equal(t, "player.Health < 10", request.Arguments.Breakpoints[1].Condition)

	// 禁用的断点不下发
	require.NoError(t, first.SetEnabled(false))
	request = helper.lastBreakpoints("GameMode.cs")
	require.Len(t, request.Arguments.Breakpoints, 1)
	assert.Equal(t, 20, request.Arguments.Breakpoints[0].Line)
	assert.False(t, first.(*breakEvent).Verified())
	assert.Zero(t, first.(*breakEvent).RemoteID())

	require.NoError(t, helper.session.RemoveBreakpoint(second))
	request = helper.lastBreakpoints("GameMode.cs")
	assert.Empty(t, request.Arguments.Breakpoints)
	// 重复删除不会再次下发
	count := len(helper.agent.commands())
	require.NoError(t, helper.session.RemoveBreakpoint(second))
	assert.Len(t, helper.agent.commands(), count)
}

func TestBreakpointFailureRollsBack(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	helper.agent.fail("setBreakpoints", "no such document")

	bp, err := helper.session.AddBreakpoint("Missing.cs", 3, 1)
	assert.Nil(t, bp)
	var remoteErr *e.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "setBreakpoints", remoteErr.Command)
	assert.Empty(t, helper.session.fileBreakpoints("Missing.cs"))
}

// TestCatchpoints 同名异常断点只有一个，每个异常一个exceptionOptions
func TestCatchpoints(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()

	first, err := helper.session.AddCatchpoint("System.Exception")
	require.NoError(t, err)
	again, err := helper.session.AddCatchpoint("System.Exception")
	require.NoError(t, err)
	assert.Same(t, first, again)
	_, err = helper.session.AddCatchpoint("System.ArgumentException")
	require.NoError(t, err)

	request, ok := helper.agent.last("setExceptionBreakpoints").(*dap.SetExceptionBreakpointsRequest)
	require.True(t, ok)
	require.Len(t, request.Arguments.ExceptionOptions, 2)
	assert.Equal(t, []string{"System.Exception"}, request.Arguments.ExceptionOptions[0].Path[0].Names)
	assert.Equal(t, "always", string(request.Arguments.ExceptionOptions[0].BreakMode))

	require.NoError(t, first.SetEnabled(false))
	request = helper.agent.last("setExceptionBreakpoints").(*dap.SetExceptionBreakpointsRequest)
	require.Len(t, request.Arguments.ExceptionOptions, 1)
	assert.Equal(t, []string{"System.ArgumentException"}, request.Arguments.ExceptionOptions[0].Path[0].Names)

	require.NoError(t, helper.session.RemoveCatchpoint("System.ArgumentException"))
	request = helper.agent.last("setExceptionBreakpoints").(*dap.SetExceptionBreakpointsRequest)
	assert.Empty(t, request.Arguments.ExceptionOptions)
}

// TestStoppedReasons 暂停原因到事件类型的映射
func TestStoppedReasons(t *testing.T) {
	helper := newTestHelper(t)
	bp, err := helper.session.AddBreakpoint("GameMode.cs", 10, 1)
	require.NoError(t, err)
	helper.run()
	remoteID := bp.(*breakEvent).RemoteID()

	event := helper.stopped(dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 2, HitBreakpointIds: []int{remoteID}})
	assert.Equal(t, constants.TargetHitBreakpoint, event.Type)
	assert.Same(t, bp, event.BreakEvent)
	assert.Equal(t, int64(2), event.Thread.ID())
	assert.Equal(t, int64(2), helper.session.ActiveThread().ID())
	assert.False(t, helper.session.IsRunning())

	event = helper.stopped(dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1, HitBreakpointIds: []int{999}})
	assert.Equal(t, constants.TargetStopped, event.Type)
	assert.Nil(t, event.BreakEvent)

	event = helper.stopped(dap.StoppedEventBody{Reason: "exception", ThreadId: 1, Description: "Object reference not set"})
	assert.Equal(t, constants.TargetExceptionThrown, event.Type)
	assert.Equal(t, "Object reference not set", event.Text)

	event = helper.stopped(dap.StoppedEventBody{Reason: "exception", ThreadId: 1, Text: "System.NullReferenceException",
		Description: "ignored"})
	assert.Equal(t, "System.NullReferenceException", event.Text)

	event = helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 1})
	assert.Equal(t, constants.TargetStopped, event.Type)
}

// TestRunControlRequests 单步和继续作用在活动线程上
func TestRunControlRequests(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 2})

	require.NoError(t, helper.session.NextLine())
	next := helper.agent.last("next").(*dap.NextRequest)
	assert.Equal(t, 2, next.Arguments.ThreadId)
	assert.Equal(t, "line", string(next.Arguments.Granularity))
	assert.True(t, helper.session.IsRunning())

	require.NoError(t, helper.session.NextInstruction())
	next = helper.agent.last("next").(*dap.NextRequest)
	assert.Equal(t, "instruction", string(next.Arguments.Granularity))

	require.NoError(t, helper.session.StepLine())
	stepIn := helper.agent.last("stepIn").(*dap.StepInRequest)
	assert.Equal(t, "line", string(stepIn.Arguments.Granularity))

	require.NoError(t, helper.session.StepInstruction())
	stepIn = helper.agent.last("stepIn").(*dap.StepInRequest)
	assert.Equal(t, "instruction", string(stepIn.Arguments.Granularity))

	require.NoError(t, helper.session.Finish())
	assert.Equal(t, 2, helper.agent.last("stepOut").(*dap.StepOutRequest).Arguments.ThreadId)

	threads, err := helper.session.Threads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.NoError(t, helper.session.SetActiveThread(threads[0]))
	require.NoError(t, helper.session.Continue())
	assert.Equal(t, 1, helper.agent.last("continue").(*dap.ContinueRequest).Arguments.ThreadId)

	require.NoError(t, helper.session.Stop())
	assert.Equal(t, 1, helper.agent.last("pause").(*dap.PauseRequest).Arguments.ThreadId)
}

func TestRunControlFailure(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 1})
	helper.agent.fail("next", "thread is not suspended")

	err := helper.session.NextLine()
	assert.ErrorIs(t, err, e.ErrRemoteRequestFailed)
	assert.Contains(t, err.Error(), "thread is not suspended")
	assert.False(t, helper.session.IsRunning())
}

func TestRequestBeforeRun(t *testing.T) {
	session := NewSession(nil)
	_, err := session.Threads(context.Background())
	assert.ErrorIs(t, err, e.ErrSessionNotStarted)
	assert.ErrorIs(t, session.NextLine(), e.ErrThreadNotFound)
	assert.Nil(t, session.ActiveThread())
}

// TestBacktraceAndValues 调用栈和变量
func TestBacktraceAndValues(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	event := helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 1})
	ctx := context.Background()

	backtrace, err := event.Thread.Backtrace(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, backtrace.FrameCount())
	assert.Equal(t, "GameMode.OnTick", event.Thread.Location())

	frame, err := backtrace.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, "GameMode.cs", frame.File())
	assert.Equal(t, 12, frame.Line())
	assert.Equal(t, 5, frame.Column())
	assert.Equal(t, "GameMode.dll", frame.Module())
	assert.Equal(t, "C#", frame.Language())
	assert.True(t, frame.HasDebugInfo())

	external, err := backtrace.Frame(1)
	require.NoError(t, err)
	assert.False(t, external.HasDebugInfo())
	assert.Equal(t, "", external.File())

	_, err = backtrace.Frame(5)
	assert.ErrorIs(t, err, e.ErrFrameNotFound)

	locals, err := frame.Locals(ctx)
	require.NoError(t, err)
	require.Len(t, locals, 2)
	assert.Equal(t, "count", locals[0].Name())
	assert.Equal(t, "3", locals[0].Value())
	assert.Equal(t, "int", locals[0].TypeName())
	assert.False(t, locals[0].HasChildren())

	parameters, err := frame.Parameters(ctx)
	require.NoError(t, err)
	require.Len(t, parameters, 1)
	assert.Equal(t, "player", parameters[0].Name())
	assert.True(t, parameters[0].HasChildren())

	children, err := parameters[0].Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "player.Health", children[0].FullName())

	require.NoError(t, children[0].SetValue(ctx, "50"))
	setVariable := helper.agent.last("setVariable").(*dap.SetVariableRequest)
	assert.Equal(t, 12, setVariable.Arguments.VariablesReference)
	assert.Equal(t, "Health", setVariable.Arguments.Name)
	assert.Equal(t, "50", children[0].Value())

	result, err := frame.Evaluate(ctx, "count * 14")
	require.NoError(t, err)
	assert.Equal(t, "42", result.Value())
	assert.Equal(t, "int", result.TypeName())
	evaluate := helper.agent.last("evaluate").(*dap.EvaluateRequest)
	assert.Equal(t, "count * 14", evaluate.Arguments.Expression)
	assert.Equal(t, 1000, evaluate.Arguments.FrameId)

	require.NoError(t, result.SetValue(ctx, "7"))
	setExpression := helper.agent.last("setExpression").(*dap.SetExpressionRequest)
	assert.Equal(t, "7", setExpression.Arguments.Value)
	assert.Equal(t, 1000, setExpression.Arguments.FrameId)
	assert.Equal(t, "7", result.Value())
}

func TestHasAttribute(t *testing.T) {
	value := map[string]interface{}{
		"name":             "Name",
		"presentationHint": map[string]interface{}{"attributes": []string{"static", "readOnly"}},
	}
	assert.True(t, hasAttribute(value, "readOnly"))
	assert.False(t, hasAttribute(value, "constant"))
	assert.False(t, hasAttribute(dap.Variable{Name: "count"}, "readOnly"))

	readOnly := &objectValue{name: "Name", readOnly: true}
	assert.ErrorIs(t, readOnly.SetValue(context.Background(), "x"), e.ErrReadOnly)
}

func TestSetNextStatement(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	event := helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 1})

	require.NoError(t, helper.session.SetNextStatement(context.Background(), event.Thread, "GameMode.cs", 20, 1))
	gotoRequest := helper.agent.last("goto").(*dap.GotoRequest)
	assert.Equal(t, 7, gotoRequest.Arguments.TargetId)
	assert.Equal(t, 1, gotoRequest.Arguments.ThreadId)

	err := helper.session.SetNextStatement(context.Background(), event.Thread, "GameMode.cs", 99, 1)
	assert.ErrorIs(t, err, e.ErrNotApplicable)
	assert.ErrorIs(t, helper.session.SetNextStatement(context.Background(), nil, "GameMode.cs", 20, 1),
		e.ErrThreadNotFound)
}

// TestTargetEvents 线程、输出和退出事件
func TestTargetEvents(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()
	agent := helper.agent

	started := &dap.ThreadEvent{Event: agent.event("thread")}
	started.Body.Reason = "started"
	started.Body.ThreadId = 3
	agent.send(started)
	event := helper.handler.waitFor(t, constants.TargetThreadStarted)
	assert.Equal(t, int64(3), event.Thread.ID())

	exited := &dap.ThreadEvent{Event: agent.event("thread")}
	exited.Body.Reason = "exited"
	exited.Body.ThreadId = 3
	agent.send(exited)
	event = helper.handler.waitFor(t, constants.TargetThreadStopped)
	assert.Equal(t, int64(3), event.Thread.ID())

	output := &dap.OutputEvent{Event: agent.event("output")}
	output.Body.Category = "stderr"
	output.Body.Output = "Unhandled exception\n"
	agent.send(output)
	event = helper.handler.waitFor(t, constants.TargetOutput)
	assert.True(t, event.IsError)
	assert.Equal(t, "Unhandled exception\n", event.Text)

	continued := &dap.ContinuedEvent{Event: agent.event("continued")}
	continued.Body.ThreadId = 1
	agent.send(continued)
	event = helper.handler.waitFor(t, constants.TargetResumed)
	assert.Equal(t, int64(1), event.Thread.ID())
	assert.True(t, helper.session.IsRunning())

	exitedProcess := &dap.ExitedEvent{Event: agent.event("exited")}
	exitedProcess.Body.ExitCode = 4
	agent.send(exitedProcess)
	event = helper.handler.waitFor(t, constants.TargetExited)
	assert.Equal(t, 4, event.ExitCode)

	// 退出只上报一次
	agent.send(&dap.TerminatedEvent{Event: agent.event("terminated")})
	assert.Never(t, func() bool {
		select {
		case event := <-helper.handler.events:
			return event.Type == constants.TargetExited
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond)
}

// TestHandlerCanIssueRequests 事件处理中可以继续发送请求
func TestHandlerCanIssueRequests(t *testing.T) {
	helper := newTestHelper(t)
	names := make(chan string, 1)
	helper.handler.onEvent = func(event *debugger.TargetEvent) {
		if event.Type != constants.TargetStopped {
			return
		}
		backtrace, err := event.Thread.Backtrace(context.Background())
		if err != nil {
			names <- err.Error()
			return
		}
		frame, _ := backtrace.Frame(0)
		names <- frame.Method()
	}
	helper.run()
	helper.stopped(dap.StoppedEventBody{Reason: "pause", ThreadId: 1})

	select {
	case name := <-names:
		assert.Equal(t, "GameMode.OnTick", name)
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked")
	}
}

func TestConnectionLost(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()

	require.NoError(t, helper.agent.conn.Close())
	event := helper.handler.waitFor(t, constants.TargetExited)
	assert.Equal(t, 0, event.ExitCode)
	assert.False(t, helper.session.IsRunning())

	_, err := helper.session.Threads(context.Background())
	assert.ErrorIs(t, err, e.ErrRemoteClosed)
}

// TestDispose 主动断开不上报退出事件
func TestDispose(t *testing.T) {
	helper := newTestHelper(t)
	helper.run()

	require.NoError(t, helper.session.Dispose())
	assert.Contains(t, helper.agent.commands(), "disconnect")
	require.NoError(t, helper.session.Dispose())
	assert.Never(t, func() bool {
		select {
		case event := <-helper.handler.events:
			return event.Type == constants.TargetExited
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond)
	assert.ErrorIs(t, helper.session.Run(context.Background(), "127.0.0.1:6438"), e.ErrRemoteClosed)
}

func TestHitCondition(t *testing.T) {
	tests := []struct {
		mode  constants.HitCountMode
		count int
		text  string
	}{
		{constants.HitCountNone, 0, ""},
		{constants.HitCountEqualTo, 5, "==5"},
		{constants.HitCountGreaterThanOrEqualTo, 2, ">=2"},
		{constants.HitCountMultipleOf, 3, "%3"},
	}
	for _, test := range tests {
		assert.Equal(t, test.text, EncodeHitCondition(test.mode, test.count))
		mode, count, err := DecodeHitCondition(test.text)
		require.NoError(t, err)
		assert.Equal(t, test.mode, mode)
		assert.Equal(t, test.count, count)
	}

	mode, count, err := DecodeHitCondition(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, constants.HitCountEqualTo, mode)
	assert.Equal(t, 7, count)

	_, _, err = DecodeHitCondition(">=abc")
	assert.Error(t, err)
}
