package remote

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/google/go-dap"
)

// fakeAgent 在net.Pipe另一端模拟目标进程中的调试代理
type fakeAgent struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	writeLock sync.Mutex
	lock      sync.Mutex
	seq       int
	requests  []dap.RequestMessage
	failures  map[string]string
	nextBpID  int
}

func newFakeAgent(t *testing.T) (*fakeAgent, net.Conn) {
	agentConn, sessionConn := net.Pipe()
	agent := &fakeAgent{
		t:        t,
		conn:     agentConn,
		reader:   bufio.NewReader(agentConn),
		writer:   bufio.NewWriter(agentConn),
		failures: map[string]string{},
		nextBpID: 100,
	}
	go agent.serve()
	t.Cleanup(func() { _ = agentConn.Close() })
	return agent, sessionConn
}

// fail 让指定命令返回失败
func (a *fakeAgent) fail(command string, message string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.failures[command] = message
}

func (a *fakeAgent) commands() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	var answer []string
	for _, request := range a.requests {
		answer = append(answer, request.GetRequest().Command)
	}
	return answer
}

// last 最后一个指定命令的请求
func (a *fakeAgent) last(command string) dap.RequestMessage {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i := len(a.requests) - 1; i >= 0; i-- {
		if a.requests[i].GetRequest().Command == command {
			return a.requests[i]
		}
	}
	return nil
}

func (a *fakeAgent) nextSeq() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.seq++
	return a.seq
}

func (a *fakeAgent) send(message dap.Message) {
	a.writeLock.Lock()
	defer a.writeLock.Unlock()
	if err := dap.WriteProtocolMessage(a.writer, message); err != nil {
		return
	}
	_ = a.writer.Flush()
}

func (a *fakeAgent) event(name string) dap.Event {
	return dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"}, Event: name}
}

func (a *fakeAgent) serve() {
	for {
		message, err := dap.ReadProtocolMessage(a.reader)
		if err != nil {
			return
		}
		request, ok := message.(dap.RequestMessage)
		if !ok {
			continue
		}
		a.lock.Lock()
		a.requests = append(a.requests, request)
		failure, failed := a.failures[request.GetRequest().Command]
		a.lock.Unlock()

		response := dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
			RequestSeq:      request.GetSeq(),
			Command:         request.GetRequest().Command,
			Success:         true,
		}
		if failed {
			errorResponse := &dap.ErrorResponse{Response: response}
			errorResponse.Success = false
			errorResponse.Message = failure
			errorResponse.Body.Error = &dap.ErrorMessage{Id: 1, Format: failure}
			a.send(errorResponse)
			continue
		}
		a.respond(request, response)
	}
}

func (a *fakeAgent) respond(message dap.RequestMessage, response dap.Response) {
	switch request := message.(type) {
	case *dap.InitializeRequest:
		a.send(&dap.InitializeResponse{Response: response})
	case *dap.AttachRequest:
		a.send(&dap.AttachResponse{Response: response})
		a.send(&dap.InitializedEvent{Event: a.event("initialized")})
	case *dap.SetBreakpointsRequest:
		breakpoints := []dap.Breakpoint{}
		for _, breakpoint := range request.Arguments.Breakpoints {
			a.lock.Lock()
			a.nextBpID++
			id := a.nextBpID
			a.lock.Unlock()
			breakpoints = append(breakpoints, dap.Breakpoint{Id: id, Verified: true, Line: breakpoint.Line})
		}
		resp := &dap.SetBreakpointsResponse{Response: response}
		resp.Body.Breakpoints = breakpoints
		a.send(resp)
	case *dap.SetExceptionBreakpointsRequest:
		a.send(&dap.SetExceptionBreakpointsResponse{Response: response})
	case *dap.ConfigurationDoneRequest:
		a.send(&dap.ConfigurationDoneResponse{Response: response})
	case *dap.ThreadsRequest:
		resp := &dap.ThreadsResponse{Response: response}
		resp.Body.Threads = []dap.Thread{{Id: 1, Name: "Main"}, {Id: 2, Name: "Timer"}}
		a.send(resp)
	case *dap.StackTraceRequest:
		resp := &dap.StackTraceResponse{Response: response}
		resp.Body.StackFrames = []dap.StackFrame{
			{Id: 1000, Name: "GameMode.OnTick", Source: &dap.Source{Path: "GameMode.cs"}, Line: 12, Column: 5,
				ModuleId: "GameMode.dll"},
			{Id: 1001, Name: "[External Code]"},
		}
		resp.Body.TotalFrames = 2
		a.send(resp)
	case *dap.ScopesRequest:
		resp := &dap.ScopesResponse{Response: response}
		resp.Body.Scopes = []dap.Scope{
			{Name: "Locals", VariablesReference: 10},
			{Name: "Arguments", VariablesReference: 11},
		}
		a.send(resp)
	case *dap.VariablesRequest:
		resp := &dap.VariablesResponse{Response: response}
		player := dap.Variable{Name: "player", Value: "{Player 0}", Type: "BasePlayer", EvaluateName: "player",
			VariablesReference: 12}
		switch request.Arguments.VariablesReference {
		case 10:
			resp.Body.Variables = []dap.Variable{{Name: "count", Value: "3", Type: "int", EvaluateName: "count"}, player}
		case 11:
			resp.Body.Variables = []dap.Variable{player}
		case 12:
			resp.Body.Variables = []dap.Variable{{Name: "Health", Value: "100", Type: "float", EvaluateName: "player.Health"}}
		default:
			resp.Body.Variables = []dap.Variable{}
		}
		a.send(resp)
	case *dap.EvaluateRequest:
		resp := &dap.EvaluateResponse{Response: response}
		resp.Body.Result = "42"
		resp.Body.Type = "int"
		a.send(resp)
	case *dap.SetVariableRequest:
		resp := &dap.SetVariableResponse{Response: response}
		resp.Body.Value = request.Arguments.Value
		a.send(resp)
	case *dap.SetExpressionRequest:
		resp := &dap.SetExpressionResponse{Response: response}
		resp.Body.Value = request.Arguments.Value
		a.send(resp)
	case *dap.GotoTargetsRequest:
		resp := &dap.GotoTargetsResponse{Response: response}
		resp.Body.Targets = []dap.GotoTarget{}
		if request.Arguments.Line != 99 {
			resp.Body.Targets = []dap.GotoTarget{{Id: 7, Label: "GameMode.cs", Line: request.Arguments.Line}}
		}
		a.send(resp)
	case *dap.GotoRequest:
		a.send(&dap.GotoResponse{Response: response})
	case *dap.NextRequest:
		a.send(&dap.NextResponse{Response: response})
	case *dap.StepInRequest:
		a.send(&dap.StepInResponse{Response: response})
	case *dap.StepOutRequest:
		a.send(&dap.StepOutResponse{Response: response})
	case *dap.ContinueRequest:
		a.send(&dap.ContinueResponse{Response: response})
	case *dap.PauseRequest:
		a.send(&dap.PauseResponse{Response: response})
	case *dap.DisconnectRequest:
		a.send(&dap.DisconnectResponse{Response: response})
	default:
		errorResponse := &dap.ErrorResponse{Response: response}
		errorResponse.Success = false
		errorResponse.Message = "unsupported"
		a.send(errorResponse)
	}
}

// recordingHandler 记录远程会话上报的事件
type recordingHandler struct {
	events  chan *debugger.TargetEvent
	onEvent func(event *debugger.TargetEvent)
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan *debugger.TargetEvent, 64)}
}

func (h *recordingHandler) HandleTargetEvent(event *debugger.TargetEvent) {
	if h.onEvent != nil {
		h.onEvent(event)
	}
	h.events <- event
}

// waitFor 等待指定类型的事件，跳过其他事件
func (h *recordingHandler) waitFor(t *testing.T, eventType constants.TargetEventType) *debugger.TargetEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-h.events:
			if event.Type == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %v", eventType)
			return nil
		}
	}
}
