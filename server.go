package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/fansqz/sampsharp-debugger/config"
	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/fansqz/sampsharp-debugger/debugger/mono_debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/fansqz/sampsharp-debugger/protocol"
	"github.com/google/go-dap"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// handleConnection 处理一个IDE连接
// 请求在读取协程中按顺序处理，事件由调试引擎的协程发送
func handleConnection(conn net.Conn, cfg *config.Config, sessionFactory func() debugger.RemoteSession) {
	debugSession := newDebugSession(conn, cfg, sessionFactory)
	for {
		err := debugSession.handleRequest()
		if err == nil {
			continue
		}
		var fieldErr *dap.DecodeProtocolMessageFieldError
		if errors.As(err, &fieldErr) {
			logrus.Warnf("decode request fail, err = %v", err)
			continue
		}
		if errors.Is(err, io.EOF) {
			logrus.Infof("No more data to read")
		} else {
			logrus.Errorf("Server error, err = %v", err)
		}
		break
	}

	logrus.Infof("Closing connection from %s", conn.RemoteAddr())
	debugSession.close()
	_ = conn.Close()
}

// DebugSession 一个IDE连接对应的调试会话
type DebugSession struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter
	// content 当前请求的原始报文，只在读取协程中使用
	content json.RawMessage
	// sendLock 请求处理和调试引擎的事件都会写连接
	sendLock deadlock.Mutex
	seq      int

	config         *config.Config
	sessionFactory func() debugger.RemoteSession
	sinkTable      *mono_debugger.SinkTable
	eventSink      *eventSink
	logSink        *logSink
	references     *ReferenceUtil

	lock        deadlock.RWMutex
	debugger    *mono_debugger.MonoDebugger
	launched    bool
	noDebug     bool
	breakpoints map[string][]debugger.PendingBreakpoint
	exceptions  []string
	evaluations map[int]*pendingEvaluation
	gotoTargets map[int]debugger.DocumentContext
	nextTarget  int
}

// pendingEvaluation 等待异步求值结果的evaluate请求
type pendingEvaluation struct {
	request    *dap.EvaluateRequest
	expression debugger.Expression
}

func newDebugSession(conn net.Conn, cfg *config.Config, sessionFactory func() debugger.RemoteSession) *DebugSession {
	d := &DebugSession{
		conn:           conn,
		rw:             bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		config:         cfg,
		sessionFactory: sessionFactory,
		sinkTable:      mono_debugger.NewSinkTable(),
		references:     NewReferenceUtil(),
		breakpoints:    map[string][]debugger.PendingBreakpoint{},
		evaluations:    map[int]*pendingEvaluation{},
		gotoTargets:    map[int]debugger.DocumentContext{},
	}
	d.eventSink = &eventSink{session: d}
	d.logSink = &logSink{session: d}
	return d
}

func (d *DebugSession) handleRequest() error {
	content, err := dap.ReadBaseMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	request, err := dap.DecodeProtocolMessage(content)
	if err != nil {
		return err
	}
	d.content = content
	d.dispatchRequest(request)
	return nil
}

func (d *DebugSession) dispatchRequest(request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(request)
	case *dap.AttachRequest:
		d.onAttachRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		d.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(request)
	case *dap.NextRequest:
		d.onNextRequest(request)
	case *dap.StepInRequest:
		d.onStepInRequest(request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(request)
	case *dap.StepBackRequest:
		d.onStepBackRequest(request)
	case *dap.PauseRequest:
		d.onPauseRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case *dap.SetVariableRequest:
		d.onSetVariableRequest(request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(request)
	case *dap.CancelRequest:
		d.onCancelRequest(request)
	case *dap.GotoTargetsRequest:
		d.onGotoTargetsRequest(request)
	case *dap.GotoRequest:
		d.onGotoRequest(request)
	default:
		if message, ok := request.(dap.RequestMessage); ok {
			baseReq := message.GetRequest()
			d.send(newErrorResponse(baseReq.Seq, baseReq.Command, e.ErrNotImplemented))
			return
		}
		logrus.Warnf("Unable to process %#v", request)
	}
}

// send Message响应给客户端
func (d *DebugSession) send(message dap.Message) error {
	d.sendLock.Lock()
	defer d.sendLock.Unlock()
	d.seq++
	switch m := message.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = d.seq
	case dap.EventMessage:
		m.GetEvent().Seq = d.seq
	}
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Warnf("write message fail, err = %v", err)
		return err
	}
	return d.rw.Flush()
}

// engine 获取调试引擎，launch或者attach之前返回错误
func (d *DebugSession) engine() (*mono_debugger.MonoDebugger, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.debugger == nil {
		return nil, e.ErrSessionNotStarted
	}
	return d.debugger, nil
}

// newDebugger 创建调试引擎，一个连接只能创建一次
func (d *DebugSession) newDebugger(address string) (*mono_debugger.MonoDebugger, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.debugger != nil {
		return nil, e.ErrNotApplicable
	}
	if address == "" {
		address = d.config.DebuggerAddress
	}
	d.debugger = mono_debugger.NewMonoDebugger(&mono_debugger.Option{
		SessionFactory:  d.sessionFactory,
		SinkTable:       d.sinkTable,
		LogSink:         d.logSink,
		DebuggerAddress: address,
		ConnectTimeout:  d.config.ConnectTimeout.Duration,
	})
	return d.debugger, nil
}

// close 连接断开，启动的进程会被结束，attach的进程继续运行
func (d *DebugSession) close() {
	d.lock.RLock()
	engine, launched := d.debugger, d.launched
	d.lock.RUnlock()
	if engine == nil || engine.State() == constants.SessionTerminated {
		return
	}
	var err error
	if launched {
		err = engine.TerminateProcess(context.Background())
	} else {
		err = engine.Detach(context.Background())
	}
	if err != nil {
		logrus.Warnf("close debug session fail, err = %v", err)
	}
}

// argument 从原始报文读取可选参数，区分显式的false和未设置
func (d *DebugSession) argument(path string) gjson.Result {
	return gjson.GetBytes(d.content, "arguments."+path)
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

// newErrorResponse 错误id由操作结果决定
func newErrorResponse(requestSeq int, command string, err error) *dap.ErrorResponse {
	result := protocol.ResultOf(err)
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = err.Error()
	er.Body.Error = &dap.ErrorMessage{
		Id:       errorIDBase + int(result),
		Format:   err.Error(),
		ShowUser: e.IsConfigurationError(err),
	}
	return er
}

const errorIDBase = 2000

// sendErrorResponse 发送失败响应并记录日志
func (d *DebugSession) sendErrorResponse(request dap.Request, err error) {
	logrus.Errorf("[%s] fail, err = %v", request.Command, err)
	d.send(newErrorResponse(request.Seq, request.Command, err))
}
