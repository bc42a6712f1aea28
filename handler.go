package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/fansqz/sampsharp-debugger/debugger/remote"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/fansqz/sampsharp-debugger/protocol"
	"github.com/fansqz/sampsharp-debugger/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	// allExceptionsFilter 异常断点过滤器，对应所有托管异常
	allExceptionsFilter = "all"
	allExceptionsName   = "System.Exception"
)

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsHitConditionalBreakpoints = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: allExceptionsFilter, Label: "All Exceptions"},
	}
	response.Body.SupportsExceptionOptions = true
	response.Body.SupportsSetVariable = true
	response.Body.SupportsGotoTargetsRequest = true
	response.Body.SupportsCancelRequest = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportTerminateDebuggee = true
	response.Body.SupportsStepBack = false
	d.send(response)
}

// onLaunchRequest 启动服务器进程并在后台连接
func (d *DebugSession) onLaunchRequest(request *dap.LaunchRequest) {
	args := &protocol.LaunchArguments{}
	if err := json.Unmarshal(request.Arguments, args); err != nil {
		d.sendErrorResponse(request.Request, fmt.Errorf("invalid launch arguments: %w", err))
		return
	}
	engine, err := d.newDebugger(args.DebuggerAddress)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	ctx := context.Background()
	if _, err = engine.LaunchSuspended(ctx, d.launchOption(args)); err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	d.lock.Lock()
	d.launched = true
	d.noDebug = args.NoDebug
	d.lock.Unlock()
	if err = engine.Attach(ctx, d.eventSink); err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}

	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

// launchOption launch参数优先，没有时使用配置
func (d *DebugSession) launchOption(args *protocol.LaunchArguments) *debugger.LaunchOption {
	option := &debugger.LaunchOption{
		OutputDirectory:  args.OutputDirectory,
		ServerExecutable: args.ServerExecutable,
		Gamemode:         args.Gamemode,
		DebuggerAddress:  args.DebuggerAddress,
		DynamicPort:      d.config.DynamicPort,
		UsePTY:           d.config.UsePTY,
		Args:             args.Args,
		Env:              args.Env,
		ConnectTimeout:   d.config.ConnectTimeout.Duration,
		LogSink:          d.logSink,
	}
	if option.ServerExecutable == "" {
		option.ServerExecutable = d.config.ServerExecutable
	}
	if option.Gamemode == "" {
		option.Gamemode = d.config.Gamemode
	}
	if option.DebuggerAddress == "" {
		option.DebuggerAddress = d.config.DebuggerAddress
	}
	return option
}

// onAttachRequest 连接已经在运行的服务器进程
func (d *DebugSession) onAttachRequest(request *dap.AttachRequest) {
	args := &protocol.AttachArguments{}
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, args); err != nil {
			d.sendErrorResponse(request.Request, fmt.Errorf("invalid attach arguments: %w", err))
			return
		}
	}
	engine, err := d.newDebugger(args.DebuggerAddress)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	if err = engine.Attach(context.Background(), d.eventSink); err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

// onDisconnectRequest 没有指定terminateDebuggee时，launch的进程会被结束，attach的进程继续运行
func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	d.lock.RLock()
	engine, terminate := d.debugger, d.launched
	d.lock.RUnlock()
	if value := d.argument("terminateDebuggee"); value.Exists() {
		terminate = value.Bool()
	}
	if engine != nil && engine.State() != constants.SessionTerminated {
		var err error
		if terminate && engine.CanTerminateProcess() == nil {
			err = engine.TerminateProcess(context.Background())
		} else {
			err = engine.Detach(context.Background())
			d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		}
		if err != nil {
			logrus.Warnf("[disconnect] fail, err = %v", err)
		}
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(request *dap.TerminateRequest) {
	engine, err := d.engine()
	if err == nil {
		err = engine.CanTerminateProcess()
	}
	if err == nil {
		err = engine.TerminateProcess(context.Background())
	}
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onSetBreakpointsRequest 删除文件中原有的断点，重新创建并绑定
func (d *DebugSession) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	path := request.Arguments.Source.Path
	engine, err := d.engine()
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	d.lock.Lock()
	previous := d.breakpoints[path]
	delete(d.breakpoints, path)
	noDebug := d.noDebug
	d.lock.Unlock()
	for _, pending := range previous {
		if err = pending.Delete(); err != nil {
			logrus.Warnf("[setBreakpoints] delete %d fail, err = %v", pending.ID(), err)
		}
	}

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	var created []debugger.PendingBreakpoint
	for i, sourceBreakpoint := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Line = sourceBreakpoint.Line
		if noDebug {
			response.Body.Breakpoints[i].Message = "debugging is disabled"
			continue
		}
		breakpointRequest, err := newBreakpointRequest(path, sourceBreakpoint)
		if err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		pending, err := engine.CreatePendingBreakpoint(breakpointRequest)
		if err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		created = append(created, pending)
		response.Body.Breakpoints[i].Id = pending.ID()
		if err = pending.Bind(); err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		response.Body.Breakpoints[i].Verified = true
	}
	d.lock.Lock()
	d.breakpoints[path] = created
	d.lock.Unlock()
	d.send(response)
}

// newBreakpointRequest DAP中的行列从1开始，断点请求中从0开始
func newBreakpointRequest(path string, sourceBreakpoint dap.SourceBreakpoint) (*debugger.BreakpointRequest, error) {
	column := sourceBreakpoint.Column - 1
	if column < 0 {
		column = 0
	}
	request := debugger.NewLineBreakpointRequest(path, sourceBreakpoint.Line-1, column)
	if sourceBreakpoint.Condition != "" {
		request.Condition = debugger.BreakpointCondition{
			Style:      constants.ConditionWhenTrue,
			Expression: sourceBreakpoint.Condition,
		}
	}
	passCount, err := passCountOf(sourceBreakpoint.HitCondition)
	if err != nil {
		return nil, err
	}
	request.PassCount = passCount
	return request, nil
}

// passCountOf 解析命中次数条件，格式和远程会话相同
func passCountOf(hitCondition string) (debugger.PassCount, error) {
	mode, count, err := remote.DecodeHitCondition(hitCondition)
	if err != nil {
		return debugger.PassCount{}, err
	}
	switch mode {
	case constants.HitCountEqualTo:
		return debugger.PassCount{Style: constants.PassCountEqual, Count: count}, nil
	case constants.HitCountGreaterThanOrEqualTo:
		return debugger.PassCount{Style: constants.PassCountEqualOrGreater, Count: count}, nil
	case constants.HitCountMultipleOf:
		return debugger.PassCount{Style: constants.PassCountMod, Count: count}, nil
	default:
		return debugger.PassCount{Style: constants.PassCountNone}, nil
	}
}

// onSetExceptionBreakpointsRequest 过滤器和exceptionOptions都转换为按名称的异常断点
func (d *DebugSession) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	engine, err := d.engine()
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	var names []string
	for _, filter := range request.Arguments.Filters {
		if filter == allExceptionsFilter {
			names = append(names, allExceptionsName)
		}
	}
	for _, option := range request.Arguments.ExceptionOptions {
		if string(option.BreakMode) == "never" || len(option.Path) == 0 {
			continue
		}
		names = append(names, option.Path[len(option.Path)-1].Names...)
	}

	d.lock.Lock()
	previous := d.exceptions
	d.exceptions = names
	d.lock.Unlock()
	// 只同步变化的部分
	for _, name := range utils.SetDiff(previous, utils.List2set(names)) {
		if err = engine.RemoveSetException(name); err != nil {
			logrus.Warnf("[setExceptionBreakpoints] remove %s fail, err = %v", name, err)
		}
	}
	for _, name := range utils.SetDiff(names, utils.List2set(previous)) {
		if err = engine.SetException(name, true); err != nil {
			d.sendErrorResponse(request.Request, err)
			return
		}
	}
	response := &dap.SetExceptionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onContinueRequest(request *dap.ContinueRequest) {
	engine, err := d.engine()
	if err == nil {
		d.references.Reset()
		if request.Arguments.ThreadId != 0 {
			err = engine.ExecuteOnThread(context.Background(), int64(request.Arguments.ThreadId))
		} else {
			err = engine.Continue(context.Background())
		}
	}
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

// step 单步请求，完成以后会收到StepComplete事件
func (d *DebugSession) step(threadID int, kind constants.StepKind, granularity string) error {
	engine, err := d.engine()
	if err != nil {
		return err
	}
	d.references.Reset()
	return engine.Step(context.Background(), int64(threadID), kind, stepUnitOf(granularity))
}

func stepUnitOf(granularity string) constants.StepUnit {
	switch granularity {
	case "instruction":
		return constants.StepUnitInstruction
	case "statement":
		return constants.StepUnitStatement
	default:
		return constants.StepUnitLine
	}
}

func (d *DebugSession) onNextRequest(request *dap.NextRequest) {
	err := d.step(request.Arguments.ThreadId, constants.StepOver, string(request.Arguments.Granularity))
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepInRequest(request *dap.StepInRequest) {
	err := d.step(request.Arguments.ThreadId, constants.StepInto, string(request.Arguments.Granularity))
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepOutRequest(request *dap.StepOutRequest) {
	err := d.step(request.Arguments.ThreadId, constants.StepOut, "")
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepBackRequest(request *dap.StepBackRequest) {
	err := d.step(request.Arguments.ThreadId, constants.StepBackwards, "")
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.StepBackResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onPauseRequest(request *dap.PauseRequest) {
	engine, err := d.engine()
	if err == nil {
		err = engine.CauseBreak(context.Background())
	}
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{}
	if engine, err := d.engine(); err == nil {
		for _, thread := range engine.Threads() {
			info := thread.Info()
			name := info.Name
			if name == "" {
				name = fmt.Sprintf("Thread #%d", info.ID)
			}
			response.Body.Threads = append(response.Body.Threads, dap.Thread{Id: int(info.ID), Name: name})
		}
	}
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	frames, err := d.frames(request.Arguments.ThreadId)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	total := len(frames)
	start := request.Arguments.StartFrame
	if start > total {
		start = total
	}
	end := total
	if levels := request.Arguments.Levels; levels > 0 && start+levels < total {
		end = start + levels
	}

	stackFrames := make([]dap.StackFrame, 0, end-start)
	for _, frame := range frames[start:end] {
		info := frame.Info()
		stackFrame := dap.StackFrame{
			Id:     d.references.AddFrame(frame),
			Name:   info.DisplayName(),
			Line:   info.Line,
			Column: 1,
		}
		if info.Module != "" {
			stackFrame.ModuleId = info.Module
		}
		if document := frame.Document(); document.File != "" {
			stackFrame.Source = &dap.Source{Name: filepath.Base(document.File), Path: document.File}
		}
		stackFrames = append(stackFrames, stackFrame)
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: total,
	}
	d.send(response)
}

func (d *DebugSession) frames(threadID int) ([]debugger.StackFrame, error) {
	engine, err := d.engine()
	if err != nil {
		return nil, err
	}
	thread, err := engine.Thread(int64(threadID))
	if err != nil {
		return nil, err
	}
	return thread.Frames(context.Background())
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	frame, err := d.references.Frame(request.Arguments.FrameId)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: []dap.Scope{
			{Name: string(constants.ScopeLocals), VariablesReference: d.references.AddScope(frame, constants.ScopeLocals)},
			{Name: string(constants.ScopeArguments), VariablesReference: d.references.AddScope(frame, constants.ScopeArguments)},
		},
	}
	d.send(response)
}

func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	properties, err := d.references.Variables(context.Background(), request.Arguments.VariablesReference)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	variables := make([]dap.Variable, len(properties))
	for i, property := range properties {
		info := property.Info()
		variables[i] = dap.Variable{
			Name:               info.Name,
			Value:              info.Value,
			Type:               info.Type,
			EvaluateName:       info.FullName,
			VariablesReference: d.references.AddProperty(property),
		}
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: variables,
	}
	d.send(response)
}

func (d *DebugSession) onSetVariableRequest(request *dap.SetVariableRequest) {
	ctx := context.Background()
	properties, err := d.references.Variables(ctx, request.Arguments.VariablesReference)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	var target debugger.Property
	for _, property := range properties {
		if property.Info().Name == request.Arguments.Name {
			target = property
			break
		}
	}
	if target == nil {
		d.sendErrorResponse(request.Request, fmt.Errorf("%w: %s", e.ErrReferenceNotFound, request.Arguments.Name))
		return
	}
	if err = target.SetValueAsString(ctx, request.Arguments.Value); err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	info := target.Info()
	response := &dap.SetVariableResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Value = info.Value
	response.Body.Type = info.Type
	response.Body.VariablesReference = d.references.AddProperty(target)
	d.send(response)
}

// onEvaluateRequest 异步求值，结果通过ExpressionEvaluationComplete事件返回
func (d *DebugSession) onEvaluateRequest(request *dap.EvaluateRequest) {
	frame, err := d.references.Frame(request.Arguments.FrameId)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	expression, err := frame.ParseExpression(strings.TrimSpace(request.Arguments.Expression))
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	d.lock.Lock()
	d.evaluations[request.Seq] = &pendingEvaluation{request: request, expression: expression}
	d.lock.Unlock()
	if err = expression.EvaluateAsync(context.Background()); err != nil {
		d.takeEvaluation(func(pending *pendingEvaluation) bool { return pending.request == request })
		d.sendErrorResponse(request.Request, err)
	}
}

// takeEvaluation 取出第一个满足条件的等待中的求值
func (d *DebugSession) takeEvaluation(match func(pending *pendingEvaluation) bool) *pendingEvaluation {
	d.lock.Lock()
	defer d.lock.Unlock()
	for seq, pending := range d.evaluations {
		if match(pending) {
			delete(d.evaluations, seq)
			return pending
		}
	}
	return nil
}

// completeEvaluation 异步求值完成，发送evaluate响应
func (d *DebugSession) completeEvaluation(event *debugger.Event) {
	pending := d.takeEvaluation(func(pending *pendingEvaluation) bool { return pending.expression == event.Expression })
	if pending == nil {
		logrus.Debugf("evaluation of %s has no request", event.Expression.Text())
		return
	}
	request := pending.request
	if event.Err != nil {
		d.sendErrorResponse(request.Request, event.Err)
		return
	}
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	if event.Result != nil {
		info := event.Result.Info()
		response.Body.Result = info.Value
		response.Body.Type = info.Type
		response.Body.VariablesReference = d.references.AddProperty(event.Result)
	}
	d.send(response)
}

// onCancelRequest 取消等待中的求值，被取消的请求返回cancelled
func (d *DebugSession) onCancelRequest(request *dap.CancelRequest) {
	var pending *pendingEvaluation
	var requestID int
	if request.Arguments != nil {
		requestID = request.Arguments.RequestId
		d.lock.RLock()
		pending = d.evaluations[requestID]
		d.lock.RUnlock()
	}
	if pending != nil {
		if err := pending.expression.Abort(); err != nil {
			logrus.Infof("[cancel] request %d: %v", requestID, err)
		} else if d.takeEvaluation(func(p *pendingEvaluation) bool { return p == pending }) != nil {
			cancelled := newErrorResponse(pending.request.Seq, pending.request.Command, errors.New("cancelled"))
			cancelled.Message = "cancelled"
			d.send(cancelled)
		}
	}
	response := &dap.CancelResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onGotoTargetsRequest 每个请求的位置对应一个目标
func (d *DebugSession) onGotoTargetsRequest(request *dap.GotoTargetsRequest) {
	path := request.Arguments.Source.Path
	if path == "" {
		d.sendErrorResponse(request.Request, e.ErrNotApplicable)
		return
	}
	position := debugger.TextPosition{Line: request.Arguments.Line - 1}
	document := debugger.DocumentContext{File: path, Begin: position, End: position}
	d.lock.Lock()
	d.nextTarget++
	id := d.nextTarget
	d.gotoTargets[id] = document
	d.lock.Unlock()

	response := &dap.GotoTargetsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Targets = []dap.GotoTarget{{Id: id, Label: document.String(), Line: request.Arguments.Line}}
	d.send(response)
}

// onGotoRequest 在顶层栈帧设置下一条语句，完成以后发送goto暂停事件
func (d *DebugSession) onGotoRequest(request *dap.GotoRequest) {
	d.lock.RLock()
	document, ok := d.gotoTargets[request.Arguments.TargetId]
	d.lock.RUnlock()
	if !ok {
		d.sendErrorResponse(request.Request, e.ErrNotApplicable)
		return
	}
	err := d.setNextStatement(request.Arguments.ThreadId, document)
	if err != nil {
		d.sendErrorResponse(request.Request, err)
		return
	}
	d.references.Reset()
	response := &dap.GotoResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)

	stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
	stopped.Body.Reason = "goto"
	stopped.Body.ThreadId = request.Arguments.ThreadId
	stopped.Body.AllThreadsStopped = true
	d.send(stopped)
}

func (d *DebugSession) setNextStatement(threadID int, document debugger.DocumentContext) error {
	engine, err := d.engine()
	if err != nil {
		return err
	}
	thread, err := engine.Thread(int64(threadID))
	if err != nil {
		return err
	}
	ctx := context.Background()
	frames, err := thread.Frames(ctx)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return e.ErrFrameNotFound
	}
	if err = thread.CanSetNextStatement(ctx, frames[0], document); err != nil {
		return err
	}
	return thread.SetNextStatement(ctx, frames[0], document)
}
