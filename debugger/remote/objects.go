package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/google/go-dap"
	"github.com/sasha-s/go-deadlock"
	"github.com/tidwall/gjson"
)

// frameLanguage 软调试器中的栈帧都是托管代码
const frameLanguage = "C#"

// remoteThread 调试代理中的线程
type remoteThread struct {
	session *Session
	id      int64

	lock     deadlock.Mutex
	name     string
	location string
}

func (t *remoteThread) ID() int64 {
	return t.id
}

func (t *remoteThread) Name() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.name
}

// Location 最近一次获取的调用栈中顶层栈帧的函数名
func (t *remoteThread) Location() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.location
}

func (t *remoteThread) setName(name string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if name != "" {
		t.name = name
	}
}

func (t *remoteThread) Backtrace(ctx context.Context) (debugger.Backtrace, error) {
	request := &dap.StackTraceRequest{Request: newRequest("stackTrace")}
	request.Arguments = dap.StackTraceArguments{ThreadId: int(t.id)}
	message, err := t.session.request(ctx, request)
	if err != nil {
		return nil, err
	}
	frames := message.(*dap.StackTraceResponse).Body.StackFrames
	if len(frames) > 0 {
		t.lock.Lock()
		t.location = frames[0].Name
		t.lock.Unlock()
	}
	return &backtrace{session: t.session, frames: frames}, nil
}

type backtrace struct {
	session *Session
	frames  []dap.StackFrame
}

func (b *backtrace) FrameCount() int {
	return len(b.frames)
}

func (b *backtrace) Frame(index int) (debugger.RemoteFrame, error) {
	if index < 0 || index >= len(b.frames) {
		return nil, fmt.Errorf("%w: %d", e.ErrFrameNotFound, index)
	}
	return &remoteFrame{session: b.session, frame: b.frames[index]}, nil
}

// remoteFrame 调试代理中的栈帧，作用域在第一次访问时获取
type remoteFrame struct {
	session *Session
	frame   dap.StackFrame

	lock   deadlock.Mutex
	scopes []dap.Scope
}

func (f *remoteFrame) ID() int {
	return f.frame.Id
}

func (f *remoteFrame) Method() string {
	return f.frame.Name
}

func (f *remoteFrame) Module() string {
	if f.frame.ModuleId == nil {
		return ""
	}
	return fmt.Sprint(f.frame.ModuleId)
}

func (f *remoteFrame) Language() string {
	return frameLanguage
}

func (f *remoteFrame) File() string {
	if f.frame.Source == nil {
		return ""
	}
	return f.frame.Source.Path
}

func (f *remoteFrame) Line() int {
	return f.frame.Line
}

func (f *remoteFrame) Column() int {
	return f.frame.Column
}

func (f *remoteFrame) HasDebugInfo() bool {
	return f.File() != ""
}

func (f *remoteFrame) loadScopes(ctx context.Context) ([]dap.Scope, error) {
	f.lock.Lock()
	scopes := f.scopes
	f.lock.Unlock()
	if scopes != nil {
		return scopes, nil
	}
	request := &dap.ScopesRequest{Request: newRequest("scopes")}
	request.Arguments = dap.ScopesArguments{FrameId: f.frame.Id}
	message, err := f.session.request(ctx, request)
	if err != nil {
		return nil, err
	}
	scopes = message.(*dap.ScopesResponse).Body.Scopes
	if scopes == nil {
		scopes = []dap.Scope{}
	}
	f.lock.Lock()
	f.scopes = scopes
	f.lock.Unlock()
	return scopes, nil
}

func (f *remoteFrame) scopeValues(ctx context.Context, name constants.ScopeName) ([]debugger.ObjectValue, error) {
	scopes, err := f.loadScopes(ctx)
	if err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		if scope.Name == string(name) {
			return f.session.variables(ctx, f.frame.Id, scope.VariablesReference)
		}
	}
	return []debugger.ObjectValue{}, nil
}

// Locals 局部变量作用域，调试代理可能把参数也放在里面
func (f *remoteFrame) Locals(ctx context.Context) ([]debugger.ObjectValue, error) {
	return f.scopeValues(ctx, constants.ScopeLocals)
}

func (f *remoteFrame) Parameters(ctx context.Context) ([]debugger.ObjectValue, error) {
	return f.scopeValues(ctx, constants.ScopeArguments)
}

func (f *remoteFrame) Evaluate(ctx context.Context, expression string) (debugger.ObjectValue, error) {
	request := &dap.EvaluateRequest{Request: newRequest("evaluate")}
	request.Arguments = dap.EvaluateArguments{Expression: expression, FrameId: f.frame.Id, Context: "watch"}
	message, err := f.session.request(ctx, request)
	if err != nil {
		return nil, err
	}
	body := message.(*dap.EvaluateResponse).Body
	return &objectValue{
		session:   f.session,
		frameID:   f.frame.Id,
		name:      expression,
		fullName:  expression,
		typeName:  body.Type,
		value:     body.Result,
		reference: body.VariablesReference,
		readOnly:  hasAttribute(body, "readOnly"),
	}, nil
}

// objectValue 调试代理中的值
// container为0表示表达式的结果，修改时使用setExpression
type objectValue struct {
	session   *Session
	frameID   int
	container int
	name      string
	fullName  string
	typeName  string
	reference int
	readOnly  bool

	lock  deadlock.Mutex
	value string
}

func newObjectValue(session *Session, frameID int, container int, variable dap.Variable) *objectValue {
	return &objectValue{
		session:   session,
		frameID:   frameID,
		container: container,
		name:      variable.Name,
		fullName:  variable.EvaluateName,
		typeName:  variable.Type,
		value:     variable.Value,
		reference: variable.VariablesReference,
		readOnly:  hasAttribute(variable, "readOnly"),
	}
}

func (v *objectValue) Name() string      { return v.name }
func (v *objectValue) FullName() string  { return v.fullName }
func (v *objectValue) TypeName() string  { return v.typeName }
func (v *objectValue) HasChildren() bool { return v.reference > 0 }
func (v *objectValue) IsReadOnly() bool  { return v.readOnly }

func (v *objectValue) Value() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.value
}

func (v *objectValue) Children(ctx context.Context) ([]debugger.ObjectValue, error) {
	if v.reference <= 0 {
		return []debugger.ObjectValue{}, nil
	}
	return v.session.variables(ctx, v.frameID, v.reference)
}

func (v *objectValue) SetValue(ctx context.Context, value string) error {
	if v.readOnly {
		return e.ErrReadOnly
	}
	var result string
	if v.container > 0 {
		request := &dap.SetVariableRequest{Request: newRequest("setVariable")}
		request.Arguments = dap.SetVariableArguments{VariablesReference: v.container, Name: v.name, Value: value}
		message, err := v.session.request(ctx, request)
		if err != nil {
			return err
		}
		result = message.(*dap.SetVariableResponse).Body.Value
	} else {
		expression := v.fullName
		if expression == "" {
			expression = v.name
		}
		request := &dap.SetExpressionRequest{Request: newRequest("setExpression")}
		request.Arguments = dap.SetExpressionArguments{Expression: expression, Value: value, FrameId: v.frameID}
		message, err := v.session.request(ctx, request)
		if err != nil {
			return err
		}
		result = message.(*dap.SetExpressionResponse).Body.Value
	}
	v.lock.Lock()
	v.value = result
	v.lock.Unlock()
	return nil
}

// hasAttribute 检查presentationHint.attributes中是否有指定的属性
func hasAttribute(value interface{}, attribute string) bool {
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}
	for _, item := range gjson.GetBytes(data, "presentationHint.attributes").Array() {
		if item.String() == attribute {
			return true
		}
	}
	return false
}
