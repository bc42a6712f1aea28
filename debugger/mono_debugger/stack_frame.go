package mono_debugger

import (
	"context"
	"strings"

	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// StackFrame 栈帧，远程栈帧和变量都在第一次访问时获取
type StackFrame struct {
	engine       *MonoDebugger
	thread       *Thread
	index        int
	accessor     func() (debugger.RemoteFrame, error)
	lineOverride int

	lock       deadlock.Mutex
	frame      debugger.RemoteFrame
	variables  bool
	locals     []*Property
	parameters []*Property
}

func newStackFrame(engine *MonoDebugger, thread *Thread, index int, accessor func() (debugger.RemoteFrame, error)) *StackFrame {
	return &StackFrame{
		engine:   engine,
		thread:   thread,
		index:    index,
		accessor: accessor,
	}
}

func (f *StackFrame) Index() int {
	return f.index
}

func (f *StackFrame) Thread() *Thread {
	return f.thread
}

func (f *StackFrame) remoteFrame() (debugger.RemoteFrame, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.frame != nil {
		return f.frame, nil
	}
	frame, err := f.accessor()
	if err != nil {
		return nil, err
	}
	f.frame = frame
	return frame, nil
}

// Line 当前行号，从1开始
func (f *StackFrame) Line() int {
	if f.lineOverride > 0 {
		return f.lineOverride
	}
	frame, err := f.remoteFrame()
	if err != nil {
		return 0
	}
	return frame.Line()
}

func (f *StackFrame) Info() debugger.FrameInfo {
	frame, err := f.remoteFrame()
	if err != nil {
		logrus.Warnf("[StackFrame] load frame %d fail, err = %v", f.index, err)
		return debugger.FrameInfo{ID: f.index, FunctionName: "<unknown>"}
	}
	info := debugger.FrameInfo{
		ID:           f.index,
		FunctionName: frame.Method(),
		Module:       frame.Module(),
		Language:     frame.Language(),
		Line:         f.Line(),
		HasDebugInfo: frame.HasDebugInfo(),
		Document:     f.Document(),
	}
	parameters, err := f.Parameters(context.Background())
	if err == nil {
		for _, parameter := range parameters {
			propertyInfo := parameter.Info()
			info.Arguments = append(info.Arguments, debugger.ArgumentInfo{
				Name:  propertyInfo.Name,
				Type:  propertyInfo.Type,
				Value: propertyInfo.Value,
			})
		}
	}
	return info
}

// Document 当前行所在的文档位置，没有调试信息时为空
func (f *StackFrame) Document() debugger.DocumentContext {
	frame, err := f.remoteFrame()
	if err != nil || !frame.HasDebugInfo() {
		return debugger.DocumentContext{}
	}
	position := debugger.TextPosition{Line: f.Line() - 1}
	return debugger.DocumentContext{
		File:  frame.File(),
		Begin: position,
		End:   position,
	}
}

// loadVariables 获取局部变量和参数，局部变量中去掉和参数同名的变量
func (f *StackFrame) loadVariables(ctx context.Context) error {
	frame, err := f.remoteFrame()
	if err != nil {
		return err
	}
	f.lock.Lock()
	loaded := f.variables
	f.lock.Unlock()
	if loaded {
		return nil
	}

	allLocals, err := frame.Locals(ctx)
	if err != nil {
		return err
	}
	parameterValues, err := frame.Parameters(ctx)
	if err != nil {
		return err
	}
	parameterNames := make(map[string]struct{}, len(parameterValues))
	parameters := make([]*Property, 0, len(parameterValues))
	for _, value := range parameterValues {
		parameterNames[value.Name()] = struct{}{}
		parameters = append(parameters, newProperty(nil, value))
	}
	locals := make([]*Property, 0, len(allLocals))
	for _, value := range allLocals {
		if _, ok := parameterNames[value.Name()]; ok {
			continue
		}
		locals = append(locals, newProperty(nil, value))
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.variables {
		f.locals = locals
		f.parameters = parameters
		f.variables = true
	}
	return nil
}

func (f *StackFrame) Locals(ctx context.Context) ([]debugger.Property, error) {
	if err := f.loadVariables(ctx); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return toProperties(f.locals), nil
}

func (f *StackFrame) Parameters(ctx context.Context) ([]debugger.Property, error) {
	if err := f.loadVariables(ctx); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return toProperties(f.parameters), nil
}

// ParseExpression 解析表达式，空表达式不能求值
func (f *StackFrame) ParseExpression(text string) (debugger.Expression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, e.ErrNotApplicable
	}
	return newExpression(f.engine, f, text), nil
}

func toProperties(properties []*Property) []debugger.Property {
	answer := make([]debugger.Property, len(properties))
	for i, property := range properties {
		answer[i] = property
	}
	return answer
}
