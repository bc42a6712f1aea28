package main

import (
	"context"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
)

const firstReference = 1000

// variableReference variablesReference指向的内容
// scope不为空时表示栈帧的作用域，否则表示某个值的子节点
type variableReference struct {
	frame    debugger.StackFrame
	scope    constants.ScopeName
	property debugger.Property
}

// ReferenceUtil 管理DAP中的frameId和variablesReference
// 目标程序继续运行以后所有引用都会失效
type ReferenceUtil struct {
	lock      deadlock.RWMutex
	nextRef   int
	frames    map[int]debugger.StackFrame
	variables map[int]*variableReference
}

func NewReferenceUtil() *ReferenceUtil {
	return &ReferenceUtil{
		nextRef:   firstReference,
		frames:    map[int]debugger.StackFrame{},
		variables: map[int]*variableReference{},
	}
}

func (r *ReferenceUtil) next() int {
	r.nextRef++
	return r.nextRef
}

// AddFrame 为栈帧分配frameId
func (r *ReferenceUtil) AddFrame(frame debugger.StackFrame) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	id := r.next()
	r.frames[id] = frame
	return id
}

func (r *ReferenceUtil) Frame(id int) (debugger.StackFrame, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	frame, ok := r.frames[id]
	if !ok {
		return nil, e.ErrFrameNotFound
	}
	return frame, nil
}

// AddScope 为栈帧的作用域分配引用
func (r *ReferenceUtil) AddScope(frame debugger.StackFrame, scope constants.ScopeName) int {
	return r.add(&variableReference{frame: frame, scope: scope})
}

// AddProperty 为可以展开的值分配引用，不能展开时返回0
func (r *ReferenceUtil) AddProperty(property debugger.Property) int {
	if !property.Info().Expandable {
		return 0
	}
	return r.add(&variableReference{property: property})
}

func (r *ReferenceUtil) add(reference *variableReference) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	id := r.next()
	r.variables[id] = reference
	return id
}

// Variables 获取引用下的全部值
func (r *ReferenceUtil) Variables(ctx context.Context, id int) ([]debugger.Property, error) {
	r.lock.RLock()
	reference, ok := r.variables[id]
	r.lock.RUnlock()
	if !ok {
		return nil, e.ErrReferenceNotFound
	}
	switch {
	case reference.property != nil:
		return reference.property.Children(ctx)
	case reference.scope == constants.ScopeArguments:
		return reference.frame.Parameters(ctx)
	default:
		return reference.frame.Locals(ctx)
	}
}

// Reset 清空全部引用
func (r *ReferenceUtil) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.frames = map[int]debugger.StackFrame{}
	r.variables = map[int]*variableReference{}
}
