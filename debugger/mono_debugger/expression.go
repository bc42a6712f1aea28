package mono_debugger

import (
	"context"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/fansqz/sampsharp-debugger/utils/gosync"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Expression 在某个栈帧上下文中的表达式
type Expression struct {
	engine *MonoDebugger
	frame  *StackFrame
	text   string

	lock   deadlock.Mutex
	cancel context.CancelFunc
}

func newExpression(engine *MonoDebugger, frame *StackFrame, text string) *Expression {
	return &Expression{engine: engine, frame: frame, text: text}
}

func (x *Expression) Text() string {
	return x.text
}

// EvaluateSync 同步求值
func (x *Expression) EvaluateSync(ctx context.Context) (debugger.Property, error) {
	property, err := x.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return property, nil
}

func (x *Expression) evaluate(ctx context.Context) (*Property, error) {
	frame, err := x.frame.remoteFrame()
	if err != nil {
		return nil, err
	}
	value, err := frame.Evaluate(ctx, x.text)
	if err != nil {
		return nil, err
	}
	return newExpressionProperty(x.text, value), nil
}

// EvaluateAsync 异步求值，完成时发送ExpressionEvaluationComplete事件
// 在完成之前调用Abort不会发送事件
func (x *Expression) EvaluateAsync(ctx context.Context) error {
	logrus.Infof("[Expression] EvaluateAsync %s", x.text)
	evalCtx, cancel := context.WithCancel(context.Background())
	x.lock.Lock()
	if x.cancel != nil {
		x.cancel()
	}
	x.cancel = cancel
	x.lock.Unlock()

	gosync.Go(evalCtx, func(evalCtx context.Context) {
		property, err := x.evaluate(evalCtx)

		x.lock.Lock()
		if evalCtx.Err() != nil {
			x.lock.Unlock()
			return
		}
		x.cancel = nil
		x.lock.Unlock()
		cancel()

		event := debugger.NewEvent(constants.ExpressionEvaluationEvent)
		event.ThreadID = x.frame.thread.ID()
		event.Expression = x
		if property != nil {
			event.Result = property
		}
		event.Err = err
		x.engine.send(event)
	})
	return nil
}

// Abort 取消异步求值
func (x *Expression) Abort() error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if x.cancel == nil {
		return e.ErrNothingToCancel
	}
	x.cancel()
	x.cancel = nil
	return nil
}
