package protocol

import (
	"errors"

	e "github.com/fansqz/sampsharp-debugger/error"
)

// Result 调试操作的结果
// 除了成功和失败以外，还有一种“已处理但是没有执行任何动作”的结果
type Result int

const (
	ResultOK Result = iota
	ResultFalse
	ResultNotImplemented
	ResultFailure
	ResultInternalFault
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFalse:
		return "false"
	case ResultNotImplemented:
		return "notImplemented"
	case ResultInternalFault:
		return "internalFault"
	default:
		return "failure"
	}
}

// ResultOf 将错误转换为操作结果
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, e.ErrNotApplicable), errors.Is(err, e.ErrNothingToCancel):
		return ResultFalse
	case errors.Is(err, e.ErrNotImplemented):
		return ResultNotImplemented
	case errors.Is(err, e.ErrInternalFault):
		return ResultInternalFault
	default:
		return ResultFailure
	}
}

// Succeeded OK和False都算作成功
func (r Result) Succeeded() bool {
	return r == ResultOK || r == ResultFalse
}
