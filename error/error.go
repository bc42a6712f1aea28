package error

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented         = errors.New("not implemented")
	ErrNotApplicable          = errors.New("operation is not applicable")
	ErrInternalFault          = errors.New("internal fault")
	ErrServerNotFound         = errors.New("server executable not found")
	ErrInvalidAddress         = errors.New("invalid debugger address")
	ErrSessionNotStarted      = errors.New("debug session is not started")
	ErrSessionTerminated      = errors.New("debug session is terminated")
	ErrIllegalStateTransition = errors.New("illegal session state transition")
	ErrStepInProgress         = errors.New("a step is already in progress")
	ErrNothingToCancel        = errors.New("nothing to cancel")
	ErrBreakpointDeleted      = errors.New("breakpoint has been deleted")
	ErrThreadNotFound         = errors.New("thread not found")
	ErrFrameNotFound          = errors.New("stack frame not found")
	ErrReferenceNotFound      = errors.New("variables reference not found")
	ErrReadOnly               = errors.New("value is read only")
	ErrRemoteRequestFailed    = errors.New("remote request failed")
	ErrRemoteClosed           = errors.New("remote session is closed")
)

// RemoteError 远程调试端返回的失败响应
type RemoteError struct {
	Command string
	Message string
}

func (r *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", r.Command, r.Message)
}

func (r *RemoteError) Unwrap() error {
	return ErrRemoteRequestFailed
}

// IsConfigurationError 判断是否是启动配置错误，这类错误不会进入Connected状态
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrServerNotFound) || errors.Is(err, ErrInvalidAddress)
}

// IsUnsupported 判断是否是永久不支持的操作
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}
