package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/google/go-dap"
	"github.com/sasha-s/go-deadlock"
)

// breakEvent 远程会话中的行断点
// 断点上的任何修改都会重新下发整个文件的断点
type breakEvent struct {
	session *Session
	id      int
	file    string
	line    int
	column  int

	lock           deadlock.Mutex
	enabled        bool
	condition      string
	breakIfChanges bool
	mode           constants.HitCountMode
	count          int
	// remoteID 调试代理分配的断点id，没有下发时为0
	remoteID int
	verified bool
}

func (b *breakEvent) ID() int {
	return b.id
}

func (b *breakEvent) Enabled() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.enabled
}

func (b *breakEvent) SetEnabled(enabled bool) error {
	b.lock.Lock()
	changed := b.enabled != enabled
	b.enabled = enabled
	b.lock.Unlock()
	if !changed {
		return nil
	}
	return b.session.syncFile(b.file)
}

// SetCondition 设置条件表达式，breakIfChanges只在本地记录，协议中没有对应的字段
func (b *breakEvent) SetCondition(expression string, breakIfChanges bool) error {
	b.lock.Lock()
	b.condition = expression
	b.breakIfChanges = breakIfChanges
	b.lock.Unlock()
	return b.session.syncFile(b.file)
}

func (b *breakEvent) SetHitCount(mode constants.HitCountMode, count int) error {
	b.lock.Lock()
	b.mode = mode
	b.count = count
	b.lock.Unlock()
	return b.session.syncFile(b.file)
}

func (b *breakEvent) HitCountMode() constants.HitCountMode {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.mode
}

func (b *breakEvent) HitCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.count
}

func (b *breakEvent) sourceBreakpoint() dap.SourceBreakpoint {
	b.lock.Lock()
	defer b.lock.Unlock()
	return dap.SourceBreakpoint{
		Line:         b.line,
		Column:       b.column,
		Condition:    b.condition,
		HitCondition: EncodeHitCondition(b.mode, b.count),
	}
}

func (b *breakEvent) resolve(breakpoint dap.Breakpoint) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.remoteID = breakpoint.Id
	b.verified = breakpoint.Verified
}

func (b *breakEvent) unresolve() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.remoteID = 0
	b.verified = false
}

func (b *breakEvent) RemoteID() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.remoteID
}

// Verified 调试代理是否确认了断点
func (b *breakEvent) Verified() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.verified
}

// EncodeHitCondition 命中次数条件的文本形式
//
//	EqualTo "==N", GreaterThanOrEqualTo ">=N", MultipleOf "%N"
func EncodeHitCondition(mode constants.HitCountMode, count int) string {
	switch mode {
	case constants.HitCountEqualTo:
		return "==" + strconv.Itoa(count)
	case constants.HitCountGreaterThanOrEqualTo:
		return ">=" + strconv.Itoa(count)
	case constants.HitCountMultipleOf:
		return "%" + strconv.Itoa(count)
	default:
		return ""
	}
}

// DecodeHitCondition 解析命中次数条件，只有数字时按照EqualTo处理
func DecodeHitCondition(text string) (constants.HitCountMode, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return constants.HitCountNone, 0, nil
	}
	mode := constants.HitCountEqualTo
	switch {
	case strings.HasPrefix(text, "=="):
		text = text[2:]
	case strings.HasPrefix(text, ">="):
		mode = constants.HitCountGreaterThanOrEqualTo
		text = text[2:]
	case strings.HasPrefix(text, "%"):
		mode = constants.HitCountMultipleOf
		text = text[1:]
	}
	count, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || count < 0 {
		return constants.HitCountNone, 0, fmt.Errorf("invalid hit condition %q", text)
	}
	return mode, count, nil
}

// catchpoint 异常断点
type catchpoint struct {
	session *Session
	id      int
	name    string

	lock    deadlock.Mutex
	enabled bool
	mode    constants.HitCountMode
	count   int
}

func (c *catchpoint) ID() int {
	return c.id
}

func (c *catchpoint) Enabled() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.enabled
}

func (c *catchpoint) SetEnabled(enabled bool) error {
	c.lock.Lock()
	c.enabled = enabled
	c.lock.Unlock()
	return c.session.syncExceptions()
}

// SetCondition 异常断点不支持条件
func (c *catchpoint) SetCondition(expression string, breakIfChanges bool) error {
	return nil
}

func (c *catchpoint) SetHitCount(mode constants.HitCountMode, count int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.mode = mode
	c.count = count
	return nil
}

func (c *catchpoint) HitCountMode() constants.HitCountMode {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.mode
}

func (c *catchpoint) HitCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.count
}
