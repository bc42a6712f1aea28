package mono_debugger

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// PendingBreakpoint IDE创建的断点
// 状态 Unbound -> Bound -> Deleted，删除以后不会再绑定
type PendingBreakpoint struct {
	id      int
	engine  *MonoDebugger
	request *debugger.BreakpointRequest

	// opLock 串行化同一个断点上的操作，可以在远程调用期间持有
	opLock sync.Mutex

	// lock 保护下面的字段，不会在远程调用期间持有
	lock       deadlock.Mutex
	enabled    bool
	deleted    bool
	condition  debugger.BreakpointCondition
	passCount  debugger.PassCount
	breakEvent debugger.BreakEvent
	bound      *arraylist.List
}

func newPendingBreakpoint(engine *MonoDebugger, id int, request *debugger.BreakpointRequest) *PendingBreakpoint {
	return &PendingBreakpoint{
		id:        id,
		engine:    engine,
		request:   request,
		enabled:   true,
		condition: request.Condition,
		passCount: request.PassCount,
		bound:     arraylist.New(),
	}
}

func (p *PendingBreakpoint) ID() int {
	return p.id
}

func (p *PendingBreakpoint) Request() *debugger.BreakpointRequest {
	return p.request
}

// CanBind 已删除或者不是文件行断点时不能绑定
func (p *PendingBreakpoint) CanBind() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.deleted || p.request.LocationType != constants.LocationFileLine {
		return e.ErrNotApplicable
	}
	return nil
}

// Bind 在远程会话中创建断点，重复绑定不做任何事
func (p *PendingBreakpoint) Bind() error {
	logrus.Infof("[PendingBreakpoint] Bind %s:%d", p.request.File, p.request.Begin.Line+1)
	p.opLock.Lock()
	defer p.opLock.Unlock()

	if err := p.CanBind(); err != nil {
		return err
	}
	p.lock.Lock()
	alreadyBound := p.breakEvent != nil
	p.lock.Unlock()
	if alreadyBound {
		return nil
	}

	session := p.engine.remoteSession()
	if session == nil {
		return e.ErrSessionNotStarted
	}
	// 远程会话中的行列从1开始
	breakEvent, err := session.AddBreakpoint(p.request.File, p.request.Begin.Line+1, p.request.Begin.Column+1)
	if err != nil {
		logrus.Errorf("[Bind] add breakpoint fail, err = %v", err)
		return fmt.Errorf("bind breakpoint: %w", err)
	}
	p.engine.breakpoints.Add(breakEvent, p)

	p.lock.Lock()
	condition, passCount, enabled := p.condition, p.passCount, p.enabled
	p.lock.Unlock()
	if condition.IsSet() {
		_ = applyCondition(breakEvent, condition)
	}
	if passCount.IsSet() {
		_ = applyPassCount(breakEvent, passCount)
	}
	if !enabled {
		if err = breakEvent.SetEnabled(false); err != nil {
			logrus.Warnf("[Bind] disable breakpoint fail, err = %v", err)
		}
	}

	boundBreakpoint := newBoundBreakpoint(p, p.engine.nextID(), p.resolution())
	p.lock.Lock()
	p.breakEvent = breakEvent
	p.bound.Add(boundBreakpoint)
	p.lock.Unlock()

	event := debugger.NewEvent(constants.BreakpointBoundEvent)
	event.Breakpoints = []debugger.BoundBreakpointInfo{boundBreakpoint.Info()}
	p.engine.send(event)
	return nil
}

func (p *PendingBreakpoint) resolution() debugger.BreakpointResolution {
	document := debugger.DocumentContext{
		File:  p.request.File,
		Begin: p.request.Begin,
		End:   p.request.End,
	}
	return debugger.BreakpointResolution{
		Address:  document.String(),
		Document: document,
	}
}

// Enable 启用或者禁用断点，删除以后不做任何事
func (p *PendingBreakpoint) Enable(enable bool) error {
	p.opLock.Lock()
	defer p.opLock.Unlock()

	p.lock.Lock()
	if p.deleted {
		p.lock.Unlock()
		return nil
	}
	p.enabled = enable
	breakEvent := p.breakEvent
	p.lock.Unlock()

	if breakEvent != nil {
		return breakEvent.SetEnabled(enable)
	}
	return nil
}

// SetCondition 设置条件，未绑定时在绑定时生效
func (p *PendingBreakpoint) SetCondition(condition debugger.BreakpointCondition) error {
	p.opLock.Lock()
	defer p.opLock.Unlock()

	p.lock.Lock()
	if p.deleted {
		p.lock.Unlock()
		return nil
	}
	p.condition = condition
	breakEvent := p.breakEvent
	p.lock.Unlock()

	if breakEvent != nil {
		return applyCondition(breakEvent, condition)
	}
	return nil
}

// SetPassCount 设置命中次数条件
func (p *PendingBreakpoint) SetPassCount(passCount debugger.PassCount) error {
	p.opLock.Lock()
	defer p.opLock.Unlock()

	p.lock.Lock()
	if p.deleted {
		p.lock.Unlock()
		return nil
	}
	p.passCount = passCount
	breakEvent := p.breakEvent
	p.lock.Unlock()

	if breakEvent != nil {
		return applyPassCount(breakEvent, passCount)
	}
	return nil
}

// Delete 删除断点，只有第一次调用生效
func (p *PendingBreakpoint) Delete() error {
	logrus.Infof("[PendingBreakpoint] Delete %d", p.id)
	p.opLock.Lock()
	defer p.opLock.Unlock()

	p.lock.Lock()
	if p.deleted {
		p.lock.Unlock()
		return nil
	}
	p.deleted = true
	breakEvent := p.breakEvent
	p.breakEvent = nil
	p.lock.Unlock()

	if breakEvent != nil {
		p.engine.breakpoints.Remove(breakEvent)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	for i := p.bound.Size() - 1; i >= 0; i-- {
		value, _ := p.bound.Get(i)
		value.(*BoundBreakpoint).markDeleted()
		p.bound.Remove(i)
	}
	return nil
}

// State 断点状态
func (p *PendingBreakpoint) State() constants.BreakpointState {
	p.lock.Lock()
	defer p.lock.Unlock()
	switch {
	case p.deleted:
		return constants.BreakpointDeleted
	case p.enabled:
		return constants.BreakpointEnabled
	default:
		return constants.BreakpointDisabled
	}
}

// BoundBreakpoints 已绑定断点的快照
func (p *PendingBreakpoint) BoundBreakpoints() []debugger.BoundBreakpointInfo {
	p.lock.Lock()
	defer p.lock.Unlock()
	answer := make([]debugger.BoundBreakpointInfo, 0, p.bound.Size())
	it := p.bound.Iterator()
	for it.Next() {
		info := it.Value().(*BoundBreakpoint).Info()
		info.Enabled = p.enabled
		answer = append(answer, info)
	}
	return answer
}

// BreakEvent 绑定以后对应的远程断点
func (p *PendingBreakpoint) BreakEvent() debugger.BreakEvent {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.breakEvent
}

func applyCondition(breakEvent debugger.BreakEvent, condition debugger.BreakpointCondition) error {
	expression := condition.Expression
	if !condition.IsSet() {
		expression = ""
	}
	err := breakEvent.SetCondition(expression, condition.Style == constants.ConditionWhenChanged)
	if err != nil {
		logrus.Warnf("[applyCondition] fail, err = %v", err)
	}
	return err
}

func applyPassCount(breakEvent debugger.BreakEvent, passCount debugger.PassCount) error {
	err := breakEvent.SetHitCount(HitCountModeOf(passCount.Style), passCount.Count)
	if err != nil {
		logrus.Warnf("[applyPassCount] fail, err = %v", err)
	}
	return err
}

// HitCountModeOf IDE命中次数条件转换为远程断点的命中次数模式
func HitCountModeOf(style constants.PassCountStyle) constants.HitCountMode {
	switch style {
	case constants.PassCountEqual:
		return constants.HitCountEqualTo
	case constants.PassCountEqualOrGreater:
		return constants.HitCountGreaterThanOrEqualTo
	case constants.PassCountMod:
		return constants.HitCountMultipleOf
	default:
		return constants.HitCountNone
	}
}
