package mono_debugger

import (
	"sync/atomic"

	"github.com/fansqz/sampsharp-debugger/debugger"
)

// BoundBreakpoint 绑定到具体位置的断点，只能由PendingBreakpoint创建和删除
type BoundBreakpoint struct {
	id         int
	pending    *PendingBreakpoint
	resolution debugger.BreakpointResolution
	deleted    atomic.Bool
}

func newBoundBreakpoint(pending *PendingBreakpoint, id int, resolution debugger.BreakpointResolution) *BoundBreakpoint {
	return &BoundBreakpoint{
		id:         id,
		pending:    pending,
		resolution: resolution,
	}
}

func (b *BoundBreakpoint) ID() int {
	return b.id
}

func (b *BoundBreakpoint) Pending() *PendingBreakpoint {
	return b.pending
}

func (b *BoundBreakpoint) Resolution() debugger.BreakpointResolution {
	return b.resolution
}

func (b *BoundBreakpoint) IsDeleted() bool {
	return b.deleted.Load()
}

func (b *BoundBreakpoint) markDeleted() {
	b.deleted.Store(true)
}

func (b *BoundBreakpoint) Info() debugger.BoundBreakpointInfo {
	return debugger.BoundBreakpointInfo{
		ID:         b.id,
		PendingID:  b.pending.id,
		Enabled:    true,
		Resolution: b.resolution,
	}
}
