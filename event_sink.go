package main

import (
	"fmt"
	"path/filepath"

	"github.com/fansqz/sampsharp-debugger/constants"
	"github.com/fansqz/sampsharp-debugger/debugger"
	"github.com/fansqz/sampsharp-debugger/protocol"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// eventSink 把调试引擎的事件转换为DAP事件
type eventSink struct {
	session *DebugSession
}

func (s *eventSink) Send(event *debugger.Event) error {
	d := s.session
	switch event.Kind {
	case constants.EngineCreateEvent, constants.LoadCompleteEvent:
		logrus.Debugf("[eventSink] %s", event.Kind)
		return nil
	case constants.ProgramCreateEvent:
		d.lock.RLock()
		launched := d.launched
		d.lock.RUnlock()
		process := &dap.ProcessEvent{Event: *newEvent("process")}
		process.Body.Name = "samp-server"
		process.Body.IsLocalProcess = true
		process.Body.StartMethod = "attach"
		if launched {
			process.Body.StartMethod = "launch"
		}
		return d.send(process)
	case constants.ProgramDestroyEvent:
		exited := &dap.ExitedEvent{Event: *newEvent("exited")}
		exited.Body.ExitCode = event.ExitCode
		if err := d.send(exited); err != nil {
			return err
		}
		return d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	case constants.ThreadCreateEvent, constants.ThreadDestroyEvent:
		thread := &dap.ThreadEvent{Event: *newEvent("thread")}
		thread.Body.ThreadId = int(event.ThreadID)
		thread.Body.Reason = "started"
		if event.Kind == constants.ThreadDestroyEvent {
			thread.Body.Reason = "exited"
		}
		return d.send(thread)
	case constants.BreakpointBoundEvent:
		for _, bound := range event.Breakpoints {
			changed := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
			changed.Body.Reason = "changed"
			changed.Body.Breakpoint = dap.Breakpoint{
				Id:       bound.PendingID,
				Verified: bound.Enabled,
				Line:     bound.Resolution.Document.Begin.Line + 1,
			}
			if err := d.send(changed); err != nil {
				return err
			}
		}
		return nil
	case constants.BreakpointEvent, constants.ExceptionEvent, constants.StepCompleteEvent,
		constants.AsyncBreakCompleteEvent:
		d.references.Reset()
		return d.send(stoppedEvent(event))
	case constants.ContinuedEvent:
		continued := &dap.ContinuedEvent{Event: *newEvent("continued")}
		continued.Body.ThreadId = int(event.ThreadID)
		continued.Body.AllThreadsContinued = true
		return d.send(continued)
	case constants.OutputStringEvent:
		output := &dap.OutputEvent{Event: *newEvent("output")}
		output.Body.Category = string(event.Category)
		output.Body.Output = event.Output
		return d.send(output)
	case constants.ExpressionEvaluationEvent:
		d.completeEvaluation(event)
		return nil
	default:
		logrus.Warnf("[eventSink] unknown event %s", event.Kind)
		return nil
	}
}

// stoppedEvent 暂停类事件，Breakpoint事件没有断点时表示用户暂停
func stoppedEvent(event *debugger.Event) *dap.StoppedEvent {
	stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
	stopped.Body.ThreadId = int(event.ThreadID)
	stopped.Body.AllThreadsStopped = true
	switch event.Kind {
	case constants.BreakpointEvent:
		stopped.Body.Reason = "pause"
		if len(event.Breakpoints) > 0 {
			stopped.Body.Reason = "breakpoint"
			for _, bound := range event.Breakpoints {
				stopped.Body.HitBreakpointIds = append(stopped.Body.HitBreakpointIds, bound.PendingID)
			}
		}
	case constants.ExceptionEvent:
		stopped.Body.Reason = "exception"
		stopped.Body.Text = event.Exception
		stopped.Body.Description = event.Exception
	case constants.StepCompleteEvent:
		stopped.Body.Reason = "step"
	default:
		stopped.Body.Reason = "pause"
	}
	return stopped
}

// logSink 目标进程的输出，同时发送日志条目和控制台输出
type logSink struct {
	session *DebugSession
}

func (s *logSink) Log(entry debugger.LogEntry) {
	d := s.session
	logEntry := &protocol.LogEntryEvent{Event: *newEvent(protocol.LogEntryEventName)}
	logEntry.Body = protocol.LogEntryEventBody{
		Severity: string(entry.Severity),
		Project:  entry.Project,
		File:     entry.File,
		Message:  entry.Message,
		Line:     entry.Line,
		Column:   entry.Column,
		Code:     entry.Code,
	}
	if err := d.send(logEntry); err != nil {
		return
	}

	output := &dap.OutputEvent{Event: *newEvent("output")}
	output.Body.Category = string(constants.OutputConsole)
	if entry.Severity == constants.LogError {
		output.Body.Category = string(constants.OutputStderr)
	}
	output.Body.Output = formatLogEntry(entry)
	d.send(output)
}

func formatLogEntry(entry debugger.LogEntry) string {
	location := entry.Project
	if entry.File != "" {
		location = fmt.Sprintf("%s(%d,%d)", filepath.Base(entry.File), entry.Line, entry.Column)
	}
	if location == "" {
		return entry.Message + "\n"
	}
	return fmt.Sprintf("%s: %s: %s\n", location, entry.Severity, entry.Message)
}

var (
	_ debugger.EventSink = (*eventSink)(nil)
	_ debugger.LogSink   = (*logSink)(nil)
)
