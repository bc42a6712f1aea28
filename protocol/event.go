package protocol

import "github.com/google/go-dap"

// LogEntryEvent
// 自定义DAP事件，将目标进程的输出按日志条目的形式发送给IDE
type LogEntryEvent struct {
	dap.Event

	Body LogEntryEventBody `json:"body"`
}

// LogEntryEventBody 日志条目
type LogEntryEventBody struct {
	Severity string `json:"severity"`
	Project  string `json:"project,omitempty"`
	File     string `json:"file,omitempty"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Code     string `json:"code,omitempty"`
}

// LogEntryEventName 自定义事件名
const LogEntryEventName = "sampsharp/log"
