// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events provides the pub/sub bus that streams compile and repair
// progress lines from long-running jobs to the UI socket.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Compile pipeline events
	EventCompileProgress EventType = "compile.progress"
	EventCompileNotice   EventType = "compile.notice"
	EventCompileDone     EventType = "compile.done"

	// Tree repair events
	EventRepairNotice EventType = "repair.notice"
	EventRepairDone   EventType = "repair.done"

	// Rule mutation events (used to invalidate compiled firewalls)
	EventRuleChanged EventType = "rule.changed"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// ProgressPayload is the payload streamed for each rule processed by the
// compiler: the rule id, its 1-based index within the batch and whether it is
// disabled.
type ProgressPayload struct {
	ID       int64  `json:"id,omitempty"`
	Message  string `json:"message"`
	Disabled bool   `json:"disabled,omitempty"`
}

// NoticePayload is a free-form human readable progress line (repair phases,
// table banners).
type NoticePayload struct {
	Message string `json:"message"`
}

// Sink receives progress and notice lines from a long-running job. A nil
// *Channel is a valid Sink that discards everything, so callers never need to
// guard their emits.
type Sink interface {
	Progress(id int64, message string, disabled bool)
	Notice(message string)
}
