// Package notify defines the notification sink contract and adapters for
// delivering squad events to chat platforms. Delivery is fire-and-forget
// for the orchestrator; only the workflow notify step cares about failures.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// Event names the kind of notification.
type Event string

const (
	EventTaskAssigned   Event = "task_assigned"
	EventTaskStarted    Event = "task_started"
	EventTaskCompleted  Event = "task_completed"
	EventTaskBlocked    Event = "task_blocked"
	EventTaskUnblocked  Event = "task_unblocked"
	EventExecutionError Event = "execution_error"
	EventWorkflow       Event = "workflow"
)

// Notification is the payload delivered to a sink.
type Notification struct {
	// Event is the kind of notification.
	Event Event
	// Task is the related task, if any.
	Task *models.Task
	// AgentID is the related agent, if any.
	AgentID string
	// Message is optional free text.
	Message string
	// Error carries the failure reason for error events.
	Error string
	// Duration is the run duration for completion events.
	Duration time.Duration
}

// Sink delivers notifications for a squad. Implementations should not
// retry; the core treats delivery as best-effort.
type Sink interface {
	Notify(ctx context.Context, squadID string, n Notification) error
}

// Format renders a notification as a single chat line.
func Format(squadID string, n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", squadID, n.Event)
	if n.Task != nil {
		fmt.Fprintf(&b, " %s (%s)", n.Task.Title, n.Task.ID)
	}
	if n.AgentID != "" {
		fmt.Fprintf(&b, " agent=%s", n.AgentID)
	}
	if n.Duration > 0 {
		fmt.Fprintf(&b, " in %s", n.Duration.Round(time.Millisecond))
	}
	if n.Message != "" {
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	if n.Error != "" {
		b.WriteString(" error=")
		b.WriteString(n.Error)
	}
	return b.String()
}
