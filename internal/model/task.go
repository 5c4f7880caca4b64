package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DispatchTask asks a worker to attempt delivering one notification.
//
// A task with Record set comes back from a delivery whose outcome could not
// be stored; the worker only records it and never sends again.
type DispatchTask struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Record         *Record   `json:"record,omitempty"`
}

// Record is a delivery outcome still to be written to the store.
type Record struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Encode returns the wire form of the task.
func (t DispatchTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeDispatchTask parses a task message body.
func DecodeDispatchTask(body []byte) (DispatchTask, error) {
	var task DispatchTask
	if err := json.Unmarshal(body, &task); err != nil {
		return DispatchTask{}, fmt.Errorf("unmarshal task: %w", err)
	}

	if task.NotificationID == uuid.Nil {
		return DispatchTask{}, errors.New("task without notification id")
	}

	if r := task.Record; r != nil && r.Status != StatusSent && r.Status != StatusFailed {
		return DispatchTask{}, fmt.Errorf("task records non-terminal status %q", r.Status)
	}

	return task, nil
}

// Outcome is the per-task result of a dispatch attempt.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"   // already claimed or terminal
	OutcomeNotFound Outcome = "not_found" // notification row is missing
	OutcomeRetry    Outcome = "retry"     // storage fault, task handed back to the broker
)

// DispatchResult is reported for every consumed task.
type DispatchResult struct {
	NotificationID uuid.UUID
	Outcome        Outcome
	Detail         string

	// Requeue replaces the consumed task when Outcome is OutcomeRetry.
	Requeue *DispatchTask
}
