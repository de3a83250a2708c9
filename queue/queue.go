// Package queue carries unit-of-work envelopes over Kafka. Two topics mirror
// the two worker lanes; an envelope holds everything a worker needs to run
// one unit and everything the engine needs to continue the workflow after it.
package queue

import (
	"context"
	"encoding/json"
)

// Join is one fan-in barrier the task participates in. When the task reaches
// a terminal state the engine bumps the barrier counter; the worker that
// delivers count Total submits Then, the serialized continuation node.
type Join struct {
	BarrierID string          `json:"barrier_id"`
	Total     int             `json:"total"`
	Then      json.RawMessage `json:"then,omitempty"`
}

// Envelope is one scheduled unit invocation. Next is the serialized workflow
// node to submit after this task succeeds; Joins is the stack of barriers the
// task signals on any terminal outcome, innermost first.
type Envelope struct {
	TaskID    string          `json:"task_id"`
	TraceID   string          `json:"trace_id"`
	JobID     string          `json:"job_id"`
	Unit      string          `json:"unit"`
	CaptureID *int64          `json:"capture_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Next      json.RawMessage `json:"next,omitempty"`
	Joins     []Join          `json:"joins,omitempty"`
}

// Producer publishes envelopes onto a lane topic.
type Producer interface {
	Publish(ctx context.Context, topic string, env *Envelope) error
	Close() error
}

// Handler processes one envelope to a terminal outcome. A returned error
// means the envelope was not handled and must be redelivered.
type Handler func(ctx context.Context, env *Envelope) error
