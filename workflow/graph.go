// Package workflow composes unit-of-work graphs, submits them onto the queue
// and drives them forward as tasks reach terminal states. A graph is a tree
// of task, chain and group nodes; groups fan out concurrent branches and may
// carry a callback that runs once every branch has finished, successfully or
// not.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TaskNode is a single unit invocation with a pre-assigned task id, so the
// id is known (and trackable) before the envelope is ever published.
type TaskNode struct {
	TaskID    string          `json:"task_id"`
	Unit      string          `json:"unit"`
	CaptureID *int64          `json:"capture_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// GroupNode fans its branches out concurrently. Callback, when set, is
// submitted after every branch has reached a terminal state; the barrier is a
// join, not a success gate.
type GroupNode struct {
	Branches []*Node `json:"branches"`
	Callback *Node   `json:"callback,omitempty"`
}

// Node is one of task, chain or group. Exactly one field is set.
type Node struct {
	Task  *TaskNode  `json:"task,omitempty"`
	Chain []*Node    `json:"chain,omitempty"`
	Group *GroupNode `json:"group,omitempty"`
}

// Task builds a task node, serializing the payload and minting the task id.
func Task(unit string, captureID *int64, payload any) (*Node, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", unit, err)
	}
	return &Node{Task: &TaskNode{
		TaskID:    uuid.New().String(),
		Unit:      unit,
		CaptureID: captureID,
		Payload:   data,
	}}, nil
}

// Chain runs nodes sequentially; a failed link drops the rest of the chain.
func Chain(nodes ...*Node) *Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &Node{Chain: nodes}
}

// Group runs branches concurrently with an optional completion callback.
func Group(callback *Node, branches ...*Node) *Node {
	return &Node{Group: &GroupNode{Branches: branches, Callback: callback}}
}

// CountTasks returns how many task nodes the subtree contains, callbacks
// included. This is the job's total-task accounting.
func CountTasks(n *Node) int {
	if n == nil {
		return 0
	}
	switch {
	case n.Task != nil:
		return 1
	case n.Chain != nil:
		total := 0
		for _, c := range n.Chain {
			total += CountTasks(c)
		}
		return total
	case n.Group != nil:
		total := CountTasks(n.Group.Callback)
		for _, b := range n.Group.Branches {
			total += CountTasks(b)
		}
		return total
	}
	return 0
}

// TaskIDs collects every task id in the subtree in submission order.
func TaskIDs(n *Node) []string {
	if n == nil {
		return nil
	}
	var ids []string
	switch {
	case n.Task != nil:
		ids = append(ids, n.Task.TaskID)
	case n.Chain != nil:
		for _, c := range n.Chain {
			ids = append(ids, TaskIDs(c)...)
		}
	case n.Group != nil:
		for _, b := range n.Group.Branches {
			ids = append(ids, TaskIDs(b)...)
		}
		ids = append(ids, TaskIDs(n.Group.Callback)...)
	}
	return ids
}

func encodeNode(n *Node) (json.RawMessage, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

func decodeNode(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode workflow node: %w", err)
	}
	return &n, nil
}
