// Package exporting hands finished archives to a durable transport.
//
// A Sink accepts a (local file URI, remote key) submission, queues it durably
// and returns a monotonically increasing sequence token. Delivery to cloud
// storage happens asynchronously and at least once; callers never wait for it.
package exporting

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Sink is the durable export transport used by the pipeline
type Sink interface {
	// Submit queues the file for upload under remoteKey and returns its sequence token
	Submit(ctx context.Context, localFileURI, remoteKey string) (int64, error)

	// Close releases the transport's resources
	Close() error
}

// TaskStatus is the delivery state of an export task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskDelivered TaskStatus = "delivered"
	TaskFailed    TaskStatus = "failed"
)

// Task is one export submission, shaped like an S3 export task definition
type Task struct {
	ID        string     `json:"id"`
	Sequence  int64      `json:"sequence"`
	InputURL  string     `json:"inputUrl"`
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	Status    TaskStatus `json:"-"`
	Attempts  int        `json:"-"`
	LastError string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
}

// LocalPath strips the file: scheme from the task's input URL
func (t *Task) LocalPath() string {
	return strings.TrimPrefix(t.InputURL, "file:")
}

// Payload serialises the task for message-based transports
func (t *Task) Payload() ([]byte, error) {
	return json.Marshal(t)
}
