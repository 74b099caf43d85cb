package exporting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/yeti47/crop-exporter/ccc/logging"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return !t.timeout }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func TestMQTTSink_Submit(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(logging.NopLogger, pub, "edge", "c1", "crops")

	s1, err := sink.Submit(context.Background(), "file:/a.zip", "image/s1/c1/2026/1/1/0/0.zip")
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	s2, err := sink.Submit(context.Background(), "file:/b.zip", "image/s1/c1/2026/1/1/0/5.zip")
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	if s2 <= s1 {
		t.Errorf("Expected increasing sequences, got %d then %d", s1, s2)
	}

	if len(pub.messages) != 2 {
		t.Fatalf("Expected 2 published messages, got %d", len(pub.messages))
	}
	msg := pub.messages[1]
	if msg.topic != "edge/c1/exports" {
		t.Errorf("Expected topic edge/c1/exports, got %s", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("Expected QoS 1, got %d", msg.qos)
	}

	var task Task
	if err := json.Unmarshal(msg.payload, &task); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if task.Sequence != s2 || task.Key != "image/s1/c1/2026/1/1/0/5.zip" || task.Bucket != "crops" || task.InputURL != "file:/b.zip" {
		t.Errorf("Unexpected task payload %+v", task)
	}
}

func TestMQTTSink_Submit_Failures(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{timeout: true}}
	sink := newMQTTSink(logging.NopLogger, pub, "edge", "c1", "crops")

	if _, err := sink.Submit(context.Background(), "file:/a.zip", "a.zip"); err == nil {
		t.Error("Expected error on publish timeout")
	}

	pub.token = &fakeToken{err: errors.New("not connected")}
	if _, err := sink.Submit(context.Background(), "file:/a.zip", "a.zip"); err == nil {
		t.Error("Expected error on publish failure")
	}

	if _, err := sink.Submit(context.Background(), "", "a.zip"); !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("Expected ErrInvalidSubmission, got %v", err)
	}

	sink.Close()
	if _, err := sink.Submit(context.Background(), "file:/a.zip", "a.zip"); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed, got %v", err)
	}
}
