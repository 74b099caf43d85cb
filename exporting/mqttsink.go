package exporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/yeti47/crop-exporter/ccc/logging"
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQoS            = 1
)

// ConnectMQTT connects to the broker with automatic reconnection enabled
func ConnectMQTT(logger logging.Logger, cfg MQTTConfig) (mqtt.Client, error) {
	if logger == nil {
		logger = logging.NopLogger
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "crop-exporter-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("MQTT connection established", "broker", cfg.Broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	logger.Info("Connecting to MQTT broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// publisher is the subset of mqtt.Client used by the sink
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes export tasks as JSON to {prefix}/{camera}/exports
type MQTTSink struct {
	logger   logging.Logger
	client   publisher
	topic    string
	bucket   string
	sequence atomic.Int64
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewMQTTSink creates a sink publishing through client. Sequence numbers are
// seeded from the wall clock so they keep increasing across restarts.
func NewMQTTSink(logger logging.Logger, client mqtt.Client, topicPrefix, cameraID, bucket string) *MQTTSink {
	return newMQTTSink(logger, client, topicPrefix, cameraID, bucket)
}

func newMQTTSink(logger logging.Logger, client publisher, topicPrefix, cameraID, bucket string) *MQTTSink {
	if logger == nil {
		logger = logging.NopLogger
	}
	sink := &MQTTSink{
		logger: logger,
		client: client,
		topic:  fmt.Sprintf("%s/%s/exports", topicPrefix, cameraID),
		bucket: bucket,
		now:    time.Now,
	}
	sink.sequence.Store(time.Now().UnixMilli())
	return sink
}

// Topic returns the topic export tasks are published to
func (s *MQTTSink) Topic() string {
	return s.topic
}

// Submit publishes the export task at QoS 1 and returns its sequence number
func (s *MQTTSink) Submit(ctx context.Context, localFileURI, remoteKey string) (int64, error) {
	if localFileURI == "" || remoteKey == "" {
		return 0, ErrInvalidSubmission
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSinkClosed
	}

	task := &Task{
		ID:        uuid.NewString(),
		Sequence:  s.sequence.Add(1),
		InputURL:  localFileURI,
		Bucket:    s.bucket,
		Key:       remoteKey,
		CreatedAt: s.now().UTC(),
	}
	payload, err := task.Payload()
	if err != nil {
		return 0, fmt.Errorf("marshal export task: %w", err)
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	token := s.client.Publish(s.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(timeout) {
		return 0, errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("mqtt publish failed: %w", err)
	}

	s.logger.Debug("Published export task", "topic", s.topic, "sequence", task.Sequence, "key", remoteKey)
	return task.Sequence, nil
}

// Close stops accepting submissions. The MQTT client is owned by the caller.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
