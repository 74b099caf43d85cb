package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/windowing"
)

// Export sink selection
const (
	SinkOutbox = "outbox"
	SinkRedis  = "redis"
	SinkMQTT   = "mqtt"
)

// MinWindowSeconds keeps archive keys, which carry minute precision, distinct per window
const MinWindowSeconds = int(windowing.MinDuration / time.Second)

// Config holds the application configuration
type Config struct {
	// Pipeline
	QueueCapacity        int    `json:"queue_capacity"`         // Records buffered before the oldest is dropped
	WindowSeconds        int    `json:"window_seconds"`         // Length of one archive window
	StagingRoot          string `json:"staging_root"`           // Local folder holding staged records and archives
	UploadType           string `json:"upload_type"`            // First segment of every remote key
	StoreID              string `json:"store_id"`               // Identifies the deployed store
	CameraID             string `json:"camera_id"`              // Identifies the camera within the store
	ImageFormat          string `json:"image_format"`           // jpg, png or npy
	Bucket               string `json:"bucket"`                 // Cloud bucket receiving the archives
	SubmitTimeoutSeconds int    `json:"submit_timeout_seconds"` // Upper bound for one export submission
	FlushOnStop          bool   `json:"flush_on_stop"`          // Flush the current window on shutdown
	PurgeStagedFiles     bool   `json:"purge_staged_files"`     // Remove staged records once their archive is submitted

	// Export sink
	ExportSink string `json:"export_sink"` // outbox, redis or mqtt

	// Outbox + uploader
	OutboxDBPath           string `json:"outbox_db_path"`
	OutboxMaxPending       int    `json:"outbox_max_pending"`
	UploadServerURL        string `json:"upload_server_url"`
	UploadClientID         string `json:"upload_client_id"`
	UploadClientSecret     string `json:"-"`
	UploadTimeoutSeconds   int    `json:"upload_timeout_seconds"`
	UploadMaxAttempts      int    `json:"upload_max_attempts"`
	UploadPollSeconds      int    `json:"upload_poll_seconds"`
	DeleteDeliveredArchive bool   `json:"delete_delivered_archives"`

	// Redis
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	RedisStream   string `json:"redis_stream"`
	RedisMaxLen   int64  `json:"redis_max_len"`

	// MQTT
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"-"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`

	// Camera
	CameraDevice         string `json:"camera_device"`
	SendFrequencySeconds int    `json:"send_frequency_seconds"` // Forward one frame every N seconds
	SendFullFrames       bool   `json:"send_full_frames"`       // Stage whole frames in addition to crops

	// Status server
	StatusAddress string `json:"status_address"`

	// Logging
	LogLevel   string `json:"log_level"`
	LogPath    string `json:"log_path"`
	LogConsole bool   `json:"log_console"`
	LogMaxAge  int    `json:"log_max_age_days"` // Days of log files kept on the device
}

// Default returns the configuration written when no config file exists
func Default() *Config {
	return &Config{
		QueueCapacity:        10,
		WindowSeconds:        300,
		StagingRoot:          "./staging",
		UploadType:           "image",
		StoreID:              "store-1",
		CameraID:             "camera-1",
		ImageFormat:          string(frames.FormatJPEG),
		Bucket:               "crop-exports",
		SubmitTimeoutSeconds: 30,
		ExportSink:           SinkOutbox,
		OutboxDBPath:         "exports.db",
		OutboxMaxPending:     1000,
		UploadServerURL:      "http://localhost:8080",
		UploadClientID:       "your-client-id",
		UploadTimeoutSeconds: 60,
		UploadMaxAttempts:    5,
		UploadPollSeconds:    10,
		RedisAddress:         "localhost:6379",
		RedisStream:          "crop-exports",
		RedisMaxLen:          10000,
		MQTTBroker:           "localhost:1883",
		MQTTTopicPrefix:      "edge",
		CameraDevice:         "/dev/video0",
		SendFrequencySeconds: 1,
		StatusAddress:        ":9090",
		LogLevel:             string(logging.LogLevelInfo),
		LogPath:              "logs",
		LogConsole:           true,
		LogMaxAge:            14,
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file doesn't exist, create a default one
			defaultConfig := Default()
			if err := saveConfig(filename, defaultConfig); err != nil {
				return nil, fmt.Errorf("failed to create default config file: %w", err)
			}
			fmt.Printf("Default config file created at %s\n", filename)
			return defaultConfig, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults sets defaults for missing values
func (c *Config) applyDefaults() {
	d := Default()
	if c.QueueCapacity == 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = d.WindowSeconds
	}
	if c.StagingRoot == "" {
		c.StagingRoot = d.StagingRoot
	}
	if c.UploadType == "" {
		c.UploadType = d.UploadType
	}
	if c.ImageFormat == "" {
		c.ImageFormat = d.ImageFormat
	}
	if c.SubmitTimeoutSeconds == 0 {
		c.SubmitTimeoutSeconds = d.SubmitTimeoutSeconds
	}
	if c.ExportSink == "" {
		c.ExportSink = d.ExportSink
	}
	if c.OutboxDBPath == "" {
		c.OutboxDBPath = d.OutboxDBPath
	}
	if c.UploadTimeoutSeconds == 0 {
		c.UploadTimeoutSeconds = d.UploadTimeoutSeconds
	}
	if c.UploadMaxAttempts == 0 {
		c.UploadMaxAttempts = d.UploadMaxAttempts
	}
	if c.UploadPollSeconds == 0 {
		c.UploadPollSeconds = d.UploadPollSeconds
	}
	if c.RedisStream == "" {
		c.RedisStream = d.RedisStream
	}
	if c.MQTTTopicPrefix == "" {
		c.MQTTTopicPrefix = d.MQTTTopicPrefix
	}
	if c.CameraDevice == "" {
		c.CameraDevice = d.CameraDevice
	}
	if c.SendFrequencySeconds == 0 {
		c.SendFrequencySeconds = d.SendFrequencySeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = d.LogPath
	}
}

// LoadSecrets reads credentials from the environment, after loading envFile
// if it exists. Secrets are never stored in the JSON file.
func (c *Config) LoadSecrets(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if v := os.Getenv("UPLOAD_CLIENT_SECRET"); v != "" {
		c.UploadClientSecret = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	return nil
}

// Format returns the configured image format
func (c *Config) Format() (frames.Format, error) {
	return frames.ParseFormat(c.ImageFormat)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.QueueCapacity <= 0 {
		errs = append(errs, errors.New("queue_capacity must be positive"))
	}
	if c.WindowSeconds < MinWindowSeconds {
		errs = append(errs, fmt.Errorf("window_seconds must be at least %d", MinWindowSeconds))
	}
	if c.SubmitTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("submit_timeout_seconds must be positive"))
	}
	if c.StagingRoot == "" {
		errs = append(errs, errors.New("staging_root is required"))
	}
	if c.StoreID == "" || c.CameraID == "" {
		errs = append(errs, errors.New("store_id and camera_id are required"))
	}
	if strings.ContainsAny(c.StoreID+c.CameraID+c.UploadType, `/\`) {
		errs = append(errs, errors.New("upload_type, store_id and camera_id must not contain path separators"))
	}
	if _, err := c.Format(); err != nil {
		errs = append(errs, err)
	}
	if c.LogMaxAge < 0 {
		errs = append(errs, errors.New("log_max_age_days must not be negative"))
	}
	if c.SendFrequencySeconds < 0 {
		errs = append(errs, errors.New("send_frequency_seconds must not be negative"))
	}

	switch c.ExportSink {
	case SinkOutbox:
		if c.OutboxDBPath == "" {
			errs = append(errs, errors.New("outbox_db_path is required for the outbox sink"))
		}
		if c.UploadServerURL == "" {
			errs = append(errs, errors.New("upload_server_url is required for the outbox sink"))
		}
	case SinkRedis:
		if c.RedisAddress == "" {
			errs = append(errs, errors.New("redis_address is required for the redis sink"))
		}
	case SinkMQTT:
		if c.MQTTBroker == "" {
			errs = append(errs, errors.New("mqtt_broker is required for the mqtt sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown export_sink %q (expected %s, %s or %s)", c.ExportSink, SinkOutbox, SinkRedis, SinkMQTT))
	}

	return errors.Join(errs...)
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	QueueCapacity   *int
	WindowSeconds   *int
	StagingRoot     *string
	StoreID         *string
	CameraID        *string
	ImageFormat     *string
	Bucket          *string
	ExportSink      *string
	UploadServerURL *string
	CameraDevice    *string
	SendFrequency   *int
	StatusAddress   *string
	LogLevel        *string
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.QueueCapacity != nil && *overrides.QueueCapacity > 0 {
		c.QueueCapacity = *overrides.QueueCapacity
	}
	if overrides.WindowSeconds != nil && *overrides.WindowSeconds > 0 {
		c.WindowSeconds = *overrides.WindowSeconds
	}
	if overrides.StagingRoot != nil && *overrides.StagingRoot != "" {
		c.StagingRoot = *overrides.StagingRoot
	}
	if overrides.StoreID != nil && *overrides.StoreID != "" {
		c.StoreID = *overrides.StoreID
	}
	if overrides.CameraID != nil && *overrides.CameraID != "" {
		c.CameraID = *overrides.CameraID
	}
	if overrides.ImageFormat != nil && *overrides.ImageFormat != "" {
		c.ImageFormat = *overrides.ImageFormat
	}
	if overrides.Bucket != nil && *overrides.Bucket != "" {
		c.Bucket = *overrides.Bucket
	}
	if overrides.ExportSink != nil && *overrides.ExportSink != "" {
		c.ExportSink = *overrides.ExportSink
	}
	if overrides.UploadServerURL != nil && *overrides.UploadServerURL != "" {
		c.UploadServerURL = *overrides.UploadServerURL
	}
	if overrides.CameraDevice != nil && *overrides.CameraDevice != "" {
		c.CameraDevice = *overrides.CameraDevice
	}
	if overrides.SendFrequency != nil && *overrides.SendFrequency > 0 {
		c.SendFrequencySeconds = *overrides.SendFrequency
	}
	if overrides.StatusAddress != nil && *overrides.StatusAddress != "" {
		c.StatusAddress = *overrides.StatusAddress
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
}

// saveConfig saves a configuration to a JSON file
func saveConfig(filename string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
