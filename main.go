package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/yeti47/crop-exporter/ccc/db"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/config"
	"github.com/yeti47/crop-exporter/exporting"
	filemanagement "github.com/yeti47/crop-exporter/file-management"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/metrics"
	"github.com/yeti47/crop-exporter/pipeline"
	"github.com/yeti47/crop-exporter/status"
	"github.com/yeti47/crop-exporter/vision"
)

const serviceName = "crop-exporter"

// sinkResources is everything built for the configured export sink
type sinkResources struct {
	sink     exporting.Sink
	outbox   *exporting.OutboxSink
	uploader exporting.Uploader
	cleanup  func()
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.json", "Path to the JSON config file")
	envFile := flag.String("env", ".env", "Path to the env file holding secrets")
	testMode := flag.Bool("test", false, "Run in test mode; archives are copied to ./mock-uploads instead of being uploaded")

	// Config override flags
	queueCapacity := flag.Int("queue-capacity", 0, "Record queue capacity (overrides config)")
	windowSeconds := flag.Int("window-seconds", 0, "Archive window length in seconds (overrides config)")
	stagingRoot := flag.String("staging-root", "", "Staging directory (overrides config)")
	storeID := flag.String("store-id", "", "Store ID (overrides config)")
	cameraID := flag.String("camera-id", "", "Camera ID (overrides config)")
	imageFormat := flag.String("image-format", "", "Image format: jpg, png or npy (overrides config)")
	bucket := flag.String("bucket", "", "Export bucket (overrides config)")
	exportSink := flag.String("export-sink", "", "Export sink: outbox, redis or mqtt (overrides config)")
	uploadServerURL := flag.String("upload-server-url", "", "Upload server URL (overrides config)")
	cameraDevice := flag.String("camera-device", "", "Camera device path or URL (overrides config)")
	sendFrequency := flag.Int("send-frequency", 0, "Forward one frame every N seconds (overrides config)")
	statusAddress := flag.String("status-address", "", "Status server listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")

	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.LoadSecrets(*envFile); err != nil {
		log.Fatalf("Failed to load secrets: %v", err)
	}

	// Apply CLI overrides if provided
	cfg.Override(config.ConfigOverrides{
		QueueCapacity:   queueCapacity,
		WindowSeconds:   windowSeconds,
		StagingRoot:     stagingRoot,
		StoreID:         storeID,
		CameraID:        cameraID,
		ImageFormat:     imageFormat,
		Bucket:          bucket,
		ExportSink:      exportSink,
		UploadServerURL: uploadServerURL,
		CameraDevice:    cameraDevice,
		SendFrequency:   sendFrequency,
		StatusAddress:   statusAddress,
		LogLevel:        logLevel,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	format, _ := cfg.Format()

	logger, logCloser := logging.CreateLogger(logging.Settings{
		Level:   logging.LogLevel(cfg.LogLevel),
		Dir:     cfg.LogPath,
		Name:    serviceName,
		Console: cfg.LogConsole,
		MaxAge:  cfg.LogMaxAge,
	})
	defer logCloser.Close()

	// Log final configuration (without sensitive data)
	logger.Info("Configuration loaded",
		"store_id", cfg.StoreID,
		"camera_id", cfg.CameraID,
		"queue_capacity", cfg.QueueCapacity,
		"window_seconds", cfg.WindowSeconds,
		"image_format", format,
		"export_sink", cfg.ExportSink,
		"camera_device", cfg.CameraDevice,
		"test_mode", *testMode,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPipeline(registry, cfg.CameraID)

	fileTracker := filemanagement.NewLocalFileTracker(logger)

	resources, err := buildSink(logger, cfg, fileTracker, m, *testMode)
	if err != nil {
		logger.Error("Failed to create export sink", "sink", cfg.ExportSink, "error", err)
		os.Exit(1)
	}
	defer resources.cleanup()

	p, err := pipeline.New(logger, pipeline.Settings{
		QueueCapacity:  cfg.QueueCapacity,
		WindowDuration: time.Duration(cfg.WindowSeconds) * time.Second,
		Naming: frames.Naming{
			Root:       cfg.StagingRoot,
			UploadType: cfg.UploadType,
			StoreID:    cfg.StoreID,
			CameraID:   cfg.CameraID,
		},
		Format:           format,
		SubmitTimeout:    time.Duration(cfg.SubmitTimeoutSeconds) * time.Second,
		PurgeStagedFiles: cfg.PurgeStagedFiles,
	}, resources.sink, fileTracker, m)
	if err != nil {
		logger.Error("Failed to create pipeline", "error", err)
		os.Exit(1)
	}

	var statusServer *status.Server
	if cfg.StatusAddress != "" {
		var backlog status.BacklogFunc
		if resources.outbox != nil {
			backlog = resources.outbox.Backlog
		}
		statusServer = status.NewServer(logger, cfg.StatusAddress, serviceName, p, backlog, registry)
	}

	app := NewExporterClient(logger,
		vision.NewGoCVCamera(logger, cfg.CameraDevice, cfg.SendFrequencySeconds),
		vision.NewMotionRegionDetector(logger, vision.DefaultMotionSettings),
		p,
		resources.sink,
		ExporterClientOptions{
			Outbox:         resources.outbox,
			Uploader:       resources.uploader,
			Status:         statusServer,
			Format:         format,
			SendFullFrames: cfg.SendFullFrames,
			FlushOnStop:    cfg.FlushOnStop,
		},
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		logger.Error("Failed to start exporter client", "error", err)
		resources.cleanup()
		os.Exit(1)
	}

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	if err := app.Stop(); err != nil {
		logger.Error("Error stopping exporter client", "error", err)
	}
}

// buildSink creates the configured export sink and whatever it needs to deliver
func buildSink(logger logging.Logger, cfg *config.Config, fileTracker filemanagement.FileTracker, m *metrics.Pipeline, testMode bool) (*sinkResources, error) {
	switch cfg.ExportSink {
	case config.SinkRedis:
		client, err := exporting.NewRedisClient(exporting.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &sinkResources{
			sink:    exporting.NewRedisStreamSink(logger, client, cfg.RedisStream, cfg.Bucket, cfg.RedisMaxLen),
			cleanup: closeRedis(logger, client),
		}, nil

	case config.SinkMQTT:
		client, err := exporting.ConnectMQTT(logger, exporting.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err != nil {
			return nil, err
		}
		return &sinkResources{
			sink:    exporting.NewMQTTSink(logger, client, cfg.MQTTTopicPrefix, cfg.CameraID, cfg.Bucket),
			cleanup: disconnectMQTT(client),
		}, nil

	default:
		database, err := db.Open(cfg.OutboxDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open outbox database: %w", err)
		}
		outbox, err := exporting.NewOutboxSink(logger, database, cfg.CameraID, cfg.Bucket, cfg.OutboxMaxPending)
		if err != nil {
			database.Close()
			return nil, err
		}

		var transport exporting.Transport
		if testMode {
			outputDir := filepath.Join(".", "mock-uploads")
			logger.Info("Running in TEST MODE with mock transport", "output_dir", outputDir)
			transport = exporting.NewMockTransport(logger, outputDir)
		} else {
			transport = exporting.NewHTTPTransport(cfg.UploadServerURL, cfg.UploadClientID, cfg.UploadClientSecret,
				time.Duration(cfg.UploadTimeoutSeconds)*time.Second)
		}

		settings := exporting.DefaultUploaderSettings()
		settings.MaxAttempts = cfg.UploadMaxAttempts
		settings.PollInterval = time.Duration(cfg.UploadPollSeconds) * time.Second
		settings.UploadTimeout = time.Duration(cfg.UploadTimeoutSeconds) * time.Second
		settings.DeleteDelivered = cfg.DeleteDeliveredArchive

		return &sinkResources{
			sink:     outbox,
			outbox:   outbox,
			uploader: exporting.NewUploader(logger, outbox, transport, fileTracker, m, settings),
			cleanup:  closeDatabase(logger, database),
		}, nil
	}
}

func closeRedis(logger logging.Logger, client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close redis client", "error", err)
		}
	}
}

func disconnectMQTT(client mqtt.Client) func() {
	return func() {
		client.Disconnect(250)
	}
}

func closeDatabase(logger logging.Logger, database *sql.DB) func() {
	return func() {
		if err := database.Close(); err != nil {
			logger.Error("Failed to close outbox database", "error", err)
		}
	}
}
