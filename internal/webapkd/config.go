package webapkd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/internal/pkg/metrics"
	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/decision"
	"github.com/autopeer-io/webapkd/internal/webapk/filestore"
	"github.com/autopeer-io/webapkd/internal/webapk/installer"
	"github.com/autopeer-io/webapkd/internal/webapk/metadata"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/internal/webapk/scheduler"
	"github.com/autopeer-io/webapkd/internal/webapk/store"
	"github.com/autopeer-io/webapkd/internal/webapk/updater"
	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/mqtt"
	"github.com/autopeer-io/webapkd/pkg/mqtt/topic"
	"github.com/autopeer-io/webapkd/pkg/options"
)

type Config struct {
	HttpOptions      *options.HttpOptions
	GrpcOptions      *options.GrpcOptions
	MqttOptions      *options.MqttOptions
	S3Options        *options.S3Options
	StoreOptions     *options.StoreOptions
	UpdateOptions    *options.UpdateOptions
	SchedulerOptions *options.SchedulerOptions
}

// RegistryConfig derives the registry policy from the options.
func (cfg *Config) RegistryConfig() registry.Config {
	return registry.Config{
		UpdateInterval:        cfg.UpdateOptions.Interval,
		RelaxedUpdateInterval: cfg.UpdateOptions.RelaxedInterval,
		MinShellVersion:       cfg.UpdateOptions.MinShellVersion,
		BoundPackagePrefix:    cfg.UpdateOptions.BoundPackagePrefix,
		RequestDir:            cfg.StoreOptions.RequestDir,
	}
}

// NewFileStore opens the configured request file backend. The MinIO store is
// also returned so its bucket can be checked at startup.
func (cfg *Config) NewFileStore() (core.FileStore, *filestore.MinIO, error) {
	switch cfg.StoreOptions.FileBackend {
	case options.FileBackendS3:
		m, err := filestore.NewMinIO(cfg.S3Options)
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	default:
		return filestore.NewLocal(), nil, nil
	}
}

// NewServer assembles the daemon. Nothing is started until Run.
func (cfg *Config) NewServer() (*Server, error) {
	logger := log.Std()

	db, err := store.New(cfg.StoreOptions.DBPath)
	if err != nil {
		return nil, err
	}

	files, bucket, err := cfg.NewFileStore()
	if err != nil {
		db.Close()
		return nil, err
	}

	mqttclient, err := mqtt.NewClient(cfg.MqttOptions.ToClientConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create mqtt client: %w", err)
	}
	clk := clock.RealClock{}
	inst := installer.NewMQTTInstaller(
		mqttclient,
		topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot),
		installer.Options{QoS: cfg.MqttOptions.QoS, Timeout: cfg.MqttOptions.InstallTimeout, Clock: clk},
		logger.WithName("installer"),
	)

	loop := runloop.New(256)
	reg := registry.New(db, files, clk, cfg.RegistryConfig(), logger)

	// The scheduler hands tasks to the deliverer, which reports back through
	// Apps; both are built below.
	var deliverer *updater.Deliverer
	sched := scheduler.New(clk,
		scheduler.StaticConditions{
			Unmetered: cfg.SchedulerOptions.UnmeteredNetwork,
			Charging:  cfg.SchedulerOptions.Charging,
		},
		func(ctx context.Context, l logr.Logger, task core.TaskInfo) error {
			return deliverer.Handle(ctx, l, task)
		},
		scheduler.Options{
			PollInterval: cfg.SchedulerOptions.PollInterval,
			Concurrency:  cfg.SchedulerOptions.Concurrency,
			OnPendingChanged: func(n int) {
				metrics.ScheduledDeliveries.Set(float64(n))
			},
		},
		logger,
	)

	apps := NewApps(AppsDeps{
		Registry:  reg,
		Metadata:  metadata.NewDirReader(files, cfg.StoreOptions.MetadataDir),
		Files:     files,
		Scheduler: sched,
		Loop:      loop,
		Worker:    runloop.Go{},
		Clock:     clk,
		Metrics:   metrics.Sink{},
		Logger:    logger,
	}, updater.Config{
		CheckTimeout: cfg.UpdateOptions.CheckTimeout,
		Decision: decision.Options{
			MinShellVersion:        cfg.UpdateOptions.MinShellVersion,
			MaskableIconsSupported: cfg.UpdateOptions.MaskableIconsSupported,
		},
	}, cfg.UpdateOptions.Enabled)

	deliverer = &updater.Deliverer{
		Registry:   reg,
		Files:      files,
		Installer:  inst,
		Foreground: apps,
		Metrics:    metrics.Sink{},
		Completer:  apps,
	}

	return &Server{
		store:     db,
		bucket:    bucket,
		registry:  reg,
		mqtt:      mqttclient,
		installer: inst,
		scheduler: sched,
		loop:      loop,
		apps:      apps,
		grpc: grpcServerFor(cfg.GrpcOptions, mqttclient.IsConnected),
		http: &http.Server{
			Addr:        cfg.HttpOptions.Addr,
			Handler:     NewHandler(apps, mqttclient.IsConnected),
			ReadTimeout: cfg.HttpOptions.Timeout,
		},
		log: logger,
	}, nil
}

// grpcServerFor returns nil when the gRPC port is disabled.
func grpcServerFor(opts *options.GrpcOptions, ready func() bool) *grpcServer {
	if opts == nil || opts.Addr == "" {
		return nil
	}
	return newGRPCServer(opts, ready)
}
