package webapkd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/webapkd/internal/pkg/metrics"
	"github.com/autopeer-io/webapkd/internal/webapk/filestore"
	"github.com/autopeer-io/webapkd/internal/webapk/installer"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/internal/webapk/scheduler"
	"github.com/autopeer-io/webapkd/internal/webapk/store"
	"github.com/autopeer-io/webapkd/internal/webapk/updater"
	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/mqtt"
)

// Server is the running daemon: control loop, delivery scheduler, installer
// connection, HTTP API and gRPC health port.
type Server struct {
	store     *store.Store
	bucket    *filestore.MinIO
	registry  *registry.Registry
	mqtt      mqtt.Client
	installer *installer.MQTTInstaller
	scheduler *scheduler.Scheduler
	loop      *runloop.Loop
	apps      *Apps
	grpc      *grpcServer
	http      *http.Server
	log       log.Logger
}

// Apps exposes the app service, e.g. for config hot reload.
func (s *Server) Apps() *Apps {
	return s.apps
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.store.Close()

	if s.bucket != nil {
		if err := s.bucket.CheckBucket(ctx); err != nil {
			return err
		}
	}

	if err := s.mqtt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}
	metrics.RegisterBrokerStatus(s.mqtt.IsConnected)

	n, err := updater.Recover(ctx, s.registry, s.scheduler, s.log.Logr())
	if err != nil {
		return fmt.Errorf("failed to recover scheduled deliveries: %w", err)
	}
	s.log.Info("Recovered scheduled deliveries", "count", n)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop.Run(gctx)
	})
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return serveHTTP(gctx, s.http)
	})
	if s.grpc != nil {
		g.Go(func() error {
			return s.grpc.Start(gctx)
		})
	}
	g.Go(func() error {
		// Subscriptions survive reconnects, so one successful subscribe is enough.
		if err := s.mqtt.AwaitConnection(gctx); err != nil {
			return nil
		}
		if err := s.installer.Start(gctx); err != nil {
			return fmt.Errorf("failed to subscribe to install results: %w", err)
		}
		return nil
	})

	s.log.Info("webapkd started")
	err = g.Wait()

	s.apps.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mqtt.Disconnect(shutdownCtx)

	s.log.Info("webapkd stopped")
	return err
}
