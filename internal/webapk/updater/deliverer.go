package updater

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/scheduler"
)

// Completer receives the installer's answer for appID. It must finalize the
// app's record.
type Completer interface {
	Complete(ctx context.Context, appID string, outcome core.InstallOutcome) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, appID string, outcome core.InstallOutcome) error

func (f CompleterFunc) Complete(ctx context.Context, appID string, outcome core.InstallOutcome) error {
	return f(ctx, appID, outcome)
}

// Deliverer is the scheduled entry point. It runs without any Manager,
// possibly in a later process, and works only from the persisted record and
// the request file.
type Deliverer struct {
	Registry   *registry.Registry
	Files      core.FileStore
	Installer  core.Installer
	Foreground core.ForegroundChecker
	Metrics    core.MetricsSink
	// Completer finalizes the record. Nil finalizes through the registry.
	Completer Completer
}

// Handle delivers the pending request named by task. It has the signature of
// scheduler.Handler.
func (d *Deliverer) Handle(ctx context.Context, logger logr.Logger, task core.TaskInfo) error {
	appID := task.Payload[PayloadAppID]
	if appID == "" {
		logger.Info("Delivery task without app id, dropping")
		return nil
	}
	logger = logger.WithValues("app", appID)

	rec, err := d.Registry.Storage(appID).Record(ctx)
	if errors.Is(err, registry.ErrNotRegistered) {
		logger.Info("App was uninstalled, nothing to deliver")
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.UpdateScheduled {
		logger.V(1).Info("No update scheduled")
		return nil
	}
	if d.Foreground != nil && d.Foreground.IsInForeground(appID) {
		logger.Info("App in foreground, delivery postponed")
		return scheduler.ErrReschedule
	}

	outcome := d.deliver(ctx, logger, appID, rec)
	if d.Metrics != nil {
		d.Metrics.DeliveryFinished(outcome.Result)
	}
	logger.Info("Delivery finished", "result", outcome.Result, "relaxUpdates", outcome.RelaxUpdates)
	return d.complete(ctx, appID, outcome)
}

func (d *Deliverer) deliver(ctx context.Context, logger logr.Logger, appID string, rec *model.UpdateRecord) core.InstallOutcome {
	failure := core.InstallOutcome{Result: model.InstallResultFailure}

	blob, err := d.Files.Read(ctx, rec.PendingUpdateRequestPath)
	if err != nil {
		logger.Error(err, "Failed to read update request", "path", rec.PendingUpdateRequestPath)
		return failure
	}

	outcome, err := d.Installer.Install(ctx, appID, blob)
	if err != nil {
		logger.Error(err, "Install failed")
		return failure
	}
	return outcome
}

func (d *Deliverer) complete(ctx context.Context, appID string, outcome core.InstallOutcome) error {
	if d.Completer != nil {
		return d.Completer.Complete(ctx, appID, outcome)
	}
	return d.Registry.Storage(appID).FinishUpdate(ctx, outcome.Result, outcome.RelaxUpdates)
}

// Recover reschedules every delivery a previous process left outstanding.
func Recover(ctx context.Context, reg *registry.Registry, s core.Scheduler, logger logr.Logger) (int, error) {
	recs, err := reg.List(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		if !rec.UpdateScheduled {
			continue
		}
		if err := ScheduleDelivery(ctx, s, rec.AppID, rec.ShouldForceUpdate); err != nil {
			logger.Error(err, "Failed to reschedule delivery", "app", rec.AppID)
			continue
		}
		n++
	}
	return n, nil
}
