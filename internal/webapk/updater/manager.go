// Package updater drives the update cycle of one installed WebAPK: check the
// live manifest, decide, serialize a request and hand it to the scheduler.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/webapkd/internal/pkg/util/fsm"
	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/decision"
	"github.com/autopeer-io/webapkd/internal/webapk/fetcher"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/request"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// DefaultCheckTimeout is how long a manifest fetch may take before it is
// treated as "no manifest".
const DefaultCheckTimeout = 30 * time.Second

// Config is the update policy of a Manager.
type Config struct {
	CheckTimeout time.Duration
	Decision     decision.Options
	// Enabled is the global switch, consulted on every check. Nil means enabled.
	Enabled func() bool
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Registry  *registry.Registry
	Files     core.FileStore
	Scheduler core.Scheduler
	Host      core.ManifestHost
	// Loop is the control goroutine every state change happens on.
	Loop runloop.Poster
	// Worker runs serialization off the control goroutine. Defaults to runloop.Go.
	Worker  runloop.Poster
	Clock   clock.WithDelayedExecution
	Metrics core.MetricsSink
	Logger  log.Logger
}

// Manager is the update state machine of one app. All methods must be called
// on the control goroutine; asynchronous results are posted back to it.
type Manager struct {
	deps    Deps
	cfg     Config
	log     log.Logger
	ctx     context.Context
	storage *registry.AppStorage
	fsm     *fsm.FSM

	app     *model.InstalledApp
	fetcher *fetcher.Fetcher
	timer   clock.Timer
	// generation invalidates timeouts and serialization results of earlier
	// cycles.
	generation uint64
	forced     bool
	reason     model.UpdateReason
	fetched    *model.FetchResult
	destroyed  bool
}

// NewManager creates the manager of appID.
func NewManager(appID string, deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = core.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Worker == nil {
		deps.Worker = runloop.Go{}
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}

	m := &Manager{
		deps:    deps,
		cfg:     cfg,
		log:     deps.Logger.WithName("updater").WithValues("app", appID),
		ctx:     context.Background(),
		storage: deps.Registry.Storage(appID),
		reason:  model.UpdateReasonNone,
	}
	m.fsm = newStateMachine(m)
	return m
}

// AppID returns the app this manager updates.
func (m *Manager) AppID() string {
	return m.storage.AppID()
}

// State returns the current state name.
func (m *Manager) State() string {
	return m.fsm.Current()
}

// Reason returns the reason of the last decision.
func (m *Manager) Reason() model.UpdateReason {
	return m.reason
}

// UpdateIfNeeded starts a check of installed against the manifest served in
// tab when one is due. It returns whether a check was started. A call while a
// cycle is already running is rejected.
func (m *Manager) UpdateIfNeeded(tab core.Tab, installed *model.InstalledApp) bool {
	if m.destroyed || installed == nil {
		return false
	}
	if state := m.fsm.Current(); state != StateIdle {
		m.log.Info("Update check rejected, cycle in progress", "state", state)
		return false
	}

	err := m.fsm.Event(m.ctx, EventCheck, installed, tab)
	if err != nil {
		if fsmutil.IsRealError(err) {
			m.log.Error(err, "Failed to start update check")
		}
		return false
	}
	return true
}

// OnDeliveryResult closes a scheduled cycle with the installer's answer. The
// record is finalized whether or not this manager is still waiting for it.
func (m *Manager) OnDeliveryResult(result model.InstallResult, relaxUpdates bool) {
	if err := m.storage.FinishUpdate(m.ctx, result, relaxUpdates); err != nil {
		m.log.Error(err, "Failed to record delivery result")
	}
	m.log.Info("Update delivered", "result", result, "relaxUpdates", relaxUpdates)

	if m.fsm.Current() == StateScheduled {
		m.event(EventDelivered)
	}
}

// Destroy cancels the timeout and the fetcher. A delivery that was already
// scheduled still runs.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.stopTimer()
	m.destroyFetcher()
}

// guardCheckDue cancels EventCheck unless updates are enabled, the app is
// bound and a check is due.
func (m *Manager) guardCheckDue(ctx context.Context, e *fsm.Event) error {
	installed := fsmutil.Arg[*model.InstalledApp](e, 0)

	if m.cfg.Enabled != nil && !m.cfg.Enabled() {
		e.Cancel(fsm.NoTransitionError{})
		return nil
	}
	if !m.deps.Registry.IsBound(installed.PackageName) {
		e.Cancel(fsm.NoTransitionError{})
		return nil
	}

	due, err := m.storage.ShouldCheckForUpdate(ctx, installed.ShellVersion)
	if err != nil {
		m.log.Error(err, "Failed to read update record")
		e.Cancel(err)
		return nil
	}
	if !due {
		e.Cancel(fsm.NoTransitionError{})
	}
	return nil
}

// actionEnterCheckInFlight starts the fetcher and arms the timeout.
func (m *Manager) actionEnterCheckInFlight(ctx context.Context, e *fsm.Event) error {
	installed := fsmutil.Arg[*model.InstalledApp](e, 0)
	tab := fsmutil.Arg[core.Tab](e, 1)

	m.app = installed
	m.fetched = nil
	m.reason = model.UpdateReasonNone
	m.generation++
	gen := m.generation
	m.deps.Metrics.CheckStarted()

	m.destroyFetcher()
	m.fetcher = fetcher.New(m.deps.Host, m.deps.Loop, m.log)
	started := m.fetcher.Start(tab, installed.Snapshot.EffectiveScope(), installed.ManifestURL,
		fetcher.ObserverFunc(m.onGotManifestData))
	if !started {
		m.log.Info("Manifest fetch not started", "manifestURL", installed.ManifestURL)
		m.deps.Loop.Post(func() {
			if gen == m.generation {
				m.onManifest(nil, core.CheckOutcomeNoManifest)
			}
		})
		return nil
	}

	m.timer = m.deps.Clock.AfterFunc(m.cfg.CheckTimeout, func() {
		m.deps.Loop.Post(func() { m.onTimeout(gen) })
	})
	m.log.Debug("Update check started", "timeout", m.cfg.CheckTimeout)
	return nil
}

// actionEnterDeciding records the check and evaluates the fetched manifest.
func (m *Manager) actionEnterDeciding(ctx context.Context, e *fsm.Event) error {
	result := fsmutil.Arg[*model.FetchResult](e, 0)
	outcome := fsmutil.Arg[string](e, 1)
	m.deps.Metrics.CheckFinished(outcome)

	if err := m.storage.UpdateTimeOfLastCheck(ctx); err != nil {
		m.log.Error(err, "Failed to record check time")
	}

	var (
		snapshot           *model.ManifestSnapshot
		primary, secondary string
	)
	if result != nil {
		snapshot = result.Snapshot
		primary = result.PrimaryIconURL
		secondary = result.SecondaryIconURL
	}

	rec, err := m.storage.Record(ctx)
	if err != nil {
		m.log.Error(err, "Failed to read record")
	}
	m.forced = err == nil && rec.ShouldForceUpdate

	reason := decision.Evaluate(m.app, snapshot, primary, secondary, m.cfg.Decision)
	if m.forced && snapshot != nil && reason == model.UpdateReasonNone {
		reason = model.UpdateReasonManuallyTriggered
	}

	m.fetched = result
	m.reason = reason
	m.deps.Metrics.UpdateReason(reason)
	m.log.Info("Update check finished", "outcome", outcome, "reason", reason)

	// Keep watching only while nothing was found, so later navigations get
	// another chance without sending duplicate requests.
	if snapshot != nil || reason.NeedsUpdate() {
		m.destroyFetcher()
	}
	return nil
}

func (m *Manager) logTransition(_ context.Context, e *fsm.Event) {
	m.log.Debug("State transition", "event", e.Event, "from", e.Src, "to", e.Dst)
}

func (m *Manager) onGotManifestData(result *model.FetchResult) {
	if result == nil || result.Snapshot == nil {
		m.onManifest(nil, core.CheckOutcomeNoManifest)
		return
	}
	m.onManifest(result, core.CheckOutcomeManifest)
}

func (m *Manager) onTimeout(gen uint64) {
	if gen != m.generation || m.fsm.Current() != StateCheckInFlight {
		return
	}
	m.log.Info("Manifest fetch timed out", "timeout", m.cfg.CheckTimeout)
	if m.fetcher != nil {
		m.fetcher.Expire()
	}
	m.onManifest(nil, core.CheckOutcomeTimeout)
}

// onManifest is the single finalize point of a check. The timeout and the
// fetcher race; whichever arrives second is dropped.
func (m *Manager) onManifest(result *model.FetchResult, outcome string) {
	if m.destroyed {
		return
	}
	state := m.fsm.Current()
	if state != StateCheckInFlight && (state != StateIdle || m.fetcher == nil) {
		return
	}
	m.stopTimer()
	m.generation++

	if !m.event(EventManifest, result, outcome) {
		return
	}

	if !m.reason.NeedsUpdate() {
		m.finishWithoutUpdate()
		return
	}
	m.requestUpdate()
}

// finishWithoutUpdate resets a failed or forced record with a success so the
// next cycle starts clean.
func (m *Manager) finishWithoutUpdate() {
	rec, err := m.storage.Record(m.ctx)
	if err != nil {
		m.log.Error(err, "Failed to read record")
	} else if !rec.LastRequestSucceeded || rec.ShouldForceUpdate {
		if err := m.storage.FinishUpdate(m.ctx, model.InstallResultSuccess, false); err != nil {
			m.log.Error(err, "Failed to reset update record")
		}
	}
	m.event(EventNoUpdate)
}

// requestUpdate pre-marks a failure, then serializes the request on the
// worker. Until delivery confirms, a crash leaves a failed record behind.
func (m *Manager) requestUpdate() {
	if err := m.storage.RecordUpdate(m.ctx, model.InstallResultFailure, false); err != nil {
		m.log.Error(err, "Failed to pre-mark update failure")
	}
	if err := m.storage.SetLastRequestedShellVersion(m.ctx, m.cfg.Decision.MinShellVersion); err != nil {
		m.log.Error(err, "Failed to record requested shell version")
	}

	path, err := m.storage.CreateAndSetUpdateRequestFilePath(m.ctx)
	if err != nil {
		m.log.Error(err, "Failed to assign update request path")
		m.event(EventNoUpdate)
		return
	}
	if !m.event(EventUpdate) {
		return
	}

	req := request.Build(m.app, m.fetched, m.reason)
	gen := m.generation
	files := m.deps.Files
	m.deps.Worker.Post(func() {
		err := writeRequest(m.ctx, files, path, req)
		m.deps.Loop.Post(func() { m.onSerialized(gen, err) })
	})
}

func writeRequest(ctx context.Context, files core.FileStore, path string, req *request.UpdateRequest) error {
	blob, err := request.Encode(req)
	if err != nil {
		return fmt.Errorf("failed to encode update request: %w", err)
	}
	if err := files.Write(ctx, path, blob); err != nil {
		return fmt.Errorf("failed to write update request: %w", err)
	}
	return nil
}

// onSerialized schedules delivery. It still runs after Destroy: the request
// exists and the record already says so.
func (m *Manager) onSerialized(gen uint64, err error) {
	if gen != m.generation || m.fsm.Current() != StateSerializing {
		return
	}

	if err == nil {
		err = m.schedule()
	}
	if err != nil {
		m.log.Error(err, "Update request abandoned", "reason", m.reason)
		if derr := m.storage.DeletePendingUpdateRequestFile(m.ctx); derr != nil {
			m.log.Error(derr, "Failed to delete update request")
		}
		if rerr := m.storage.RecordUpdate(m.ctx, model.InstallResultFailure, false); rerr != nil {
			m.log.Error(rerr, "Failed to record update failure")
		}
		m.event(EventSerializeFailed)
		return
	}

	m.deps.Metrics.RequestQueued(m.forced)
	m.log.Info("Update request scheduled", "reason", m.reason, "forced", m.forced)
	m.event(EventSerialized)
}

func (m *Manager) schedule() error {
	if err := m.storage.SetUpdateScheduled(m.ctx, true); err != nil {
		return err
	}
	if err := ScheduleDelivery(m.ctx, m.deps.Scheduler, m.AppID(), m.forced); err != nil {
		return fmt.Errorf("failed to schedule delivery: %w", err)
	}
	return nil
}

// event fires name and reports whether the transition happened.
func (m *Manager) event(name string, args ...any) bool {
	err := m.fsm.Event(m.ctx, name, args...)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return true
	}
	if fsmutil.IsRealError(err) {
		m.log.Error(err, "State transition failed", "event", name, "state", m.fsm.Current())
	}
	return false
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) destroyFetcher() {
	if m.fetcher != nil {
		m.fetcher.Destroy()
		m.fetcher = nil
	}
}
