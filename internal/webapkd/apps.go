package webapkd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/metadata"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/internal/webapk/updater"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// ErrNotRunning is returned for session calls on an app that was not launched.
var ErrNotRunning = errors.New("app is not running")

// AppsDeps are the collaborators of Apps.
type AppsDeps struct {
	Registry  *registry.Registry
	Metadata  *metadata.DirReader
	Files     core.FileStore
	Scheduler core.Scheduler
	Loop      runloop.Poster
	Worker    runloop.Poster
	Clock     clock.WithDelayedExecution
	Metrics   core.MetricsSink
	Logger    log.Logger
}

// AppStatus is the externally visible state of one app.
type AppStatus struct {
	Record  *model.UpdateRecord `json:"record"`
	Running bool                `json:"running"`
	State   string              `json:"state,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

type liveApp struct {
	session *session
	manager *updater.Manager
}

// Apps owns the update managers of running WebAPKs and the sessions their
// shells report through. Managers are only touched on the control loop.
type Apps struct {
	deps AppsDeps
	cfg  updater.Config
	log  log.Logger

	enabled    atomic.Bool
	foreground sync.Map

	mu   sync.Mutex
	live map[string]*liveApp
}

var (
	_ core.ForegroundChecker = (*Apps)(nil)
	_ updater.Completer      = (*Apps)(nil)
)

func NewApps(deps AppsDeps, cfg updater.Config, enabled bool) *Apps {
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	a := &Apps{
		deps: deps,
		log:  deps.Logger.WithName("apps"),
		live: map[string]*liveApp{},
	}
	a.enabled.Store(enabled)
	cfg.Enabled = a.enabled.Load
	a.cfg = cfg
	return a
}

// SetEnabled flips the global update switch.
func (a *Apps) SetEnabled(v bool) {
	if a.enabled.Swap(v) != v {
		a.log.Info("Update checks toggled", "enabled", v)
	}
}

func (a *Apps) Enabled() bool { return a.enabled.Load() }

// Register records a newly installed app and, when given, its metadata.
func (a *Apps) Register(ctx context.Context, appID, packageName string, installed *model.InstalledApp) (*model.UpdateRecord, error) {
	if installed != nil {
		installed.AppID = appID
		if installed.PackageName == "" {
			installed.PackageName = packageName
		}
		if err := a.deps.Metadata.Write(ctx, installed); err != nil {
			return nil, fmt.Errorf("failed to store metadata: %w", err)
		}
	}
	return a.deps.Registry.Register(ctx, appID, packageName)
}

// Forget stops the app, cancels its delivery and drops everything stored for it.
func (a *Apps) Forget(ctx context.Context, appID string) error {
	if err := a.Close(ctx, appID); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	a.deps.Scheduler.Cancel(updater.TaskID(appID))
	if err := a.deps.Registry.Unregister(ctx, appID); err != nil {
		return err
	}
	return a.deps.Metadata.Delete(ctx, appID)
}

// Force requests an update on the next check regardless of the manifest.
func (a *Apps) Force(ctx context.Context, appID string) error {
	storage := a.deps.Registry.Storage(appID)
	if _, err := storage.Record(ctx); err != nil {
		return err
	}
	return storage.SetShouldForceUpdate(ctx, true)
}

// Status returns the record of appID together with its live state.
func (a *Apps) Status(ctx context.Context, appID string) (*AppStatus, error) {
	rec, err := a.deps.Registry.Storage(appID).Record(ctx)
	if err != nil {
		return nil, err
	}
	st := &AppStatus{Record: rec}
	if la := a.get(appID); la != nil {
		err = a.call(ctx, func() {
			st.Running = true
			st.State = la.manager.State()
			st.Reason = la.manager.Reason().String()
		})
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// List returns every registered app ordered by id.
func (a *Apps) List(ctx context.Context) ([]*AppStatus, error) {
	recs, err := a.deps.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].AppID < recs[j].AppID })

	out := make([]*AppStatus, 0, len(recs))
	for _, rec := range recs {
		st := &AppStatus{Record: rec}
		if la := a.get(rec.AppID); la != nil {
			st.Running = true
		}
		out = append(out, st)
	}
	return out, nil
}

// Launch is reported by a shell that started showing appID on surfaceID. It
// runs an update check when one is due and returns whether it started.
func (a *Apps) Launch(ctx context.Context, appID, surfaceID string) (bool, error) {
	installed, err := a.deps.Metadata.Read(ctx, appID)
	if err != nil {
		return false, err
	}
	if _, err := a.deps.Registry.Storage(appID).Record(ctx); err != nil {
		return false, err
	}

	a.mu.Lock()
	la, ok := a.live[appID]
	if !ok {
		sess := newSession(appID, surfaceID)
		la = &liveApp{session: sess, manager: a.newManager(appID, sess)}
		a.live[appID] = la
	}
	a.mu.Unlock()
	if ok {
		la.session.replaceSurface(surfaceID)
	}
	a.foreground.Store(appID, true)

	var started bool
	err = a.call(ctx, func() {
		started = la.manager.UpdateIfNeeded(la.session, installed)
	})
	return started, err
}

// Navigate forwards a navigation reported by the shell of appID.
func (a *Apps) Navigate(appID string, ev core.NavigationEvent) error {
	la := a.get(appID)
	if la == nil {
		return fmt.Errorf("%s: %w", appID, ErrNotRunning)
	}
	la.session.navigate(ev)
	return nil
}

// ReplaceSurface is reported when the shell of appID swaps its page container.
func (a *Apps) ReplaceSurface(appID, surfaceID string) error {
	la := a.get(appID)
	if la == nil {
		return fmt.Errorf("%s: %w", appID, ErrNotRunning)
	}
	la.session.replaceSurface(surfaceID)
	return nil
}

// Manifest hands a parsed Web Manifest to the watches on the current surface
// of appID and returns how many received it.
func (a *Apps) Manifest(appID string, m *core.HostManifest) (int, error) {
	la := a.get(appID)
	if la == nil {
		return 0, fmt.Errorf("%s: %w", appID, ErrNotRunning)
	}
	return la.session.deliver(m), nil
}

// SetForeground records whether appID is in use.
func (a *Apps) SetForeground(appID string, v bool) {
	a.foreground.Store(appID, v)
}

func (a *Apps) IsInForeground(appID string) bool {
	v, ok := a.foreground.Load(appID)
	return ok && v.(bool)
}

// Close is reported when the shell of appID exits. A scheduled delivery is
// left in place.
func (a *Apps) Close(ctx context.Context, appID string) error {
	a.mu.Lock()
	la, ok := a.live[appID]
	delete(a.live, appID)
	a.mu.Unlock()
	a.foreground.Delete(appID)
	if !ok {
		return fmt.Errorf("%s: %w", appID, ErrNotRunning)
	}
	return a.call(ctx, la.manager.Destroy)
}

// Complete finalizes a delivery. A running app's manager closes its cycle;
// otherwise the record is finalized directly.
func (a *Apps) Complete(ctx context.Context, appID string, outcome core.InstallOutcome) error {
	if la := a.get(appID); la != nil {
		return a.call(ctx, func() {
			la.manager.OnDeliveryResult(outcome.Result, outcome.RelaxUpdates)
		})
	}
	return a.deps.Registry.Storage(appID).FinishUpdate(ctx, outcome.Result, outcome.RelaxUpdates)
}

// Shutdown destroys every manager. It must run after the control loop stopped.
func (a *Apps) Shutdown() {
	a.mu.Lock()
	live := a.live
	a.live = map[string]*liveApp{}
	a.mu.Unlock()

	for _, la := range live {
		la.manager.Destroy()
	}
}

func (a *Apps) newManager(appID string, sess *session) *updater.Manager {
	return updater.NewManager(appID, updater.Deps{
		Registry:  a.deps.Registry,
		Files:     a.deps.Files,
		Scheduler: a.deps.Scheduler,
		Host:      sess,
		Loop:      a.deps.Loop,
		Worker:    a.deps.Worker,
		Clock:     a.deps.Clock,
		Metrics:   a.deps.Metrics,
		Logger:    a.deps.Logger,
	}, a.cfg)
}

func (a *Apps) get(appID string) *liveApp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live[appID]
}

// callTimeout bounds how long an API call waits for the control loop.
const callTimeout = 10 * time.Second

// call runs fn on the control loop and waits for it.
func (a *Apps) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	a.deps.Loop.Post(func() {
		fn()
		close(done)
	})

	timer := a.deps.Clock.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return errors.New("control loop did not respond")
	}
}
