// Package registry owns the update records of every installed WebAPK and
// hands out per-app storage handles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// ErrNotRegistered is returned for app ids without a record.
var ErrNotRegistered = errors.New("webapk not registered")

// Config carries the update policy shared by every app.
type Config struct {
	// UpdateInterval is the minimum time between two checks of one app.
	UpdateInterval time.Duration
	// RelaxedUpdateInterval replaces UpdateInterval once the installer asked
	// for relaxed updates.
	RelaxedUpdateInterval time.Duration
	// MinShellVersion is the shell version below which an update is requested
	// once regardless of the throttle.
	MinShellVersion int
	// BoundPackagePrefix marks packages this daemon may update.
	BoundPackagePrefix string
	// RequestDir is where serialized update requests are written.
	RequestDir string
}

// DefaultConfig mirrors the defaults of the update options.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:        3 * 24 * time.Hour,
		RelaxedUpdateInterval: 30 * 24 * time.Hour,
		MinShellVersion:       1,
		BoundPackagePrefix:    "org.chromium.webapk",
		RequestDir:            "requests",
	}
}

// Registry is the explicit replacement for a process-wide storage singleton.
type Registry struct {
	store core.RecordStore
	files core.FileStore
	clock clock.PassiveClock
	cfg   Config
	log   log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry over store and files.
func New(store core.RecordStore, files core.FileStore, clk clock.PassiveClock, cfg Config, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		store: store,
		files: files,
		clock: clk,
		cfg:   cfg,
		log:   logger.WithName("registry"),
		locks: make(map[string]*sync.Mutex),
	}
}

// Config returns the policy the registry was created with.
func (r *Registry) Config() Config {
	return r.cfg
}

// IsBound reports whether packageName belongs to a WebAPK this daemon updates.
func (r *Registry) IsBound(packageName string) bool {
	return r.cfg.BoundPackagePrefix == "" || strings.HasPrefix(packageName, r.cfg.BoundPackagePrefix)
}

// Register creates the record of a freshly installed WebAPK. Installing counts
// as a successful update, so both timestamps start at now. Registering an
// existing app only refreshes its package name.
func (r *Registry) Register(ctx context.Context, appID, packageName string) (*model.UpdateRecord, error) {
	if appID == "" {
		return nil, errors.New("app id is required")
	}

	unlock := r.lock(appID)
	defer unlock()

	rec, err := r.store.Get(ctx, appID)
	switch {
	case err == nil:
		rec.PackageName = packageName
	case errors.Is(err, core.ErrRecordNotFound):
		now := r.clock.Now()
		rec = &model.UpdateRecord{
			AppID:                appID,
			PackageName:          packageName,
			LastCheckTime:        now,
			LastCompletionTime:   now,
			LastRequestSucceeded: true,
		}
	default:
		return nil, err
	}

	if err := r.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	r.log.Info("Registered webapk", "app", appID, "package", packageName)
	return rec, nil
}

// Unregister forgets appID and deletes its pending request file.
func (r *Registry) Unregister(ctx context.Context, appID string) error {
	unlock := r.lock(appID)
	defer unlock()

	rec, err := r.store.Get(ctx, appID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.HasPendingRequest() {
		if err := r.files.Delete(ctx, rec.PendingUpdateRequestPath); err != nil {
			r.log.Error(err, "Failed to delete pending request", "app", appID)
		}
	}
	if err := r.store.Delete(ctx, appID); err != nil {
		return err
	}
	r.log.Info("Unregistered webapk", "app", appID)
	return nil
}

// List returns every record.
func (r *Registry) List(ctx context.Context) ([]*model.UpdateRecord, error) {
	return r.store.List(ctx)
}

// Storage returns the storage handle of appID. The app need not be registered
// yet; operations on an unknown app fail with ErrNotRegistered.
func (r *Registry) Storage(appID string) *AppStorage {
	return &AppStorage{reg: r, appID: appID}
}

// RequestPath is where the update request of appID is written.
func (r *Registry) RequestPath(appID string) string {
	return path.Join(r.cfg.RequestDir, sanitize(appID))
}

func (r *Registry) lock(appID string) func() {
	r.mu.Lock()
	m, ok := r.locks[appID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[appID] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// sanitize escapes appID into a single path element. Distinct ids never share
// a file name.
func sanitize(appID string) string {
	escaped := url.PathEscape(appID)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	if escaped == "" {
		escaped = "%"
	}
	return escaped
}

func notRegistered(appID string, err error) error {
	if errors.Is(err, core.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", appID, ErrNotRegistered)
	}
	return err
}
