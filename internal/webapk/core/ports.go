// Package core declares the collaborators the update engine consumes. Adapters
// for storage, scheduling and delivery live in sibling packages.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

var (
	// ErrRecordNotFound is returned by a RecordStore for an unknown app id.
	ErrRecordNotFound = errors.New("update record not found")

	// ErrFileNotFound is returned by a FileStore for a missing path.
	ErrFileNotFound = errors.New("file not found")
)

// NavigationEvent describes a navigation reported by a Tab.
type NavigationEvent struct {
	URL            string
	IsMainFrame    bool
	IsErrorPage    bool
	IsSameDocument bool
	Committed      bool
}

// ContentSurface is the page container a Tab currently shows.
type ContentSurface interface {
	ID() string
}

// Tab is the browsing surface the manifest fetcher watches. Observer callbacks
// may be invoked from any goroutine.
type Tab interface {
	// CurrentSurface returns nil when the tab has no live content.
	CurrentSurface() ContentSurface
	AddNavigationObserver(fn func(NavigationEvent)) (remove func())
	AddSurfaceReplacedObserver(fn func(ContentSurface)) (remove func())
}

// HostManifest is the parsed Web Manifest a ManifestHost found on a surface.
type HostManifest struct {
	ManifestURL string
	Result      model.FetchResult
}

// ManifestHost parses Web Manifests out of live pages.
type ManifestHost interface {
	// Watch observes surface for a Web Manifest inside scope and calls fn with
	// what it finds. fn may be called from any goroutine. Calling stop ends
	// the watch.
	Watch(surface ContentSurface, scope, manifestURL string, fn func(*HostManifest)) (stop func())
}

// RecordStore persists one UpdateRecord per app id.
type RecordStore interface {
	Get(ctx context.Context, appID string) (*model.UpdateRecord, error)
	Put(ctx context.Context, rec *model.UpdateRecord) error
	Delete(ctx context.Context, appID string) error
	List(ctx context.Context) ([]*model.UpdateRecord, error)
}

// FileStore holds serialized update requests.
type FileStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// TaskInfo describes a one-off deferred task.
type TaskInfo struct {
	ID                       string
	MinDelay                 time.Duration
	MaxDelay                 time.Duration
	RequiresUnmeteredNetwork bool
	RequiresCharging         bool
	// ReplaceExisting drops an already scheduled task with the same id.
	ReplaceExisting bool
	Payload         map[string]string
}

// Scheduler runs tasks later, once their constraints hold.
type Scheduler interface {
	ScheduleOneOff(ctx context.Context, task TaskInfo) error
	Cancel(id string) bool
}

// InstallOutcome is the installer's answer to an update request.
type InstallOutcome struct {
	Result       model.InstallResult
	RelaxUpdates bool
}

// Installer hands a serialized update request to the packaging backend.
type Installer interface {
	Install(ctx context.Context, appID string, request []byte) (InstallOutcome, error)
}

// MetadataReader returns what is currently installed for an app id.
type MetadataReader interface {
	Read(ctx context.Context, appID string) (*model.InstalledApp, error)
}

// ForegroundChecker reports whether the app is in use right now.
type ForegroundChecker interface {
	IsInForeground(appID string) bool
}

// Check outcomes reported to MetricsSink.CheckFinished.
const (
	CheckOutcomeManifest   = "manifest"
	CheckOutcomeNoManifest = "no_manifest"
	CheckOutcomeTimeout    = "timeout"
)

// MetricsSink receives fire-and-forget observations. It is never queried.
type MetricsSink interface {
	CheckStarted()
	CheckFinished(outcome string)
	UpdateReason(reason model.UpdateReason)
	RequestQueued(forced bool)
	DeliveryFinished(result model.InstallResult)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) CheckStarted()                        {}
func (NopMetrics) CheckFinished(string)                 {}
func (NopMetrics) UpdateReason(model.UpdateReason)      {}
func (NopMetrics) RequestQueued(bool)                   {}
func (NopMetrics) DeliveryFinished(model.InstallResult) {}
