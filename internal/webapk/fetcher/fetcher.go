// Package fetcher watches a tab for the live Web Manifest of an installed
// WebAPK and reports it to an observer on the control goroutine.
package fetcher

import (
	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// Observer receives fetched manifests.
type Observer interface {
	OnGotManifestData(result *model.FetchResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(result *model.FetchResult)

func (f ObserverFunc) OnGotManifestData(result *model.FetchResult) { f(result) }

// Fetcher makes a single fetch attempt per Start. It never reports a missing
// manifest on its own; callers time out instead.
//
// All methods must be called on the control goroutine. Tab and host callbacks
// are posted there through the Poster.
type Fetcher struct {
	host   core.ManifestHost
	poster runloop.Poster
	log    log.Logger

	tab         core.Tab
	scope       string
	manifestURL string
	observer    Observer

	stopWatch     func()
	removeNav     func()
	removeSurface func()

	// attachment increments on every (re)attach and after a result is
	// delivered, so late host callbacks are dropped.
	attachment uint64

	// carried holds attachments superseded by surface swaps. The page moved
	// with its pending manifest, so their answers still count.
	carried map[uint64]struct{}

	started   bool
	destroyed bool
}

// New returns a fetcher that is not yet started.
func New(host core.ManifestHost, poster runloop.Poster, logger log.Logger) *Fetcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Fetcher{
		host:   host,
		poster: poster,
		log:    logger.WithName("fetcher"),
	}
}

// Start begins observing tab for the manifest at manifestURL. It returns false
// when manifestURL is empty or the tab has no live content. Calling Start
// twice without Destroy is not supported.
func (f *Fetcher) Start(tab core.Tab, scopeURL, manifestURL string, observer Observer) bool {
	if f.destroyed || f.started {
		return false
	}
	if manifestURL == "" || tab == nil {
		return false
	}
	surface := tab.CurrentSurface()
	if surface == nil {
		return false
	}

	f.started = true
	f.tab = tab
	f.scope = scopeURL
	f.manifestURL = manifestURL
	f.observer = observer

	f.removeNav = tab.AddNavigationObserver(func(ev core.NavigationEvent) {
		f.poster.Post(func() { f.onNavigation(ev) })
	})
	f.removeSurface = tab.AddSurfaceReplacedObserver(func(s core.ContentSurface) {
		f.poster.Post(func() { f.onSurfaceReplaced(s) })
	})

	f.attach(surface, false)
	return true
}

// Destroy stops observing and releases the tab. It is safe to call repeatedly.
func (f *Fetcher) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.attachment++

	if f.stopWatch != nil {
		f.stopWatch()
		f.stopWatch = nil
	}
	if f.removeNav != nil {
		f.removeNav()
		f.removeNav = nil
	}
	if f.removeSurface != nil {
		f.removeSurface()
		f.removeSurface = nil
	}
	f.tab = nil
	f.observer = nil
}

// Expire drops whatever the current watch reports from now on. The fetcher
// stays subscribed to the tab, so a later committed navigation or surface
// swap arms a fresh watch.
func (f *Fetcher) Expire() {
	f.attachment++
	f.carried = nil
}

// Destroyed reports whether Destroy has been called.
func (f *Fetcher) Destroyed() bool {
	return f.destroyed
}

func (f *Fetcher) attach(surface core.ContentSurface, carry bool) {
	if f.stopWatch != nil {
		f.stopWatch()
	}

	if !carry {
		f.carried = nil
	} else if f.attachment != 0 {
		if f.carried == nil {
			f.carried = map[uint64]struct{}{}
		}
		f.carried[f.attachment] = struct{}{}
	}
	f.attachment++
	id := f.attachment
	f.log.Debug("Watching surface for manifest", "surface", surface.ID(), "manifestURL", f.manifestURL)

	f.stopWatch = f.host.Watch(surface, f.scope, f.manifestURL, func(m *core.HostManifest) {
		f.poster.Post(func() { f.onHostManifest(id, m) })
	})
}

func (f *Fetcher) onNavigation(ev core.NavigationEvent) {
	if f.destroyed {
		return
	}
	if !ev.Committed || !ev.IsMainFrame || ev.IsErrorPage || ev.IsSameDocument {
		return
	}
	surface := f.tab.CurrentSurface()
	if surface == nil {
		return
	}
	f.attach(surface, false)
}

func (f *Fetcher) onSurfaceReplaced(surface core.ContentSurface) {
	if f.destroyed || surface == nil {
		return
	}
	f.attach(surface, true)
}

func (f *Fetcher) onHostManifest(id uint64, m *core.HostManifest) {
	if f.destroyed || m == nil {
		return
	}
	if _, ok := f.carried[id]; id != f.attachment && !ok {
		return
	}
	if m.ManifestURL != f.manifestURL {
		f.log.Debug("Ignoring manifest for another url", "got", m.ManifestURL, "want", f.manifestURL)
		return
	}

	// One result per attachment.
	f.attachment++
	f.carried = nil

	result := m.Result
	f.observer.OnGotManifestData(&result)
}
