package webapkd

import (
	"sync"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
)

// surface is a content surface identified by the shell.
type surface string

func (s surface) ID() string { return string(s) }

type watch struct {
	surface     core.ContentSurface
	scope       string
	manifestURL string
	fn          func(*core.HostManifest)
}

// session mirrors the browsing state a running WebAPK shell reports over the
// API. It is both the core.Tab and the core.ManifestHost of that app.
type session struct {
	appID string

	mu      sync.Mutex
	current core.ContentSurface
	next    int
	navObs  map[int]func(core.NavigationEvent)
	surfObs map[int]func(core.ContentSurface)
	watches map[int]*watch
}

var (
	_ core.Tab          = (*session)(nil)
	_ core.ManifestHost = (*session)(nil)
)

func newSession(appID, surfaceID string) *session {
	s := &session{
		appID:   appID,
		navObs:  map[int]func(core.NavigationEvent){},
		surfObs: map[int]func(core.ContentSurface){},
		watches: map[int]*watch{},
	}
	if surfaceID != "" {
		s.current = surface(surfaceID)
	}
	return s
}

func (s *session) CurrentSurface() core.ContentSurface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *session) AddNavigationObserver(fn func(core.NavigationEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.navObs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.navObs, id)
		s.mu.Unlock()
	}
}

func (s *session) AddSurfaceReplacedObserver(fn func(core.ContentSurface)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.surfObs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.surfObs, id)
		s.mu.Unlock()
	}
}

func (s *session) Watch(sf core.ContentSurface, scope, manifestURL string, fn func(*core.HostManifest)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.watches[id] = &watch{surface: sf, scope: scope, manifestURL: manifestURL, fn: fn}
	return func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
	}
}

// navigate reports a navigation to every observer.
func (s *session) navigate(ev core.NavigationEvent) {
	s.mu.Lock()
	obs := make([]func(core.NavigationEvent), 0, len(s.navObs))
	for _, fn := range s.navObs {
		obs = append(obs, fn)
	}
	s.mu.Unlock()

	for _, fn := range obs {
		fn(ev)
	}
}

// replaceSurface switches to surfaceID. It reports whether the surface
// changed; observers only hear about real changes. Watches on the old surface
// follow the page to the new one until their owners re-attach.
func (s *session) replaceSurface(surfaceID string) bool {
	s.mu.Lock()
	var next core.ContentSurface
	if surfaceID != "" {
		next = surface(surfaceID)
	}
	if sameSurface(s.current, next) {
		s.mu.Unlock()
		return false
	}
	if next != nil {
		for _, w := range s.watches {
			if sameSurface(w.surface, s.current) {
				w.surface = next
			}
		}
	}
	s.current = next
	obs := make([]func(core.ContentSurface), 0, len(s.surfObs))
	for _, fn := range s.surfObs {
		obs = append(obs, fn)
	}
	s.mu.Unlock()

	for _, fn := range obs {
		fn(next)
	}
	return true
}

// deliver hands m to every watch on the current surface and returns how many
// received it.
func (s *session) deliver(m *core.HostManifest) int {
	s.mu.Lock()
	var fns []func(*core.HostManifest)
	for _, w := range s.watches {
		if sameSurface(w.surface, s.current) {
			fns = append(fns, w.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
	return len(fns)
}

func (s *session) watchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *session) nextID() int {
	s.next++
	return s.next
}

func sameSurface(a, b core.ContentSurface) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
