// Package coretest provides in-memory fakes of the core collaborators.
package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// Surface is a named ContentSurface.
type Surface string

func (s Surface) ID() string { return string(s) }

// Tab is a controllable core.Tab.
type Tab struct {
	mu      sync.Mutex
	surface core.ContentSurface
	nextID  int
	navObs  map[int]func(core.NavigationEvent)
	surfObs map[int]func(core.ContentSurface)
}

var _ core.Tab = (*Tab)(nil)

// NewTab returns a tab showing surface, which may be nil.
func NewTab(surface core.ContentSurface) *Tab {
	return &Tab{
		surface: surface,
		navObs:  map[int]func(core.NavigationEvent){},
		surfObs: map[int]func(core.ContentSurface){},
	}
}

func (t *Tab) CurrentSurface() core.ContentSurface {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.surface
}

func (t *Tab) AddNavigationObserver(fn func(core.NavigationEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.navObs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.navObs, id)
		t.mu.Unlock()
	}
}

func (t *Tab) AddSurfaceReplacedObserver(fn func(core.ContentSurface)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.surfObs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.surfObs, id)
		t.mu.Unlock()
	}
}

// ObserverCount returns the number of registered observers of both kinds.
func (t *Tab) ObserverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.navObs) + len(t.surfObs)
}

// Navigate reports ev to navigation observers.
func (t *Tab) Navigate(ev core.NavigationEvent) {
	t.mu.Lock()
	obs := make([]func(core.NavigationEvent), 0, len(t.navObs))
	for _, fn := range t.navObs {
		obs = append(obs, fn)
	}
	t.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// ReplaceSurface swaps the current surface and notifies observers.
func (t *Tab) ReplaceSurface(s core.ContentSurface) {
	t.mu.Lock()
	t.surface = s
	obs := make([]func(core.ContentSurface), 0, len(t.surfObs))
	for _, fn := range t.surfObs {
		obs = append(obs, fn)
	}
	t.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// Watch is one active ManifestHost watch.
type Watch struct {
	Surface     core.ContentSurface
	Scope       string
	ManifestURL string
	fn          func(*core.HostManifest)
	stopped     bool
}

// Host is a ManifestHost whose watches are answered by the test.
type Host struct {
	mu      sync.Mutex
	watches []*Watch
}

var _ core.ManifestHost = (*Host)(nil)

func (h *Host) Watch(surface core.ContentSurface, scope, manifestURL string, fn func(*core.HostManifest)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &Watch{Surface: surface, Scope: scope, ManifestURL: manifestURL, fn: fn}
	h.watches = append(h.watches, w)
	return func() {
		h.mu.Lock()
		w.stopped = true
		h.mu.Unlock()
	}
}

// Active returns the watches that have not been stopped.
func (h *Host) Active() []*Watch {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Watch
	for _, w := range h.watches {
		if !w.stopped {
			out = append(out, w)
		}
	}
	return out
}

// Total returns how many watches were ever started.
func (h *Host) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watches)
}

// Deliver answers the most recent active watch with m. It returns false when
// no watch is active.
func (h *Host) Deliver(m *core.HostManifest) bool {
	active := h.Active()
	if len(active) == 0 {
		return false
	}
	active[len(active)-1].fn(m)
	return true
}

// DeliverTo answers a specific watch, stopped or not.
func (h *Host) DeliverTo(w *Watch, m *core.HostManifest) {
	w.fn(m)
}

// Scheduler records scheduled tasks.
type Scheduler struct {
	mu    sync.Mutex
	Tasks map[string]core.TaskInfo
	Calls int
	Err   error
}

var _ core.Scheduler = (*Scheduler)(nil)

func NewScheduler() *Scheduler {
	return &Scheduler{Tasks: map[string]core.TaskInfo{}}
}

func (s *Scheduler) ScheduleOneOff(_ context.Context, task core.TaskInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.Tasks[task.ID]; ok && !task.ReplaceExisting {
		return nil
	}
	s.Tasks[task.ID] = task
	return nil
}

func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Tasks[id]
	delete(s.Tasks, id)
	return ok
}

// Task returns the scheduled task with id.
func (s *Scheduler) Task(id string) (core.TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Tasks[id]
	return t, ok
}

// Installer answers every request with Outcome or Err.
type Installer struct {
	mu       sync.Mutex
	Outcome  core.InstallOutcome
	Err      error
	Requests map[string][]byte
}

var _ core.Installer = (*Installer)(nil)

func (i *Installer) Install(_ context.Context, appID string, request []byte) (core.InstallOutcome, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Requests == nil {
		i.Requests = map[string][]byte{}
	}
	i.Requests[appID] = request
	if i.Err != nil {
		return core.InstallOutcome{Result: model.InstallResultFailure}, i.Err
	}
	return i.Outcome, nil
}

// Metadata is a map-backed MetadataReader.
type Metadata map[string]*model.InstalledApp

func (m Metadata) Read(_ context.Context, appID string) (*model.InstalledApp, error) {
	app, ok := m[appID]
	if !ok {
		return nil, fmt.Errorf("no metadata for %s", appID)
	}
	return app, nil
}

// Foreground is a set of app ids considered in use.
type Foreground struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (f *Foreground) Set(appID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	f.ids[appID] = v
}

func (f *Foreground) IsInForeground(appID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[appID]
}

// Metrics counts observations.
type Metrics struct {
	mu       sync.Mutex
	Checks   int
	Outcomes []string
	Reasons  []model.UpdateReason
	Queued   []bool
	Results  []model.InstallResult
}

var _ core.MetricsSink = (*Metrics)(nil)

func (m *Metrics) CheckStarted() {
	m.mu.Lock()
	m.Checks++
	m.mu.Unlock()
}

func (m *Metrics) CheckFinished(outcome string) {
	m.mu.Lock()
	m.Outcomes = append(m.Outcomes, outcome)
	m.mu.Unlock()
}

func (m *Metrics) UpdateReason(r model.UpdateReason) {
	m.mu.Lock()
	m.Reasons = append(m.Reasons, r)
	m.mu.Unlock()
}

func (m *Metrics) RequestQueued(forced bool) {
	m.mu.Lock()
	m.Queued = append(m.Queued, forced)
	m.mu.Unlock()
}

func (m *Metrics) DeliveryFinished(r model.InstallResult) {
	m.mu.Lock()
	m.Results = append(m.Results, r)
	m.mu.Unlock()
}
