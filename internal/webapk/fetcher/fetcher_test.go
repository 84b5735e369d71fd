package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/core/coretest"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
)

const (
	scope       = "https://a.com/"
	manifestURL = "https://a.com/manifest.json"
)

type recorder struct {
	results []*model.FetchResult
}

func (r *recorder) OnGotManifestData(res *model.FetchResult) { r.results = append(r.results, res) }

func hostManifest(url, name string) *core.HostManifest {
	s := model.NewManifestSnapshot()
	s.Name = name
	return &core.HostManifest{
		ManifestURL: url,
		Result:      model.FetchResult{Snapshot: s, PrimaryIconURL: "https://a.com/icon.png"},
	}
}

func newFetcher(t *testing.T) (*Fetcher, *coretest.Host, *runloop.Manual) {
	t.Helper()
	host := &coretest.Host{}
	loop := &runloop.Manual{}
	return New(host, loop, nil), host, loop
}

func TestStartRejectsMissingInputs(t *testing.T) {
	f, host, _ := newFetcher(t)
	assert.False(t, f.Start(coretest.NewTab(coretest.Surface("s1")), scope, "", &recorder{}))
	assert.False(t, f.Start(coretest.NewTab(nil), scope, manifestURL, &recorder{}))
	assert.False(t, f.Start(nil, scope, manifestURL, &recorder{}))
	assert.Equal(t, 0, host.Total())
}

func TestDeliversMatchingManifestOnce(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}

	require.True(t, f.Start(tab, scope, manifestURL, rec))
	require.Len(t, host.Active(), 1)
	assert.Equal(t, scope, host.Active()[0].Scope)

	host.Deliver(hostManifest("https://b.com/manifest.json", "Other"))
	loop.Drain()
	assert.Empty(t, rec.results)

	host.Deliver(hostManifest(manifestURL, "Foo"))
	host.Deliver(hostManifest(manifestURL, "Foo again"))
	loop.Drain()
	require.Len(t, rec.results, 1)
	assert.Equal(t, "Foo", rec.results[0].Snapshot.Name)
}

func TestReattachesOnNavigation(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))
	first := host.Active()[0]

	ignored := []core.NavigationEvent{
		{IsMainFrame: false, Committed: true},
		{IsMainFrame: true, Committed: false},
		{IsMainFrame: true, Committed: true, IsErrorPage: true},
		{IsMainFrame: true, Committed: true, IsSameDocument: true},
	}
	for _, ev := range ignored {
		tab.Navigate(ev)
	}
	loop.Drain()
	assert.Equal(t, 1, host.Total())

	tab.Navigate(core.NavigationEvent{URL: "https://a.com/next", IsMainFrame: true, Committed: true})
	loop.Drain()
	require.Equal(t, 2, host.Total())
	require.Len(t, host.Active(), 1)

	// Results from the superseded watch are dropped.
	host.DeliverTo(first, hostManifest(manifestURL, "Stale"))
	loop.Drain()
	assert.Empty(t, rec.results)

	host.Deliver(hostManifest(manifestURL, "Fresh"))
	loop.Drain()
	require.Len(t, rec.results, 1)
	assert.Equal(t, "Fresh", rec.results[0].Snapshot.Name)
}

func TestSurfaceReplacementKeepsFetchAlive(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))

	tab.ReplaceSurface(coretest.Surface("s2"))
	loop.Drain()

	active := host.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].Surface.ID())

	host.Deliver(hostManifest(manifestURL, "Foo"))
	loop.Drain()
	assert.Len(t, rec.results, 1)
}

func TestAnswerRacingSurfaceSwapIsKept(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))
	first := host.Active()[0]

	// The old watch answers before the loop has seen the swaps.
	tab.ReplaceSurface(coretest.Surface("s2"))
	tab.ReplaceSurface(coretest.Surface("s3"))
	host.DeliverTo(first, hostManifest(manifestURL, "Foo"))
	loop.Drain()
	require.Len(t, rec.results, 1)
	assert.Equal(t, "Foo", rec.results[0].Snapshot.Name)

	// Still one result per attachment.
	host.Deliver(hostManifest(manifestURL, "Again"))
	loop.Drain()
	assert.Len(t, rec.results, 1)
}

func TestAnswerAfterNavigationIsDropped(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))
	first := host.Active()[0]

	tab.ReplaceSurface(coretest.Surface("s2"))
	tab.Navigate(core.NavigationEvent{IsMainFrame: true, Committed: true})
	host.DeliverTo(first, hostManifest(manifestURL, "Old page"))
	loop.Drain()
	assert.Empty(t, rec.results)
}

func TestExpireDropsCurrentWatchUntilReattach(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))

	f.Expire()
	host.Deliver(hostManifest(manifestURL, "Late"))
	loop.Drain()
	assert.Empty(t, rec.results)
	assert.False(t, f.Destroyed())

	tab.Navigate(core.NavigationEvent{IsMainFrame: true, Committed: true})
	loop.Drain()
	host.Deliver(hostManifest(manifestURL, "Fresh"))
	loop.Drain()
	require.Len(t, rec.results, 1)
	assert.Equal(t, "Fresh", rec.results[0].Snapshot.Name)
}

func TestDestroyIsIdempotent(t *testing.T) {
	f, host, loop := newFetcher(t)
	tab := coretest.NewTab(coretest.Surface("s1"))
	rec := &recorder{}
	require.True(t, f.Start(tab, scope, manifestURL, rec))
	w := host.Active()[0]

	f.Destroy()
	f.Destroy()
	assert.True(t, f.Destroyed())
	assert.Empty(t, host.Active())
	assert.Equal(t, 0, tab.ObserverCount())

	host.DeliverTo(w, hostManifest(manifestURL, "Late"))
	loop.Drain()
	assert.Empty(t, rec.results)
	assert.False(t, f.Start(tab, scope, manifestURL, rec))
}
