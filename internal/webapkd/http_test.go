package webapkd

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/core/coretest"
	"github.com/autopeer-io/webapkd/internal/webapk/filestore"
	"github.com/autopeer-io/webapkd/internal/webapk/metadata"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/runloop"
	"github.com/autopeer-io/webapkd/internal/webapk/store"
	"github.com/autopeer-io/webapkd/internal/webapk/updater"
)

const (
	testApp      = "app"
	testPackage  = "org.chromium.webapk.a1"
	testManifest = "https://a.com/manifest.json"
	testIcon     = "https://a.com/icon.png"
)

type fixture struct {
	t       *testing.T
	clk     *testingclock.FakeClock
	sched   *coretest.Scheduler
	reg     *registry.Registry
	apps    *Apps
	loop    *runloop.Loop
	server  *httptest.Server
	ready   bool
	metrics *coretest.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	files := filestore.NewLocal()
	clk := testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := registry.DefaultConfig()
	cfg.RequestDir = filepath.Join(dir, "requests")
	reg := registry.New(db, files, clk, cfg, nil)

	loop := runloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	f := &fixture{
		t:       t,
		clk:     clk,
		sched:   coretest.NewScheduler(),
		reg:     reg,
		loop:    loop,
		ready:   true,
		metrics: &coretest.Metrics{},
	}
	f.apps = NewApps(AppsDeps{
		Registry:  reg,
		Metadata:  metadata.NewDirReader(files, filepath.Join(dir, "apps")),
		Files:     files,
		Scheduler: f.sched,
		Loop:      loop,
		Clock:     clk,
		Metrics:   f.metrics,
	}, updater.Config{}, true)

	f.server = httptest.NewServer(NewHandler(f.apps, func() bool { return f.ready }))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(method, path string, body any) *http.Response {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(f.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func installed() *model.InstalledApp {
	snap := model.NewManifestSnapshot()
	snap.Name = "Foo"
	snap.ShortName = "Foo"
	snap.StartURL = "https://a.com/start"
	snap.Scope = "https://a.com/"
	snap.IconURLToHash[testIcon] = "H1"
	return &model.InstalledApp{
		PackageName:    testPackage,
		ShellVersion:   200,
		VersionCode:    1,
		ManifestURL:    testManifest,
		PrimaryIconURL: testIcon,
		Snapshot:       *snap,
	}
}

func (f *fixture) register() {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/apps/"+testApp, registerRequest{PackageName: testPackage, Installed: installed()})
	require.Equal(f.t, http.StatusCreated, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).StatusCode)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", nil).StatusCode)
	f.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", nil).StatusCode)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", nil).StatusCode)
}

func TestRegisterListGetForget(t *testing.T) {
	f := newFixture(t)
	f.register()

	list := decodeBody[[]AppStatus](t, f.do(http.MethodGet, "/api/v1/apps", nil))
	require.Len(t, list, 1)
	assert.Equal(t, testApp, list[0].Record.AppID)
	assert.False(t, list[0].Running)

	st := decodeBody[AppStatus](t, f.do(http.MethodGet, "/api/v1/apps/"+testApp, nil))
	assert.Equal(t, testPackage, st.Record.PackageName)
	assert.True(t, st.Record.LastRequestSucceeded)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/apps/"+testApp+"/force", nil).StatusCode)
	st = decodeBody[AppStatus](t, f.do(http.MethodGet, "/api/v1/apps/"+testApp, nil))
	assert.True(t, st.Record.ShouldForceUpdate)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/apps/"+testApp, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/apps/"+testApp, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/apps/"+testApp+"/force", nil).StatusCode)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/apps/x", registerRequest{}).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/apps/x/launch", launchRequest{Surface: "s1"}).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/apps/x/navigation", navigationRequest{}).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/apps/x/manifest", manifestRequest{ManifestURL: testManifest}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/apps/x/manifest", manifestRequest{}).StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/apps/x/close", nil).StatusCode)

	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/apps/x", bytes.NewBufferString("{"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLaunchUpdateCycle(t *testing.T) {
	f := newFixture(t)
	f.register()
	path := "/api/v1/apps/" + testApp

	// Installing counts as an update, so nothing is due yet.
	launch := decodeBody[launchResponse](t, f.do(http.MethodPost, path+"/launch", launchRequest{Surface: "s1"}))
	assert.False(t, launch.Checking)
	assert.True(t, f.apps.IsInForeground(testApp))

	f.clk.Step(registry.DefaultConfig().UpdateInterval)
	launch = decodeBody[launchResponse](t, f.do(http.MethodPost, path+"/launch", launchRequest{Surface: "s1"}))
	require.True(t, launch.Checking)

	st := decodeBody[AppStatus](t, f.do(http.MethodGet, path, nil))
	assert.True(t, st.Running)
	assert.Equal(t, updater.StateCheckInFlight, st.State)

	served := installed().Snapshot
	served.IconURLToHash = maps.Clone(served.IconURLToHash)
	served.Name = "Bar"
	resp := f.do(http.MethodPost, path+"/manifest", manifestRequest{
		ManifestURL:    testManifest,
		Snapshot:       &served,
		PrimaryIconURL: testIcon,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[manifestResponse](t, resp).Delivered)

	require.Eventually(t, func() bool {
		_, ok := f.sched.Task(updater.TaskID(testApp))
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	st = decodeBody[AppStatus](t, f.do(http.MethodGet, path, nil))
	assert.Equal(t, updater.StateScheduled, st.State)
	assert.Equal(t, model.UpdateReasonNameDiffers.String(), st.Reason)
	assert.True(t, st.Record.UpdateScheduled)

	// Deliveries wait while the app is in the foreground.
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, path+"/foreground", foregroundRequest{Foreground: false}).StatusCode)
	assert.False(t, f.apps.IsInForeground(testApp))

	require.NoError(t, f.apps.Complete(t.Context(), testApp, core.InstallOutcome{Result: model.InstallResultSuccess}))
	st = decodeBody[AppStatus](t, f.do(http.MethodGet, path, nil))
	assert.Equal(t, updater.StateIdle, st.State)
	assert.False(t, st.Record.UpdateScheduled)
	assert.Empty(t, st.Record.PendingUpdateRequestPath)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, path+"/close", nil).StatusCode)
	st = decodeBody[AppStatus](t, f.do(http.MethodGet, path, nil))
	assert.False(t, st.Running)
}

func TestManifestDuringSurfaceSwapReachesCheck(t *testing.T) {
	f := newFixture(t)
	f.register()
	f.clk.Step(registry.DefaultConfig().UpdateInterval)

	started, err := f.apps.Launch(t.Context(), testApp, "s1")
	require.NoError(t, err)
	require.True(t, started)

	// Hold the control loop so the fetcher has not re-attached yet.
	release := make(chan struct{})
	f.loop.Post(func() { <-release })

	require.NoError(t, f.apps.ReplaceSurface(testApp, "s2"))
	served := installed().Snapshot
	served.IconURLToHash = maps.Clone(served.IconURLToHash)
	served.Name = "Bar"
	n, err := f.apps.Manifest(testApp, &core.HostManifest{
		ManifestURL: testManifest,
		Result:      model.FetchResult{Snapshot: &served, PrimaryIconURL: testIcon},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	close(release)

	require.Eventually(t, func() bool {
		_, ok := f.sched.Task(updater.TaskID(testApp))
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	st, err := f.apps.Status(t.Context(), testApp)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateReasonNameDiffers.String(), st.Reason)
}

func TestCompleteWithoutRunningApp(t *testing.T) {
	f := newFixture(t)
	f.register()
	storage := f.reg.Storage(testApp)
	p, err := storage.CreateAndSetUpdateRequestFilePath(t.Context())
	require.NoError(t, err)
	require.NoError(t, filestore.NewLocal().Write(t.Context(), p, []byte("blob")))
	require.NoError(t, storage.SetUpdateScheduled(t.Context(), true))

	require.NoError(t, f.apps.Complete(t.Context(), testApp, core.InstallOutcome{Result: model.InstallResultFailure}))
	rec, err := storage.Record(t.Context())
	require.NoError(t, err)
	assert.False(t, rec.UpdateScheduled)
	assert.False(t, rec.LastRequestSucceeded)
}

func TestDisabledUpdatesSkipCheck(t *testing.T) {
	f := newFixture(t)
	f.register()
	f.apps.SetEnabled(false)
	f.clk.Step(registry.DefaultConfig().UpdateInterval)

	launch := decodeBody[launchResponse](t, f.do(http.MethodPost, "/api/v1/apps/"+testApp+"/launch", launchRequest{Surface: "s1"}))
	assert.False(t, launch.Checking)

	f.apps.SetEnabled(true)
	launch = decodeBody[launchResponse](t, f.do(http.MethodPost, "/api/v1/apps/"+testApp+"/launch", launchRequest{Surface: "s1"}))
	assert.True(t, launch.Checking)
}
