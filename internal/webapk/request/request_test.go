package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

func installedApp() *model.InstalledApp {
	s := model.NewManifestSnapshot()
	s.Name = "Foo"
	s.StartURL = "https://a.com/start.html"
	s.Scope = "https://a.com/"
	s.IconURLToHash = map[string]string{"https://a.com/icon.png": "H1"}
	return &model.InstalledApp{
		AppID:          "webapk-a",
		PackageName:    "org.chromium.webapk.a",
		ShellVersion:   120,
		VersionCode:    3,
		ManifestURL:    "https://a.com/manifest.json",
		PrimaryIconURL: "https://a.com/icon.png",
		Snapshot:       *s,
	}
}

func TestBuildFromFetchedManifest(t *testing.T) {
	app := installedApp()
	fetched := model.NewManifestSnapshot()
	fetched.Name = "Foo 2"
	fetched.StartURL = "https://a.com/app/start.html"

	req := Build(app, &model.FetchResult{
		Snapshot:       fetched,
		PrimaryIconURL: "https://a.com/icon2.png",
		PrimaryIcon:    []byte{1, 2, 3},
	}, model.UpdateReasonNameDiffers)

	assert.False(t, req.IsManifestStale)
	assert.Equal(t, "Foo 2", req.Snapshot.Name)
	assert.Equal(t, "https://a.com/app/", req.Snapshot.Scope, "empty scope falls back to the default scope")
	assert.Equal(t, "https://a.com/icon2.png", req.PrimaryIconURL)
	assert.Equal(t, app.PackageName, req.PackageName)
	assert.Equal(t, model.UpdateReasonNameDiffers, req.Reason)
}

func TestBuildWithoutManifestIsStale(t *testing.T) {
	app := installedApp()
	req := Build(app, nil, model.UpdateReasonOldShellAPK)
	assert.True(t, req.IsManifestStale)
	assert.Equal(t, app.Snapshot.Name, req.Snapshot.Name)
	assert.Equal(t, app.PrimaryIconURL, req.PrimaryIconURL)
}

func TestEncodeDecode(t *testing.T) {
	s := model.NewManifestSnapshot()
	s.Name = "Foo"
	s.ShortName = "F"
	s.StartURL = "https://a.com/start.html"
	s.Scope = "https://a.com/"
	s.DisplayMode = model.DisplayModeStandalone
	s.Orientation = model.OrientationLandscape
	s.ThemeColor = 0xff00ff00
	s.IsPrimaryIconMaskable = true
	s.IconURLToHash = map[string]string{"https://a.com/b.png": "", "https://a.com/a.png": "123"}
	s.ShareTarget = &model.ShareTarget{
		Action:      "https://a.com/share",
		ParamTitle:  "title",
		IsPost:      true,
		IsMultipart: true,
		FileNames:   []string{"photos", "docs"},
		FileAccepts: [][]string{{"image/*", ".png"}, {"text/plain"}},
	}
	s.Shortcuts = []model.Shortcut{
		{Name: "New", LaunchURL: "https://a.com/new", IconURL: "https://a.com/n.png", IconHash: "9"},
		{Name: "Inbox", ShortName: "In", LaunchURL: "https://a.com/inbox"},
	}

	in := &UpdateRequest{
		PackageName:      "org.chromium.webapk.a",
		VersionCode:      7,
		ShellVersion:     120,
		ManifestURL:      "https://a.com/manifest.json",
		Snapshot:         *s,
		PrimaryIconURL:   "https://a.com/a.png",
		PrimaryIcon:      []byte{0x89, 'P', 'N', 'G'},
		SecondaryIconURL: "https://a.com/b.png",
		IsManifestStale:  true,
		Reason:           model.UpdateReasonShortcutsDiffer,
	}

	b, err := Encode(in)
	require.NoError(t, err)

	again, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, b, again, "encoding is deterministic")

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeKeepsMissingColorsAndSkipsUnknownFields(t *testing.T) {
	b, err := Encode(&UpdateRequest{PackageName: "p", Snapshot: *model.NewManifestSnapshot()})
	require.NoError(t, err)

	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "p", out.PackageName)
	assert.Equal(t, model.ColorInvalidOrMissing, out.Snapshot.ThemeColor)
	assert.Equal(t, model.ColorInvalidOrMissing, out.Snapshot.BackgroundColor)
	assert.Nil(t, out.Snapshot.ShareTarget)
}

func TestDecodeTruncated(t *testing.T) {
	b, err := Encode(&UpdateRequest{PackageName: "org.chromium.webapk.a"})
	require.NoError(t, err)
	_, err = Decode(b[:len(b)-3])
	assert.Error(t, err)
}

func TestEncodeRequiresPackage(t *testing.T) {
	_, err := Encode(&UpdateRequest{})
	assert.Error(t, err)
	_, err = Encode(nil)
	assert.Error(t, err)
}
