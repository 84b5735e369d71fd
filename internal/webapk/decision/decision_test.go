package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

const (
	primaryIconURL = "https://a.com/icon.png"
	badgeIconURL   = "https://a.com/badge.png"
	minShell       = 100
)

var defaultOpts = Options{MinShellVersion: minShell}

func baseSnapshot() *model.ManifestSnapshot {
	s := model.NewManifestSnapshot()
	s.Name = "Foo"
	s.ShortName = "F"
	s.Scope = "https://a.com/"
	s.StartURL = "https://a.com/start.html"
	s.DisplayMode = model.DisplayModeStandalone
	s.Orientation = model.OrientationPortrait
	s.ThemeColor = 1
	s.BackgroundColor = 2
	s.IconURLToHash = map[string]string{primaryIconURL: "H1", badgeIconURL: "B1"}
	s.ShareTarget = &model.ShareTarget{Action: "https://a.com/share", ParamText: "text", IsPost: true}
	s.Shortcuts = []model.Shortcut{
		{Name: "One", ShortName: "1", LaunchURL: "https://a.com/1", IconHash: "s1"},
		{Name: "Two", ShortName: "2", LaunchURL: "https://a.com/2", IconHash: "s2"},
	}
	return s
}

func installed(s *model.ManifestSnapshot) *model.InstalledApp {
	return &model.InstalledApp{
		AppID:        "app",
		PackageName:  "org.chromium.webapk.a",
		ShellVersion: minShell,
		Snapshot:     *s,
	}
}

func clone(s *model.ManifestSnapshot) *model.ManifestSnapshot {
	c := *s
	c.IconURLToHash = map[string]string{}
	for k, v := range s.IconURLToHash {
		c.IconURLToHash[k] = v
	}
	if s.ShareTarget != nil {
		st := *s.ShareTarget
		c.ShareTarget = &st
	}
	c.Shortcuts = append([]model.Shortcut(nil), s.Shortcuts...)
	return &c
}

// mutators are listed in precedence order, one per comparable field.
var mutators = []struct {
	reason model.UpdateReason
	mutate func(s *model.ManifestSnapshot)
}{
	{model.UpdateReasonPrimaryIconHashDiffers, func(s *model.ManifestSnapshot) { s.IconURLToHash[primaryIconURL] = "H2" }},
	{model.UpdateReasonSplashOrBadgeIconHashDiffers, func(s *model.ManifestSnapshot) { s.IconURLToHash[badgeIconURL] = "B2" }},
	{model.UpdateReasonScopeDiffers, func(s *model.ManifestSnapshot) { s.Scope = "https://a.com/other/" }},
	{model.UpdateReasonStartURLDiffers, func(s *model.ManifestSnapshot) { s.StartURL = "https://a.com/new.html" }},
	{model.UpdateReasonShortNameDiffers, func(s *model.ManifestSnapshot) { s.ShortName = "G" }},
	{model.UpdateReasonNameDiffers, func(s *model.ManifestSnapshot) { s.Name = "Bar" }},
	{model.UpdateReasonBackgroundColorDiffers, func(s *model.ManifestSnapshot) { s.BackgroundColor = 20 }},
	{model.UpdateReasonThemeColorDiffers, func(s *model.ManifestSnapshot) { s.ThemeColor = 10 }},
	{model.UpdateReasonOrientationDiffers, func(s *model.ManifestSnapshot) { s.Orientation = model.OrientationLandscape }},
	{model.UpdateReasonDisplayModeDiffers, func(s *model.ManifestSnapshot) { s.DisplayMode = model.DisplayModeFullscreen }},
	{model.UpdateReasonShareTargetDiffers, func(s *model.ManifestSnapshot) { s.ShareTarget.ParamTitle = "title" }},
	{model.UpdateReasonPrimaryIconMaskableDiffers, func(s *model.ManifestSnapshot) { s.IsPrimaryIconMaskable = true }},
	{model.UpdateReasonShortcutsDiffer, func(s *model.ManifestSnapshot) { s.Shortcuts[0].Name = "Uno" }},
}

func TestEvaluateSingleField(t *testing.T) {
	opts := Options{MinShellVersion: minShell, MaskableIconsSupported: true}
	for _, m := range mutators {
		t.Run(m.reason.String(), func(t *testing.T) {
			old := baseSnapshot()
			fetched := clone(old)
			m.mutate(fetched)
			got := Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, opts)
			assert.Equal(t, m.reason, got)
		})
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	opts := Options{MinShellVersion: minShell, MaskableIconsSupported: true}
	for i := range mutators {
		for j := i + 1; j < len(mutators); j++ {
			a, b := mutators[i], mutators[j]
			t.Run(a.reason.String()+"/"+b.reason.String(), func(t *testing.T) {
				old := baseSnapshot()
				fetched := clone(old)
				a.mutate(fetched)
				b.mutate(fetched)
				got := Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, opts)
				assert.Equal(t, a.reason, got)
			})
		}
	}
}

func TestEvaluateIdentical(t *testing.T) {
	old := baseSnapshot()
	got := Evaluate(installed(old), clone(old), primaryIconURL, badgeIconURL, defaultOpts)
	assert.Equal(t, model.UpdateReasonNone, got)
}

func TestEvaluateShellStalenessDominates(t *testing.T) {
	old := baseSnapshot()
	app := installed(old)
	app.ShellVersion = minShell - 1

	assert.Equal(t, model.UpdateReasonOldShellAPK, Evaluate(app, nil, "", "", defaultOpts))
	assert.Equal(t, model.UpdateReasonOldShellAPK, Evaluate(app, clone(old), primaryIconURL, badgeIconURL, defaultOpts))

	fetched := clone(old)
	fetched.Name = "Bar"
	assert.Equal(t, model.UpdateReasonOldShellAPK, Evaluate(app, fetched, primaryIconURL, badgeIconURL, defaultOpts))
}

func TestEvaluateNoManifest(t *testing.T) {
	assert.Equal(t, model.UpdateReasonNone, Evaluate(installed(baseSnapshot()), nil, "", "", defaultOpts))
}

func TestEvaluateIgnoresFragments(t *testing.T) {
	old := baseSnapshot()
	fetched := clone(old)
	fetched.Scope = "https://a.com/#frag"
	fetched.StartURL = "https://a.com/start.html#launch"
	assert.Equal(t, model.UpdateReasonNone, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))
}

func TestEvaluateEmptyScopeUsesDefault(t *testing.T) {
	old := baseSnapshot()
	old.StartURL = "https://a.com/fancy/scope/special/snowflake.html"
	old.Scope = "https://a.com/fancy/scope/special/"

	fetched := clone(old)
	fetched.Scope = ""
	assert.Equal(t, model.UpdateReasonNone, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))

	old.Scope = "https://a.com/fancy/"
	assert.Equal(t, model.UpdateReasonScopeDiffers, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))
}

func TestEvaluateIcons(t *testing.T) {
	tests := []struct {
		name       string
		oldMap     map[string]string
		fetchedMap map[string]string
		primaryURL string
		secondary  string
		wantReason model.UpdateReason
	}{
		{
			name:       "primary hash changed",
			oldMap:     map[string]string{"/icon.png": "H1"},
			fetchedMap: map[string]string{"/icon.png": "H2"},
			primaryURL: "/icon.png",
			wantReason: model.UpdateReasonPrimaryIconHashDiffers,
		},
		{
			name:       "new primary icon url unknown to installed app",
			oldMap:     map[string]string{"/icon.png": "H1"},
			fetchedMap: map[string]string{"/icon.png": "H1", "/icon2.png": "22"},
			primaryURL: "/icon2.png",
			wantReason: model.UpdateReasonPrimaryIconHashDiffers,
		},
		{
			name:       "extra icon without hash is ignored",
			oldMap:     map[string]string{"/icon.png": "H1"},
			fetchedMap: map[string]string{"/icon.png": "H1", "/icon2.png": ""},
			primaryURL: "/icon.png",
			wantReason: model.UpdateReasonNone,
		},
		{
			name:       "best icon url moved to an icon with the same hash",
			oldMap:     map[string]string{"/icon1.png": "11", "/icon2.png": "22", "/badge1.png": "33", "/badge2.png": "44"},
			fetchedMap: map[string]string{"/icon1.png": "", "/icon2.png": "22", "/badge1.png": "", "/badge2.png": "44"},
			primaryURL: "/icon2.png",
			secondary:  "/badge2.png",
			wantReason: model.UpdateReasonNone,
		},
		{
			name:       "installed icon url with fragment",
			oldMap:     map[string]string{"https://a.com/icon.png#v1": "H1"},
			fetchedMap: map[string]string{"https://a.com/icon.png": "H1"},
			primaryURL: "https://a.com/icon.png",
			wantReason: model.UpdateReasonNone,
		},
		{
			name:       "badge hash changed",
			oldMap:     map[string]string{"/icon.png": "H1", "/badge.png": "B1"},
			fetchedMap: map[string]string{"/icon.png": "H1", "/badge.png": "B2"},
			primaryURL: "/icon.png",
			secondary:  "/badge.png",
			wantReason: model.UpdateReasonSplashOrBadgeIconHashDiffers,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseSnapshot()
			old.IconURLToHash = tt.oldMap
			fetched := clone(old)
			fetched.IconURLToHash = tt.fetchedMap
			got := Evaluate(installed(old), fetched, tt.primaryURL, tt.secondary, defaultOpts)
			assert.Equal(t, tt.wantReason, got)
		})
	}
}

func TestEvaluateMissingBackgroundColor(t *testing.T) {
	old := baseSnapshot()
	old.BackgroundColor = model.ColorInvalidOrMissing
	fetched := clone(old)
	assert.Equal(t, model.UpdateReasonNone, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))

	fetched.BackgroundColor = 7
	assert.Equal(t, model.UpdateReasonBackgroundColorDiffers, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))
}

func TestEvaluateMaskable(t *testing.T) {
	tests := []struct {
		name       string
		oldMask    bool
		newMask    bool
		supported  bool
		wantReason model.UpdateReason
	}{
		{"becomes maskable, unsupported", false, true, false, model.UpdateReasonNone},
		{"becomes maskable, supported", false, true, true, model.UpdateReasonPrimaryIconMaskableDiffers},
		{"stops being maskable, unsupported", true, false, false, model.UpdateReasonPrimaryIconMaskableDiffers},
		{"stops being maskable, supported", true, false, true, model.UpdateReasonPrimaryIconMaskableDiffers},
		{"unchanged", true, true, true, model.UpdateReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseSnapshot()
			old.IsPrimaryIconMaskable = tt.oldMask
			fetched := clone(old)
			fetched.IsPrimaryIconMaskable = tt.newMask
			opts := Options{MinShellVersion: minShell, MaskableIconsSupported: tt.supported}
			assert.Equal(t, tt.wantReason, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, opts))
		})
	}
}

func TestEvaluateShortcutOrder(t *testing.T) {
	old := baseSnapshot()
	fetched := clone(old)
	fetched.Shortcuts[0], fetched.Shortcuts[1] = fetched.Shortcuts[1], fetched.Shortcuts[0]
	assert.Equal(t, model.UpdateReasonShortcutsDiffer, Evaluate(installed(old), fetched, primaryIconURL, badgeIconURL, defaultOpts))
}

func TestShortcutsIgnoreIconURL(t *testing.T) {
	a := []model.Shortcut{{Name: "n", LaunchURL: "u", IconURL: "/a.png", IconHash: "h"}}
	b := []model.Shortcut{{Name: "n", LaunchURL: "u", IconURL: "/b.png", IconHash: "h"}}
	assert.True(t, ShortcutsEqual(a, b))
	assert.False(t, ShortcutsEqual(a, append(b, b[0])))
}

func TestShareTargetsEqual(t *testing.T) {
	st := &model.ShareTarget{Action: "/share", FileNames: []string{"f"}, FileAccepts: [][]string{{"image/*"}}}
	other := *st
	other.FileAccepts = [][]string{{"image/png"}}

	assert.True(t, ShareTargetsEqual(nil, nil))
	assert.False(t, ShareTargetsEqual(st, nil))
	assert.False(t, ShareTargetsEqual(nil, st))
	assert.True(t, ShareTargetsEqual(st, st))
	assert.False(t, ShareTargetsEqual(st, &other))
}

func TestFindHashIgnoringFragment(t *testing.T) {
	hashes := map[string]string{
		"https://a.com/icon.png#b": "HB",
		"https://a.com/icon.png#a": "HA",
		"https://a.com/icon.png#c": "HC",
		"https://a.com/other.png":  "O",
	}

	assert.Equal(t, "HC", FindHashIgnoringFragment(hashes, "https://a.com/icon.png#c"))
	assert.Equal(t, "O", FindHashIgnoringFragment(hashes, "https://a.com/other.png#x"))
	assert.Empty(t, FindHashIgnoringFragment(hashes, "https://a.com/missing.png"))
	assert.Empty(t, FindHashIgnoringFragment(hashes, ""))

	// Several candidates: the same one wins on every call.
	for range 20 {
		assert.Equal(t, "HA", FindHashIgnoringFragment(hashes, "https://a.com/icon.png"))
	}
}
