package model

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ColorInvalidOrMissing marks a theme or background color the manifest did not set.
const ColorInvalidOrMissing int64 = math.MaxInt64

// DisplayMode mirrors the Web Manifest "display" member.
type DisplayMode int

const (
	DisplayModeUndefined DisplayMode = iota
	DisplayModeBrowser
	DisplayModeMinimalUI
	DisplayModeStandalone
	DisplayModeFullscreen
)

var displayModeNames = [...]string{"undefined", "browser", "minimal-ui", "standalone", "fullscreen"}

func (d DisplayMode) String() string {
	if d < 0 || int(d) >= len(displayModeNames) {
		return fmt.Sprintf("DisplayMode(%d)", int(d))
	}
	return displayModeNames[d]
}

func (d DisplayMode) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DisplayMode) UnmarshalText(b []byte) error {
	for i, name := range displayModeNames {
		if name == string(b) {
			*d = DisplayMode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown display mode %q", string(b))
}

// Orientation mirrors the Web Manifest "orientation" member.
type Orientation int

const (
	OrientationDefault Orientation = iota
	OrientationAny
	OrientationNatural
	OrientationLandscape
	OrientationLandscapePrimary
	OrientationLandscapeSecondary
	OrientationPortrait
	OrientationPortraitPrimary
	OrientationPortraitSecondary
)

var orientationNames = [...]string{
	"default", "any", "natural",
	"landscape", "landscape-primary", "landscape-secondary",
	"portrait", "portrait-primary", "portrait-secondary",
}

func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
	return orientationNames[o]
}

func (o Orientation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Orientation) UnmarshalText(b []byte) error {
	for i, name := range orientationNames {
		if name == string(b) {
			*o = Orientation(i)
			return nil
		}
	}
	return fmt.Errorf("unknown orientation %q", string(b))
}

// ShareTarget describes the manifest "share_target" member.
type ShareTarget struct {
	Action      string     `json:"action"`
	ParamTitle  string     `json:"paramTitle,omitempty"`
	ParamText   string     `json:"paramText,omitempty"`
	IsPost      bool       `json:"isPost,omitempty"`
	IsMultipart bool       `json:"isMultipart,omitempty"`
	FileNames   []string   `json:"fileNames,omitempty"`
	FileAccepts [][]string `json:"fileAccepts,omitempty"`
}

// Shortcut is one entry of the manifest "shortcuts" list.
// IconURL is carried for the update request but is not part of equality.
type Shortcut struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	LaunchURL string `json:"launchUrl"`
	IconURL   string `json:"iconUrl,omitempty"`
	IconHash  string `json:"iconHash,omitempty"`
}

// ManifestSnapshot is the comparable subset of web app metadata, either read
// from the installed package or parsed from a freshly fetched Web Manifest.
type ManifestSnapshot struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Scope     string `json:"scope"`
	StartURL  string `json:"startUrl"`

	DisplayMode     DisplayMode `json:"displayMode"`
	Orientation     Orientation `json:"orientation"`
	ThemeColor      int64       `json:"themeColor"`
	BackgroundColor int64       `json:"backgroundColor"`

	// IconURLToHash maps every icon URL known to the manifest to the hash of its
	// undecoded bytes. An empty hash means the bytes were not fetched.
	IconURLToHash map[string]string `json:"iconUrlToHash"`

	IsPrimaryIconMaskable bool         `json:"isPrimaryIconMaskable"`
	ShareTarget           *ShareTarget `json:"shareTarget,omitempty"`
	Shortcuts             []Shortcut   `json:"shortcuts,omitempty"`
}

// NewManifestSnapshot returns a snapshot with both colors unset.
func NewManifestSnapshot() *ManifestSnapshot {
	return &ManifestSnapshot{
		ThemeColor:      ColorInvalidOrMissing,
		BackgroundColor: ColorInvalidOrMissing,
		IconURLToHash:   map[string]string{},
	}
}

// EffectiveScope returns the scope, falling back to the default scope derived
// from the start URL when the manifest left it empty.
func (s *ManifestSnapshot) EffectiveScope() string {
	if s.Scope != "" {
		return s.Scope
	}
	return DefaultScope(s.StartURL)
}

// IconHash returns the hash recorded for iconURL, or "" when unknown.
func (s *ManifestSnapshot) IconHash(iconURL string) string {
	if s == nil || s.IconURLToHash == nil {
		return ""
	}
	return s.IconURLToHash[iconURL]
}

// DefaultScope returns the start URL with its query and fragment removed and
// its path cut after the last '/'.
func DefaultScope(startURL string) string {
	u, err := url.Parse(startURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	p := u.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i+1]
	} else {
		p = "/"
	}
	u.Path = p
	u.RawPath = ""
	return u.String()
}

// InstalledApp is what the metadata reader knows about an installed WebAPK.
type InstalledApp struct {
	AppID        string `json:"appId"`
	PackageName  string `json:"packageName"`
	ShellVersion int    `json:"shellVersion"`
	VersionCode  int    `json:"versionCode"`
	ManifestURL  string `json:"manifestUrl"`

	// PrimaryIconURL and SecondaryIconURL are the icons the WebAPK was built with.
	PrimaryIconURL   string `json:"primaryIconUrl,omitempty"`
	SecondaryIconURL string `json:"secondaryIconUrl,omitempty"`

	Snapshot ManifestSnapshot `json:"snapshot"`
}

// FetchResult is what the manifest fetcher produces for a fetched Web Manifest.
// Only the hashes of PrimaryIconURL and SecondaryIconURL are guaranteed in the
// snapshot's icon map.
type FetchResult struct {
	Snapshot         *ManifestSnapshot
	PrimaryIconURL   string
	SecondaryIconURL string
	PrimaryIcon      []byte
	SecondaryIcon    []byte
}
