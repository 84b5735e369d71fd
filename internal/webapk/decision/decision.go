// Package decision compares an installed WebAPK against a freshly fetched Web
// Manifest and reports the single highest-priority reason to update it.
package decision

import (
	"maps"
	"net/url"
	"slices"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// Options carries the platform facts the comparison depends on.
type Options struct {
	// MinShellVersion is the lowest shell version that does not need an update
	// for its own sake.
	MinShellVersion int

	// MaskableIconsSupported is true when the platform renders adaptive icons.
	MaskableIconsSupported bool
}

// Evaluate returns the first UpdateReason, in declaration order, whose fields
// differ between the installed app and the fetched snapshot. A nil fetched
// snapshot yields UpdateReasonNone unless the shell itself is out of date.
func Evaluate(installed *model.InstalledApp, fetched *model.ManifestSnapshot, primaryIconURL, secondaryIconURL string, opts Options) model.UpdateReason {
	if installed.ShellVersion < opts.MinShellVersion {
		return model.UpdateReasonOldShellAPK
	}
	if fetched == nil {
		return model.UpdateReasonNone
	}

	old := &installed.Snapshot
	switch {
	case FindHashIgnoringFragment(old.IconURLToHash, primaryIconURL) != fetched.IconHash(primaryIconURL):
		return model.UpdateReasonPrimaryIconHashDiffers
	case FindHashIgnoringFragment(old.IconURLToHash, secondaryIconURL) != fetched.IconHash(secondaryIconURL):
		return model.UpdateReasonSplashOrBadgeIconHashDiffers
	case !URLsMatchIgnoringFragment(old.EffectiveScope(), fetched.EffectiveScope()):
		return model.UpdateReasonScopeDiffers
	case !URLsMatchIgnoringFragment(old.StartURL, fetched.StartURL):
		return model.UpdateReasonStartURLDiffers
	case old.ShortName != fetched.ShortName:
		return model.UpdateReasonShortNameDiffers
	case old.Name != fetched.Name:
		return model.UpdateReasonNameDiffers
	case old.BackgroundColor != fetched.BackgroundColor:
		return model.UpdateReasonBackgroundColorDiffers
	case old.ThemeColor != fetched.ThemeColor:
		return model.UpdateReasonThemeColorDiffers
	case old.Orientation != fetched.Orientation:
		return model.UpdateReasonOrientationDiffers
	case old.DisplayMode != fetched.DisplayMode:
		return model.UpdateReasonDisplayModeDiffers
	case !ShareTargetsEqual(old.ShareTarget, fetched.ShareTarget):
		return model.UpdateReasonShareTargetDiffers
	case maskableDiffers(old.IsPrimaryIconMaskable, fetched.IsPrimaryIconMaskable, opts.MaskableIconsSupported):
		return model.UpdateReasonPrimaryIconMaskableDiffers
	case !ShortcutsEqual(old.Shortcuts, fetched.Shortcuts):
		return model.UpdateReasonShortcutsDiffer
	}
	return model.UpdateReasonNone
}

// A maskable icon on a platform that cannot render it is built as a plain
// icon, so only a change towards "not maskable" matters there.
func maskableDiffers(oldMaskable, newMaskable, supported bool) bool {
	if oldMaskable == newMaskable {
		return false
	}
	return !newMaskable || supported
}

// URLsMatchIgnoringFragment reports whether a and b are equal once their
// fragments are stripped. Unparseable URLs are compared verbatim.
func URLsMatchIgnoringFragment(a, b string) bool {
	if a == b {
		return true
	}
	return stripFragment(a) == stripFragment(b)
}

// FindHashIgnoringFragment returns the hash of the entry in iconURLToHash whose
// URL matches iconURL once fragments are ignored, preferring the smallest
// such URL. It returns "" when iconURL is empty or no entry matches.
func FindHashIgnoringFragment(iconURLToHash map[string]string, iconURL string) string {
	if iconURL == "" {
		return ""
	}
	if h, ok := iconURLToHash[iconURL]; ok {
		return h
	}
	want := stripFragment(iconURL)
	for _, u := range slices.Sorted(maps.Keys(iconURLToHash)) {
		if stripFragment(u) == want {
			return iconURLToHash[u]
		}
	}
	return ""
}

func stripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// ShareTargetsEqual compares two share targets. A missing target only equals
// another missing target.
func ShareTargetsEqual(a, b *model.ShareTarget) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Action != b.Action || a.ParamTitle != b.ParamTitle || a.ParamText != b.ParamText ||
		a.IsPost != b.IsPost || a.IsMultipart != b.IsMultipart {
		return false
	}
	if !slices.Equal(a.FileNames, b.FileNames) {
		return false
	}
	return slices.EqualFunc(a.FileAccepts, b.FileAccepts, func(x, y []string) bool {
		return slices.Equal(x, y)
	})
}

// ShortcutsEqual compares shortcut lists pairwise by index. Icon URLs are not
// compared, only their hashes.
func ShortcutsEqual(a, b []model.Shortcut) bool {
	return slices.EqualFunc(a, b, func(x, y model.Shortcut) bool {
		return x.Name == y.Name && x.ShortName == y.ShortName &&
			x.LaunchURL == y.LaunchURL && x.IconHash == y.IconHash
	})
}
