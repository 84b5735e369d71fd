package model

import "fmt"

// UpdateReason is the single highest-priority reason an update is needed.
// The declaration order is the evaluation precedence: first match wins.
type UpdateReason int

const (
	UpdateReasonOldShellAPK UpdateReason = iota
	UpdateReasonPrimaryIconHashDiffers
	UpdateReasonSplashOrBadgeIconHashDiffers
	UpdateReasonScopeDiffers
	UpdateReasonStartURLDiffers
	UpdateReasonShortNameDiffers
	UpdateReasonNameDiffers
	UpdateReasonBackgroundColorDiffers
	UpdateReasonThemeColorDiffers
	UpdateReasonOrientationDiffers
	UpdateReasonDisplayModeDiffers
	UpdateReasonShareTargetDiffers
	UpdateReasonPrimaryIconMaskableDiffers
	UpdateReasonShortcutsDiffer
	UpdateReasonManuallyTriggered
	UpdateReasonNone
)

var reasonNames = [...]string{
	UpdateReasonOldShellAPK:                  "OLD_SHELL_APK",
	UpdateReasonPrimaryIconHashDiffers:       "PRIMARY_ICON_HASH_DIFFERS",
	UpdateReasonSplashOrBadgeIconHashDiffers: "SPLASH_OR_BADGE_ICON_HASH_DIFFERS",
	UpdateReasonScopeDiffers:                 "SCOPE_DIFFERS",
	UpdateReasonStartURLDiffers:              "START_URL_DIFFERS",
	UpdateReasonShortNameDiffers:             "SHORT_NAME_DIFFERS",
	UpdateReasonNameDiffers:                  "NAME_DIFFERS",
	UpdateReasonBackgroundColorDiffers:       "BACKGROUND_COLOR_DIFFERS",
	UpdateReasonThemeColorDiffers:            "THEME_COLOR_DIFFERS",
	UpdateReasonOrientationDiffers:           "ORIENTATION_DIFFERS",
	UpdateReasonDisplayModeDiffers:           "DISPLAY_MODE_DIFFERS",
	UpdateReasonShareTargetDiffers:           "SHARE_TARGET_DIFFERS",
	UpdateReasonPrimaryIconMaskableDiffers:   "PRIMARY_ICON_MASKABLE_DIFFERS",
	UpdateReasonShortcutsDiffer:              "SHORTCUTS_DIFFER",
	UpdateReasonManuallyTriggered:            "MANUALLY_TRIGGERED",
	UpdateReasonNone:                         "NONE",
}

func (r UpdateReason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("UpdateReason(%d)", int(r))
	}
	return reasonNames[r]
}

// NeedsUpdate reports whether the reason asks for an update request.
func (r UpdateReason) NeedsUpdate() bool {
	return r != UpdateReasonNone
}

// ParseUpdateReason is the inverse of String.
func ParseUpdateReason(s string) (UpdateReason, error) {
	for i, name := range reasonNames {
		if name == s {
			return UpdateReason(i), nil
		}
	}
	return UpdateReasonNone, fmt.Errorf("unknown update reason %q", s)
}
