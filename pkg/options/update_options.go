package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*UpdateOptions)(nil)

// UpdateOptions controls when and how WebAPKs are checked for updates.
type UpdateOptions struct {
	// Enabled is the global switch. It can be flipped at runtime through the
	// config file.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Interval is the minimum time between checks.
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// RelaxedInterval replaces Interval once the server asked for relaxed updates.
	RelaxedInterval time.Duration `json:"relaxed-interval" mapstructure:"relaxed-interval"`

	// CheckTimeout bounds how long a manifest fetch may take.
	CheckTimeout time.Duration `json:"check-timeout" mapstructure:"check-timeout"`

	// MinShellVersion is the shell version below which an update is always requested.
	MinShellVersion int `json:"min-shell-version" mapstructure:"min-shell-version"`

	// MaskableIconsSupported is true when the platform renders adaptive icons.
	MaskableIconsSupported bool `json:"maskable-icons-supported" mapstructure:"maskable-icons-supported"`

	// BoundPackagePrefix identifies WebAPKs this daemon is allowed to update.
	BoundPackagePrefix string `json:"bound-package-prefix" mapstructure:"bound-package-prefix"`
}

func NewUpdateOptions() *UpdateOptions {
	return &UpdateOptions{
		Enabled:                true,
		Interval:               3 * 24 * time.Hour,
		RelaxedInterval:        30 * 24 * time.Hour,
		CheckTimeout:           30 * time.Second,
		MinShellVersion:        1,
		MaskableIconsSupported: true,
		BoundPackagePrefix:     "org.chromium.webapk",
	}
}

func (o *UpdateOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Interval <= 0 {
		errs = append(errs, errors.New("--update.interval must be positive"))
	}
	if o.RelaxedInterval < o.Interval {
		errs = append(errs, errors.New("--update.relaxed-interval must not be shorter than --update.interval"))
	}
	if o.CheckTimeout <= 0 {
		errs = append(errs, errors.New("--update.check-timeout must be positive"))
	}
	if o.MinShellVersion < 0 {
		errs = append(errs, errors.New("--update.min-shell-version must not be negative"))
	}
	return errs
}

func (o *UpdateOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, join(prefixes, "update.enabled"), o.Enabled, "Globally enable WebAPK update checks.")
	fs.DurationVar(&o.Interval, join(prefixes, "update.interval"), o.Interval, "Minimum time between update checks.")
	fs.DurationVar(&o.RelaxedInterval, join(prefixes, "update.relaxed-interval"), o.RelaxedInterval, "Minimum time between checks once relaxed updates are granted.")
	fs.DurationVar(&o.CheckTimeout, join(prefixes, "update.check-timeout"), o.CheckTimeout, "How long to wait for the Web Manifest before giving up.")
	fs.IntVar(&o.MinShellVersion, join(prefixes, "update.min-shell-version"), o.MinShellVersion, "Shell version below which an update is always requested.")
	fs.BoolVar(&o.MaskableIconsSupported, join(prefixes, "update.maskable-icons-supported"), o.MaskableIconsSupported, "Whether the platform renders maskable icons.")
	fs.StringVar(&o.BoundPackagePrefix, join(prefixes, "update.bound-package-prefix"), o.BoundPackagePrefix, "Package name prefix of WebAPKs this daemon may update.")
}
