package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SchedulerOptions)(nil)

// SchedulerOptions configures the deferred task runner and the device
// conditions it checks task constraints against.
type SchedulerOptions struct {
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
	Concurrency  int           `json:"concurrency" mapstructure:"concurrency"`

	// UnmeteredNetwork and Charging describe the host. Tasks that require
	// either wait until their max delay when the host lacks it.
	UnmeteredNetwork bool `json:"unmetered-network" mapstructure:"unmetered-network"`
	Charging         bool `json:"charging" mapstructure:"charging"`
}

func NewSchedulerOptions() *SchedulerOptions {
	return &SchedulerOptions{
		PollInterval:     30 * time.Second,
		Concurrency:      2,
		UnmeteredNetwork: true,
		Charging:         true,
	}
}

func (o *SchedulerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("--scheduler.poll-interval must be positive"))
	}
	if o.Concurrency < 1 {
		errs = append(errs, errors.New("--scheduler.concurrency must be at least 1"))
	}
	return errs
}

func (o *SchedulerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollInterval, join(prefixes, "scheduler.poll-interval"), o.PollInterval, "How often due tasks are looked for.")
	fs.IntVar(&o.Concurrency, join(prefixes, "scheduler.concurrency"), o.Concurrency, "Maximum number of tasks run at once.")
	fs.BoolVar(&o.UnmeteredNetwork, join(prefixes, "scheduler.unmetered-network"), o.UnmeteredNetwork, "Whether the host network is unmetered.")
	fs.BoolVar(&o.Charging, join(prefixes, "scheduler.charging"), o.Charging, "Whether the host counts as charging.")
}
