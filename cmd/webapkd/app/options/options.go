package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/webapkd/internal/webapkd"
	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/options"
)

// ServerOptions is everything webapkd can be configured with. The
// mapstructure keys match the flag prefixes, so a config file and the
// command line address the same settings.
type ServerOptions struct {
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	GrpcOptions      *options.GrpcOptions      `json:"grpc" mapstructure:"grpc"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	StoreOptions     *options.StoreOptions     `json:"store" mapstructure:"store"`
	UpdateOptions    *options.UpdateOptions    `json:"update" mapstructure:"update"`
	SchedulerOptions *options.SchedulerOptions `json:"scheduler" mapstructure:"scheduler"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions:      options.NewHttpOptions(),
		GrpcOptions:      options.NewGrpcOptions(),
		MqttOptions:      options.NewMqttOptions(),
		S3Options:        options.NewS3Options(),
		StoreOptions:     options.NewStoreOptions(),
		UpdateOptions:    options.NewUpdateOptions(),
		SchedulerOptions: options.NewSchedulerOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.UpdateOptions.AddFlags(fss.FlagSet("update"))
	o.SchedulerOptions.AddFlags(fss.FlagSet("scheduler"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.UpdateOptions.Validate()...)
	errs = append(errs, o.SchedulerOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.StoreOptions.FileBackend == options.FileBackendS3 {
		errs = append(errs, o.S3Options.Validate()...)
	}
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) Config() (*webapkd.Config, error) {
	return &webapkd.Config{
		HttpOptions:      o.HttpOptions,
		GrpcOptions:      o.GrpcOptions,
		MqttOptions:      o.MqttOptions,
		S3Options:        o.S3Options,
		StoreOptions:     o.StoreOptions,
		UpdateOptions:    o.UpdateOptions,
		SchedulerOptions: o.SchedulerOptions,
	}, nil
}
