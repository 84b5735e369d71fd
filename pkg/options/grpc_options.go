package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configures the insecure gRPC port serving the standard health
// service.
type GrpcOptions struct {
	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Addr with server address. Empty disables the gRPC server.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout is the deadline applied to calls that arrive without one.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewGrpcOptions creates a GrpcOptions object with default parameters.
func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Network: "tcp",
		Addr:    "127.0.0.1:8481",
		Timeout: 10 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GrpcOptions) Validate() []error {
	if o == nil || o.Addr == "" {
		return nil
	}

	var errors []error

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags related to the gRPC server to the specified FlagSet.
func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, join(prefixes, "grpc.network"), o.Network, "Specify the network for the gRPC server.")
	fs.StringVar(&o.Addr, join(prefixes, "grpc.addr"), o.Addr, "Specify the gRPC server bind address and port. Empty disables it.")
	fs.DurationVar(&o.Timeout, join(prefixes, "grpc.timeout"), o.Timeout, "Deadline applied to gRPC calls that carry none.")
}
