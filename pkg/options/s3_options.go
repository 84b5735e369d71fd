package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the bucket that holds pending update requests when the
// s3 file store backend is selected.
type S3Options struct {
	Endpoint           string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID        string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey    string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL             bool   `json:"use-ssl" mapstructure:"use-ssl"`
	InsecureSkipVerify bool   `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
	BucketName         string `json:"bucket-name" mapstructure:"bucket-name"`
	Region             string `json:"region" mapstructure:"region"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:   "127.0.0.1:9000",
		UseSSL:     false,
		BucketName: "webapk-requests",
		Region:     "us-east-1",
	}
}

func (o *S3Options) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Endpoint == "" {
		errs = append(errs, errors.New("--s3.endpoint is required"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name is required"))
	}

	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, join(prefixes, "s3.endpoint"), o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, join(prefixes, "s3.access-key-id"), o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, join(prefixes, "s3.secret-access-key"), o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, join(prefixes, "s3.use-ssl"), o.UseSSL, "Enable SSL for S3 connection")
	fs.BoolVar(&o.InsecureSkipVerify, join(prefixes, "s3.insecure-skip-verify"), o.InsecureSkipVerify, "Skip TLS verification for self-signed S3 endpoints")
	fs.StringVar(&o.BucketName, join(prefixes, "s3.bucket-name"), o.BucketName, "S3 bucket holding pending update requests")
	fs.StringVar(&o.Region, join(prefixes, "s3.region"), o.Region, "S3 region")
}
