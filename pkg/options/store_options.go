package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

const (
	FileBackendLocal = "local"
	FileBackendS3    = "s3"
)

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions locates the durable state: the record database, the pending
// request files and the installed-app metadata.
type StoreOptions struct {
	// DBPath is the SQLite database holding update records.
	DBPath string `json:"db-path" mapstructure:"db-path"`

	// FileBackend selects where request files live: "local" or "s3".
	FileBackend string `json:"file-backend" mapstructure:"file-backend"`

	// RequestDir is the directory (or key prefix for s3) of request files.
	RequestDir string `json:"request-dir" mapstructure:"request-dir"`

	// MetadataDir holds one <app id>.json metadata file per installed WebAPK.
	MetadataDir string `json:"metadata-dir" mapstructure:"metadata-dir"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		DBPath:      "/var/lib/webapkd/webapkd.db",
		FileBackend: FileBackendLocal,
		RequestDir:  "/var/lib/webapkd/requests",
		MetadataDir: "/var/lib/webapkd/apps",
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.DBPath == "" {
		errs = append(errs, fmt.Errorf("--store.db-path is required"))
	}
	switch o.FileBackend {
	case FileBackendLocal, FileBackendS3:
	default:
		errs = append(errs, fmt.Errorf("--store.file-backend must be %q or %q, got %q", FileBackendLocal, FileBackendS3, o.FileBackend))
	}
	if o.RequestDir == "" {
		errs = append(errs, fmt.Errorf("--store.request-dir is required"))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DBPath, join(prefixes, "store.db-path"), o.DBPath, "Path of the SQLite database holding update records.")
	fs.StringVar(&o.FileBackend, join(prefixes, "store.file-backend"), o.FileBackend, "Where pending update requests are stored ('local' or 's3').")
	fs.StringVar(&o.RequestDir, join(prefixes, "store.request-dir"), o.RequestDir, "Directory, or bucket key prefix, for pending update requests.")
	fs.StringVar(&o.MetadataDir, join(prefixes, "store.metadata-dir"), o.MetadataDir, "Directory of installed WebAPK metadata files.")
}
