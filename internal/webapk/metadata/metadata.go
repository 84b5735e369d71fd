// Package metadata reads what the platform reports as installed for a WebAPK.
// Each app is described by <dir>/<appId>.json in a core.FileStore.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// ErrNotInstalled is returned when no metadata exists for an app id.
var ErrNotInstalled = errors.New("no installed metadata")

// DirReader implements core.MetadataReader over a directory of JSON documents.
type DirReader struct {
	files core.FileStore
	dir   string
}

var _ core.MetadataReader = (*DirReader)(nil)

func NewDirReader(files core.FileStore, dir string) *DirReader {
	return &DirReader{files: files, dir: dir}
}

// Read returns the installed metadata for appID. Colors absent from the
// document stay unset rather than becoming black.
func (r *DirReader) Read(ctx context.Context, appID string) (*model.InstalledApp, error) {
	p, err := r.path(appID)
	if err != nil {
		return nil, err
	}

	b, err := r.files.Read(ctx, p)
	if errors.Is(err, core.ErrFileNotFound) {
		return nil, fmt.Errorf("%s: %w", appID, ErrNotInstalled)
	}
	if err != nil {
		return nil, err
	}

	app := &model.InstalledApp{Snapshot: *model.NewManifestSnapshot()}
	if err := json.Unmarshal(b, app); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", appID, err)
	}
	if app.AppID == "" {
		app.AppID = appID
	}
	if app.AppID != appID {
		return nil, fmt.Errorf("metadata for %s names app %q", appID, app.AppID)
	}
	if app.Snapshot.IconURLToHash == nil {
		app.Snapshot.IconURLToHash = map[string]string{}
	}
	return app, nil
}

// Write stores app as the installed metadata for app.AppID.
func (r *DirReader) Write(ctx context.Context, app *model.InstalledApp) error {
	p, err := r.path(app.AppID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return err
	}
	return r.files.Write(ctx, p, b)
}

// Delete removes the metadata for appID, if any.
func (r *DirReader) Delete(ctx context.Context, appID string) error {
	p, err := r.path(appID)
	if err != nil {
		return err
	}
	return r.files.Delete(ctx, p)
}

func (r *DirReader) path(appID string) (string, error) {
	if appID == "" || appID == "." || appID == ".." || strings.ContainsAny(appID, `/\`) {
		return "", fmt.Errorf("invalid app id %q", appID)
	}
	return path.Join(r.dir, appID+".json"), nil
}
